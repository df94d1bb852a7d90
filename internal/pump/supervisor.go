// Package pump implements the client-side packet pump: the uplink,
// downlink, and stats tasks and the supervisor that runs them to
// completion.
package pump

import (
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tunrelay/internal/transport"
	"tunrelay/internal/tunio"
)

// Options bundles what the supervisor needs to run one session.
type Options struct {
	// TunFD is an open, configured TUN descriptor. The supervisor takes
	// ownership and closes it exactly once on return.
	TunFD int
	// Transport is the already-connected datagram channel to the peer.
	// The supervisor closes it on return.
	Transport transport.Endpoint
	// Callback receives periodic stats and the single terminal on-stop.
	Callback Callback
	// StatsInterval defaults to one second.
	StatsInterval time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Supervisor owns one session's stop handle and drives its three tasks to
// completion, tearing down on the first exit of any of them.
type Supervisor struct {
	stop *StopHandle
}

// NewSupervisor returns a Supervisor ready to Run.
func NewSupervisor() *Supervisor {
	return &Supervisor{stop: NewStopHandle()}
}

// Stop fires the session's stop handle. Idempotent; safe to call before or
// during Run.
func (s *Supervisor) Stop() {
	s.stop.Stop()
}

// Run blocks until the session tears down, then invokes
// opts.Callback.OnStop exactly once and returns the same terminal error (nil
// for a clean stop).
func (s *Supervisor) Run(opts Options) error {
	if opts.StatsInterval == 0 {
		opts.StatsInterval = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ep, err := tunio.New(opts.TunFD)
	if err != nil {
		wrapped := Wrap(SetupFailed, err)
		opts.Callback.OnStop(wrapped.Error())
		return wrapped
	}

	counters := &Counters{}

	type result struct{ err error }
	results := make(chan result, 3)
	run := func(fn func() error) {
		results <- result{fn()}
	}
	go run(func() error { return runUplink(ep, opts.Transport, counters, s.stop, log) })
	go run(func() error { return runDownlink(ep, opts.Transport, counters, s.stop, log) })
	go run(func() error { return runStats(counters, opts.Callback, s.stop, opts.StatsInterval) })

	var first error
	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil && first == nil {
			first = r.err
		}
		s.stop.Stop()
	}

	teardown := multierr.Append(ep.Close(), opts.Transport.Close())
	if teardown != nil {
		log.Warn("error releasing session resources", zap.Error(teardown))
	}
	result := multierr.Append(first, teardown)

	reason := "Stopped"
	if result != nil {
		reason = result.Error()
		log.Warn("session stopped on terminal error", zap.Error(result))
	}
	opts.Callback.OnStop(reason)
	return result
}
