// Package tunrelay is the public surface a host embeds: it takes an
// already-open TUN descriptor and an already-connected transport, and runs
// the packet pump until stopped.
package tunrelay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tunrelay/internal/pump"
	"tunrelay/internal/transport"
)

// Callback mirrors the host-facing observer the pump invokes.
type Callback = pump.Callback

// Transport is the datagram-shaped channel to the server; DialUDP,
// DialQUIC, and DialWebSocket build one.
type Transport = transport.Endpoint

// DialUDP connects a UDP transport to addr (host:port).
func DialUDP(addr string) (Transport, error) {
	return transport.DialUDP(addr)
}

// DialQUIC opens a QUIC transport to addr.
func DialQUIC(ctx context.Context, addr string) (Transport, error) {
	return transport.DialQUIC(ctx, addr)
}

// DialWebSocket opens a WebSocket transport to a ws(s):// URL.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	return transport.DialWebSocket(ctx, url)
}

// Handshake performs the synchronous request/response exchange over tr and
// returns the assigned client IP and advertised routes. The caller uses
// this to configure the TUN device's address and routes before calling
// Start.
func Handshake(tr Transport, timeout time.Duration) (Result, error) {
	return handshake(tr, timeout)
}

// Session wraps a running pump.Supervisor.
type Session struct {
	sup *pump.Supervisor
}

// Start takes ownership of tunFD and tr and runs the pump until Stop is
// called or a terminal condition fires. It returns immediately; the returned
// channel receives the session's terminal error (nil for a clean stop) once
// the session ends.
func Start(tunFD int, tr Transport, cb Callback, statsInterval time.Duration, log *zap.Logger) (*Session, <-chan error) {
	sup := pump.NewSupervisor()
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(pump.Options{
			TunFD:         tunFD,
			Transport:     tr,
			Callback:      cb,
			StatsInterval: statsInterval,
			Logger:        log,
		})
	}()
	return &Session{sup: sup}, done
}

// Stop fires the session's stop handle. Idempotent.
func (s *Session) Stop() {
	s.sup.Stop()
}
