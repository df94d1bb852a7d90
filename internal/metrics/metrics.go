// Package metrics exposes the server's counters in Prometheus text format,
// a supplemented concern the minimal core doesn't require but a
// long-running daemon benefits from.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates the server's operational counters. Safe for
// concurrent use by the forwarder's two event-loop goroutines.
type Registry struct {
	mu sync.RWMutex

	handshakesTotal  uint64
	handshakesDenied uint64 // rate-limited or pool-exhausted
	packetsTotal     map[string]uint64 // direction -> count
	bytesTotal       map[string]uint64 // direction -> bytes
	clientsGauge     uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		packetsTotal: make(map[string]uint64),
		bytesTotal:   make(map[string]uint64),
	}
}

// ObserveHandshake records a successful handshake.
func (r *Registry) ObserveHandshake() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handshakesTotal++
}

// ObserveHandshakeDenied records a rate-limited or pool-exhausted attempt.
func (r *Registry) ObserveHandshakeDenied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handshakesDenied++
}

// ObservePacket records one forwarded packet of n bytes in the given
// direction ("udp_to_tun" or "tun_to_udp").
func (r *Registry) ObservePacket(direction string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetsTotal[direction]++
	r.bytesTotal[direction] += uint64(n)
}

// SetClients updates the current registered-client gauge.
func (r *Registry) SetClients(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientsGauge = uint64(n)
}

// StartServer runs a blocking HTTP server exposing /metrics until ctx is
// done.
func (r *Registry) StartServer(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", r.handle)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}

func (r *Registry) handle(w http.ResponseWriter, _ *http.Request) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tunrelay_handshakes_total %d\n", r.handshakesTotal)
	fmt.Fprintf(w, "tunrelay_handshakes_denied_total %d\n", r.handshakesDenied)
	fmt.Fprintf(w, "tunrelay_clients %d\n", r.clientsGauge)

	directions := make([]string, 0, len(r.packetsTotal))
	for d := range r.packetsTotal {
		directions = append(directions, d)
	}
	sort.Strings(directions)
	for _, d := range directions {
		fmt.Fprintf(w, "tunrelay_packets_total{direction=%q} %d\n", d, r.packetsTotal[d])
		fmt.Fprintf(w, "tunrelay_bytes_total{direction=%q} %d\n", d, r.bytesTotal[d])
	}
}
