package tunrelay

import (
	"context"
	"fmt"
	"net"
	"time"

	"tunrelay/internal/pump"
	"tunrelay/internal/wire"
)

// Route is one advertised destination with its CIDR prefix length, derived
// from the wire netmask via popcount.
type Route struct {
	Destination net.IP
	PrefixLen   int
}

// Result is what a successful Handshake yields: the tunnel IP the server
// assigned and the routes it advertises.
type Result struct {
	ClientIP net.IP
	Routes   []Route
}

// handshake sends the 2-byte request and waits up to timeout for a
// well-formed response, matching the client's synchronous pre-pump
// exchange.
func handshake(tr Transport, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if err := tr.Send(wire.EncodeRequest()); err != nil {
		return Result{}, pump.Wrap(pump.SetupFailed, fmt.Errorf("handshake: send request: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf, err := tr.Receive(ctx)
	if err != nil {
		return Result{}, pump.Wrap(pump.SetupFailed, fmt.Errorf("handshake: no response within %s: %w", timeout, err))
	}

	resp, err := wire.DecodeResponse(buf)
	if err != nil {
		return Result{}, pump.Wrap(pump.SetupFailed, fmt.Errorf("handshake: invalid response: %w", err))
	}

	routes := make([]Route, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		routes = append(routes, Route{
			Destination: net.IP(r.Destination[:]),
			PrefixLen:   r.PrefixLen(),
		})
	}
	return Result{ClientIP: resp.ClientIP, Routes: routes}, nil
}
