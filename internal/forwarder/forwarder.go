// Package forwarder runs the server's single event loop: it multiplexes
// UDP reads and TUN reads, dispatching handshakes and routing IP packets by
// destination address.
package forwarder

import (
	"errors"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"tunrelay/internal/metrics"
	"tunrelay/internal/registry"
	"tunrelay/internal/tunio"
	"tunrelay/internal/wire"
)

const (
	ipv4VersionIHL = 0x45 // version 4, IHL 5 — the only variant accepted from clients
	minIPv4Header  = 20
	dstOffset      = 16
)

// RateLimit bounds how many handshake requests a single source IP address
// may issue per window; beyond that they're dropped silently, the same way an
// unregistered data packet is.
type RateLimit struct {
	MaxPerWindow int
	Window       time.Duration
}

// Forwarder owns the server's UDP socket and TUN endpoint and runs the
// event loop described in the design: UDP->TUN and TUN->UDP, one scratch
// buffer per direction, no queueing.
type Forwarder struct {
	udp   *net.UDPConn
	tun   *tunio.Endpoint
	reg   *registry.Registry
	log   *zap.Logger
	limit *cache.Cache // keyed by source IP, counts handshake attempts this window
	rl    RateLimit
	stats *metrics.Registry // optional; nil disables metrics observation
}

// New builds a Forwarder over an already-bound UDP socket and TUN endpoint.
// stats may be nil to disable metrics observation.
func New(udp *net.UDPConn, tun *tunio.Endpoint, reg *registry.Registry, rl RateLimit, log *zap.Logger, stats *metrics.Registry) *Forwarder {
	if rl.MaxPerWindow <= 0 {
		rl.MaxPerWindow = 20
	}
	if rl.Window <= 0 {
		rl.Window = 30 * time.Second
	}
	return &Forwarder{
		udp:   udp,
		tun:   tun,
		reg:   reg,
		log:   log,
		limit: cache.New(rl.Window, rl.Window/2),
		rl:    rl,
		stats: stats,
	}
}

// Run drives the event loop until stop fires or TUN hits EOF (matching the
// server CLI's "exit 0 on TUN EOF" contract: TUN EOF is reported as a nil
// error, any other terminal condition is returned as-is). It never returns
// on UDP errors; those are logged and the loop continues.
func (f *Forwarder) Run(stop <-chan struct{}) error {
	errCh := make(chan error, 2)
	go func() { errCh <- f.runUDPToTUN(stop) }()
	go func() { errCh <- f.runTUNToUDP(stop) }()

	err := <-errCh
	if errors.Is(err, ErrTUNEOF) {
		f.log.Info("tun device closed, stopping")
		return nil
	}
	return err
}

func (f *Forwarder) runUDPToTUN(stop <-chan struct{}) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		f.udp.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, src, err := f.udp.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			f.log.Warn("udp read failed, continuing", zap.Error(err))
			continue
		}

		f.dispatchInbound(buf[:n], src)
	}
}

func (f *Forwarder) dispatchInbound(buf []byte, src *net.UDPAddr) {
	switch {
	case wire.IsRequest(buf):
		f.handleHandshake(src)
	case len(buf) >= 1 && buf[0] == ipv4VersionIHL:
		if _, ok := f.reg.LookupByEndpoint(src); !ok {
			return // unregistered source, drop
		}
		if _, err := f.tun.TryWrite(buf); err != nil && !errors.Is(err, tunio.ErrWouldBlock) {
			f.log.Warn("tun write failed, dropping packet", zap.Error(err))
			return
		}
		if f.stats != nil {
			f.stats.ObservePacket("udp_to_tun", len(buf))
		}
	default:
		// neither handshake nor classifiable IPv4 data; drop silently
	}
}

func (f *Forwarder) handleHandshake(src *net.UDPAddr) {
	key := src.IP.String()
	count, err := f.limit.IncrementInt(key, 1)
	if err != nil {
		f.limit.Set(key, 1, cache.DefaultExpiration)
		count = 1
	}
	if count > f.rl.MaxPerWindow {
		if f.stats != nil {
			f.stats.ObserveHandshakeDenied()
		}
		return
	}

	ip := f.reg.Register(src)
	if ip == nil {
		f.log.Warn("ip pool exhausted, dropping handshake", zap.String("src", src.String()))
		if f.stats != nil {
			f.stats.ObserveHandshakeDenied()
		}
		return
	}

	resp := wire.EncodeResponse(ip, []wire.Route{wire.DefaultRoute()})
	if _, err := f.udp.WriteToUDP(resp, src); err != nil {
		f.log.Warn("failed to send handshake response", zap.Error(err))
		return
	}
	if f.stats != nil {
		f.stats.ObserveHandshake()
		f.stats.SetClients(f.reg.Len())
	}
}

func (f *Forwarder) runTUNToUDP(stop <-chan struct{}) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := f.tun.AwaitReadable(stop); err != nil {
			if errors.Is(err, tunio.ErrStopped) {
				return nil
			}
			return err
		}

		n, err := f.tun.TryRead(buf)
		if err != nil {
			if errors.Is(err, tunio.ErrWouldBlock) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrTUNEOF
		}

		f.dispatchOutbound(buf[:n])
	}
}

func (f *Forwarder) dispatchOutbound(buf []byte) {
	if len(buf) < minIPv4Header || buf[0]>>4 != 4 {
		return
	}
	dst := net.IP(buf[dstOffset : dstOffset+4])
	addr, ok := f.reg.LookupByIP(dst)
	if !ok {
		return
	}
	if _, err := f.udp.WriteToUDP(buf, addr); err != nil {
		f.log.Warn("udp send failed, dropping packet", zap.Error(err))
		return
	}
	if f.stats != nil {
		f.stats.ObservePacket("tun_to_udp", len(buf))
	}
}

// ErrTUNEOF signals the TUN device was closed out from under the
// forwarder; Run treats it as a clean shutdown, not a failure.
var ErrTUNEOF = errors.New("forwarder: tun eof")
