package pump

import (
	"errors"

	"go.uber.org/zap"

	"tunrelay/internal/transport"
	"tunrelay/internal/tunio"
)

// runUplink reads TUN, pushes frames to tr, and accounts bytes until EOF,
// an unrecoverable TUN error, or stop fires. Transport send errors are
// logged and treated as non-terminal: the transport may recover.
func runUplink(ep *tunio.Endpoint, tr transport.Endpoint, counters *Counters, stop *StopHandle, log *zap.Logger) error {
	buf := make([]byte, tunio.BufferSize)
	for {
		if err := ep.AwaitReadable(stop.Wait()); err != nil {
			if errors.Is(err, tunio.ErrStopped) {
				return nil
			}
			return Wrap(Terminal, err)
		}

		n, err := ep.TryRead(buf)
		if err != nil {
			if errors.Is(err, tunio.ErrWouldBlock) {
				continue
			}
			return Wrap(Terminal, err)
		}
		if n == 0 {
			return Wrap(Terminal, errors.New("tun: eof"))
		}

		counters.AddTx(n)
		if err := tr.Send(buf[:n]); err != nil {
			log.Warn("uplink send failed, continuing", zap.Error(err))
		}
	}
}
