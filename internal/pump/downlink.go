package pump

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tunrelay/internal/transport"
	"tunrelay/internal/tunio"
)

// runDownlink receives frames from tr and writes them whole to TUN. Unlike
// the uplink, a transport receive error is terminal here: this core treats
// the transport as unrecoverable on the receive side.
func runDownlink(ep *tunio.Endpoint, tr transport.Endpoint, counters *Counters, stop *StopHandle, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop.Wait():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		frame, err := tr.Receive(ctx)
		if err != nil {
			if stop.Fired() {
				return nil
			}
			log.Warn("downlink receive failed, stopping session", zap.Error(err))
			return Wrap(Terminal, err)
		}

		counters.AddRx(len(frame))

		written := 0
		for written < len(frame) {
			if err := ep.AwaitWritable(stop.Wait()); err != nil {
				if errors.Is(err, tunio.ErrStopped) {
					return nil
				}
				return Wrap(Terminal, err)
			}
			n, err := ep.TryWrite(frame[written:])
			if err != nil {
				if errors.Is(err, tunio.ErrWouldBlock) {
					continue
				}
				return Wrap(Terminal, err)
			}
			written += n
		}

		select {
		case <-stop.Wait():
			return nil
		default:
		}
	}
}
