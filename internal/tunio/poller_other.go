//go:build !linux

package tunio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// poller falls back to poll(2) on non-Linux unix targets; same short-timeout
// cancellation-check loop as the epoll variant.
type poller struct {
	fd int
}

func newPoller(fd int) (*poller, error) {
	return &poller{fd: fd}, nil
}

func (p *poller) await(stop <-chan struct{}, want uint32) error {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: int16(want)}}
	for {
		select {
		case <-stop:
			return ErrStopped
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if int16(fds[0].Revents)&int16(want) != 0 {
			return nil
		}
	}
}

func (p *poller) close() {}
