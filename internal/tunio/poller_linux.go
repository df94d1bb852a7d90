//go:build linux

package tunio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// poller is an epoll-backed wait primitive for a single TUN descriptor.
// epoll_wait runs with a short timeout so the loop can notice stop firing
// without a dedicated cancellation fd.
type poller struct {
	epfd int
	fd   int
}

func newPoller(fd int) (*poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl: %w", err)
	}
	return &poller{epfd: epfd, fd: fd}, nil
}

func (p *poller) await(stop <-chan struct{}, want uint32) error {
	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-stop:
			return ErrStopped
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}
		if uint32(events[0].Events)&want != 0 {
			return nil
		}
	}
}

func (p *poller) close() {
	unix.Close(p.epfd)
}
