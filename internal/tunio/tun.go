// Package tunio wraps a kernel-owned TUN file descriptor handed in by the
// host OS with the non-blocking, cooperatively-cancellable read/write shape
// the packet pump needs.
package tunio

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// BufferSize is the fixed per-read/write buffer: one IPv4 packet comfortably
// fits under the default 1500-byte MTU.
const BufferSize = 4096

const pollTimeoutMS = 100

// ErrWouldBlock is returned by TryRead/TryWrite when the descriptor isn't
// ready; callers loop back to the matching Await* call.
var ErrWouldBlock = errors.New("tunio: operation would block")

// ErrStopped is returned by Await* when stop fires before the descriptor
// becomes ready.
var ErrStopped = errors.New("tunio: stopped")

// Endpoint owns a kernel TUN file descriptor handed in by the host. The
// caller must not close fd after construction — Close is the only valid way
// to release it; only the first call has effect.
type Endpoint struct {
	fd        int
	poller    *poller
	closeOnce sync.Once
}

// New takes ownership of fd and forces it into non-blocking mode. Fails
// with a setup error if the non-blocking flag can't be applied.
func New(fd int) (*Endpoint, error) {
	if fd < 0 {
		return nil, errors.New("tunio: invalid descriptor")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("tunio: set non-blocking: %w", err)
	}
	p, err := newPoller(fd)
	if err != nil {
		return nil, fmt.Errorf("tunio: setup poller: %w", err)
	}
	return &Endpoint{fd: fd, poller: p}, nil
}

// AwaitReadable blocks, cooperatively, until the descriptor is readable or
// stop fires.
func (e *Endpoint) AwaitReadable(stop <-chan struct{}) error {
	return e.poller.await(stop, unix.POLLIN)
}

// AwaitWritable blocks, cooperatively, until the descriptor is writable or
// stop fires.
func (e *Endpoint) AwaitWritable(stop <-chan struct{}) error {
	return e.poller.await(stop, unix.POLLOUT)
}

// TryRead performs a single non-blocking read. n==0 with a nil error
// signals EOF; ErrWouldBlock means the caller should Await again.
func (e *Endpoint) TryRead(buf []byte) (int, error) {
	n, err := unix.Read(e.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// TryWrite performs a single non-blocking write.
func (e *Endpoint) TryWrite(buf []byte) (int, error) {
	n, err := unix.Write(e.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close releases the poller and the underlying descriptor. Safe to call
// more than once; only the first call has effect.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.poller.close()
		err = unix.Close(e.fd)
	})
	return err
}
