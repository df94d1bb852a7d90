//go:build linux

package tunio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cloneDevicePath = "/dev/net/tun"
	ifReqSize       = unix.IFNAMSIZ + 64
)

// CreateLinux opens the kernel's TUN clone device and attaches a new
// interface named name (or a kernel-chosen name if empty), returning the
// raw descriptor ready for New and the interface's actual name.
func CreateLinux(name string) (fd int, ifName string, err error) {
	nfd, err := unix.Open(cloneDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return 0, "", fmt.Errorf("tunio: open %s: %w", cloneDevicePath, err)
	}

	if len(name) >= unix.IFNAMSIZ {
		unix.Close(nfd)
		return 0, "", errors.New("tunio: interface name too long")
	}

	var ifr [ifReqSize]byte
	copy(ifr[:], name)
	binary.LittleEndian.PutUint16(ifr[unix.IFNAMSIZ:], unix.IFF_TUN|unix.IFF_NO_PI)

	if _, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(nfd),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	); errno != 0 {
		unix.Close(nfd)
		return 0, "", fmt.Errorf("tunio: TUNSETIFF: %w", errno)
	}

	assigned := ifr[:unix.IFNAMSIZ]
	end := 0
	for end < len(assigned) && assigned[end] != 0 {
		end++
	}
	return nfd, string(assigned[:end]), nil
}
