//go:build linux

package netycat

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errWouldBlock  error = unix.EAGAIN
	errInterrupted error = unix.EINTR
)

// _zero stands in for the buffer address of empty reads and writes.
var _zero uintptr

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// pollWait blocks until fd is ready in the given direction.
// It backs the synchronous form of every socket operation.
func pollWait(fd int, dir opDir) error {
	events := int16(unix.POLLIN)
	if dir == dirWrite {
		events = unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// socketInfo queries the family, type and protocol of fd.
func socketInfo(fd int) (family, sotype, proto int, err error) {
	if family, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN); err != nil {
		return 0, 0, 0, err
	}
	if sotype, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE); err != nil {
		return 0, 0, 0, err
	}
	if proto, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PROTOCOL); err != nil {
		return 0, 0, 0, err
	}
	return family, sotype, proto, nil
}

func bufferBase(p []byte) unsafe.Pointer {
	if len(p) > 0 {
		return unsafe.Pointer(&p[0])
	}
	return unsafe.Pointer(&_zero)
}

// sysRecvfrom receives one datagram, writing its source into from.
func sysRecvfrom(fd int, p []byte, from *rawSockaddr) (int, error) {
	from.reset()
	n, _, e := unix.Syscall6(unix.SYS_RECVFROM,
		uintptr(fd),
		uintptr(bufferBase(p)),
		uintptr(len(p)),
		0,
		uintptr(unsafe.Pointer(&from.buf[0])),
		uintptr(unsafe.Pointer(&from.n)))
	if e != 0 {
		return 0, e
	}
	return int(n), nil
}

// sysSendto sends one datagram to the address held in to.
func sysSendto(fd int, p []byte, to *rawSockaddr) (int, error) {
	n, _, e := unix.Syscall6(unix.SYS_SENDTO,
		uintptr(fd),
		uintptr(bufferBase(p)),
		uintptr(len(p)),
		unix.MSG_NOSIGNAL,
		uintptr(unsafe.Pointer(&to.buf[0])),
		uintptr(to.n))
	if e != 0 {
		return 0, e
	}
	return int(n), nil
}
