//go:build !linux

package netycat

import "syscall"

var (
	errWouldBlock  error = syscall.EAGAIN
	errInterrupted error = syscall.EINTR
)

func setNonblock(int) error {
	return ErrNotImplemented
}
