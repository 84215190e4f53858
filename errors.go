package netycat

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotImplemented  = errors.New("not implemented on this platform")
	ErrReactorClosed   = errors.New("reactor is closed")
	ErrReactorRunning  = errors.New("reactor is already running")
	ErrAlreadyAttached = errors.New("handle is already attached to the reactor")
	ErrNotAttached     = errors.New("handle is not attached to the reactor")
	ErrAddressFamily   = errors.New("unsupported or mismatched address family")
	ErrNoReactor       = errors.New("socket has no reactor")
	ErrSocketState     = errors.New("operation not valid in the current socket state")
	ErrNoAddresses     = errors.New("name resolved to no usable addresses")
	ErrTimeout         = errors.New("operation timed out")

	// ErrConnectionClosed is reported by the ReadAll and WriteAll family when
	// the peer stops transferring before the requested count was reached.
	ErrConnectionClosed = fmt.Errorf("connection closed before transfer completed: %w", io.ErrUnexpectedEOF)

	ErrDNSNoSuchHost  = fmt.Errorf("%w: no such host", ErrNoAddresses)
	ErrDNSRefused     = errors.New("dns: query refused")
	ErrDNSServfail    = errors.New("dns: server failure")
	ErrDNSMisbehaving = errors.New("dns: misbehaving server")
)

// OpError describes a failed OS-level call.
type OpError struct {
	Op   string
	Addr string
	Err  error
}

// Error implements [error].
func (e *OpError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("netycat: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("netycat: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error, usually a [golang.org/x/sys/unix.Errno].
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, addr string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Addr: addr, Err: err}
}

// must panics if err is non-nil, otherwise it returns v.
// It backs the Must* family of blocking operations.
func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
