//go:build !linux

package netycat

import (
	"time"
)

// chanPoller is a basic channel-based poller which does not support network I/O.
// It lets timers, Execute and goroutine offload work on platforms without epoll.
type chanPoller struct {
	wakeupCh chan struct{}
}

func newPoller(int) (poller, error) {
	return &chanPoller{
		wakeupCh: make(chan struct{}, 1),
	}, nil
}

// Add implements [poller].
func (c *chanPoller) Add(int) error {
	return ErrNotImplemented
}

// Remove implements [poller].
func (c *chanPoller) Remove(int) error {
	return ErrNotImplemented
}

// Wait implements [poller].
func (c *chanPoller) Wait(timeout time.Duration, _ func(int, readiness)) error {
	if timeout < 0 {
		<-c.wakeupCh
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.wakeupCh:
	}
	return nil
}

// Wakeup implements [poller].
func (c *chanPoller) Wakeup() error {
	select {
	case c.wakeupCh <- struct{}{}:
	default:
	}
	return nil
}

// Close implements [poller].
func (c *chanPoller) Close() error {
	return nil
}
