package netycat

import "time"

// readiness reports which directions of a handle became ready.
type readiness uint8

const (
	readReady readiness = 1 << iota
	writeReady
)

// defaultMaxEvents is how many readiness events one Wait can return.
const defaultMaxEvents = 128

// poller is the OS readiness facility behind a [Reactor].
type poller interface {
	// Add registers fd for edge-triggered read and write readiness.
	Add(fd int) error
	Remove(fd int) error
	// Wait blocks for at most timeout (forever if negative) and calls
	// ready for every handle that changed state. Wakeups are consumed
	// internally and not reported.
	Wait(timeout time.Duration, ready func(fd int, ev readiness)) error
	// Wakeup interrupts a concurrent Wait. Safe to call from any goroutine.
	Wakeup() error
	Close() error
}
