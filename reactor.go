package netycat

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/semaphore"
)

// Reactor is a single-threaded completion loop. It multiplexes the
// asynchronous operations of every attached handle, a timer queue and
// work posted from other goroutines with [Reactor.Execute].
//
// Apart from Execute, BeginWork and EndWork, a Reactor and the sockets
// attached to it must only be used from the goroutine calling [Reactor.Run]
// (or, before Run is called, from the goroutine that will call it).
// Completion callbacks always run on that goroutine, never inside the
// call that submitted the operation.
type Reactor struct {
	clock   clock.Clock
	log     *slog.Logger
	metrics *reactorMetrics
	poller  poller
	timers  *timerQueue
	slots   *semaphore.Weighted

	handles     map[int]*handle
	submitted   []*Operation
	running     bool
	dispatching bool // still set if a callback panicked out of poller.Wait

	outstanding atomic.Int64
	work        atomic.Int64

	// mu guards the fields below, which Execute touches from other goroutines.
	mu     sync.Mutex
	nextID uint64
	ops    map[uint64]*Operation
	posted []*Operation
	closed bool
}

// handle tracks the operations parked on one attached descriptor,
// in submission order per direction.
type handle struct {
	readers []*Operation
	writers []*Operation
}

func (h *handle) waiters(dir opDir) *[]*Operation {
	if dir == dirWrite {
		return &h.writers
	}
	return &h.readers
}

// NewReactor creates a reactor and its OS readiness facility.
func NewReactor(opts ...Option) (*Reactor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := newReactorMetrics(cfg.registerer)
	if err != nil {
		return nil, fmt.Errorf("registering reactor metrics: %w", err)
	}

	p, err := newPoller(cfg.maxEvents)
	if err != nil {
		return nil, err
	}

	return &Reactor{
		clock:   cfg.clock,
		log:     cfg.logger,
		metrics: m,
		poller:  p,
		timers:  newTimerQueue(cfg.clock),
		slots:   semaphore.NewWeighted(cfg.resolverSlots),
		handles: make(map[int]*handle),
		ops:     make(map[uint64]*Operation),
	}, nil
}

// Clock returns the reactor's time source.
func (r *Reactor) Clock() clock.Clock {
	return r.clock
}

// Logger returns the reactor's logger.
func (r *Reactor) Logger() *slog.Logger {
	return r.log
}

// AttachHandle switches fd to non-blocking mode and registers it with the
// readiness facility. It must be called exactly once per descriptor before
// any asynchronous operation is issued on it.
func (r *Reactor) AttachHandle(fd int) error {
	if r.isClosed() {
		return ErrReactorClosed
	}
	if _, ok := r.handles[fd]; ok {
		return fmt.Errorf("%w: fd %d", ErrAlreadyAttached, fd)
	}
	if err := setNonblock(fd); err != nil {
		return opError("set_nonblock", "", err)
	}
	if err := r.poller.Add(fd); err != nil {
		return err
	}
	r.handles[fd] = &handle{}
	r.log.Debug("attached handle", slog.Int("fd", fd))
	return nil
}

// detachHandle unregisters fd. Operations still waiting on it are
// failed with [net.ErrClosed] on the next loop iteration.
func (r *Reactor) detachHandle(fd int) error {
	if r.isClosed() {
		return nil
	}
	h, ok := r.handles[fd]
	if !ok {
		return fmt.Errorf("%w: fd %d", ErrNotAttached, fd)
	}
	delete(r.handles, fd)

	for _, op := range r.pendingOps() {
		if op.fd != fd || (op.state != opQueued && op.state != opParked) {
			continue
		}
		op.attempt = failWith(net.ErrClosed)
		if op.state == opParked {
			op.state = opQueued
			r.submitted = append(r.submitted, op)
		}
	}
	h.readers, h.writers = nil, nil

	r.log.Debug("detached handle", slog.Int("fd", fd))
	return r.poller.Remove(fd)
}

// Execute schedules fn to run on the reactor goroutine at the next loop
// iteration. It is safe to call from any goroutine. The posted work counts
// as an outstanding operation until fn has run.
func (r *Reactor) Execute(fn func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReactorClosed
	}
	op := r.newOperationLocked("execute", -1, dirNone, nil, func(_ int, err error) {
		if err == nil {
			fn()
		}
	})
	op.state = opPosted
	r.posted = append(r.posted, op)
	r.mu.Unlock()

	if err := r.poller.Wakeup(); err != nil {
		r.log.Warn("could not wake up reactor", slog.Any("error", err))
	}
	return nil
}

// BeginWork keeps [Reactor.Run] from returning until the matching
// [Reactor.EndWork], for work not represented by an operation,
// such as a lookup running on another goroutine. Safe to call from any goroutine.
func (r *Reactor) BeginWork() {
	r.work.Add(1)
}

// EndWork releases a hold taken with [Reactor.BeginWork].
func (r *Reactor) EndWork() {
	if r.work.Add(-1) < 0 {
		panic("netycat: EndWork called without matching BeginWork")
	}
	if err := r.poller.Wakeup(); err != nil {
		r.log.Warn("could not wake up reactor", slog.Any("error", err))
	}
}

// Wait schedules callback to run on the reactor goroutine once d has elapsed.
func (r *Reactor) Wait(d time.Duration, callback func()) *Timer {
	return r.timers.Add(d, callback)
}

// WaitFuture returns a [Future] that completes once d has elapsed.
func (r *Reactor) WaitFuture(d time.Duration) *Future[struct{}] {
	fut := NewFuture[struct{}]()
	r.Wait(d, func() {
		fut.SetResult(struct{}{}, nil)
	})
	return fut
}

// Outstanding returns the number of operations created but not yet destroyed.
func (r *Reactor) Outstanding() int {
	return int(r.outstanding.Load())
}

// Run drives the loop until no operations, manual work or timers remain,
// or until the reactor is closed.
//
// Each iteration fires the expired timers, runs work posted with Execute,
// makes the first attempt of newly submitted operations, then waits for
// readiness (or just sleeps when only timers are pending).
func (r *Reactor) Run() error {
	if r.isClosed() {
		return ErrReactorClosed
	}
	if r.running {
		return ErrReactorRunning
	}
	r.running = true
	defer func() { r.running = false }()

	if r.dispatching {
		// readiness reported to the interrupted dispatch is not reported again
		r.redispatch()
		r.dispatching = false
	}

	for !r.isClosed() {
		r.metrics.observeIteration()
		r.metrics.observeTimers(r.timers.FireExpired())
		r.runPosted()
		r.runSubmitted()

		busy := r.outstanding.Load()+r.work.Load() > 0
		if !busy && r.timers.Empty() {
			return nil
		}
		if r.isClosed() {
			break
		}

		timeout := r.nextTimeout()
		if busy {
			r.dispatching = true
			err := r.poller.Wait(timeout, r.dispatch)
			r.dispatching = false
			if err != nil {
				return err
			}
		} else if timeout > 0 {
			r.clock.Sleep(timeout)
		}
	}
	return nil
}

// Close fails every outstanding operation with [ErrReactorClosed], in
// submission order, drops pending timers and releases the readiness
// facility. Descriptors attached to the reactor are not closed.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// callbacks may still submit work while we fail the earlier batch
	for {
		pending := r.pendingOps()
		if len(pending) == 0 {
			break
		}
		for _, op := range pending {
			if op.state < opCompleted {
				r.complete(op, 0, ErrReactorClosed)
			}
		}
	}

	r.handles = make(map[int]*handle)
	r.submitted = nil
	r.mu.Lock()
	r.posted = nil
	r.mu.Unlock()
	r.timers.Clear()

	r.log.Debug("reactor closed")
	return r.poller.Close()
}

func (r *Reactor) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// pendingOps returns the operations that have not started completing, by id.
func (r *Reactor) pendingOps() []*Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := maps.Keys(r.ops)
	slices.Sort(ids)
	ops := make([]*Operation, 0, len(ids))
	for _, id := range ids {
		if op := r.ops[id]; op.state < opCompleted {
			ops = append(ops, op)
		}
	}
	return ops
}

// submit queues an operation whose first attempt runs on the next loop
// iteration. Operations with dirNone complete after that single attempt.
//
// On a closed reactor the callback receives [ErrReactorClosed] immediately,
// since no loop iteration will ever run it.
func (r *Reactor) submit(kind string, fd int, dir opDir, attempt func() (int, error), callback func(int, error)) {
	if r.isClosed() {
		callback(0, ErrReactorClosed)
		return
	}

	op := r.newOperation(kind, fd, dir, attempt, callback)
	if _, ok := r.handles[fd]; dir != dirNone && !ok {
		op.attempt = failWith(fmt.Errorf("%w: fd %d", ErrNotAttached, fd))
	}
	op.state = opQueued
	r.submitted = append(r.submitted, op)
}

// later delivers (0, err) to callback on the next loop iteration.
func (r *Reactor) later(kind string, err error, callback func(int, error)) {
	r.submit(kind, -1, dirNone, failWith(err), callback)
}

func failWith(err error) func() (int, error) {
	return func() (int, error) {
		return 0, err
	}
}

func (r *Reactor) runPosted() {
	r.mu.Lock()
	batch := r.posted
	r.posted = nil
	r.mu.Unlock()

	i := 0
	defer func() {
		// a panicking callback leaves the rest of the batch for the next Run
		if i+1 < len(batch) {
			r.mu.Lock()
			r.posted = slices.Concat(batch[i+1:], r.posted)
			r.mu.Unlock()
		}
	}()
	for ; i < len(batch); i++ {
		if op := batch[i]; op.state == opPosted {
			r.complete(op, 0, nil)
		}
	}
}

func (r *Reactor) runSubmitted() {
	batch := r.submitted
	r.submitted = nil

	i := 0
	defer func() {
		if i+1 < len(batch) {
			r.submitted = slices.Concat(batch[i+1:], r.submitted)
		}
	}()
	for ; i < len(batch); i++ {
		op := batch[i]
		if op.state != opQueued {
			continue
		}
		if op.dir != dirNone {
			// keep per-direction FIFO order behind operations already parked
			if h := r.handles[op.fd]; h != nil && len(*h.waiters(op.dir)) > 0 {
				r.park(h, op)
				continue
			}
		}
		n, err := tryAttempt(op)
		if op.dir != dirNone && errors.Is(err, errWouldBlock) {
			if h := r.handles[op.fd]; h != nil {
				r.park(h, op)
				continue
			}
			err = fmt.Errorf("%w: fd %d", ErrNotAttached, op.fd)
		}
		r.complete(op, n, err)
	}
}

func (r *Reactor) park(h *handle, op *Operation) {
	op.state = opParked
	list := h.waiters(op.dir)
	*list = append(*list, op)
}

// dispatch retries the operations parked on fd in the directions that
// became ready, stopping at the first one that would still block.
func (r *Reactor) dispatch(fd int, ev readiness) {
	h := r.handles[fd]
	if h == nil {
		return
	}
	if ev&readReady != 0 {
		r.drain(fd, h, dirRead)
	}
	if ev&writeReady != 0 && r.handles[fd] == h {
		r.drain(fd, h, dirWrite)
	}
}

// redispatch retries the head of every wait list.
func (r *Reactor) redispatch() {
	fds := maps.Keys(r.handles)
	slices.Sort(fds)
	for _, fd := range fds {
		r.dispatch(fd, readReady|writeReady)
	}
}

func (r *Reactor) drain(fd int, h *handle, dir opDir) {
	list := h.waiters(dir)
	for len(*list) > 0 {
		op := (*list)[0]
		n, err := tryAttempt(op)
		if errors.Is(err, errWouldBlock) {
			return
		}
		(*list)[0] = nil
		*list = (*list)[1:]
		r.complete(op, n, err)

		// the callback may have closed the handle
		if r.handles[fd] != h {
			return
		}
	}
}

func tryAttempt(op *Operation) (int, error) {
	for {
		n, err := op.attempt()
		if errors.Is(err, errInterrupted) {
			continue
		}
		return n, err
	}
}

func (r *Reactor) nextTimeout() time.Duration {
	if len(r.submitted) > 0 {
		return 0
	}
	r.mu.Lock()
	posted := len(r.posted)
	r.mu.Unlock()
	if posted > 0 {
		return 0
	}
	if r.timers.Empty() {
		return -1
	}
	return r.timers.TimeUntilNext()
}
