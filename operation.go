package netycat

import (
	"fmt"
	"log/slog"
)

type opDir uint8

const (
	dirNone opDir = iota
	dirRead
	dirWrite
)

type opState uint8

const (
	opCreated opState = iota
	opPosted
	opQueued
	opParked
	opCompleted
	opDestroyed
)

func (s opState) String() string {
	switch s {
	case opCreated:
		return "created"
	case opPosted:
		return "posted"
	case opQueued:
		return "queued"
	case opParked:
		return "parked"
	case opCompleted:
		return "completed"
	case opDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("opState(%d)", uint8(s))
	}
}

// Operation is one in-flight asynchronous call: a non-blocking attempt
// function, retried whenever its handle becomes ready, and the callback
// that receives the outcome. The record lives on the heap from
// submission until the callback has returned, so anything the attempt
// writes into (buffers, address records) stays valid for that long.
type Operation struct {
	id   uint64
	kind string
	fd   int
	dir  opDir

	// attempt performs the call once. It returns unix.EAGAIN to be
	// parked until the handle is ready again; nil for posted work.
	attempt  func() (int, error)
	callback func(n int, err error)
	state    opState
}

// newOperation and destroyOperation are the only places the outstanding
// operation count changes.
func (r *Reactor) newOperation(kind string, fd int, dir opDir, attempt func() (int, error), callback func(int, error)) *Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newOperationLocked(kind, fd, dir, attempt, callback)
}

func (r *Reactor) newOperationLocked(kind string, fd int, dir opDir, attempt func() (int, error), callback func(int, error)) *Operation {
	r.nextID++
	op := &Operation{
		id:       r.nextID,
		kind:     kind,
		fd:       fd,
		dir:      dir,
		attempt:  attempt,
		callback: callback,
	}
	r.ops[op.id] = op
	r.metrics.setOutstanding(r.outstanding.Add(1))
	return op
}

func (r *Reactor) destroyOperation(op *Operation) {
	r.mu.Lock()
	if op.state == opDestroyed {
		r.mu.Unlock()
		panic(fmt.Sprintf("netycat: operation %d (%s) destroyed twice", op.id, op.kind))
	}
	op.state = opDestroyed
	delete(r.ops, op.id)
	r.mu.Unlock()

	// drop references held by the closures
	op.attempt, op.callback = nil, nil
	r.metrics.setOutstanding(r.outstanding.Add(-1))
}

// complete delivers the outcome of op to its callback and destroys it.
// The operation is destroyed even if the callback panics.
func (r *Reactor) complete(op *Operation, n int, err error) {
	op.state = opCompleted
	callback := op.callback
	defer r.destroyOperation(op)
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("operation callback panicked",
				slog.Uint64("op", op.id),
				slog.String("kind", op.kind),
				slog.Any("panic", p))
			panic(p)
		}
	}()

	r.metrics.observeCompleted(op.kind)
	callback(n, err)
}
