package netycat

import (
	"errors"
)

var (
	ErrNotReady = errors.New("future is still pending")
)

// Futurer is an untyped view of a [Future], useful for storing
// heterogeneous Future instances in a container.
type Futurer interface {
	// HasResult reports whether this Futurer has completed.
	HasResult() bool
	// Err returns a non-nil error if the Futurer completed with an error.
	Err() error
	// AddDoneCallback registers a type-unaware callback to run once this Futurer
	// completes. If called when the Futurer has already completed,
	// the callback will be run immediately.
	AddDoneCallback(callback func(error)) Futurer
}

// Future is a single-assignment container for the result of an
// asynchronous operation. It will run any callbacks registered using
// [Future.AddDoneCallback] or [Future.AddResultCallback] once populated
// with a result using [Future.SetResult].
//
// Futures are not threadsafe. The futures returned by this package
// are completed on the reactor goroutine.
type Future[ResType any] struct {
	done      bool
	result    ResType
	err       error
	callbacks []func(ResType, error)
}

// NewFuture returns a new, pending [Future].
func NewFuture[ResType any]() *Future[ResType] {
	return &Future[ResType]{}
}

// futureOf adapts a callback-style operation to a [Future].
func futureOf[ResType any](start func(callback func(ResType, error))) *Future[ResType] {
	fut := NewFuture[ResType]()
	start(fut.SetResult)
	return fut
}

// HasResult implements [Futurer].
func (f *Future[ResType]) HasResult() bool {
	return f.done
}

// Err implements [Futurer].
func (f *Future[ResType]) Err() error {
	return f.err
}

// Result returns the result of this Future.
// If the Future has not yet completed, [ErrNotReady] will be returned.
func (f *Future[ResType]) Result() (ResType, error) {
	if f.done {
		return f.result, f.err
	}

	var zero ResType
	return zero, ErrNotReady
}

// AddDoneCallback implements [Futurer].
func (f *Future[ResType]) AddDoneCallback(callback func(error)) Futurer {
	f.AddResultCallback(func(_ ResType, err error) {
		callback(err)
	})
	return f
}

// AddResultCallback registers a type-aware callback to run once this Future
// completes. If called when the Future has already completed,
// the callback will be run immediately.
func (f *Future[ResType]) AddResultCallback(callback func(ResType, error)) *Future[ResType] {
	if f.HasResult() {
		callback(f.result, f.err)
	} else {
		f.callbacks = append(f.callbacks, callback)
	}
	return f
}

// WriteResultTo registers a pointer to write the result
// of this Future to if it completes with no error.
//
// This method allows for particularly ergonomic use
// of functions like [Wait].
func (f *Future[ResType]) WriteResultTo(dest *ResType) *Future[ResType] {
	return f.AddResultCallback(func(result ResType, err error) {
		if err == nil {
			*dest = result
		}
	})
}

// SetResult populates this Future with a result.
// This will mark the Future as completed, and the provided result
// will be propagated to any registered callbacks
// and returned from any future calls to [Future.Result].
// Later calls are ignored.
func (f *Future[ResType]) SetResult(result ResType, err error) {
	if f.HasResult() {
		return
	}

	f.result, f.err = result, err
	f.done = true

	callbacks := f.callbacks
	f.callbacks = nil
	for _, callback := range callbacks {
		callback(result, err)
	}
}
