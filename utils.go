package netycat

import (
	"context"
	"log/slog"
)

// WaitMode modifies the behaviour of [Wait].
type WaitMode int

const (
	WaitFirstResult WaitMode = iota // wait until any future has a result or an error
	WaitFirstError                  // wait until any future has an error or until all futures have completed
	WaitAll                         // wait until all futures have completed or errored
)

// Wait returns a [Future] that completes once any or all of the given
// Futures complete, depending on the [WaitMode] passed.
func Wait(mode WaitMode, futs ...Futurer) *Future[struct{}] {
	var done int
	var futErr error
	waitFut := NewFuture[struct{}]()
	if len(futs) == 0 {
		waitFut.SetResult(struct{}{}, nil)
		return waitFut
	}

	for _, fut := range futs {
		fut.AddDoneCallback(func(err error) {
			done++
			if err != nil {
				futErr = err
				if mode != WaitAll || done >= len(futs) {
					waitFut.SetResult(struct{}{}, err)
				}
			} else if done >= len(futs) || mode == WaitFirstResult {
				waitFut.SetResult(struct{}{}, futErr)
			}
		})
	}
	return waitFut
}

// Go runs f on a new goroutine and returns a [Future] that completes on
// the reactor goroutine once f returns. At most as many calls as
// configured with [WithResolverSlots] run at the same time; the rest
// wait for a slot. The reactor's Run does not return while f is pending.
func Go[T any](ctx context.Context, r *Reactor, f func(ctx context.Context) (T, error)) *Future[T] {
	fut := NewFuture[T]()
	r.BeginWork()

	go func() {
		var result T
		err := r.slots.Acquire(ctx, 1)
		if err == nil {
			result, err = f(ctx)
			r.slots.Release(1)
		}

		if perr := r.Execute(func() {
			r.EndWork()
			fut.SetResult(result, err)
		}); perr != nil {
			r.log.WarnContext(ctx, "dropping goroutine result", slog.Any("error", perr))
			r.EndWork()
		}
	}()
	return fut
}
