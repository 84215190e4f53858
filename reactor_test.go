package netycat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T, opts ...Option) *Reactor {
	t.Helper()
	r, err := NewReactor(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})
	return r
}

// runReactor runs r and fails the test if it does not return within limit.
func runReactor(t *testing.T, r *Reactor, limit time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(limit):
		t.Fatalf("reactor still running after %s", limit)
	}
}

func TestReactor_RunIdle(t *testing.T) {
	r := newTestReactor(t)
	runReactor(t, r, time.Second)
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_TimersFireInDeadlineOrder(t *testing.T) {
	r := newTestReactor(t)

	var events []string
	start := time.Now()
	r.Wait(10*time.Millisecond, func() { events = append(events, "10ms") })
	r.Wait(5*time.Millisecond, func() { events = append(events, "5ms") })

	// an operation completing at +50ms, posted from another goroutine
	Go(context.Background(), r, func(context.Context) (struct{}, error) {
		time.Sleep(50 * time.Millisecond)
		return struct{}{}, nil
	}).AddDoneCallback(func(error) {
		events = append(events, "io")
	})

	runReactor(t, r, 5*time.Second)
	assert.Equal(t, []string{"5ms", "10ms", "io"}, events)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_WaitFuture(t *testing.T) {
	r := newTestReactor(t)
	fut := r.WaitFuture(20 * time.Millisecond)

	start := time.Now()
	runReactor(t, r, 5*time.Second)

	require.True(t, fut.HasResult())
	assert.NoError(t, fut.Err())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReactor_TimerCancel(t *testing.T) {
	r := newTestReactor(t)
	timer := r.Wait(time.Hour, func() { t.Error("cancelled timer fired") })
	r.Wait(time.Millisecond, func() {
		assert.True(t, timer.Cancel())
	})
	runReactor(t, r, 5*time.Second)
}

func TestReactor_ExecuteFromGoroutines(t *testing.T) {
	r := newTestReactor(t)

	const workers, perWorker = 4, 25
	var ran int // only touched on the reactor goroutine
	r.BeginWork()
	var finished atomic.Int32
	for range workers {
		go func() {
			for range perWorker {
				assert.NoError(t, r.Execute(func() { ran++ }))
			}
			if finished.Add(1) == workers {
				assert.NoError(t, r.Execute(r.EndWork))
			}
		}()
	}

	runReactor(t, r, 5*time.Second)
	assert.Equal(t, workers*perWorker, ran)
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_CallbacksNeverRunInline(t *testing.T) {
	r := newTestReactor(t)

	var order []string
	require.NoError(t, r.Execute(func() {
		order = append(order, "outer start")
		require.NoError(t, r.Execute(func() {
			order = append(order, "inner")
		}))
		r.later("test", nil, func(int, error) {
			order = append(order, "later")
		})
		order = append(order, "outer end")
	}))
	assert.Empty(t, order)
	assert.Equal(t, 1, r.Outstanding())

	runReactor(t, r, time.Second)
	// submitted operations run later in the same iteration, posted work
	// on the next one
	assert.Equal(t, []string{"outer start", "outer end", "later", "inner"}, order)
}

func TestReactor_CloseFailsOutstanding(t *testing.T) {
	r, err := NewReactor()
	require.NoError(t, err)

	var results []error
	for range 3 {
		r.later("test", nil, func(_ int, err error) {
			results = append(results, err)
		})
	}
	ran := false
	require.NoError(t, r.Execute(func() { ran = true }))
	require.Equal(t, 4, r.Outstanding())

	require.NoError(t, r.Close())
	assert.Equal(t, []error{ErrReactorClosed, ErrReactorClosed, ErrReactorClosed}, results)
	assert.False(t, ran, "posted work must not run after Close")
	assert.Equal(t, 0, r.Outstanding())

	assert.ErrorIs(t, r.Run(), ErrReactorClosed)
	assert.ErrorIs(t, r.Execute(func() {}), ErrReactorClosed)
	assert.NoError(t, r.Close(), "closing twice is a no-op")

	// submitting on a closed reactor reports immediately
	var got error
	r.later("test", nil, func(_ int, err error) { got = err })
	assert.ErrorIs(t, got, ErrReactorClosed)
}

func TestReactor_CloseFromCallback(t *testing.T) {
	r, err := NewReactor()
	require.NoError(t, err)

	var pending error
	r.Wait(time.Hour, func() { t.Error("timer survived Close") })
	require.NoError(t, r.Execute(func() {
		r.later("test", nil, func(_ int, err error) { pending = err })
		assert.NoError(t, r.Close())
	}))

	runReactor(t, r, time.Second)
	assert.ErrorIs(t, pending, ErrReactorClosed)
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_PanickingCallback(t *testing.T) {
	r := newTestReactor(t)
	var ran []string
	r.later("test", nil, func(int, error) {
		panic("boom")
	})
	r.later("test", nil, func(int, error) {
		ran = append(ran, "later")
	})
	require.NoError(t, r.Execute(func() {
		panic("posted boom")
	}))
	require.NoError(t, r.Execute(func() {
		ran = append(ran, "posted")
	}))

	assert.PanicsWithValue(t, "posted boom", func() {
		_ = r.Run()
	})
	assert.Equal(t, 3, r.Outstanding(), "the operation is destroyed even if its callback panics")

	assert.PanicsWithValue(t, "boom", func() {
		_ = r.Run()
	})
	assert.Equal(t, 1, r.Outstanding())

	// the rest of each batch runs on the next Run
	runReactor(t, r, time.Second)
	assert.Equal(t, []string{"posted", "later"}, ran)
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_DestroyTwicePanics(t *testing.T) {
	r := newTestReactor(t)
	op := r.newOperation("test", -1, dirNone, nil, func(int, error) {})
	require.Equal(t, 1, r.Outstanding())

	r.destroyOperation(op)
	assert.Equal(t, 0, r.Outstanding())
	assert.Panics(t, func() { r.destroyOperation(op) })
	assert.Equal(t, 0, r.Outstanding())
}

func TestReactor_EndWorkWithoutBeginWorkPanics(t *testing.T) {
	r := newTestReactor(t)
	assert.Panics(t, r.EndWork)
}

func TestReactor_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestReactor(t, WithMetrics(reg))

	for range 3 {
		r.later("test", nil, func(int, error) {})
	}
	require.NoError(t, r.Execute(func() {}))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.metrics.outstanding))

	r.Wait(time.Millisecond, func() {})
	runReactor(t, r, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.outstanding))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.completed.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.completed.WithLabelValues("execute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.timersFired))
	assert.Positive(t, testutil.ToFloat64(r.metrics.iterations))

	// a second reactor on the same registry shares the collectors
	other := newTestReactor(t, WithMetrics(reg))
	assert.Same(t, r.metrics.completed, other.metrics.completed)
}

func TestGo_BoundedBySlots(t *testing.T) {
	r := newTestReactor(t, WithResolverSlots(2))

	var running, peak atomic.Int32
	var futs []Futurer
	for i := range 6 {
		futs = append(futs, Go(context.Background(), r, func(context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return i, nil
		}))
	}

	all := Wait(WaitAll, futs...)
	runReactor(t, r, 5*time.Second)

	require.True(t, all.HasResult())
	assert.NoError(t, all.Err())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	for i, fut := range futs {
		result, err := fut.(*Future[int]).Result()
		assert.NoError(t, err)
		assert.Equal(t, i, result)
	}
}

func TestGo_ContextCancelled(t *testing.T) {
	r := newTestReactor(t, WithResolverSlots(1))
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Int32
	release := make(chan struct{})
	f := func(context.Context) (int, error) {
		ran.Add(1)
		<-release
		return 1, nil
	}
	a, b := Go(ctx, r, f), Go(ctx, r, f)
	// the call left without a slot fails once ctx is cancelled
	Wait(WaitFirstError, a, b).AddDoneCallback(func(error) {
		close(release)
	})
	time.AfterFunc(10*time.Millisecond, cancel)

	runReactor(t, r, 5*time.Second)

	assert.Equal(t, int32(1), ran.Load())
	_, errA := a.Result()
	_, errB := b.Result()
	if (errA == nil) == (errB == nil) {
		t.Fatalf("expected exactly one call to fail, got %v and %v", errA, errB)
	}
	assert.True(t, errors.Is(errors.Join(errA, errB), context.Canceled))
}
