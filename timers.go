package netycat

import (
	"container/heap"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a handle to a callback scheduled with [Reactor.Wait].
type Timer struct {
	callback func()
	when     time.Time
	seq      uint64

	// queue == nil && index < 0 if the timer has not been scheduled
	// or has already fired
	queue *timerQueue
	index int
}

// When returns the deadline the timer was scheduled for.
func (t *Timer) When() time.Time {
	return t.when
}

// Cancel removes this timer from its queue, preventing the callback from running.
// If the timer has already fired or been cancelled, this method is a no-op and will return false.
func (t *Timer) Cancel() bool {
	if t.queue != nil {
		return t.queue.Remove(t)
	}
	return false
}

// timerHeap orders timers so the topmost one has the soonest deadline.
// Timers sharing a deadline fire in the order they were added.
type timerHeap []*Timer

// Len implements [heap.Interface].
func (h timerHeap) Len() int {
	return len(h)
}

// Less implements [heap.Interface].
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

// Swap implements [heap.Interface].
func (h timerHeap) Swap(i, j int) {
	h[i].index = j
	h[j].index = i
	h[i], h[j] = h[j], h[i]
}

// Push implements [heap.Interface].
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

// Pop implements [heap.Interface].
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}

// timerQueue is the reactor's deadline-ordered timer collection.
// It is only touched from the reactor goroutine.
type timerQueue struct {
	heap  timerHeap
	clock clock.Clock
	seq   uint64
}

func newTimerQueue(clk clock.Clock) *timerQueue {
	return &timerQueue{clock: clk}
}

// Add schedules callback to run once delay has elapsed.
func (q *timerQueue) Add(delay time.Duration, callback func()) *Timer {
	q.seq++
	t := &Timer{
		callback: callback,
		when:     q.clock.Now().Add(delay),
		seq:      q.seq,
		queue:    q,
		index:    -1,
	}
	heap.Push(&q.heap, t)
	return t
}

// Remove removes a timer from the queue, effectively cancelling it.
// Returns true if the timer was removed,
// and false if the timer is not in this queue.
func (q *timerQueue) Remove(t *Timer) bool {
	if t.queue != q || t.index < 0 {
		return false
	}
	heap.Remove(&q.heap, t.index)
	t.queue = nil
	return true
}

// Peek returns the next timer to fire without modifying the queue.
// Will panic if the queue is empty.
func (q *timerQueue) Peek() *Timer {
	return q.heap[0]
}

// Empty reports whether the queue is empty.
func (q *timerQueue) Empty() bool {
	return len(q.heap) == 0
}

// Len returns the number of queued timers.
func (q *timerQueue) Len() int {
	return len(q.heap)
}

// FireExpired runs, in deadline order, every timer that was queued
// before the call and whose deadline has passed. Timers added by the
// callbacks themselves wait for the next call. Returns the number fired.
func (q *timerQueue) FireExpired() int {
	now := q.clock.Now()
	limit := q.seq
	fired := 0
	for !q.Empty() {
		head := q.Peek()
		if head.when.After(now) || head.seq > limit {
			break
		}
		heap.Pop(&q.heap)
		head.queue = nil
		fired++
		head.callback()
	}
	return fired
}

// TimeUntilNext returns the time until the topmost timer is due, never negative.
func (q *timerQueue) TimeUntilNext() time.Duration {
	return max(0, q.Peek().when.Sub(q.clock.Now()))
}

// Clear drops every queued timer.
func (q *timerQueue) Clear() {
	for _, t := range q.heap {
		t.queue = nil
		t.index = -1
	}
	q.heap = nil
}
