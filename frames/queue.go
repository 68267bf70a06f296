package frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by Get once the queue is closed and drained.
var ErrClosed = errors.New("frames: queue closed")

// pollInterval bounds how long a Get waiter sleeps before re-checking the
// queue state, so waiters without a cancellable context still observe Close.
const pollInterval = time.Second

// TimeoutError reports that a blocking operation saw no data within its
// deadline. It is recoverable; callers decide whether to retry.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("frames: %s timed out after %s", e.Op, e.After)
}

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// Queue is the bounded frame buffer between the receiver worker and the
// application. Put never blocks: at capacity the oldest frame is evicted to
// admit the new one, so a slow consumer observes gaps, never stale backlog
// and never reordering. Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []*Frame
	capacity int
	dropped  uint64
	closed   bool
	running  func() bool
	wake     chan struct{}
}

// NewQueue returns a queue holding at most capacity frames. Capacities below
// one are raised to one; the driver default is a single frame, favouring
// freshness.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:    make([]*Frame, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}),
	}
}

// Put appends a frame, evicting the oldest entry when full. It never blocks
// and never fails; on a closed queue it is a no-op.
func (q *Queue) Put(fr *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.capacity {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = fr
		q.dropped++
	} else {
		q.items = append(q.items, fr)
	}
	close(q.wake)
	q.wake = make(chan struct{})
}

// Get removes and returns the oldest frame. With timeout > 0 it waits at most
// that long and then returns a *TimeoutError; with timeout <= 0 it waits
// until a frame arrives, the context is cancelled, or the queue is closed.
// Remaining frames are drained before a closed queue reports ErrClosed, and
// before an empty queue whose running check reports false gives up with a
// *TimeoutError.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (*Frame, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			fr := q.items[0]
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			return fr, nil
		}
		closed := q.closed
		running := q.running
		wake := q.wake
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}
		if running != nil && !running() {
			return nil, &TimeoutError{Op: "frame get", After: timeout}
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, &TimeoutError{Op: "frame get", After: timeout}
		case <-tick.C:
			// Bounded re-check of the closed flag.
		}
	}
}

// Flush atomically discards all buffered frames.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

// SetCapacity resizes the queue and clears its contents.
func (q *Queue) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = capacity
	q.clearLocked()
}

func (q *Queue) clearLocked() {
	for i := range q.items {
		q.items[i] = nil
	}
	q.items = q.items[:0]
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Dropped returns the number of frames evicted by Put since construction.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// SetRunningCheck installs a predicate reporting whether more frames can
// still arrive. A Get waiting on an empty queue consults it and gives up
// with a *TimeoutError when it reports false, rather than sitting out the
// full timeout against a stopped producer. Unlike Close, a false check is
// not terminal: the producer can restart and Gets resume normally.
func (q *Queue) SetRunningCheck(fn func() bool) {
	q.mu.Lock()
	q.running = fn
	q.mu.Unlock()
}

// Wake prods all blocked Gets into re-evaluating their wait conditions.
// Waking a closed queue is a no-op; Close already released the waiters.
func (q *Queue) Wake() {
	q.mu.Lock()
	if !q.closed {
		close(q.wake)
		q.wake = make(chan struct{})
	}
	q.mu.Unlock()
}

// Close wakes all waiters. Subsequent Puts are dropped; Gets drain the
// remaining frames and then return ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}
