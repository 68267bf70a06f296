package frames

import (
	"context"
	"errors"
	"testing"
	"time"
)

func frameWithID(id uint16) *Frame {
	return &Frame{FrameID: id}
}

// At capacity the queue evicts the oldest entry and never blocks.
func TestQueuePutDropsOldest(t *testing.T) {
	q := NewQueue(3)
	for id := uint16(1); id <= 5; id++ {
		q.Put(frameWithID(id))
	}

	if got := q.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	for _, want := range []uint16{3, 4, 5} {
		fr, err := q.Get(context.Background(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if fr.FrameID != want {
			t.Errorf("FrameID = %d, want %d", fr.FrameID, want)
		}
	}
}

func TestQueueGetTimeout(t *testing.T) {
	q := NewQueue(1)

	start := time.Now()
	_, err := q.Get(context.Background(), 50*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Get on empty queue = %v, want TimeoutError", err)
	}
	if !te.Timeout() {
		t.Error("TimeoutError.Timeout() = false")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Get returned after %s, want ~50ms", elapsed)
	}
}

func TestQueueGetWakesOnPut(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		q.Put(frameWithID(9))
	}()

	fr, err := q.Get(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if fr.FrameID != 9 {
		t.Errorf("FrameID = %d, want 9", fr.FrameID)
	}
}

func TestQueueGetContextCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.Get(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Get = %v, want context.Canceled", err)
	}
}

func TestQueueFlush(t *testing.T) {
	q := NewQueue(4)
	q.Put(frameWithID(1))
	q.Put(frameWithID(2))

	q.Flush()
	if got := q.Len(); got != 0 {
		t.Errorf("Len after Flush = %d, want 0", got)
	}
}

func TestQueueSetCapacityClears(t *testing.T) {
	q := NewQueue(2)
	q.Put(frameWithID(1))
	q.Put(frameWithID(2))

	q.SetCapacity(5)
	if got := q.Len(); got != 0 {
		t.Fatalf("Len after SetCapacity = %d, want 0", got)
	}
	if got := q.Cap(); got != 5 {
		t.Fatalf("Cap = %d, want 5", got)
	}

	for id := uint16(1); id <= 6; id++ {
		q.Put(frameWithID(id))
	}
	if got := q.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
}

func TestQueueCloseUnblocksWaiter(t *testing.T) {
	q := NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Get = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock on Close")
	}
}

// A closed queue still drains frames that were buffered before the close.
func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue(2)
	q.Put(frameWithID(1))
	q.Close()

	fr, err := q.Get(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if fr.FrameID != 1 {
		t.Errorf("FrameID = %d, want 1", fr.FrameID)
	}

	if _, err := q.Get(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get on drained closed queue = %v, want ErrClosed", err)
	}

	// Puts after close are dropped, and a second Close is harmless.
	q.Put(frameWithID(2))
	q.Close()
	if got := q.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestQueueMinimumCapacity(t *testing.T) {
	q := NewQueue(0)
	if got := q.Cap(); got != 1 {
		t.Errorf("Cap = %d, want 1", got)
	}
}
