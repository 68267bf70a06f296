package frames

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestReceiver(t *testing.T, packets [][]byte, stateID func() uint8) (*Receiver, *MockSourceFactory) {
	t.Helper()
	factory := &MockSourceFactory{Source: NewMockPacketSource(packets)}
	r := NewReceiver(ReceiverConfig{
		Factory:     factory,
		Queue:       NewQueue(16),
		StateID:     stateID,
		ReadTimeout: 10 * time.Millisecond,
	})
	t.Cleanup(r.Stop)
	return r, factory
}

func TestReceiverDeliversCompletedFrames(t *testing.T) {
	packets := [][]byte{
		testPacket(1, 1, 0, []byte{0x01}),
		testPacket(1, 2, 0, []byte{0x02}),
		testPacket(2, 1, 0, []byte{0x03}),
		testPacket(2, 2, 0, []byte{0x04}),
	}
	r, _ := newTestReceiver(t, packets, nil)
	require.NoError(t, r.Start(context.Background()))

	fr, err := r.Frame(context.Background(), 2*time.Second, false)
	require.NoError(t, err)
	require.True(t, fr.Complete)
	require.Equal(t, uint16(1), fr.FrameID)

	fr, err = r.Frame(context.Background(), 2*time.Second, false)
	require.NoError(t, err)
	require.Equal(t, uint16(2), fr.FrameID)
}

func TestReceiverStartIdempotent(t *testing.T) {
	r, factory := newTestReceiver(t, nil, nil)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, 1, factory.OpenCalls)
	require.True(t, r.Running())
}

func TestReceiverStopJoinsAndCloses(t *testing.T) {
	r, factory := newTestReceiver(t, nil, nil)
	require.NoError(t, r.Start(context.Background()))

	r.Stop()
	require.False(t, r.Running())
	require.True(t, factory.Source.Closed)

	// Stopping again is harmless.
	r.Stop()
}

func TestReceiverRestart(t *testing.T) {
	packets := [][]byte{
		testPacket(1, 1, 0, []byte{0x01}),
		testPacket(1, 2, 0, []byte{0x02}),
	}
	r, factory := newTestReceiver(t, packets, nil)

	require.NoError(t, r.Start(context.Background()))
	_, err := r.Frame(context.Background(), 2*time.Second, false)
	require.NoError(t, err)
	r.Stop()

	factory.Source.Reset()
	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, 2, factory.OpenCalls)

	_, err = r.Frame(context.Background(), 2*time.Second, false)
	require.NoError(t, err)
	r.Stop()
}

func TestReceiverMissingFactory(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})
	require.Error(t, r.Start(context.Background()))
	require.False(t, r.Running())
}

// With wait set, frames acquired under a previous configuration id are
// discarded until one matching the committed id arrives.
func TestFrameWaitSkipsStaleTrigState(t *testing.T) {
	packets := [][]byte{
		testPacket(1, 1, 1, []byte{0x01}),
		testPacket(1, 2, 1, []byte{0x02}),
		testPacket(2, 1, 1, []byte{0x03}),
		testPacket(2, 2, 1, []byte{0x04}),
		testPacket(3, 1, 2, []byte{0x05}),
		testPacket(3, 2, 2, []byte{0x06}),
	}
	r, _ := newTestReceiver(t, packets, func() uint8 { return 2 })
	require.NoError(t, r.Start(context.Background()))

	fr, err := r.Frame(context.Background(), 2*time.Second, true)
	require.NoError(t, err)
	require.Equal(t, uint8(2), fr.TrigState)
	require.Equal(t, uint16(3), fr.FrameID)
}

func TestFrameWaitTimesOutOnOnlyStaleFrames(t *testing.T) {
	packets := [][]byte{
		testPacket(1, 1, 1, []byte{0x01}),
		testPacket(1, 2, 1, []byte{0x02}),
	}
	r, _ := newTestReceiver(t, packets, func() uint8 { return 9 })
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Frame(context.Background(), 150*time.Millisecond, true)
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v, want TimeoutError", err)
}

// Stopping the receiver releases a Frame call waiting without a deadline;
// it must not hang forever against a producer that is gone.
func TestStopUnblocksFrameWaiter(t *testing.T) {
	r, _ := newTestReceiver(t, nil, nil)
	require.NoError(t, r.Start(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := r.Frame(context.Background(), 0, false)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Stop()

	select {
	case err := <-errc:
		var te *TimeoutError
		require.True(t, errors.As(err, &te), "got %v, want TimeoutError", err)
	case <-time.After(time.Second):
		t.Fatal("Frame still blocked after Stop")
	}
}

// Frames queued before the stop still drain; only the empty wait gives up.
func TestStoppedReceiverDrainsQueue(t *testing.T) {
	r, _ := newTestReceiver(t, nil, nil)
	r.Queue().Put(New(nil))

	fr, err := r.Frame(context.Background(), time.Second, false)
	require.NoError(t, err)
	require.NotNil(t, fr)

	_, err = r.Frame(context.Background(), time.Second, false)
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v, want TimeoutError", err)
}

func TestReceiverCountsDrops(t *testing.T) {
	packets := [][]byte{
		make([]byte, 4), // short, dropped
		testPacket(1, 1, 0, []byte{0x01}),
		testPacket(1, 2, 0, []byte{0x02}),
	}
	r, _ := newTestReceiver(t, packets, nil)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Frame(context.Background(), 2*time.Second, false)
	require.NoError(t, err)
	r.Stop()

	received, _, short, _, completed, _ := r.Stats().GetAndReset()
	require.Equal(t, int64(3), received)
	require.Equal(t, int64(1), short)
	require.Equal(t, int64(1), completed)
}
