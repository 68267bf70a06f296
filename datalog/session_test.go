package datalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/moku/internal/fsutil"
	"github.com/banshee-data/moku/internal/timeutil"
)

// startCSV starts a one-channel csv session against the mock device. The
// device's status script must begin with a healthy state for the start to
// succeed.
func startCSV(t *testing.T, dev *MockDevice, cfg Config) *Session {
	t.Helper()
	if cfg.Device == nil {
		cfg.Device = dev
	}
	if cfg.Instrument == nil {
		cfg.Instrument = &MockInstrument{Profile: testProfile(), Step: 1e-3, Roll: true}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewMockClock(testStart)
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.NewMemoryFileSystem()
	}
	l := NewLogger(cfg)
	sess, err := l.Start(context.Background(), StartSpec{Ch1: true, Duration: 10})
	require.NoError(t, err)
	return sess
}

func TestSessionStatusAccessors(t *testing.T) {
	dev := NewMockDevice()
	sess := startCSV(t, dev, Config{})
	dev.StatusSeq = []Status{{
		State:   StateRunning,
		Logged:  5,
		ToStart: -1,
		ToEnd:   7,
		Name:    "i:MokuTestData_20260824_101500.csv",
	}}

	busy, err := sess.Busy(context.Background())
	require.NoError(t, err)
	require.True(t, busy)

	n, err := sess.SampleCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	toStart, toEnd, err := sess.Remaining(context.Background())
	require.NoError(t, err)
	require.Equal(t, -1, toStart)
	require.Equal(t, 7, toEnd)

	name, err := sess.Filename(context.Background())
	require.NoError(t, err)
	require.Equal(t, "MokuTestData_20260824_101500.csv", name)

	done, err := sess.Completed(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, sess.CheckError(context.Background()))
}

func TestSessionCompleted(t *testing.T) {
	dev := NewMockDevice()
	sess := startCSV(t, dev, Config{})

	dev.StatusSeq = []Status{{State: StateStopped}}
	done, err := sess.Completed(context.Background())
	require.NoError(t, err)
	require.True(t, done)

	// A stream that died reports why rather than claiming completion.
	dev.StatusSeq = []Status{{State: StateOverflow}}
	dev.StatusCalls = 0
	_, err = sess.Completed(context.Background())
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateOverflow, serr.State)

	serr = nil
	require.ErrorAs(t, sess.CheckError(context.Background()), &serr)
	require.Equal(t, StateOverflow, serr.State)
}

func TestSessionBusyUntilConsumed(t *testing.T) {
	dev := NewMockDevice()
	sess := startCSV(t, dev, Config{})

	dev.StatusSeq = []Status{{State: StateStopped}}
	busy, err := sess.Busy(context.Background())
	require.NoError(t, err)
	require.True(t, busy, "a finished session still occupies the stream until stopped")

	dev.StatusSeq = []Status{{State: StateNone}}
	dev.StatusCalls = 0
	busy, err = sess.Busy(context.Background())
	require.NoError(t, err)
	require.False(t, busy)
}

func TestWaitFilePollsUntilComplete(t *testing.T) {
	dev := NewMockDevice()
	dev.StatusSeq = []Status{
		{State: StateNone},    // start check
		{State: StateRunning}, // first poll
		{State: StateRunning},
		{State: StateStopped},
	}
	sess := startCSV(t, dev, Config{
		Clock:        timeutil.RealClock{},
		PollInterval: time.Millisecond,
	})

	ch1, ch2, err := sess.Wait(context.Background(), time.Second, false)
	require.NoError(t, err)
	require.Nil(t, ch1)
	require.Nil(t, ch2)
	require.GreaterOrEqual(t, dev.StatusCalls, 4)
}

func TestWaitFileSurfacesStreamFailure(t *testing.T) {
	dev := NewMockDevice()
	dev.StatusSeq = []Status{
		{State: StateNone},
		{State: StateFSFull},
	}
	sess := startCSV(t, dev, Config{
		Clock:        timeutil.RealClock{},
		PollInterval: time.Millisecond,
	})

	_, _, err := sess.Wait(context.Background(), time.Second, false)
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateFSFull, serr.State)
}

func TestWaitFileHonoursContext(t *testing.T) {
	dev := NewMockDevice()
	dev.StatusSeq = []Status{{State: StateNone}, {State: StateRunning}}
	sess := startCSV(t, dev, Config{
		Clock:        timeutil.RealClock{},
		PollInterval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := sess.Wait(ctx, time.Second, false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitFileUploads(t *testing.T) {
	dev := NewMockDevice()
	dev.StatusSeq = []Status{
		{State: StateNone},
		{State: StateStopped},
	}
	fs := fsutil.NewMemoryFileSystem()
	sess := startCSV(t, dev, Config{FS: fs})

	name := sess.Base + ".csv"
	dev.Files[MountInternal] = []FSEntry{{Name: name, Size: 3}}
	dev.Contents[MountInternal+"/"+name] = []byte("abc")

	_, _, err := sess.Wait(context.Background(), time.Second, true)
	require.NoError(t, err)

	data, err := fs.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)
}

func TestWaitPlotRefused(t *testing.T) {
	dev := NewMockDevice()
	inst := &MockInstrument{Profile: testProfile(), Step: 0.1, Roll: true}
	l := NewLogger(Config{Device: dev, Instrument: inst, Clock: timeutil.NewMockClock(testStart)})
	sess, err := l.Start(context.Background(), StartSpec{Ch1: true, Duration: 10, Filetype: Plot})
	require.NoError(t, err)

	_, _, err = sess.Wait(context.Background(), time.Second, false)
	var ierr *InvalidOperationError
	require.ErrorAs(t, err, &ierr)
}

func TestStopReleasesSession(t *testing.T) {
	dev := NewMockDevice()
	dev.StopStatus = Status{State: StateStopped, Logged: 42}
	src := NewMockSampleSource(nil)
	inst := &MockInstrument{Profile: testProfile(), Step: 1e-3, Roll: true}
	l := NewLogger(Config{
		Device:     dev,
		Instrument: inst,
		Samples:    &MockSampleFactory{Source: src},
		NewParser:  newStubParser,
		Clock:      timeutil.NewMockClock(testStart),
	})
	sess, err := l.Start(context.Background(), StartSpec{Ch1: true, Duration: 1, Filetype: Net})
	require.NoError(t, err)

	st, err := sess.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStopped, st.State)
	require.Equal(t, 42, st.Logged)
	require.True(t, src.Closed, "stop releases the sample subscription")
	require.Nil(t, l.Active())

	// Stopping again returns the captured result without another device
	// round trip.
	st, err = sess.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStopped, st.State)
	require.Equal(t, 1, dev.StopCalls)
}

func TestStopReportsStreamFailure(t *testing.T) {
	dev := NewMockDevice()
	dev.StopStatus = Status{State: StateOverflow}
	sess := startCSV(t, dev, Config{})

	st, err := sess.Stop(context.Background())
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateOverflow, serr.State)
	require.Equal(t, StateOverflow, st.State)
}

func TestStopDeviceErrorStillReleases(t *testing.T) {
	dev := NewMockDevice()
	dev.StopErr = errors.New("link lost")
	src := NewMockSampleSource(nil)
	inst := &MockInstrument{Profile: testProfile(), Step: 1e-3, Roll: true}
	l := NewLogger(Config{
		Device:     dev,
		Instrument: inst,
		Samples:    &MockSampleFactory{Source: src},
		NewParser:  newStubParser,
		Clock:      timeutil.NewMockClock(testStart),
	})
	sess, err := l.Start(context.Background(), StartSpec{Ch1: true, Duration: 1, Filetype: Net})
	require.NoError(t, err)

	_, err = sess.Stop(context.Background())
	require.Error(t, err)
	require.True(t, src.Closed)
	require.Nil(t, l.Active(), "a dead device must not wedge the logger")

	_, err = l.Start(context.Background(), StartSpec{Ch1: true, Duration: 1})
	require.NoError(t, err)
}
