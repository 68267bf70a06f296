package moku

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/moku/datalog"
	"github.com/banshee-data/moku/frames"
	"github.com/banshee-data/moku/internal/fsutil"
	"github.com/banshee-data/moku/internal/journal"
	"github.com/banshee-data/moku/internal/timeutil"
	"github.com/banshee-data/moku/regs"
)

const (
	// DefaultRegisters is the register file size when Config.Registers is
	// zero.
	DefaultRegisters = 128

	// RegStateID is the register carrying the committed configuration id.
	// Commit rewrites it on every push and the device echoes it back as
	// the trigger-state id of each frame acquired under that
	// configuration. Instrument register maps must leave it alone.
	RegStateID = 0
)

// Config assembles an Instrument. Device is required; every other field
// has a usable default.
type Config struct {
	// Device is the control connection. Required.
	Device Device

	// Registers sizes the register mirror. Defaults to DefaultRegisters.
	Registers int

	// Frames opens the frame transport. Defaults to a UDP factory on
	// frames.FramePort.
	Frames frames.SourceFactory

	// BufferLength is the frame queue capacity. Defaults to 1: rendering
	// wants the freshest frame, not a backlog.
	BufferLength int

	// Samples opens sample subscriptions for net logging sessions.
	// Defaults to a UDP factory on datalog.SamplePort.
	Samples datalog.SampleFactory

	// NewParser builds the per-session sample parsers that net logging
	// and Buffer require.
	NewParser datalog.ParserFactory

	// Journal records logging history when non-nil.
	Journal *journal.Store

	// FS and Dir place uploaded log files. Default: the operating system
	// filesystem, working directory.
	FS  fsutil.FileSystem
	Dir string

	// Clock supplies time. Defaults to the real clock.
	Clock timeutil.Clock
}

// Instrument is the client-side state of one deployed instrument: the
// register mirror, the committed configuration id, acquisition flags, the
// frame receiver and the data logger. Configuration is edited locally and
// takes effect on Commit.
//
// Configuration methods belong to a single controlling goroutine. The
// frame receiver runs concurrently but shares only the frame queue and the
// committed id, both of which are synchronized.
type Instrument struct {
	dev   Device
	file  *regs.File
	clock timeutil.Clock

	receiver *frames.Receiver
	logger   *datalog.Logger

	mu       sync.Mutex
	stateID  uint8
	roll     bool
	paused   bool
	timestep float64
	profile  func(ch1, ch2 bool) datalog.Profile
	frameFn  func() *frames.Frame
	bufHook  func(*DataBuffer) error
	syncFn   func()
}

// NewInstrument builds an instrument around cfg.Device with defaults
// filled in.
func NewInstrument(cfg Config) *Instrument {
	if cfg.Registers <= 0 {
		cfg.Registers = DefaultRegisters
	}
	if cfg.Frames == nil {
		cfg.Frames = &frames.UDPSourceFactory{}
	}
	if cfg.BufferLength <= 0 {
		cfg.BufferLength = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	i := &Instrument{
		dev:   cfg.Device,
		file:  regs.NewFile(cfg.Registers),
		clock: cfg.Clock,
	}
	i.receiver = frames.NewReceiver(frames.ReceiverConfig{
		Factory:  cfg.Frames,
		NewFrame: i.newFrame,
		Queue:    frames.NewQueue(cfg.BufferLength),
		StateID:  i.StateID,
	})
	i.logger = datalog.NewLogger(datalog.Config{
		Device:     cfg.Device,
		Instrument: i,
		Samples:    cfg.Samples,
		NewParser:  cfg.NewParser,
		FS:         cfg.FS,
		Dir:        cfg.Dir,
		Journal:    cfg.Journal,
		Clock:      cfg.Clock,
	})
	return i
}

// Registers returns the local register mirror. Field accessors edit it;
// Commit pushes the result.
func (i *Instrument) Registers() *regs.File { return i.file }

// Device returns the control connection.
func (i *Instrument) Device() Device { return i.dev }

// Logger returns the data logger bound to this instrument.
func (i *Instrument) Logger() *datalog.Logger { return i.logger }

// Stats returns the frame transport counters.
func (i *Instrument) Stats() *frames.PacketStats { return i.receiver.Stats() }

// StateID returns the last committed configuration id.
func (i *Instrument) StateID() uint8 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stateID
}

// Commit pushes the mirror's modified words to the device together with
// the next configuration id in RegStateID. On success the dirty marks
// clear and the committed id advances (mod 256); on failure both stand and
// the same push can be retried.
func (i *Instrument) Commit(ctx context.Context) error {
	i.mu.Lock()
	next := i.stateID + 1
	i.mu.Unlock()

	i.file.SetWord(RegStateID, uint32(next))
	if err := i.dev.SetRegisters(ctx, i.file.Dirty()); err != nil {
		return fmt.Errorf("moku: commit registers: %w", err)
	}
	i.file.MarkClean()

	i.mu.Lock()
	i.stateID = next
	i.mu.Unlock()
	return nil
}

// Sync adopts a device-reported register snapshot into the mirror,
// discarding local edits, and refreshes the committed id from RegStateID.
// The installed sync hook then reconciles any derived settings.
func (i *Instrument) Sync(words []uint32) {
	i.file.Adopt(words)
	i.mu.Lock()
	i.stateID = uint8(i.file.Word(RegStateID))
	fn := i.syncFn
	i.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetRunning starts or stops frame acquisition. Starting an already
// running instrument is a no-op. Stopping joins the receive worker, so no
// frame is queued after it returns.
func (i *Instrument) SetRunning(ctx context.Context, run bool) error {
	if run {
		if err := i.receiver.Start(ctx); err != nil {
			return fmt.Errorf("moku: start frame receiver: %w", err)
		}
		return nil
	}
	i.receiver.Stop()
	return nil
}

// Running reports whether frame acquisition is active.
func (i *Instrument) Running() bool { return i.receiver.Running() }

// Frame returns the next complete frame. With wait set, frames whose
// trigger-state id predates the committed configuration are discarded and
// the first current one is returned. A zero timeout blocks until a frame
// arrives or ctx is done.
func (i *Instrument) Frame(ctx context.Context, timeout time.Duration, wait bool) (*frames.Frame, error) {
	return i.receiver.Frame(ctx, timeout, wait)
}

// Flush discards any queued frames.
func (i *Instrument) Flush() { i.receiver.Queue().Flush() }

// SetBufferLength resizes the frame queue. Queued frames are discarded.
func (i *Instrument) SetBufferLength(n int) { i.receiver.Queue().SetCapacity(n) }

// BufferLength returns the frame queue capacity.
func (i *Instrument) BufferLength() int { return i.receiver.Queue().Cap() }

// SetFrameFunc installs the constructor for in-flight frames so an
// instrument can attach its finalize hook. Takes effect from the next
// frame the receiver starts.
func (i *Instrument) SetFrameFunc(fn func() *frames.Frame) {
	i.mu.Lock()
	i.frameFn = fn
	i.mu.Unlock()
}

func (i *Instrument) newFrame() *frames.Frame {
	i.mu.Lock()
	fn := i.frameFn
	i.mu.Unlock()
	if fn == nil {
		return frames.New(nil)
	}
	return fn()
}

// SetLogProfile installs the source of the log record descriptors handed
// to the data logger, asked per session with the channel selection.
func (i *Instrument) SetLogProfile(fn func(ch1, ch2 bool) datalog.Profile) {
	i.mu.Lock()
	i.profile = fn
	i.mu.Unlock()
}

// SetBufferHook installs a post-processing step run on every capture
// Buffer retrieves before it is returned.
func (i *Instrument) SetBufferHook(fn func(*DataBuffer) error) {
	i.mu.Lock()
	i.bufHook = fn
	i.mu.Unlock()
}

// SetSyncHook installs a callback run after Sync adopts a register
// snapshot, letting an instrument refresh settings derived from register
// values.
func (i *Instrument) SetSyncHook(fn func()) {
	i.mu.Lock()
	i.syncFn = fn
	i.mu.Unlock()
}

// SetRollMode selects continuous (roll) acquisition. File logging requires
// it. Takes effect on Commit.
func (i *Instrument) SetRollMode(roll bool) {
	i.mu.Lock()
	i.roll = roll
	i.mu.Unlock()
}

// RollMode reports whether continuous acquisition is selected.
func (i *Instrument) RollMode() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.roll
}

// SetPause suspends rendering acquisition. Takes effect on Commit.
func (i *Instrument) SetPause(p bool) {
	i.mu.Lock()
	i.paused = p
	i.mu.Unlock()
}

// Paused reports whether acquisition is paused.
func (i *Instrument) Paused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.paused
}

// SetTimestep records the seconds between successive logged samples.
// Instruments call it when their decimation changes.
func (i *Instrument) SetTimestep(dt float64) {
	i.mu.Lock()
	i.timestep = dt
	i.mu.Unlock()
}

// Timestep reports the seconds between successive logged samples.
func (i *Instrument) Timestep() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.timestep
}

// LogProfile returns the log record descriptors for a channel selection.
// Instruments install theirs with SetLogProfile; without one the profile
// is empty and logging is refused.
func (i *Instrument) LogProfile(ch1, ch2 bool) datalog.Profile {
	i.mu.Lock()
	fn := i.profile
	i.mu.Unlock()
	if fn == nil {
		return datalog.Profile{}
	}
	return fn(ch1, ch2)
}

// ResetBuffers re-asserts roll mode and commits, forcing the device to
// restart its channel buffers ahead of a logging session.
func (i *Instrument) ResetBuffers(ctx context.Context) error {
	i.SetRollMode(true)
	return i.Commit(ctx)
}

// Buffer captures the current contents of the instrument's channel
// buffers, deeper than the decimated view a frame renders. It pauses
// acquisition, commits outstanding settings, drains a single-shot net
// logging session over the internal sample path, and correlates the result
// with one frame to learn the acquisition state. Acquisition stays paused
// afterwards. timeout bounds both the sample drain and the frame fetch.
func (i *Instrument) Buffer(ctx context.Context, timeout time.Duration) (*DataBuffer, error) {
	i.SetPause(true)
	if err := i.Commit(ctx); err != nil {
		return nil, err
	}

	sess, err := i.logger.StartSingle(ctx, datalog.SingleSpec{
		Ch1:      true,
		Ch2:      true,
		Filetype: datalog.Net,
	})
	if err != nil {
		return nil, err
	}
	ch1, ch2, err := sess.Wait(ctx, timeout, false)
	if _, serr := sess.Stop(ctx); err == nil {
		err = serr
	}
	if err != nil {
		return nil, err
	}

	fr, err := i.Frame(ctx, timeout, false)
	if err != nil {
		return nil, fmt.Errorf("moku: unable to retrieve buffer acquisition state: %w", err)
	}

	buf := &DataBuffer{Ch1: ch1, Ch2: ch2, TrigState: fr.TrigState}
	i.mu.Lock()
	hook := i.bufHook
	i.mu.Unlock()
	if hook != nil {
		if err := hook(buf); err != nil {
			return nil, fmt.Errorf("moku: post-process buffer: %w", err)
		}
	}
	return buf, nil
}
