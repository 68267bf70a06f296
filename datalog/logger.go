package datalog

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/moku/internal/fsutil"
	"github.com/banshee-data/moku/internal/journal"
	"github.com/banshee-data/moku/internal/monitoring"
	"github.com/banshee-data/moku/internal/timeutil"
)

const (
	// DefaultSingleWindow is the sample count a single-shot capture
	// drains per channel, matching the device channel buffer length.
	DefaultSingleWindow = 1 << 14

	// defaultPollInterval paces Wait's status polling for file sessions.
	defaultPollInterval = 500 * time.Millisecond
)

// Config assembles a Logger. Device and Instrument are required; the rest
// default to production implementations.
type Config struct {
	// Device executes stream and storage operations.
	Device Device

	// Instrument supplies the record descriptors, sample timestep and
	// buffer-reset hook.
	Instrument Instrument

	// Samples opens sample subscriptions for net sessions. Defaults to a
	// UDP factory on SamplePort.
	Samples SampleFactory

	// NewParser builds the per-session sample parser. Net sessions are
	// refused when nil.
	NewParser ParserFactory

	// FS and Dir place uploaded log files. Default: the operating system
	// filesystem, working directory.
	FS  fsutil.FileSystem
	Dir string

	// Journal records session and upload history when non-nil.
	Journal *journal.Store

	// SingleWindow overrides DefaultSingleWindow.
	SingleWindow int

	// PollInterval overrides the file-session status poll pacing.
	PollInterval time.Duration

	// Clock supplies time for filenames, pacing and journal records.
	// Defaults to the real clock.
	Clock timeutil.Clock
}

// Logger manages logging sessions for one instrument. At most one session
// is active at a time; starting a second fails with a busy stream error
// until the first is stopped.
//
// Logger methods are safe for concurrent use. The Session a start returns
// is owned by the goroutine driving it.
type Logger struct {
	cfg Config

	mu     sync.Mutex
	serial int
	active *Session
}

// NewLogger builds a Logger from cfg, applying defaults for the optional
// fields.
func NewLogger(cfg Config) *Logger {
	if cfg.Samples == nil {
		cfg.Samples = &UDPSampleFactory{}
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.SingleWindow <= 0 {
		cfg.SingleWindow = DefaultSingleWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Logger{cfg: cfg}
}

// StartSpec selects what a timed logging session records.
type StartSpec struct {
	// Duration is the session length in seconds. Required.
	Duration float64

	// Delay postpones the session start. The device supports delayed
	// starts but this driver does not yet; nonzero values are refused.
	Delay float64

	// Ch1, Ch2 select the channels to record. At least one is required.
	Ch1, Ch2 bool

	// Filetype selects the destination. The zero value is CSV.
	Filetype Filetype

	// UseSD records to the removable card instead of internal storage.
	UseSD bool
}

// SingleSpec selects what a single-shot capture drains.
type SingleSpec struct {
	// Ch1, Ch2 select the channels to capture. At least one is required.
	Ch1, Ch2 bool

	// Filetype selects the destination. The zero value is CSV; Buffer
	// retrieval uses Net.
	Filetype Filetype

	// UseSD records to the removable card instead of internal storage.
	UseSD bool
}

// streamSpec is the common shape Start and StartSingle reduce to.
type streamSpec struct {
	ch1, ch2 bool
	filetype Filetype
	useSD    bool
	delay    float64
	duration float64
	samples  float64
	single   bool
}

// Start begins a timed logging session and returns its Session handle.
//
// The instrument must be acquiring continuously (roll mode), and the
// configured sample rate must be within the ceiling for the file type and
// storage target. On-device storage is checked up front so a session that
// cannot fit fails before any stream state changes.
func (l *Logger) Start(ctx context.Context, spec StartSpec) (*Session, error) {
	nch := channelCount(spec.Ch1, spec.Ch2)
	if nch == 0 {
		return nil, invalidOperation("no channels selected for logging")
	}
	if !validFiletype(spec.Filetype) {
		return nil, invalidOperation("unknown file type %d", int(spec.Filetype))
	}
	if spec.Duration <= 0 {
		return nil, invalidOperation("logging duration must be positive")
	}
	if spec.Delay != 0 {
		return nil, invalidOperation("delayed start not supported")
	}
	ts := l.cfg.Instrument.Timestep()
	if ts <= 0 {
		return nil, invalidOperation("instrument sample timestep not set")
	}
	rate := 1.0 / ts
	if maxrate := maxStreamRate(spec.Filetype, nch, spec.UseSD); math.Floor(rate) > maxrate {
		return nil, invalidOperation("sample rate %.0f too high for %s logging (max %.0f)",
			rate, spec.Filetype, maxrate)
	}
	if !l.cfg.Instrument.RollMode() {
		return nil, invalidOperation("logging requires roll mode acquisition")
	}
	return l.start(ctx, streamSpec{
		ch1:      spec.Ch1,
		ch2:      spec.Ch2,
		filetype: spec.Filetype,
		useSD:    spec.UseSD,
		delay:    spec.Delay,
		duration: spec.Duration,
		samples:  spec.Duration / ts,
	})
}

// StartSingle begins a single-shot capture of the instrument's channel
// buffers: the device streams out what it already holds rather than
// recording live. The capture ends on its own once the window has drained;
// stop it to release the session.
func (l *Logger) StartSingle(ctx context.Context, spec SingleSpec) (*Session, error) {
	nch := channelCount(spec.Ch1, spec.Ch2)
	if nch == 0 {
		return nil, invalidOperation("no channels selected for logging")
	}
	if !validFiletype(spec.Filetype) {
		return nil, invalidOperation("unknown file type %d", int(spec.Filetype))
	}
	ts := l.cfg.Instrument.Timestep()
	if ts <= 0 {
		return nil, invalidOperation("instrument sample timestep not set")
	}
	// The window length is fixed by the device buffer, so the space check
	// sizes against it rather than a requested duration.
	return l.start(ctx, streamSpec{
		ch1:      spec.Ch1,
		ch2:      spec.Ch2,
		filetype: spec.Filetype,
		useSD:    spec.UseSD,
		duration: float64(l.cfg.SingleWindow) * ts,
		samples:  float64(l.cfg.SingleWindow),
		single:   true,
	})
}

// Active returns the session currently holding the stream, or nil.
func (l *Logger) Active() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Logger) start(ctx context.Context, sp streamSpec) (*Session, error) {
	profile := l.cfg.Instrument.LogProfile(sp.ch1, sp.ch2)
	if !profile.Complete() {
		return nil, invalidOperation("instrument does not support logging")
	}
	if sp.filetype == Net && l.cfg.NewParser == nil {
		return nil, invalidOperation("net logging requires a sample parser")
	}

	// Claim the session slot before touching the device so two goroutines
	// cannot race a start. The device would report busy eventually; this
	// fails fast and without stream side effects.
	sess := &Session{
		logger:   l,
		Filetype: sp.filetype,
		Ch1:      sp.ch1,
		Ch2:      sp.ch2,
		UseSD:    sp.useSD,
	}
	l.mu.Lock()
	if l.active != nil {
		l.mu.Unlock()
		return nil, &StreamError{State: StateBusy}
	}
	l.active = sess
	l.mu.Unlock()

	if err := l.prepare(ctx, sess, sp, profile); err != nil {
		l.release(sess)
		return nil, err
	}
	return sess, nil
}

func (l *Logger) prepare(ctx context.Context, s *Session, sp streamSpec, profile Profile) error {
	nch := channelCount(sp.ch1, sp.ch2)
	ts := l.cfg.Instrument.Timestep()
	mount := mountFor(sp.useSD)

	if required := estimateLogSize(sp.filetype, sp.samples, nch); required > 0 {
		_, free, err := l.cfg.Device.FSFree(ctx, mount)
		if err != nil {
			return err
		}
		// Compare in bytes; the error rounds to kB for display only.
		if required > free {
			return &InsufficientSpaceError{
				RequiredKB:  (required + 1023) / 1024,
				AvailableKB: free / 1024,
			}
		}
	}

	if !sp.single {
		// Live sessions start from fresh data, not whatever the channel
		// buffers held before the start was requested.
		if err := l.cfg.Instrument.ResetBuffers(ctx); err != nil {
			return fmt.Errorf("datalog: reset channel buffers: %w", err)
		}
	}

	l.mu.Lock()
	l.serial++
	serial := l.serial
	l.mu.Unlock()

	s.Tag = fmt.Sprintf("%04d", serial%10000)
	s.Base = fmt.Sprintf("%s_%s", profile.Logname, l.cfg.Clock.Now().Format("20060102_150405"))
	s.timestep = ts

	req := StreamRequest{
		Ch1:      sp.ch1,
		Ch2:      sp.ch2,
		Timestep: ts,
		Profile:  profile,
		Filename: s.Base,
		Filetype: sp.filetype,
		Tag:      s.Tag,
		UseSD:    sp.useSD,
	}
	if !sp.single {
		req.Start = sp.delay
		req.End = sp.delay + sp.duration
	}
	if err := l.cfg.Device.StreamPrep(ctx, req); err != nil {
		return fmt.Errorf("datalog: prepare stream: %w", err)
	}

	if sp.filetype == Net {
		sub, err := l.cfg.Samples.Open(s.Tag)
		if err != nil {
			return err
		}
		parser, err := l.cfg.NewParser(ParserConfig{
			Ch1:       sp.ch1,
			Ch2:       sp.ch2,
			Profile:   profile,
			Timestep:  ts,
			StartTime: l.cfg.Clock.Now(),
		})
		if err != nil {
			sub.Close()
			return fmt.Errorf("datalog: build sample parser: %w", err)
		}
		s.sub = sub
		s.parser = parser
	}

	if err := l.cfg.Device.StreamStart(ctx); err != nil {
		s.closeSub()
		return fmt.Errorf("datalog: start stream: %w", err)
	}

	// The device reports parameter problems through the stream status
	// rather than the start call itself.
	st, err := l.cfg.Device.StreamStatus(ctx)
	if err != nil {
		s.closeSub()
		return err
	}
	if serr := st.State.Err(); serr != nil {
		s.closeSub()
		return serr
	}

	l.journalBegin(s, mount, nch, sp.duration, ts)
	return nil
}

func (l *Logger) release(s *Session) {
	l.mu.Lock()
	if l.active == s {
		l.active = nil
	}
	l.mu.Unlock()
}

func validFiletype(ft Filetype) bool {
	return ft >= CSV && ft <= Plot
}

// Journaling is best effort: a failed history write is logged and the
// session carries on.

func (l *Logger) journalBegin(s *Session, mount string, nch int, duration, timestep float64) {
	id, err := l.cfg.Journal.BeginSession(journal.SessionRecord{
		Tag:       s.Tag,
		FileType:  s.Filetype.String(),
		Medium:    mount,
		Channels:  nch,
		Filename:  s.Base,
		Timestep:  timestep,
		Duration:  duration,
		StartedAt: l.cfg.Clock.Now().UnixNano(),
	})
	if err != nil {
		monitoring.Logf("datalog: journal session start: %v", err)
		return
	}
	s.journalID = id
}

func (l *Logger) journalEnd(s *Session, st Status, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := l.cfg.Journal.EndSession(s.journalID, st.State.String(), msg); err != nil {
		monitoring.Logf("datalog: journal session end: %v", err)
	}
}

func (l *Logger) journalUpload(sessionID, mount, remote, local string, bytes int64) {
	_, err := l.cfg.Journal.RecordUpload(journal.UploadRecord{
		SessionID:  sessionID,
		Mount:      mount,
		RemoteName: remote,
		LocalPath:  local,
		Bytes:      bytes,
		UploadedAt: l.cfg.Clock.Now().UnixNano(),
	})
	if err != nil {
		monitoring.Logf("datalog: journal upload: %v", err)
	}
}
