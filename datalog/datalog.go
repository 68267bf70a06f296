// Package datalog implements the data-logging session layer of the driver:
// the state machine governing start/stop/status/error/upload of a logging
// session on the device, and the live sample sub-stream used by net sessions.
//
// A Logger owns at most one active Session at a time. File sessions (csv,
// bin) record on the device's storage and are polled to completion; net
// sessions stream samples back to the client over a tagged subscription and
// collate them per channel. Sessions are created by Start or StartSingle and
// released by Stop; the device reports a busy state if a second session is
// requested before the first is stopped.
package datalog

import (
	"context"
	"io"
)

// Stream states reported by the device. None doubles as the reset state: a
// prior session's result has been consumed and a new one may start.
const (
	StateNone     State = 0 // no session
	StateRunning  State = 1 // session currently running
	StateWaiting  State = 2 // session waiting for a delayed start
	StateInval    State = 3 // start attempted with invalid parameters
	StateFSFull   State = 4 // terminated early, storage filled up
	StateOverflow State = 5 // terminated early, sample rate outran storage
	StateBusy     State = 6 // start attempted while a session was active
	StateStopped  State = 7 // session completed successfully
)

// State is a device-reported stream state code.
type State uint8

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateInval:
		return "invalid"
	case StateFSFull:
		return "fsfull"
	case StateOverflow:
		return "overflow"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether the state is one the stream never leaves on its
// own: anything but a running or pending session.
func (s State) Terminal() bool {
	return s != StateRunning && s != StateWaiting
}

// Filetype selects the destination of a logging session.
type Filetype int

const (
	// CSV records a text log on the device, one line per sample period.
	CSV Filetype = iota
	// Binary records the device's native binary log format.
	Binary
	// Net streams samples live to the client; no device-side file is
	// written. Retrieve the data with Session.Samples or Session.Wait.
	Net
	// Plot records a plot-ready file on the device. Plot sessions are
	// started and stopped like file sessions but cannot be waited on.
	Plot
)

func (f Filetype) String() string {
	switch f {
	case CSV:
		return "csv"
	case Binary:
		return "bin"
	case Net:
		return "net"
	case Plot:
		return "plot"
	}
	return "unknown"
}

// Mount points on the device.
const (
	MountInternal = "i" // internal volatile storage
	MountSD       = "e" // removable SD card
)

// Status is one snapshot of the device-side stream state.
type Status struct {
	// State is the current lifecycle state.
	State State

	// Logged is the number of samples recorded so far, summed across the
	// active channels.
	Logged int

	// ToStart is the number of seconds until the session starts; negative
	// once it has started. ToEnd counts to the session end the same way.
	ToStart int
	ToEnd   int

	// Name is the base filename of the session as reported by the device,
	// in "mount:name" form. It may not exist as a file for a net session.
	Name string
}

// StreamRequest carries everything the device needs to prepare one log
// stream.
type StreamRequest struct {
	// Ch1, Ch2 select the channels to record.
	Ch1, Ch2 bool

	// Start and End bound the session in seconds from now. A single-shot
	// capture of already-acquired data leaves both zero.
	Start, End float64

	// Offset is the time of the first sample relative to the session
	// start. Zero for streams.
	Offset float64

	// Timestep is the seconds between successive samples.
	Timestep float64

	// Profile carries the instrument's record layout descriptors.
	Profile Profile

	// Filename is the base name (no extension) the device should record
	// under.
	Filename string

	// Filetype selects the log destination.
	Filetype Filetype

	// Tag is the session serial; net sessions scope their sample
	// subscription by it.
	Tag string

	// UseSD selects the removable card over internal storage.
	UseSD bool
}

// FSEntry is one file on a device mount point.
type FSEntry struct {
	Name string
	Size uint64
}

// Device is the slice of the remote-device control service the logger
// consumes: stream lifecycle and storage queries. The root driver package
// defines the full device interface; any implementation of it satisfies
// this one.
type Device interface {
	// StreamPrep configures a log stream on the device without starting
	// it.
	StreamPrep(ctx context.Context, req StreamRequest) error

	// StreamStart begins the prepared stream.
	StreamStart(ctx context.Context) error

	// StreamStop ends the stream and returns the final status snapshot.
	StreamStop(ctx context.Context) (Status, error)

	// StreamStatus reports the current stream state. Valid after the
	// stream has stopped, in which case it reflects that a new session
	// may start.
	StreamStatus(ctx context.Context) (Status, error)

	// FSFree returns the total and free bytes on a mount point. A
	// read-only or absent target fails with a *MountError.
	FSFree(ctx context.Context, mount string) (total, free uint64, err error)

	// FSList enumerates the files on a mount point.
	FSList(ctx context.Context, mount string) ([]FSEntry, error)

	// ReceiveFile opens a file on a mount point for reading.
	ReceiveFile(ctx context.Context, mount, name string) (io.ReadCloser, error)
}

// Profile describes an instrument's log record layout: the descriptor
// strings the device and the sample parser need to interpret its stream.
type Profile struct {
	// Logname is the base name for the instrument's log files.
	Logname string

	// Binary describes the packed binary record format.
	Binary string

	// Process holds the per-channel processing descriptors, one per
	// instrument channel.
	Process []string

	// Format is the record formatting template for text logs.
	Format string

	// Header is the log file header template.
	Header string
}

// Complete reports whether every descriptor required for logging is
// present. Instruments that do not support logging return an incomplete
// profile and the logger refuses to start.
func (p Profile) Complete() bool {
	if p.Logname == "" || p.Binary == "" || p.Format == "" || p.Header == "" {
		return false
	}
	if len(p.Process) == 0 {
		return false
	}
	for _, s := range p.Process {
		if s == "" {
			return false
		}
	}
	return true
}

// Instrument is the acquisition side of the driver as the logger sees it:
// the record descriptors a session streams with, the sample period, and the
// commit hook that resets device-side buffers before streaming begins.
type Instrument interface {
	// LogProfile returns the log record descriptors for the selected
	// channel set.
	LogProfile(ch1, ch2 bool) Profile

	// Timestep returns the seconds between successive logged samples.
	Timestep() float64

	// RollMode reports whether continuous acquisition is active. Timed
	// logging requires it.
	RollMode() bool

	// ResetBuffers re-asserts continuous acquisition and commits the
	// configuration, flushing stale data from the device channel buffers.
	ResetBuffers(ctx context.Context) error
}

func channelCount(ch1, ch2 bool) int {
	n := 0
	if ch1 {
		n++
	}
	if ch2 {
		n++
	}
	return n
}

func mountFor(useSD bool) string {
	if useSD {
		return MountSD
	}
	return MountInternal
}
