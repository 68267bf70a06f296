package datalog

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoData reports that a sample stream has delivered everything it will:
// the device sent its end-of-stream sentinel. It marks normal termination,
// not failure.
var ErrNoData = errors.New("datalog: data log terminated")

// TimeoutError reports that a blocking operation ran out of time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("datalog: %s timed out after %s", e.Op, e.After)
}

// Timeout reports true so the error satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// InvalidOperationError reports a request the session layer refused before
// involving the device.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return "datalog: " + e.Reason
}

func invalidOperation(format string, args ...any) error {
	return &InvalidOperationError{Reason: fmt.Sprintf(format, args...)}
}

// InsufficientSpaceError reports that the requested session would not fit
// on the target storage.
type InsufficientSpaceError struct {
	RequiredKB  uint64
	AvailableKB uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("datalog: insufficient disk space for requested log file (require %d kB, available %d kB)",
		e.RequiredKB, e.AvailableKB)
}

// MountError reports that a storage mount point could not serve a request,
// either because nothing is mounted or because the medium is read only.
type MountError struct {
	Mount    string
	ReadOnly bool
}

func (e *MountError) Error() string {
	if e.Mount == MountSD {
		if e.ReadOnly {
			return "datalog: SD card is read only"
		}
		return "datalog: SD card is unmounted"
	}
	if e.ReadOnly {
		return fmt.Sprintf("datalog: mount point %q is read only", e.Mount)
	}
	return fmt.Sprintf("datalog: mount point %q is not mounted", e.Mount)
}

// StreamError reports a device-side stream failure state.
type StreamError struct {
	State State
}

func (e *StreamError) Error() string {
	switch e.State {
	case StateInval:
		return "datalog: invalid parameters for datalogger operation"
	case StateFSFull:
		return "datalog: target filesystem full"
	case StateOverflow:
		return "datalog: session overflowed, sample rate too fast"
	case StateBusy:
		return "datalog: tried to start a logging session while one was already running"
	}
	return fmt.Sprintf("datalog: stream error (state %d)", uint8(e.State))
}

// Err maps a stream state to its error. The healthy states map to nil;
// unknown codes report a distinct error so protocol drift is not silently
// treated as success.
func (s State) Err() error {
	switch s {
	case StateNone, StateRunning, StateWaiting, StateStopped:
		return nil
	case StateInval, StateFSFull, StateOverflow, StateBusy:
		return &StreamError{State: s}
	}
	return fmt.Errorf("datalog: invalid stream status %d", uint8(s))
}
