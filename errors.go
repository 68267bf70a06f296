package moku

import (
	"errors"

	"github.com/banshee-data/moku/datalog"
	"github.com/banshee-data/moku/regs"
)

// ErrNoData marks the expected end of a sample stream.
var ErrNoData = datalog.ErrNoData

// Aliases for the error types callers most often match with errors.As, so
// application code needs only this package. Timeout conditions come from
// both the frame and sample paths as distinct types; match them with
// IsTimeout instead.
type (
	InvalidOperationError  = datalog.InvalidOperationError
	InsufficientSpaceError = datalog.InsufficientSpaceError
	MountError             = datalog.MountError
	StreamError            = datalog.StreamError
	RangeError             = regs.RangeError
)

// IsTimeout reports whether err is a driver timeout: a frame wait, sample
// fetch or buffer retrieval that ran out of time rather than failed.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
