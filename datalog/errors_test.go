package datalog

import (
	"errors"
	"testing"
	"time"
)

func TestStateErr(t *testing.T) {
	healthy := []State{StateNone, StateRunning, StateWaiting, StateStopped}
	for _, s := range healthy {
		if err := s.Err(); err != nil {
			t.Errorf("State(%v).Err() = %v, want nil", s, err)
		}
	}

	failures := []State{StateInval, StateFSFull, StateOverflow, StateBusy}
	for _, s := range failures {
		var serr *StreamError
		if err := s.Err(); !errors.As(err, &serr) || serr.State != s {
			t.Errorf("State(%v).Err() = %v, want *StreamError for that state", s, err)
		}
	}

	if err := State(9).Err(); err == nil {
		t.Error("unknown state code must not map to success")
	}
}

func TestStreamErrorMessages(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInval, "datalog: invalid parameters for datalogger operation"},
		{StateFSFull, "datalog: target filesystem full"},
		{StateOverflow, "datalog: session overflowed, sample rate too fast"},
		{StateBusy, "datalog: tried to start a logging session while one was already running"},
	}
	for _, tt := range tests {
		if got := (&StreamError{State: tt.state}).Error(); got != tt.want {
			t.Errorf("StreamError(%v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNone, "none"},
		{StateRunning, "running"},
		{StateWaiting, "waiting"},
		{StateInval, "invalid"},
		{StateFSFull, "fsfull"},
		{StateOverflow, "overflow"},
		{StateBusy, "busy"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMountErrorMessages(t *testing.T) {
	tests := []struct {
		err  *MountError
		want string
	}{
		{&MountError{Mount: MountSD}, "datalog: SD card is unmounted"},
		{&MountError{Mount: MountSD, ReadOnly: true}, "datalog: SD card is read only"},
		{&MountError{Mount: MountInternal}, `datalog: mount point "i" is not mounted`},
		{&MountError{Mount: MountInternal, ReadOnly: true}, `datalog: mount point "i" is read only`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("MountError = %q, want %q", got, tt.want)
		}
	}
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{RequiredKB: 584, AvailableKB: 100}
	want := "datalog: insufficient disk space for requested log file (require 584 kB, available 100 kB)"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Op: "sample fetch", After: 2 * time.Second}
	if want := "datalog: sample fetch timed out after 2s"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !err.Timeout() {
		t.Error("TimeoutError.Timeout() = false")
	}
}

func TestProfileComplete(t *testing.T) {
	complete := testProfile()
	if !complete.Complete() {
		t.Error("test profile should be complete")
	}

	tests := []struct {
		name string
		mod  func(p *Profile)
	}{
		{"no logname", func(p *Profile) { p.Logname = "" }},
		{"no binary", func(p *Profile) { p.Binary = "" }},
		{"no format", func(p *Profile) { p.Format = "" }},
		{"no header", func(p *Profile) { p.Header = "" }},
		{"no process", func(p *Profile) { p.Process = nil }},
		{"empty process entry", func(p *Profile) { p.Process = []string{"*1", ""} }},
	}
	for _, tt := range tests {
		p := testProfile()
		tt.mod(&p)
		if p.Complete() {
			t.Errorf("%s: profile should be incomplete", tt.name)
		}
	}
}

func TestFiletypeString(t *testing.T) {
	tests := []struct {
		ft   Filetype
		want string
	}{
		{CSV, "csv"},
		{Binary, "bin"},
		{Net, "net"},
		{Plot, "plot"},
		{Filetype(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.ft.String(); got != tt.want {
			t.Errorf("Filetype(%d).String() = %q, want %q", tt.ft, got, tt.want)
		}
	}
}
