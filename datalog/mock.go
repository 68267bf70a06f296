package datalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// MockDevice implements Device for testing. Stream calls are recorded and
// responses served from scripted fields.
type MockDevice struct {
	// PrepCalls records each StreamPrep request.
	PrepCalls []StreamRequest
	// PrepErr is returned by StreamPrep if set.
	PrepErr error

	// StartCalls counts StreamStart invocations.
	StartCalls int
	// StartErr is returned by StreamStart if set.
	StartErr error

	// StopCalls counts StreamStop invocations.
	StopCalls int
	// StopErr is returned by StreamStop if set.
	StopErr error
	// StopStatus is returned by StreamStop.
	StopStatus Status

	// StatusSeq is consumed one entry per StreamStatus call; the final
	// entry repeats once the script is drained. Empty reports StateNone.
	StatusSeq []Status
	// StatusErr is returned by StreamStatus if set.
	StatusErr error
	// StatusCalls counts StreamStatus invocations.
	StatusCalls int

	// Total and Free report mount capacity for FSFree, keyed by mount.
	Total map[string]uint64
	Free  map[string]uint64
	// FSErrs fails FSFree and FSList for a mount, for scripting an
	// unmounted or read-only target.
	FSErrs map[string]error
	// Files lists mount contents for FSList, keyed by mount.
	Files map[string][]FSEntry
	// Contents maps "mount/name" to file bytes for ReceiveFile.
	Contents map[string][]byte
	// ReceiveErr is returned by ReceiveFile if set.
	ReceiveErr error
}

// NewMockDevice returns a mock with both mounts present, effectively
// unlimited free space and no files.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		Total:    map[string]uint64{MountInternal: 1 << 30, MountSD: 1 << 30},
		Free:     map[string]uint64{MountInternal: 1 << 30, MountSD: 1 << 30},
		FSErrs:   map[string]error{},
		Files:    map[string][]FSEntry{},
		Contents: map[string][]byte{},
	}
}

// StreamPrep records the request.
func (m *MockDevice) StreamPrep(ctx context.Context, req StreamRequest) error {
	m.PrepCalls = append(m.PrepCalls, req)
	return m.PrepErr
}

// StreamStart counts the call.
func (m *MockDevice) StreamStart(ctx context.Context) error {
	m.StartCalls++
	return m.StartErr
}

// StreamStop counts the call and returns the scripted final status.
func (m *MockDevice) StreamStop(ctx context.Context) (Status, error) {
	m.StopCalls++
	return m.StopStatus, m.StopErr
}

// StreamStatus returns the next scripted status.
func (m *MockDevice) StreamStatus(ctx context.Context) (Status, error) {
	m.StatusCalls++
	if m.StatusErr != nil {
		return Status{}, m.StatusErr
	}
	if len(m.StatusSeq) == 0 {
		return Status{}, nil
	}
	i := m.StatusCalls - 1
	if i >= len(m.StatusSeq) {
		i = len(m.StatusSeq) - 1
	}
	return m.StatusSeq[i], nil
}

// FSFree reports the scripted capacity for a mount.
func (m *MockDevice) FSFree(ctx context.Context, mount string) (total, free uint64, err error) {
	if err := m.FSErrs[mount]; err != nil {
		return 0, 0, err
	}
	return m.Total[mount], m.Free[mount], nil
}

// FSList reports the scripted file listing for a mount.
func (m *MockDevice) FSList(ctx context.Context, mount string) ([]FSEntry, error) {
	if err := m.FSErrs[mount]; err != nil {
		return nil, err
	}
	return m.Files[mount], nil
}

// ReceiveFile serves scripted file contents.
func (m *MockDevice) ReceiveFile(ctx context.Context, mount, name string) (io.ReadCloser, error) {
	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}
	data, ok := m.Contents[mount+"/"+name]
	if !ok {
		return nil, fmt.Errorf("datalog: mock device has no file %s:%s", mount, name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// MockInstrument implements Instrument for testing.
type MockInstrument struct {
	// Profile is returned by LogProfile for any channel set.
	Profile Profile
	// Step is returned by Timestep.
	Step float64
	// Roll is returned by RollMode.
	Roll bool
	// ResetCalls counts ResetBuffers invocations.
	ResetCalls int
	// ResetErr is returned by ResetBuffers if set.
	ResetErr error
}

// LogProfile returns the scripted profile.
func (m *MockInstrument) LogProfile(ch1, ch2 bool) Profile { return m.Profile }

// Timestep returns the scripted sample period.
func (m *MockInstrument) Timestep() float64 { return m.Step }

// RollMode returns the scripted acquisition mode.
func (m *MockInstrument) RollMode() bool { return m.Roll }

// ResetBuffers counts the call.
func (m *MockInstrument) ResetBuffers(ctx context.Context) error {
	m.ResetCalls++
	return m.ResetErr
}
