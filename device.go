package moku

import (
	"context"

	"github.com/banshee-data/moku/datalog"
	"github.com/banshee-data/moku/regs"
)

// Device is the control connection to one instrument. It extends the
// data-logging control surface with register pushes. Implementations speak
// whatever management protocol the deployment uses; everything in this
// module stays behind this interface.
type Device interface {
	datalog.Device

	// SetRegisters pushes modified register words to the device. The
	// committed configuration id travels inside the register file itself
	// (RegStateID), so a push carries everything the device needs to adopt
	// the new configuration atomically.
	SetRegisters(ctx context.Context, writes []regs.Write) error

	// Address reports the device's network address.
	Address() string
}

// MockDevice implements Device on top of the data-logging mock, recording
// register pushes for inspection.
type MockDevice struct {
	*datalog.MockDevice

	// Pushes records the writes of each SetRegisters call in order.
	Pushes [][]regs.Write

	// PushErr fails SetRegisters when set.
	PushErr error

	// Addr backs Address.
	Addr string
}

// NewMockDevice returns a mock with both mounts present and a placeholder
// address.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		MockDevice: datalog.NewMockDevice(),
		Addr:       "192.168.69.100",
	}
}

func (m *MockDevice) SetRegisters(_ context.Context, writes []regs.Write) error {
	if m.PushErr != nil {
		return m.PushErr
	}
	cp := make([]regs.Write, len(writes))
	copy(cp, writes)
	m.Pushes = append(m.Pushes, cp)
	return nil
}

func (m *MockDevice) Address() string { return m.Addr }
