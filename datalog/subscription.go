package datalog

import (
	"fmt"
	"net"
	"time"
)

const (
	// SamplePort is the client-side port the device pushes sample batches
	// to for net sessions.
	SamplePort = 27186

	// maxSampleMessage bounds one sample message: a text header line plus
	// the packed payload, within a single datagram.
	maxSampleMessage = 1 << 16
)

// SampleSource is a subscription to the sample transport. The device pushes
// batches for every live session to the same channel, so consumers filter
// by tag. Implementations must honour read deadlines so the receive loop
// can observe cancellation at a bounded interval.
type SampleSource interface {
	// Receive fills b with the next sample message and returns its length.
	Receive(b []byte) (int, error)

	// SetReadDeadline sets the deadline for future Receive calls.
	SetReadDeadline(t time.Time) error

	// Close closes the subscription.
	Close() error
}

// SampleFactory opens sample subscriptions. The logger opens one per net
// session, scoped by the session tag.
type SampleFactory interface {
	Open(tag string) (SampleSource, error)
}

// UDPSampleSource implements SampleSource over a bound UDP socket.
type UDPSampleSource struct {
	conn *net.UDPConn
}

// NewUDPSampleSource wraps an existing *net.UDPConn.
func NewUDPSampleSource(conn *net.UDPConn) *UDPSampleSource {
	return &UDPSampleSource{conn: conn}
}

// Receive reads one datagram.
func (s *UDPSampleSource) Receive(b []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(b)
	return n, err
}

// SetReadDeadline sets the read deadline.
func (s *UDPSampleSource) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the socket.
func (s *UDPSampleSource) Close() error {
	return s.conn.Close()
}

// UDPSampleFactory binds the sample port on each Open.
type UDPSampleFactory struct {
	// Port overrides SamplePort when non-zero.
	Port int
}

// Open binds the sample port. The tag is carried in each message header and
// filtered on the receive path, so the socket itself is unscoped.
func (f *UDPSampleFactory) Open(tag string) (SampleSource, error) {
	port := f.Port
	if port == 0 {
		port = SamplePort
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("datalog: bind sample port: %w", err)
	}
	return NewUDPSampleSource(conn), nil
}

// MockSampleSource implements SampleSource for testing. It replays Messages
// in order and then simulates read timeouts, matching a quiet transport.
type MockSampleSource struct {
	// Messages holds the messages to return from Receive.
	Messages [][]byte
	// ReadIndex tracks the current position in Messages.
	ReadIndex int
	// Closed indicates whether Close was called.
	Closed bool
	// ReadDeadline holds the value set by SetReadDeadline.
	ReadDeadline time.Time
	// ReadError is returned by the next Receive call if set.
	ReadError error
}

// NewMockSampleSource creates a mock source that replays the given messages.
func NewMockSampleSource(messages [][]byte) *MockSampleSource {
	return &MockSampleSource{Messages: messages}
}

// Receive returns the next message from the mock buffer.
func (m *MockSampleSource) Receive(b []byte) (int, error) {
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, err
	}
	if m.ReadIndex >= len(m.Messages) {
		// Simulate a deadline expiry when drained.
		return 0, &net.OpError{Op: "read", Net: "udp", Err: &sampleTimeoutError{}}
	}
	msg := m.Messages[m.ReadIndex]
	m.ReadIndex++
	return copy(b, msg), nil
}

// SetReadDeadline records the deadline.
func (m *MockSampleSource) SetReadDeadline(t time.Time) error {
	m.ReadDeadline = t
	return nil
}

// Close marks the source as closed.
func (m *MockSampleSource) Close() error {
	m.Closed = true
	return nil
}

// MockSampleFactory implements SampleFactory for testing.
type MockSampleFactory struct {
	// Source is returned by Open.
	Source *MockSampleSource
	// Err is returned by Open if set.
	Err error
	// OpenCalls counts Open invocations.
	OpenCalls int
	// Tags records the tag passed to each Open call.
	Tags []string
}

// Open returns the configured mock source.
func (f *MockSampleFactory) Open(tag string) (SampleSource, error) {
	f.OpenCalls++
	f.Tags = append(f.Tags, tag)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Source, nil
}

// sampleTimeoutError implements net.Error for timeout simulation.
type sampleTimeoutError struct{}

func (e *sampleTimeoutError) Error() string   { return "i/o timeout" }
func (e *sampleTimeoutError) Timeout() bool   { return true }
func (e *sampleTimeoutError) Temporary() bool { return true }
