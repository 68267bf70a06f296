package frames

import (
	"fmt"
	"net"
	"time"
)

const (
	// FramePort is the client-side port the device pushes frame packets to.
	FramePort = 27185

	// ReceiveWindow bounds the transport receive backlog, in messages. Under
	// slow consumption the transport drops rather than buffering unboundedly.
	ReceiveWindow = 8

	// maxPacketSize covers the largest frame packet: header, two historical
	// padding samples beyond the 1024 valid ones, and footer.
	maxPacketSize = 2048
)

// PacketSource is a subscription to the frame transport: a continuous one-way
// push channel from the device. Implementations must honour read deadlines so
// the receiver worker can observe cancellation at a bounded interval.
type PacketSource interface {
	// Receive fills b with the next transport message and returns its length.
	Receive(b []byte) (int, error)

	// SetReadDeadline sets the deadline for future Receive calls.
	SetReadDeadline(t time.Time) error

	// Close closes the subscription.
	Close() error
}

// SourceFactory opens packet sources. The receiver worker opens one per run
// so stopped instruments hold no sockets.
type SourceFactory interface {
	Open() (PacketSource, error)
}

// UDPPacketSource implements PacketSource over a bound UDP socket.
type UDPPacketSource struct {
	conn *net.UDPConn
}

// NewUDPPacketSource wraps an existing *net.UDPConn.
func NewUDPPacketSource(conn *net.UDPConn) *UDPPacketSource {
	return &UDPPacketSource{conn: conn}
}

// Receive reads one datagram.
func (s *UDPPacketSource) Receive(b []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(b)
	return n, err
}

// SetReadDeadline sets the read deadline.
func (s *UDPPacketSource) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the socket.
func (s *UDPPacketSource) Close() error {
	return s.conn.Close()
}

// UDPSourceFactory binds the frame port on each Open.
type UDPSourceFactory struct {
	// Port overrides FramePort when non-zero.
	Port int
}

// Open binds the frame port and sizes the OS receive buffer to the bounded
// receive window.
func (f *UDPSourceFactory) Open() (PacketSource, error) {
	port := f.Port
	if port == 0 {
		port = FramePort
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("frames: bind frame port: %w", err)
	}
	if err := conn.SetReadBuffer(ReceiveWindow * maxPacketSize); err != nil {
		debugf("set frame receive buffer: %v", err)
	}
	return NewUDPPacketSource(conn), nil
}

// MockPacketSource implements PacketSource for testing. It replays Packets in
// order and then simulates read timeouts, matching a quiet transport.
type MockPacketSource struct {
	// Packets holds the messages to return from Receive.
	Packets [][]byte
	// ReadIndex tracks the current position in Packets.
	ReadIndex int
	// Closed indicates whether Close was called.
	Closed bool
	// ReadDeadline holds the value set by SetReadDeadline.
	ReadDeadline time.Time
	// ReadError is returned by the next Receive call if set.
	ReadError error
}

// NewMockPacketSource creates a mock source that replays the given packets.
func NewMockPacketSource(packets [][]byte) *MockPacketSource {
	return &MockPacketSource{Packets: packets}
}

// Receive returns the next packet from the mock buffer.
func (m *MockPacketSource) Receive(b []byte) (int, error) {
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, err
	}
	if m.ReadIndex >= len(m.Packets) {
		// Simulate a deadline expiry when drained.
		return 0, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return copy(b, pkt), nil
}

// SetReadDeadline records the deadline.
func (m *MockPacketSource) SetReadDeadline(t time.Time) error {
	m.ReadDeadline = t
	return nil
}

// Close marks the source as closed.
func (m *MockPacketSource) Close() error {
	m.Closed = true
	return nil
}

// Reset restores the mock source for reuse.
func (m *MockPacketSource) Reset() {
	m.ReadIndex = 0
	m.Closed = false
	m.ReadDeadline = time.Time{}
	m.ReadError = nil
}

// MockSourceFactory implements SourceFactory for testing.
type MockSourceFactory struct {
	// Source is returned by Open.
	Source *MockPacketSource
	// Err is returned by Open if set.
	Err error
	// OpenCalls counts Open invocations.
	OpenCalls int
}

// Open returns the configured mock source.
func (f *MockSourceFactory) Open() (PacketSource, error) {
	f.OpenCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Source, nil
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
