// Package frames implements the frame protocol layer of the driver: reassembly
// of two-channel binary frames from an unordered packet stream, a bounded
// drop-oldest queue between the receiver worker and the application, and the
// receiver worker itself.
//
// The device pushes one packet per channel per frame id. Packets carry a fixed
// 15-byte header followed by the channel payload and an 8-byte footer. Frames
// tolerate packet loss and reordering through an id-mismatch reset: any packet
// whose frame id differs from the accumulated one discards the stale partial
// frame and starts over.
package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the fixed packet header size in bytes.
	HeaderLen = 15

	// FooterLen is the fixed per-packet trailer trimmed from the payload.
	FooterLen = 8
)

// ErrShortPacket reports a packet too short to carry the fixed header.
// Short packets are dropped by the receiver, never surfaced to the
// application.
var ErrShortPacket = errors.New("frames: packet shorter than header")

// FinalizeFunc post-processes a frame once both channels have arrived,
// typically converting raw bytes to engineering units. A non-nil error
// abandons the frame: it reverts to incomplete and is silently dropped
// rather than delivered malformed.
type FinalizeFunc func(*Frame) error

// Frame accumulates at most one packet per channel for a single frame id.
// It is complete once both channels have valid payloads and the finalize
// hook, if any, has accepted it.
type Frame struct {
	// Complete reports whether both channel payloads for the current frame
	// id have been applied and finalization accepted the frame.
	Complete bool

	// Raw1 and Raw2 are the per-channel payloads with header and footer
	// stripped. Contents are undefined for a channel that has not arrived.
	Raw1 []byte
	Raw2 []byte

	// FrameID increments monotonically on the device but wraps at 16 bits.
	FrameID uint16

	// InstrumentID identifies the instrument that produced the packet.
	InstrumentID uint8

	// StateID and TrigState tie the frame to the configuration state the
	// device was in when the data was rendered and acquired respectively.
	StateID   uint8
	TrigState uint8

	// Flags is the raw flags byte from the header.
	Flags uint8

	// WaveformID increments once per trigger event, wrapping at 32 bits.
	WaveformID uint32

	// SourceSerial identifies the originating device.
	SourceSerial uint8

	// Reserved is the final header word. It is preserved for inspection but
	// its semantics are not defined; treat as opaque.
	Reserved uint16

	chValid  [2]bool
	finalize FinalizeFunc
}

// New returns an empty frame. finalize may be nil when raw payloads are
// delivered as-is.
func New(finalize FinalizeFunc) *Frame {
	return &Frame{finalize: finalize}
}

// AddPacket feeds one transport message into the frame. A packet whose frame
// id differs from the accumulated id resets both channel validity flags
// before being applied, discarding any stale partial data. The returned error
// reports a dropped packet (too short, or finalize rejected the completed
// frame); callers count and log these, they are not application failures.
func (f *Frame) AddPacket(pkt []byte) error {
	if len(pkt) <= HeaderLen {
		return fmt.Errorf("%w (len %d)", ErrShortPacket, len(pkt))
	}

	frameID := binary.LittleEndian.Uint16(pkt[1:3])

	// Header metadata tracks the newest packet, so it is applied before the
	// id check below; the mismatch reset clears channel validity only.
	f.InstrumentID = pkt[3]
	chanNibble := pkt[4] >> 4 & 0x0F
	f.StateID = pkt[5]
	f.TrigState = pkt[6]
	f.Flags = pkt[7]
	f.WaveformID = binary.LittleEndian.Uint32(pkt[8:12])
	f.SourceSerial = pkt[12]
	f.Reserved = binary.LittleEndian.Uint16(pkt[13:15])

	if f.FrameID != frameID {
		f.FrameID = frameID
		f.chValid = [2]bool{}
	}

	// The payload carries a trailer of padding the renderer appends; trim it.
	// Copy out of the caller's receive buffer, which is reused.
	end := len(pkt) - FooterLen
	if end < HeaderLen {
		end = HeaderLen
	}
	payload := make([]byte, end-HeaderLen)
	copy(payload, pkt[HeaderLen:end])

	// Nibble value zero selects channel 1, anything else channel 2.
	if chanNibble == 0 {
		f.chValid[0] = true
		f.Raw1 = payload
	} else {
		f.chValid[1] = true
		f.Raw2 = payload
	}

	f.Complete = f.chValid[0] && f.chValid[1]

	if f.Complete && f.finalize != nil {
		if err := f.finalize(f); err != nil {
			f.Complete = false
			f.chValid = [2]bool{}
			return fmt.Errorf("frames: finalize rejected frame %d: %w", f.FrameID, err)
		}
	}
	return nil
}

// ChannelValid reports whether the payload for channel ch (1 or 2) belongs to
// the current frame id.
func (f *Frame) ChannelValid(ch int) bool {
	if ch < 1 || ch > 2 {
		return false
	}
	return f.chValid[ch-1]
}
