package datalog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sentinelChannel is the wire channel value marking end of stream.
const sentinelChannel = -1

// SampleParser decodes the packed per-channel payloads of a net session
// into engineering-unit samples. Channels are zero-based on the wire.
//
// A parser belongs to one session and is driven from one goroutine; it may
// carry decode state between calls.
type SampleParser interface {
	// SetCoeff announces the scaling coefficient in force for a channel's
	// following payloads.
	SetCoeff(ch int, coeff float64)

	// Parse decodes one payload for a channel.
	Parse(ch int, payload []byte) ([]float64, error)
}

// ParserConfig carries the session context a parser is built from.
type ParserConfig struct {
	// Ch1, Ch2 are the channels the session records.
	Ch1, Ch2 bool

	// Profile holds the instrument's record descriptors.
	Profile Profile

	// Timestep is the seconds between successive samples.
	Timestep float64

	// StartTime is the wall-clock session start.
	StartTime time.Time
}

// ParserFactory builds the sample parser for one net session. The logger
// calls it during session start, after the stream is prepared but before
// it runs.
type ParserFactory func(cfg ParserConfig) (SampleParser, error)

// sampleHeader is the delimited text line ahead of each sample payload:
// session tag, wire channel, index of the first sample, and scaling
// coefficient.
type sampleHeader struct {
	tag   string
	ch    int
	start int
	coeff float64
}

// parseSampleMessage splits one transport message into header and payload.
// The header runs to the first newline; a message without one is all
// header, which is how the end-of-stream sentinel arrives.
func parseSampleMessage(msg []byte) (sampleHeader, []byte, error) {
	head := msg
	var payload []byte
	if i := bytes.IndexByte(msg, '\n'); i >= 0 {
		head = msg[:i]
		payload = msg[i+1:]
	}
	parts := strings.Split(string(head), "|")
	if len(parts) != 4 {
		return sampleHeader{}, nil, fmt.Errorf("datalog: malformed sample header %q", head)
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil {
		return sampleHeader{}, nil, fmt.Errorf("datalog: malformed sample channel %q", parts[1])
	}
	start, err := strconv.Atoi(parts[2])
	if err != nil {
		return sampleHeader{}, nil, fmt.Errorf("datalog: malformed sample index %q", parts[2])
	}
	coeff, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return sampleHeader{}, nil, fmt.Errorf("datalog: malformed sample coefficient %q", parts[3])
	}
	return sampleHeader{tag: parts[0], ch: ch, start: start, coeff: coeff}, payload, nil
}
