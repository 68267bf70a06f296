package datalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/moku/internal/timeutil"
)

// stubParser scales each payload byte by the announced coefficient.
type stubParser struct {
	coeff [2]float64
	fail  error
}

func newStubParser(cfg ParserConfig) (SampleParser, error) {
	return &stubParser{}, nil
}

func (p *stubParser) SetCoeff(ch int, c float64) { p.coeff[ch] = c }

func (p *stubParser) Parse(ch int, payload []byte) ([]float64, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	out := make([]float64, len(payload))
	for i, b := range payload {
		out[i] = float64(b) * p.coeff[ch]
	}
	return out, nil
}

// sampleMsg builds one wire message: "tag|channel|start|coeff\n" + payload.
func sampleMsg(tag string, ch, start int, coeff float64, payload []byte) []byte {
	head := fmt.Sprintf("%s|%d|%d|%g\n", tag, ch, start, coeff)
	return append([]byte(head), payload...)
}

// sentinelMsg builds the end-of-stream marker: channel -1, no payload.
func sentinelMsg(tag string) []byte {
	return []byte(fmt.Sprintf("%s|-1|0|0", tag))
}

// startNet starts a two-channel net session fed by the given source. The
// session tag is "0001".
func startNet(t *testing.T, dev *MockDevice, src *MockSampleSource) (*Session, *stubParser) {
	t.Helper()
	var parser *stubParser
	inst := &MockInstrument{Profile: testProfile(), Step: 1e-3, Roll: true}
	l := NewLogger(Config{
		Device:     dev,
		Instrument: inst,
		Samples:    &MockSampleFactory{Source: src},
		NewParser: func(cfg ParserConfig) (SampleParser, error) {
			parser = &stubParser{}
			return parser, nil
		},
		Clock: timeutil.NewMockClock(testStart),
	})
	sess, err := l.StartSingle(context.Background(), SingleSpec{Ch1: true, Ch2: true, Filetype: Net})
	require.NoError(t, err)
	return sess, parser
}

func TestSamplesDecodesBatch(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0001", 0, 0, 2.0, []byte{1, 2, 3}),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	ch, start, samples, err := sess.Samples(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, ch, "wire channel 0 is channel 1 to callers")
	require.Equal(t, 0, start)
	require.Equal(t, []float64{2, 4, 6}, samples)
}

func TestSamplesFiltersForeignSessions(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0042", 0, 0, 1.0, []byte{9, 9}),
		sampleMsg("0001", 1, 128, 1.0, []byte{7}),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	ch, start, samples, err := sess.Samples(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, ch)
	require.Equal(t, 128, start)
	require.Equal(t, []float64{7}, samples)
}

func TestSamplesSkipsMalformedHeaders(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		[]byte("not a header\x00\x01"),
		[]byte("0001|x|0|1\npayload"),
		sampleMsg("0001", 0, 0, 1.0, []byte{5}),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	ch, _, samples, err := sess.Samples(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, ch)
	require.Equal(t, []float64{5}, samples)
}

func TestSamplesSentinelEndsStream(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0001", 0, 0, 1.0, []byte{1}),
		sentinelMsg("0001"),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	_, _, _, err := sess.Samples(context.Background(), time.Second)
	require.NoError(t, err)

	_, _, _, err = sess.Samples(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrNoData)
	require.True(t, src.Closed, "sentinel releases the subscription")

	// Terminated streams stay terminated.
	_, _, _, err = sess.Samples(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrNoData)
}

func TestSamplesTimeout(t *testing.T) {
	sess, _ := startNet(t, NewMockDevice(), NewMockSampleSource(nil))

	_, _, _, err := sess.Samples(context.Background(), 20*time.Millisecond)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	require.True(t, terr.Timeout())
	require.Equal(t, 20*time.Millisecond, terr.After)
}

func TestSamplesZeroTimeoutWaits(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0001", 0, 0, 1.0, []byte{8}),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	// Zero means no deadline, not an immediate timeout.
	ch, _, samples, err := sess.Samples(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, ch)
	require.Equal(t, []float64{8}, samples)

	// With the stream drained, cancellation is still the way out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err = sess.Samples(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSamplesContextCancelled(t *testing.T) {
	sess, _ := startNet(t, NewMockDevice(), NewMockSampleSource(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := sess.Samples(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSamplesParserFailure(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0001", 0, 0, 1.0, []byte{1}),
	})
	sess, parser := startNet(t, NewMockDevice(), src)
	parser.fail = errors.New("bad record")

	_, _, _, err := sess.Samples(context.Background(), time.Second)
	require.ErrorContains(t, err, "decode samples")
}

func TestSamplesOnFileSession(t *testing.T) {
	dev := NewMockDevice()
	sess := startCSV(t, dev, Config{})

	_, _, _, err := sess.Samples(context.Background(), time.Second)
	var ierr *InvalidOperationError
	require.ErrorAs(t, err, &ierr)
}

func TestWaitNetCollatesChannels(t *testing.T) {
	src := NewMockSampleSource([][]byte{
		sampleMsg("0001", 0, 0, 1.0, []byte{1, 2}),
		sampleMsg("0001", 1, 0, 1.0, []byte{10}),
		sampleMsg("0001", 0, 2, 1.0, []byte{3}),
		sentinelMsg("0001"),
	})
	sess, _ := startNet(t, NewMockDevice(), src)

	ch1, ch2, err := sess.Wait(context.Background(), time.Second, false)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, ch1)
	require.Equal(t, []float64{10}, ch2)
}

func TestWaitNetChecksStreamState(t *testing.T) {
	dev := NewMockDevice()
	dev.StatusSeq = []Status{
		{State: StateNone},
		{State: StateOverflow},
	}
	sess, _ := startNet(t, dev, NewMockSampleSource(nil))

	_, _, err := sess.Wait(context.Background(), time.Second, false)
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateOverflow, serr.State)
}

func TestParseSampleMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     []byte
		want    sampleHeader
		payload []byte
		wantErr bool
	}{
		{
			name:    "batch",
			msg:     []byte("0007|1|256|1.5e-3\nabc"),
			want:    sampleHeader{tag: "0007", ch: 1, start: 256, coeff: 1.5e-3},
			payload: []byte("abc"),
		},
		{
			name: "sentinel without newline",
			msg:  []byte("0007|-1|0|0"),
			want: sampleHeader{tag: "0007", ch: -1},
		},
		{
			name:    "wrong field count",
			msg:     []byte("0007|1|256\nabc"),
			wantErr: true,
		},
		{
			name:    "bad channel",
			msg:     []byte("0007|x|256|1\nabc"),
			wantErr: true,
		},
		{
			name:    "bad index",
			msg:     []byte("0007|1|?|1\nabc"),
			wantErr: true,
		},
		{
			name:    "bad coefficient",
			msg:     []byte("0007|1|256|pi\nabc"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, payload, err := parseSampleMessage(tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if hdr != tt.want {
				t.Errorf("header = %+v, want %+v", hdr, tt.want)
			}
			if string(payload) != string(tt.payload) {
				t.Errorf("payload = %q, want %q", payload, tt.payload)
			}
		})
	}
}
