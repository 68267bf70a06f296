package datalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// sampleReadTimeout bounds each blocking receive so cancellation is
// observed within a second even when the transport is quiet.
const sampleReadTimeout = time.Second

// Session is one logging run. It is created by Logger.Start or
// Logger.StartSingle and holds the stream until Stop releases it.
//
// A Session is not safe for concurrent use; drive it from a single
// goroutine.
type Session struct {
	// Tag is the four-digit serial scoping the session's sample stream.
	Tag string

	// Filetype is the session's destination.
	Filetype Filetype

	// Ch1, Ch2 are the recorded channels.
	Ch1, Ch2 bool

	// UseSD reports whether the session records to the removable card.
	UseSD bool

	// Base is the base filename (no extension) the device records under.
	Base string

	logger    *Logger
	timestep  float64
	journalID string

	sub    SampleSource
	parser SampleParser
	buf    []byte

	stopped bool
	final   Status
}

// Status returns the device's current view of the stream.
func (s *Session) Status(ctx context.Context) (Status, error) {
	return s.logger.cfg.Device.StreamStatus(ctx)
}

// Remaining returns the seconds until the session starts and until it
// ends. Both turn negative once the boundary has passed.
func (s *Session) Remaining(ctx context.Context) (toStart, toEnd int, err error) {
	st, err := s.Status(ctx)
	if err != nil {
		return 0, 0, err
	}
	return st.ToStart, st.ToEnd, nil
}

// SampleCount returns the number of samples recorded so far, summed over
// the active channels.
func (s *Session) SampleCount(ctx context.Context) (int, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return 0, err
	}
	return st.Logged, nil
}

// Busy reports whether the stream is still occupied. It stays true after
// the session finishes until Stop consumes the result.
func (s *Session) Busy(ctx context.Context) (bool, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.State != StateNone, nil
}

// Completed reports whether the session has finished recording. A session
// that terminated on a failure reports the failure instead.
func (s *Session) Completed(ctx context.Context) (bool, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	if serr := st.State.Err(); serr != nil {
		return false, serr
	}
	return st.State.Terminal(), nil
}

// CheckError surfaces a device-side stream failure, if any.
func (s *Session) CheckError(ctx context.Context) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	return st.State.Err()
}

// Filename returns the name the device is recording under, without the
// mount prefix.
func (s *Session) Filename(ctx context.Context) (string, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return "", err
	}
	name := st.Name
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

// Wait blocks until the session finishes and returns its collated data.
//
// For net sessions it drains the sample stream until the device's
// end-of-stream sentinel and returns the per-channel samples; timeout
// bounds each individual sample fetch. For csv and bin sessions it polls
// the stream state until recording completes, returns nil data, and
// uploads the log file when requested. Plot sessions cannot be waited on.
//
// Wait does not release the stream; call Stop afterwards.
func (s *Session) Wait(ctx context.Context, timeout time.Duration, upload bool) (ch1, ch2 []float64, err error) {
	switch s.Filetype {
	case Net:
		ch1, ch2, err = s.waitNet(ctx, timeout)
		return ch1, ch2, err
	case CSV, Binary:
		return nil, nil, s.waitFile(ctx, upload)
	}
	return nil, nil, invalidOperation("can't wait on a %s session", s.Filetype)
}

func (s *Session) waitNet(ctx context.Context, timeout time.Duration) ([]float64, []float64, error) {
	var ch1, ch2 []float64
	for {
		if err := s.CheckError(ctx); err != nil {
			return nil, nil, err
		}
		ch, _, samples, err := s.Samples(ctx, timeout)
		if errors.Is(err, ErrNoData) {
			return ch1, ch2, nil
		}
		if err != nil {
			return nil, nil, err
		}
		switch ch {
		case 1:
			ch1 = append(ch1, samples...)
		case 2:
			ch2 = append(ch2, samples...)
		}
	}
}

func (s *Session) waitFile(ctx context.Context, upload bool) error {
	clock := s.logger.cfg.Clock
	for {
		done, err := s.Completed(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(s.logger.cfg.PollInterval):
		}
	}
	if upload {
		if _, err := s.Upload(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Samples returns the next batch from a net session: the one-based channel
// the batch belongs to, the stream index of its first sample, and the
// decoded samples.
//
// Batches for other sessions still in flight on the shared transport are
// discarded, as are messages that fail header parsing. When the device
// signals end of stream, Samples releases the subscription and returns
// ErrNoData; every further call does too.
//
// A timeout of zero or less waits until a batch arrives or ctx is
// cancelled.
func (s *Session) Samples(ctx context.Context, timeout time.Duration) (ch, start int, samples []float64, err error) {
	if s.Filetype != Net {
		return 0, 0, nil, invalidOperation("samples are only streamed for net sessions")
	}
	if s.sub == nil {
		return 0, 0, nil, ErrNoData
	}
	if s.buf == nil {
		s.buf = make([]byte, maxSampleMessage)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, nil, err
		}
		remain := sampleReadTimeout
		if !deadline.IsZero() {
			remain = time.Until(deadline)
			if remain <= 0 {
				return 0, 0, nil, &TimeoutError{Op: "sample fetch", After: timeout}
			}
			if remain > sampleReadTimeout {
				remain = sampleReadTimeout
			}
		}
		if err := s.sub.SetReadDeadline(time.Now().Add(remain)); err != nil {
			return 0, 0, nil, fmt.Errorf("datalog: set sample read deadline: %w", err)
		}
		n, err := s.sub.Receive(s.buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return 0, 0, nil, fmt.Errorf("datalog: receive samples: %w", err)
		}

		hdr, payload, err := parseSampleMessage(s.buf[:n])
		if err != nil {
			debugf("%v", err)
			continue
		}
		if hdr.tag != s.Tag {
			debugf("discarding sample batch for session %q", hdr.tag)
			continue
		}
		if hdr.ch == sentinelChannel {
			s.closeSub()
			return 0, 0, nil, ErrNoData
		}
		if hdr.ch < 0 || hdr.ch > 1 {
			debugf("discarding sample batch for unknown channel %d", hdr.ch)
			continue
		}

		s.parser.SetCoeff(hdr.ch, hdr.coeff)
		decoded, err := s.parser.Parse(hdr.ch, payload)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("datalog: decode samples: %w", err)
		}
		return hdr.ch + 1, hdr.start, decoded, nil
	}
}

// Stop ends the session, releases its resources and returns the final
// status. The subscription and the logger's session slot are released even
// when the stop itself fails, so a dead device cannot wedge the logger. A
// session that terminated on a stream failure reports it here.
//
// Stopping a stopped session returns the captured final status.
func (s *Session) Stop(ctx context.Context) (Status, error) {
	if s.stopped {
		return s.final, nil
	}
	st, err := s.logger.cfg.Device.StreamStop(ctx)
	s.closeSub()
	s.logger.release(s)
	s.stopped = true
	s.final = st
	if err != nil {
		err = fmt.Errorf("datalog: stop stream: %w", err)
		s.logger.journalEnd(s, st, err)
		return st, err
	}
	serr := st.State.Err()
	s.logger.journalEnd(s, st, serr)
	return st, serr
}

func (s *Session) closeSub() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Close(); err != nil {
		debugf("close sample subscription: %v", err)
	}
	s.sub = nil
}
