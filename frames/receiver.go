package frames

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/moku/internal/monitoring"
)

// ReceiverConfig configures a Receiver. Zero values get sensible defaults
// from NewReceiver.
type ReceiverConfig struct {
	// Factory opens the frame transport subscription. Required.
	Factory SourceFactory

	// NewFrame builds the in-flight frame the codec accumulates into,
	// carrying whatever finalize hook the instrument configured. Defaults to
	// a bare frame with no finalize hook.
	NewFrame func() *Frame

	// Queue receives completed frames. Defaults to a fresh queue of
	// capacity one.
	Queue *Queue

	// StateID reports the instrument's last-committed configuration id.
	// Frame respects it when wait is set; nil disables the staleness check.
	StateID func() uint8

	// Stats collects transport counters. Defaults to a fresh PacketStats.
	Stats *PacketStats

	// ReadTimeout bounds each receive so the worker observes cancellation.
	// Defaults to one second.
	ReadTimeout time.Duration

	// LogInterval spaces periodic statistics reports. Defaults to a minute.
	LogInterval time.Duration
}

// Receiver runs the frame reception worker: it feeds transport messages to
// the codec against a single in-flight frame and pushes each completed frame
// into the queue. One worker runs while the instrument is in the running
// state.
type Receiver struct {
	cfg ReceiverConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReceiver creates a receiver with defaults filled in.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.NewFrame == nil {
		cfg.NewFrame = func() *Frame { return New(nil) }
	}
	if cfg.Queue == nil {
		cfg.Queue = NewQueue(1)
	}
	if cfg.Stats == nil {
		cfg.Stats = NewPacketStats()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	r := &Receiver{cfg: cfg}
	// Queued frames always drain, but a waiter on an empty queue should not
	// sit out its timeout when no worker is feeding it.
	cfg.Queue.SetRunningCheck(r.Running)
	return r
}

// Queue returns the destination queue.
func (r *Receiver) Queue() *Queue {
	return r.cfg.Queue
}

// Stats returns the receiver's statistics collector.
func (r *Receiver) Stats() *PacketStats {
	return r.cfg.Stats
}

// Running reports whether the worker is active.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start opens the transport subscription and launches the worker. Starting a
// running receiver is a no-op.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.cfg.Factory == nil {
		return errors.New("frames: receiver has no source factory")
	}
	src, err := r.cfg.Factory.Open()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(2)
	go r.run(runCtx, src)
	go r.logStats(runCtx)
	return nil
}

// Stop cancels the worker and joins it before returning: no further frames
// are queued once Stop returns, and blocked Frame callers stop waiting.
// Stopping a stopped receiver is a no-op.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.cfg.Queue.Wake()
}

// Frame pops the next frame from the queue. When wait is true, frames whose
// trigger-state id differs from the committed configuration id are discarded
// and the wait continues; this keeps frames acquired under a stale
// configuration from reaching the application after a settings change.
// Exceeding the timeout, whether discarding or idle, returns a
// *TimeoutError.
func (r *Receiver) Frame(ctx context.Context, timeout time.Duration, wait bool) (*Frame, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, &TimeoutError{Op: "frame wait", After: timeout}
			}
		}
		fr, err := r.cfg.Queue.Get(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if !wait || r.cfg.StateID == nil || fr.TrigState == r.cfg.StateID() {
			return fr, nil
		}
		debugf("discarding stale frame: trigstate %d, committed %d", fr.TrigState, r.cfg.StateID())
	}
}

func (r *Receiver) run(ctx context.Context, src PacketSource) {
	defer r.wg.Done()
	defer src.Close()

	buf := make([]byte, maxPacketSize)
	fr := r.cfg.NewFrame()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := src.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
				monitoring.Logf("frame receiver: set read deadline: %v", err)
			}
			n, err := src.Receive(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				monitoring.Logf("frame receive error: %v", err)
				continue
			}

			r.cfg.Stats.AddPacket(n)
			if err := fr.AddPacket(buf[:n]); err != nil {
				if errors.Is(err, ErrShortPacket) {
					r.cfg.Stats.AddShort()
				} else {
					r.cfg.Stats.AddRejected()
				}
				debugf("packet dropped: %v", err)
				continue
			}
			if fr.Complete {
				r.cfg.Queue.Put(fr)
				r.cfg.Stats.AddCompleted()
				fr = r.cfg.NewFrame()
			}
		}
	}
}

func (r *Receiver) logStats(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cfg.Stats.LogStats()
		}
	}
}
