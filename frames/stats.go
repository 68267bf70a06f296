package frames

import (
	"sync"
	"time"

	"github.com/banshee-data/moku/internal/monitoring"
)

// PacketStats tracks frame transport statistics with thread-safe operations.
type PacketStats struct {
	mu        sync.Mutex
	packets   int64
	bytes     int64
	short     int64
	rejected  int64
	completed int64
	lastReset time.Time
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket records one received transport message.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packets++
	ps.bytes += int64(bytes)
}

// AddShort records a packet dropped for being shorter than the header.
func (ps *PacketStats) AddShort() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.short++
}

// AddRejected records a completed frame the finalize hook abandoned.
func (ps *PacketStats) AddRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rejected++
}

// AddCompleted records a frame delivered to the queue.
func (ps *PacketStats) AddCompleted() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.completed++
}

// GetAndReset returns current counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, short, rejected, completed int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packets
	bytes = ps.bytes
	short = ps.short
	rejected = ps.rejected
	completed = ps.completed

	ps.packets = 0
	ps.bytes = 0
	ps.short = 0
	ps.rejected = 0
	ps.completed = 0
	ps.lastReset = now

	return
}

// LogStats reports and resets the counters when anything happened in the
// interval.
func (ps *PacketStats) LogStats() {
	packets, bytes, short, rejected, completed, duration := ps.GetAndReset()
	if packets == 0 && short == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	monitoring.Logf("Frame stats (/sec): %.1f packets, %.2f KB, %.1f frames; dropped %d short, %d rejected",
		float64(packets)/secs, float64(bytes)/secs/1024, float64(completed)/secs, short, rejected)
}
