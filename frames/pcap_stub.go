//go:build !pcap
// +build !pcap

package frames

import (
	"context"
	"fmt"
)

// ReplayCapture is a stub when pcap support is disabled.
// Build with -tags=pcap to enable capture replay.
func ReplayCapture(ctx context.Context, path string, port int, newFrame func() *Frame, queue *Queue) (int, error) {
	return 0, fmt.Errorf("frames: pcap support not enabled: rebuild with -tags=pcap")
}
