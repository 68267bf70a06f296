//go:build pcap
// +build pcap

package frames

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/moku/internal/monitoring"
)

// ReplayCapture feeds frame packets recorded in a pcap file through the codec
// and delivers completed frames to the queue, for offline analysis of
// captured instrument traffic. port selects the UDP port to filter on;
// zero means FramePort. Returns the number of frames delivered.
// Only available when building with the 'pcap' build tag.
func ReplayCapture(ctx context.Context, path string, port int, newFrame func() *Frame, queue *Queue) (int, error) {
	if newFrame == nil {
		newFrame = func() *Frame { return New(nil) }
	}
	if port == 0 {
		port = FramePort
	}

	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return 0, fmt.Errorf("frames: open capture %s: %w", path, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return 0, fmt.Errorf("frames: set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	fr := newFrame()
	delivered := 0

	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case packet := <-source.Packets():
			if packet == nil {
				monitoring.Logf("capture replay complete: %d frames from %s", delivered, path)
				return delivered, nil
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			if err := fr.AddPacket(udpLayer.(*layers.UDP).Payload); err != nil {
				debugf("replay packet dropped: %v", err)
				continue
			}
			if fr.Complete {
				queue.Put(fr)
				delivered++
				fr = newFrame()
			}
		}
	}
}
