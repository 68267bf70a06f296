// moku-replay feeds a captured instrument frame stream through the frame
// codec and prints what it reassembles. Build with -tags=pcap for capture
// support.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/moku/frames"
	"github.com/banshee-data/moku/internal/version"
)

func main() {
	var (
		path    string
		port    int
		buffer  int
		verbose bool
		showVer bool
	)

	flag.StringVar(&path, "pcap", "", "path to the capture file")
	flag.IntVar(&port, "port", frames.FramePort, "UDP port the frames were pushed to")
	flag.IntVar(&buffer, "buffer", 1024, "frame queue capacity; older frames drop beyond it")
	flag.BoolVar(&verbose, "v", false, "log dropped and malformed packets")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Printf("moku-replay %s (%s)\n", version.Version, version.GitSHA)
		return
	}
	if path == "" {
		log.Fatalf("a capture file must be provided with -pcap")
	}
	if verbose {
		frames.SetDebugLogger(os.Stderr)
	}

	queue := frames.NewQueue(buffer)
	delivered, err := frames.ReplayCapture(context.Background(), path, port, nil, queue)
	if err != nil {
		log.Fatalf("replay %s: %v", path, err)
	}
	if queue.Dropped() > 0 {
		fmt.Printf("warning: %d frames dropped; rerun with a larger -buffer\n", queue.Dropped())
	}

	ctx := context.Background()
	for {
		fr, err := queue.Get(ctx, 10*time.Millisecond)
		if err != nil {
			break
		}
		fmt.Printf("frame %5d  instrument %d  state %3d  ch1 %5d B  ch2 %5d B  flags 0x%02x\n",
			fr.FrameID, fr.InstrumentID, fr.TrigState, len(fr.Raw1), len(fr.Raw2), fr.Flags)
	}

	fmt.Printf("%d frames reassembled from %s\n", delivered, path)
}
