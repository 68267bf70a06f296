package moku

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DataBuffer is one full capture of the instrument's channel buffers.
type DataBuffer struct {
	// Ch1 and Ch2 hold the per-channel samples. A channel the capture did
	// not select is nil.
	Ch1 []float64
	Ch2 []float64

	// XS holds per-sample x-axis values when the instrument's buffer hook
	// attaches them.
	XS []float64

	// TrigState is the configuration id the buffer was acquired under.
	TrigState uint8
}

// BufferSummary holds the per-channel summary statistics of a capture.
type BufferSummary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Stddev float64
	RMS    float64
}

// Summary computes summary statistics for one channel (1 or 2) of the
// capture. An unselected or empty channel is an error.
func (b *DataBuffer) Summary(ch int) (BufferSummary, error) {
	var xs []float64
	switch ch {
	case 1:
		xs = b.Ch1
	case 2:
		xs = b.Ch2
	default:
		return BufferSummary{}, fmt.Errorf("moku: buffer has no channel %d", ch)
	}
	if len(xs) == 0 {
		return BufferSummary{}, fmt.Errorf("moku: buffer channel %d holds no samples", ch)
	}

	var sq float64
	for _, v := range xs {
		sq += v * v
	}
	return BufferSummary{
		Count:  len(xs),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
		Mean:   stat.Mean(xs, nil),
		Stddev: stat.StdDev(xs, nil),
		RMS:    math.Sqrt(sq / float64(len(xs))),
	}, nil
}
