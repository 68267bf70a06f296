package datalog

import "math"

// rateTable holds the sustainable sample-rate ceiling in Hz per file type.
type rateTable struct {
	bin  float64
	csv  float64
	net  float64
	plot float64
}

// Rate ceilings by storage medium and channel count. The removable card
// sustains a lower binary write rate than internal memory; csv is limited
// by text rendering regardless of medium.
var (
	rates2chSD       = rateTable{bin: 150e3, csv: 1e3, net: 20e3, plot: 10}
	rates2chInternal = rateTable{bin: 1e6, csv: 1e3, net: 20e3, plot: 10}
	rates1chSD       = rateTable{bin: 250e3, csv: 3e3, net: 40e3, plot: 10}
	rates1chInternal = rateTable{bin: 1e6, csv: 3e3, net: 40e3, plot: 10}
)

// maxStreamRate returns the fastest sample rate a session may run at for
// the given file type, channel count and storage target.
func maxStreamRate(ft Filetype, nch int, useSD bool) float64 {
	var t rateTable
	switch {
	case nch == 2 && useSD:
		t = rates2chSD
	case nch == 2:
		t = rates2chInternal
	case useSD:
		t = rates1chSD
	default:
		t = rates1chInternal
	}
	switch ft {
	case Binary:
		return t.bin
	case CSV:
		return t.csv
	case Net:
		return t.net
	case Plot:
		return t.plot
	}
	return 0
}

// estimateLogSize returns the worst-case on-device size in bytes of a log
// of the given sample count. Net sessions write nothing and estimate zero.
func estimateLogSize(ft Filetype, samples float64, nch int) uint64 {
	if samples <= 0 {
		return 0
	}
	var size float64
	switch ft {
	case CSV:
		// One float rendered per channel plus separators, line overhead
		// measured from real logs.
		size = samples * (16 + (2+16.5)*float64(nch) + 2)
	case Binary:
		size = samples * 4 * float64(nch)
	default:
		return 0
	}
	return uint64(math.Ceil(size))
}
