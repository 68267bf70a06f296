package datalog

import "testing"

func TestMaxStreamRate(t *testing.T) {
	tests := []struct {
		ft    Filetype
		nch   int
		useSD bool
		want  float64
	}{
		{Binary, 2, true, 150e3},
		{Binary, 2, false, 1e6},
		{Binary, 1, true, 250e3},
		{Binary, 1, false, 1e6},
		{CSV, 2, true, 1e3},
		{CSV, 2, false, 1e3},
		{CSV, 1, true, 3e3},
		{CSV, 1, false, 3e3},
		{Net, 2, true, 20e3},
		{Net, 1, false, 40e3},
		{Plot, 2, true, 10},
		{Plot, 1, false, 10},
	}
	for _, tt := range tests {
		got := maxStreamRate(tt.ft, tt.nch, tt.useSD)
		if got != tt.want {
			t.Errorf("maxStreamRate(%v, %d ch, sd=%v) = %g, want %g",
				tt.ft, tt.nch, tt.useSD, got, tt.want)
		}
	}
}

func TestEstimateLogSize(t *testing.T) {
	// One csv line for a single channel is 16 + 18.5 + 2 = 36.5 bytes.
	if got := estimateLogSize(CSV, 10000, 1); got != 365000 {
		t.Errorf("csv 1ch = %d bytes, want 365000", got)
	}
	// Two channels: 16 + 37 + 2 = 55 bytes per line.
	if got := estimateLogSize(CSV, 10000, 2); got != 550000 {
		t.Errorf("csv 2ch = %d bytes, want 550000", got)
	}
	// Binary packs four bytes per sample per channel.
	if got := estimateLogSize(Binary, 10000, 2); got != 80000 {
		t.Errorf("bin 2ch = %d bytes, want 80000", got)
	}
	// Net sessions write nothing on the device.
	if got := estimateLogSize(Net, 10000, 2); got != 0 {
		t.Errorf("net = %d bytes, want 0", got)
	}
	if got := estimateLogSize(Plot, 10000, 2); got != 0 {
		t.Errorf("plot = %d bytes, want 0", got)
	}
	if got := estimateLogSize(CSV, 0, 1); got != 0 {
		t.Errorf("no samples = %d bytes, want 0", got)
	}
}
