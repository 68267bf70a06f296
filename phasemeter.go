package moku

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/moku/datalog"
	"github.com/banshee-data/moku/frames"
	"github.com/banshee-data/moku/regs"
)

// Phasemeter register map. Registers 66 and 67 each back several fields.
const (
	regPMInitF1L  = 64
	regPMInitF1H  = 65
	regPMCGain    = 66 // control gain, integrator shift, control shift
	regPMOutDec   = 67 // output decimation, output shift
	regPMInitF2L  = 68
	regPMInitF2H  = 69
	regPMSGFreq1L = 97
	regPMSGFreq1H = 98
	regPMSGFreq2L = 99
	regPMSGFreq2H = 100
	regPMSGAmp    = 105
	regPMBW1      = 124
	regPMBW2      = 125
	regPMAutoA1   = 126
	regPMAutoA2   = 127
)

const (
	pmADCRate    = 500e6 // input sample rate, Hz
	pmDACRate    = 1e9   // output sample rate, Hz
	pmUpdateRate = 1e6   // tracking loop update rate, Hz

	pmFreqMin = 2e6
	pmFreqMax = 200e6

	// Frequency words count in DAC periods per phase accumulator wrap.
	pmFreqScale = float64(1<<48) / pmDACRate

	// Log record scales: raw counts to Hz, cycles and volts.
	pmHertzScale = 2 * pmADCRate / float64(1<<48)
	pmCycleScale = 2 * float64(1<<16) / float64(1<<48) * pmADCRate / pmUpdateRate
	pmVoltsScale = 2 / (pmADCRate * pmADCRate / pmUpdateRate / pmUpdateRate)

	// One padded 256-bit log record.
	pmFrameRecordSize = 32

	pmInstrumentID = 3
	pmLogname      = "MokuPhasemeterData"
	pmBinaryRecord = "<p32,0xAAAAAAAA:u48:u48:s15:p1,0:s48:s32:s32"

	// Output calibration fallback, volts per code for a 2 V full-scale
	// DAC. SetDACGains replaces it with measured values.
	pmDefaultDACGain = 2.0 / float64(1<<16)
)

var (
	pmInitFreq1 = regs.Field[*Phasemeter]{
		Name:   "init_freq_ch1",
		Regs:   []int{regPMInitF1H, regPMInitF1L},
		Width:  48,
		Encode: func(_ *Phasemeter, f float64) float64 { return f * pmFreqScale },
		Decode: func(_ *Phasemeter, f float64) float64 { return f / pmFreqScale },
	}
	pmInitFreq2 = regs.Field[*Phasemeter]{
		Name:   "init_freq_ch2",
		Regs:   []int{regPMInitF2H, regPMInitF2L},
		Width:  48,
		Encode: func(_ *Phasemeter, f float64) float64 { return f * pmFreqScale },
		Decode: func(_ *Phasemeter, f float64) float64 { return f / pmFreqScale },
	}
	pmControlGain = regs.Field[*Phasemeter]{
		Name: "control_gain", Regs: []int{regPMCGain}, Width: 16, Signed: true,
	}
	pmIntegratorShift = regs.Field[*Phasemeter]{
		Name: "integrator_shift", Regs: []int{regPMCGain}, Offset: 16, Width: 4,
	}
	pmControlShift = regs.Field[*Phasemeter]{
		Name: "control_shift", Regs: []int{regPMCGain}, Offset: 20, Width: 4,
	}
	pmOutputDecimation = regs.Field[*Phasemeter]{
		Name: "output_decimation", Regs: []int{regPMOutDec}, Width: 17,
	}
	pmOutputShift = regs.Field[*Phasemeter]{
		Name: "output_shift", Regs: []int{regPMOutDec}, Offset: 17, Width: 5,
	}
	pmBandwidth1 = regs.Field[*Phasemeter]{
		Name: "bandwidth_ch1", Regs: []int{regPMBW1}, Width: 5, Signed: true,
	}
	pmBandwidth2 = regs.Field[*Phasemeter]{
		Name: "bandwidth_ch2", Regs: []int{regPMBW2}, Width: 5, Signed: true,
	}
	pmAutoAcquire1 = regs.Field[*Phasemeter]{
		Name: "autoacquire_ch1", Regs: []int{regPMAutoA1}, Width: 1,
	}
	pmAutoAcquire2 = regs.Field[*Phasemeter]{
		Name: "autoacquire_ch2", Regs: []int{regPMAutoA2}, Width: 1,
	}
	pmOutFreq1 = regs.Field[*Phasemeter]{
		Name:   "out1_frequency",
		Regs:   []int{regPMSGFreq1H, regPMSGFreq1L},
		Width:  48,
		Encode: func(_ *Phasemeter, f float64) float64 { return f * pmFreqScale },
		Decode: func(_ *Phasemeter, f float64) float64 { return f / pmFreqScale },
	}
	pmOutFreq2 = regs.Field[*Phasemeter]{
		Name:   "out2_frequency",
		Regs:   []int{regPMSGFreq2H, regPMSGFreq2L},
		Width:  48,
		Encode: func(_ *Phasemeter, f float64) float64 { return f * pmFreqScale },
		Decode: func(_ *Phasemeter, f float64) float64 { return f / pmFreqScale },
	}
	pmOutAmp1 = regs.Field[*Phasemeter]{
		Name:   "out1_amplitude",
		Regs:   []int{regPMSGAmp},
		Width:  16,
		Encode: func(p *Phasemeter, a float64) float64 { return a / p.dacGain[0] },
		Decode: func(p *Phasemeter, a float64) float64 { return a * p.dacGain[0] },
	}
	pmOutAmp2 = regs.Field[*Phasemeter]{
		Name:   "out2_amplitude",
		Regs:   []int{regPMSGAmp},
		Offset: 16,
		Width:  16,
		Encode: func(p *Phasemeter, a float64) float64 { return a / p.dacGain[1] },
		Decode: func(p *Phasemeter, a float64) float64 { return a * p.dacGain[1] },
	}
)

// Phasemeter tracks the frequency, phase and amplitude of the signal on
// each input channel and can drive reference sine waves on the outputs.
// Logged records carry set frequency, measured frequency, phase and the
// I/Q amplitudes per channel.
type Phasemeter struct {
	*Instrument

	dacGain [2]float64
}

// NewPhasemeter builds a phasemeter driver and writes its default
// configuration into the mirror. Commit pushes the defaults to the device.
func NewPhasemeter(cfg Config) (*Phasemeter, error) {
	p := &Phasemeter{
		Instrument: NewInstrument(cfg),
		dacGain:    [2]float64{pmDefaultDACGain, pmDefaultDACGain},
	}
	p.SetFrameFunc(func() *frames.Frame { return frames.New(p.finalizeFrame) })
	p.SetLogProfile(p.logProfile)
	p.SetBufferHook(p.attachTimebase)
	p.SetSyncHook(p.syncTimestep)
	if err := p.setDefaults(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Phasemeter) setDefaults() error {
	p.SetRollMode(true)
	if err := p.SetSampleRate(1e3); err != nil {
		return err
	}
	if err := p.SetInitFreq(1, 10e6); err != nil {
		return err
	}
	if err := p.SetInitFreq(2, 10e6); err != nil {
		return err
	}
	file := p.Registers()
	if err := pmControlGain.Set(file, p, 100); err != nil {
		return err
	}
	if err := pmControlShift.Set(file, p, 0); err != nil {
		return err
	}
	if err := pmIntegratorShift.Set(file, p, 0); err != nil {
		return err
	}
	return p.GenOff(0)
}

// SetSampleRate sets the output sample rate, rounded down to the nearest
// 1e6/2^N the hardware supports. Requested rates clamp into [1, 200] Hz.
func (p *Phasemeter) SetSampleRate(rate float64) error {
	r := math.Min(math.Max(rate, 1), 200)
	shift := math.Ceil(math.Log2(pmUpdateRate / r))
	if shift > 16 {
		shift = 16
	}
	dec := math.Exp2(shift)

	file := p.Registers()
	if err := pmOutputDecimation.Set(file, p, dec); err != nil {
		return err
	}
	if err := pmOutputShift.Set(file, p, shift); err != nil {
		return err
	}
	p.SetTimestep(dec / pmUpdateRate)
	return nil
}

// SampleRate reports the configured output sample rate in Hz.
func (p *Phasemeter) SampleRate() float64 {
	return pmUpdateRate / pmOutputDecimation.Get(p.Registers(), p)
}

// SetInitFreq seeds the tracking loop of a channel with an initial
// frequency between 2 MHz and 200 MHz.
func (p *Phasemeter) SetInitFreq(ch int, f float64) error {
	if f < pmFreqMin || f > pmFreqMax {
		return fmt.Errorf("moku: initial frequency %g Hz outside the lockable range [%g, %g]",
			f, pmFreqMin, pmFreqMax)
	}
	switch ch {
	case 1:
		return pmInitFreq1.Set(p.Registers(), p, f)
	case 2:
		return pmInitFreq2.Set(p.Registers(), p, f)
	}
	return fmt.Errorf("moku: no input channel %d", ch)
}

// InitFreq reads back the seed frequency of a channel's tracking loop.
// Meaningful until auto-acquisition replaces it.
func (p *Phasemeter) InitFreq(ch int) (float64, error) {
	switch ch {
	case 1:
		return pmInitFreq1.Get(p.Registers(), p), nil
	case 2:
		return pmInitFreq2.Get(p.Registers(), p), nil
	}
	return 0, fmt.Errorf("moku: no input channel %d", ch)
}

// SetBandwidth sets the tracking bandwidth of an input channel, rounded up
// to the nearest 10 kHz × 2^N with N in [-6, 0].
func (p *Phasemeter) SetBandwidth(ch int, bw float64) error {
	if bw <= 0 {
		return fmt.Errorf("moku: bandwidth must be positive, got %g", bw)
	}
	n := math.Min(math.Max(math.Ceil(math.Log2(bw/10e3)), -6), 0)
	switch ch {
	case 1:
		return pmBandwidth1.Set(p.Registers(), p, n)
	case 2:
		return pmBandwidth2.Set(p.Registers(), p, n)
	}
	return fmt.Errorf("moku: no input channel %d", ch)
}

// Bandwidth reports the tracking bandwidth of an input channel in Hz.
func (p *Phasemeter) Bandwidth(ch int) (float64, error) {
	switch ch {
	case 1:
		return 10e3 * math.Exp2(pmBandwidth1.Get(p.Registers(), p)), nil
	case 2:
		return 10e3 * math.Exp2(pmBandwidth2.Get(p.Registers(), p)), nil
	}
	return 0, fmt.Errorf("moku: no input channel %d", ch)
}

// AutoAcquire lets the hardware find a channel's initial frequency instead
// of the seeded value.
func (p *Phasemeter) AutoAcquire(ch int) error {
	switch ch {
	case 1:
		return pmAutoAcquire1.SetBool(p.Registers(), p, true)
	case 2:
		return pmAutoAcquire2.SetBool(p.Registers(), p, true)
	}
	return fmt.Errorf("moku: no input channel %d", ch)
}

// GenSine drives a sine wave on an output channel. Amplitude is in volts,
// frequency in Hz.
func (p *Phasemeter) GenSine(ch int, amplitude, frequency float64) error {
	file := p.Registers()
	switch ch {
	case 1:
		if err := pmOutFreq1.Set(file, p, frequency); err != nil {
			return err
		}
		return pmOutAmp1.Set(file, p, amplitude)
	case 2:
		if err := pmOutFreq2.Set(file, p, frequency); err != nil {
			return err
		}
		return pmOutAmp2.Set(file, p, amplitude)
	}
	return fmt.Errorf("moku: no output channel %d", ch)
}

// GenOff turns signal generator output off; channel 0 means both.
func (p *Phasemeter) GenOff(ch int) error {
	if ch < 0 || ch > 2 {
		return fmt.Errorf("moku: no output channel %d", ch)
	}
	file := p.Registers()
	if ch == 0 || ch == 1 {
		if err := pmOutAmp1.Set(file, p, 0); err != nil {
			return err
		}
	}
	if ch == 0 || ch == 2 {
		if err := pmOutAmp2.Set(file, p, 0); err != nil {
			return err
		}
	}
	return nil
}

// SetDACGains installs the per-channel output calibration in volts per
// code. Amplitudes already written keep their raw register value.
func (p *Phasemeter) SetDACGains(g1, g2 float64) {
	p.dacGain[0] = g1
	p.dacGain[1] = g2
}

func (p *Phasemeter) finalizeFrame(f *frames.Frame) error {
	if f.InstrumentID != 0 && f.InstrumentID != pmInstrumentID {
		return fmt.Errorf("moku: frame from instrument %d, want phasemeter (%d)",
			f.InstrumentID, pmInstrumentID)
	}
	if len(f.Raw1)%pmFrameRecordSize != 0 || len(f.Raw2)%pmFrameRecordSize != 0 {
		return fmt.Errorf("moku: phasemeter frame payload is not whole records")
	}
	return nil
}

func (p *Phasemeter) logProfile(ch1, ch2 bool) datalog.Profile {
	proc := fmt.Sprintf("*%.16e : *%.16e : : *%.16e : *C*%.16e : *C*%.16e ",
		pmHertzScale, pmHertzScale, pmCycleScale, pmVoltsScale, pmVoltsScale)
	var process []string
	if ch1 {
		process = append(process, proc)
	}
	if ch2 {
		process = append(process, proc)
	}
	return datalog.Profile{
		Logname: pmLogname,
		Binary:  pmBinaryRecord,
		Process: process,
		Format:  pmFormat(ch1, ch2),
		Header:  p.logHeader(ch1, ch2),
	}
}

func pmFormat(ch1, ch2 bool) string {
	var b strings.Builder
	b.WriteString("{t:.10e}")
	if ch1 {
		b.WriteString(", {ch1[0]:.16e}, {ch1[1]:.16e}, {ch1[3]:.16e}, {ch1[4]:.10e}, {ch1[5]:.10e}")
	}
	if ch2 {
		b.WriteString(", {ch2[0]:.16e}, {ch2[1]:.16e}, {ch2[3]:.16e}, {ch2[4]:.10e}, {ch2[5]:.10e}")
	}
	b.WriteString("\r\n")
	return b.String()
}

func (p *Phasemeter) logHeader(ch1, ch2 bool) string {
	both := ch1 && ch2
	var b strings.Builder
	b.WriteString("% Moku:Phasemeter \r\n")
	b.WriteString("%")
	if ch1 {
		bw, _ := p.Bandwidth(1)
		fmt.Fprintf(&b, " Ch 1 bandwidth = %.10e (Hz)", bw)
	}
	if ch2 {
		if both {
			b.WriteString(",")
		}
		bw, _ := p.Bandwidth(2)
		fmt.Fprintf(&b, " Ch 2 bandwidth = %.10e (Hz)", bw)
	}
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%% Acquisition rate: %.10e Hz\r\n", p.SampleRate())
	fmt.Fprintf(&b, "%% Acquired %s\r\n", p.clock.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("% Time,")
	if ch1 {
		b.WriteString(" Set frequency 1 (Hz), Frequency 1 (Hz), Phase 1 (cyc), I 1 (V), Q 1 (V)")
	}
	if ch2 {
		if both {
			b.WriteString(",")
		}
		b.WriteString(" Set frequency 2 (Hz), Frequency 2 (Hz), Phase 2 (cyc), I 2 (V), Q 2 (V)")
	}
	b.WriteString("\r\n")
	return b.String()
}

func (p *Phasemeter) syncTimestep() {
	dec := pmOutputDecimation.Get(p.Registers(), p)
	p.SetTimestep(dec / pmUpdateRate)
}

// attachTimebase fills in the x axis of a capture: one point per sample at
// the configured output timestep.
func (p *Phasemeter) attachTimebase(b *DataBuffer) error {
	n := len(b.Ch1)
	if len(b.Ch2) > n {
		n = len(b.Ch2)
	}
	dt := p.Timestep()
	b.XS = make([]float64, n)
	for i := range b.XS {
		b.XS[i] = float64(i) * dt
	}
	return nil
}
