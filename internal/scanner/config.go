package scanner

import (
	"fmt"

	"github.com/roman-kulish/spectrum-scanner/internal/dsp"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
)

const (
	DefaultCenterFreq = 145_000_000 // Hz
	DefaultSampleRate = 2_400_000   // Hz
	DefaultFFTSize    = 1024
)

// sampleRateRanges are the tuner's usable sample rate windows in Hz. Rates
// between the two windows are accepted by the hardware but drop samples.
var sampleRateRanges = [][2]int64{
	{225_001, 300_000},
	{900_001, 3_200_000},
}

// ValidSampleRate reports whether hz falls within a usable sample rate window.
func ValidSampleRate(hz int64) bool {
	for _, r := range sampleRateRanges {
		if hz >= r[0] && hz <= r[1] {
			return true
		}
	}
	return false
}

// Config is the engine's device configuration: the single mutable unit of
// acquisition behavior. The engine owns one instance; setters mutate it under
// lock and the acquisition loop works from per-cycle snapshots.
type Config struct {
	// CenterFreq is the nominal center frequency in Hz. Spectrum rows are
	// labeled with this value.
	CenterFreq int64

	// FreqOffset is added to CenterFreq when tuning the device, to look
	// through an up-converter. Zero when no converter is in line.
	FreqOffset int64

	// SampleRate in Hz; also the frequency span of one spectrum row.
	SampleRate int64

	// FFTSize is the number of samples per block and bins per row.
	FFTSize int

	// GainDB is the manual tuner gain; ignored when AutoGain is set.
	GainDB   float64
	AutoGain bool

	// Averaging is the per-bin exponential averaging factor in [0, 1];
	// zero disables averaging.
	Averaging float64
}

// DefaultConfig mirrors the traditional scanner defaults: 2m band, 2.4 MS/s,
// automatic gain, no averaging.
func DefaultConfig() Config {
	return Config{
		CenterFreq: DefaultCenterFreq,
		SampleRate: DefaultSampleRate,
		FFTSize:    DefaultFFTSize,
		AutoGain:   true,
	}
}

// TunedFreq returns the frequency the device must be tuned to: the nominal
// center shifted by the configured offset.
func (c Config) TunedFreq() int64 {
	return c.CenterFreq + c.FreqOffset
}

func (c Config) Validate() error {
	if c.CenterFreq <= 0 {
		return fmt.Errorf("scanner.Config: center frequency must be positive: %d given", c.CenterFreq)
	}
	if !ValidSampleRate(c.SampleRate) {
		return fmt.Errorf("scanner.Config: %w: sample rate %d Hz (valid: 0.226-0.3 MHz and 0.901-3.2 MHz)",
			sdr.ErrOutOfRange, c.SampleRate)
	}
	if !dsp.ValidSize(c.FFTSize) {
		return fmt.Errorf("scanner.Config: FFT size must be a power of two in [%d, %d]: %d given",
			dsp.MinSize, dsp.MaxSize, c.FFTSize)
	}
	if c.Averaging < 0 || c.Averaging > 1 {
		return fmt.Errorf("scanner.Config: averaging factor must be within [0, 1]: %f given", c.Averaging)
	}
	return nil
}

// clampCenter clamps the nominal center frequency hz so that the tuned
// window (center + offset ± rate/2) fits the tuner range. It returns the
// applied nominal center, or sdr.ErrOutOfRange when the span cannot fit the
// tuner range at all.
func clampCenter(hz int64, cfg Config, tuner sdr.TunerInfo) (int64, error) {
	half := cfg.SampleRate / 2
	lo := tuner.MinFreq + half
	hi := tuner.MaxFreq - half
	if lo > hi {
		return 0, fmt.Errorf("%w: span %d Hz exceeds tuner range", sdr.ErrOutOfRange, cfg.SampleRate)
	}

	tuned := hz + cfg.FreqOffset
	if tuned < lo {
		tuned = lo
	}
	if tuned > hi {
		tuned = hi
	}
	return tuned - cfg.FreqOffset, nil
}
