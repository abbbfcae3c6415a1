// Package sim provides a deterministic synthetic sample source for headless
// runs and tests: a configurable set of carrier tones over a Gaussian noise
// floor, generated with phase continuity across blocks.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
)

const Device = "sim"

const (
	minFreq = 24_000_000
	maxFreq = 1_766_000_000
)

var tunerGains = []float64{0.0, 9.7, 19.7, 29.7, 40.2, 49.6}

// Tone is a single simulated carrier.
type Tone struct {
	Frequency int64   `yaml:"frequency" json:"frequency"` // Hz, absolute
	PowerDB   float64 `yaml:"powerDB" json:"powerDB"`     // relative to full scale
}

// Config holds simulated device settings.
type Config struct {
	Tones        []Tone  `yaml:"tones" json:"tones"`
	NoiseFloorDB float64 `yaml:"noiseFloorDB" json:"noiseFloorDB"`
	Seed         int64   `yaml:"seed" json:"seed"`
}

// NewConfig returns a Config with a quiet noise floor and no tones.
func NewConfig() *Config {
	return &Config{NoiseFloorDB: -90}
}

func (c *Config) Validate() error {
	if c.NoiseFloorDB > 0 {
		return fmt.Errorf("sim.Config: noise floor must not be positive: %.1f given", c.NoiseFloorDB)
	}
	for i, tone := range c.Tones {
		if tone.Frequency <= 0 {
			return fmt.Errorf("sim.Config: tone %d: frequency must be positive", i)
		}
		if tone.PowerDB > 0 {
			return fmt.Errorf("sim.Config: tone %d: power must not exceed full scale", i)
		}
	}
	return nil
}

type device struct {
	tones  []Tone
	noise  float64 // linear noise amplitude
	rng    *rand.Rand
	closed bool

	centerFreq int64
	sampleRate int64
	sampleIdx  int64
}

// New creates a simulated device from config. Two devices created with the
// same config and tuned identically produce identical sample streams.
func New(config *Config) (sdr.Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &device{
		tones: config.Tones,
		noise: math.Pow(10, config.NoiseFloorDB/20),
		rng:   rand.New(rand.NewSource(config.Seed)),
	}, nil
}

func (d *device) SetCenterFrequency(hz int64) error {
	if hz < minFreq || hz > maxFreq {
		return fmt.Errorf("%w: center frequency %d Hz", sdr.ErrOutOfRange, hz)
	}
	d.centerFreq = hz
	return nil
}

func (d *device) SetSampleRate(hz int64) error {
	if hz <= 0 {
		return fmt.Errorf("%w: sample rate %d Hz", sdr.ErrOutOfRange, hz)
	}
	d.sampleRate = hz
	return nil
}

func (d *device) SetGain(db float64) error {
	if !d.Tuner().SupportsGain(db) {
		return fmt.Errorf("%w: %.1f dB", sdr.ErrInvalidGain, db)
	}
	return nil
}

func (d *device) SetAutoGain() error { return nil }

func (d *device) ReadBlock(ctx context.Context, n int) (*sdr.SampleBlock, error) {
	if d.closed {
		return nil, fmt.Errorf("%w: device closed", sdr.ErrDeviceFailure)
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", sdr.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", sdr.ErrDeviceFailure, err)
	}
	if d.sampleRate == 0 {
		return nil, fmt.Errorf("%w: sample rate not configured", sdr.ErrDeviceFailure)
	}

	block := sdr.SampleBlock{
		IQ:         make([]complex128, n),
		CenterFreq: d.centerFreq,
		SampleRate: d.sampleRate,
		Timestamp:  time.Now().UTC(),
	}

	rate := float64(d.sampleRate)
	for i := range block.IQ {
		t := float64(d.sampleIdx+int64(i)) / rate

		var re, im float64
		for _, tone := range d.tones {
			// Baseband offset of the tone relative to the tuned frequency.
			offset := float64(tone.Frequency - d.centerFreq)
			if math.Abs(offset) > rate/2 {
				continue // outside the captured span
			}
			amp := math.Pow(10, tone.PowerDB/20)
			phase := 2 * math.Pi * offset * t
			re += amp * math.Cos(phase)
			im += amp * math.Sin(phase)
		}

		re += d.rng.NormFloat64() * d.noise
		im += d.rng.NormFloat64() * d.noise
		block.IQ[i] = complex(re, im)
	}
	d.sampleIdx += int64(n)

	return &block, nil
}

func (d *device) Tuner() sdr.TunerInfo {
	return sdr.TunerInfo{
		MinFreq: minFreq,
		MaxFreq: maxFreq,
		Gains:   tunerGains,
	}
}

func (d *device) Close() error {
	d.closed = true
	return nil
}
