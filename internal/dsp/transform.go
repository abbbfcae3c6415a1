// Package dsp converts raw IQ sample blocks into power spectrum rows:
// Hann window, complex FFT, DC-centered bin ordering and dB conversion with
// a floor clamp, plus optional per-bin exponential averaging.
package dsp

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

const (
	// DefaultFloorDB is the dB value reported for zero-power bins.
	DefaultFloorDB = -120.0

	MinSize = 32
	MaxSize = 65536
)

// ValidSize reports whether n is a supported FFT size (a power of two within
// [MinSize, MaxSize]).
func ValidSize(n int) bool {
	return n >= MinSize && n <= MaxSize && n&(n-1) == 0
}

// WithFloor sets the dB floor reported for zero and near-zero power bins.
func WithFloor(db float64) func(*Transform) {
	return func(t *Transform) {
		t.floorDB = db
	}
}

// WithAveraging enables per-bin exponential averaging with factor alpha in
// (0, 1]: avg += alpha * (current − avg). Zero disables averaging.
func WithAveraging(alpha float64) func(*Transform) {
	return func(t *Transform) {
		t.alpha = alpha
	}
}

// Transform converts fixed-size sample blocks into spectrum rows. It is not
// safe for concurrent use; the acquisition loop owns it.
type Transform struct {
	size     int
	win      []float64
	winScale float64 // 1 / sum(window), amplitude normalization
	fft      *fourier.CmplxFFT

	floorDB  float64
	floorPow float64 // linear power equivalent of floorDB

	alpha float64
	avg   []float64

	windowed []complex128 // scratch, reused across blocks
}

// New creates a transform for blocks of n samples.
func New(n int, options ...func(*Transform)) (*Transform, error) {
	if !ValidSize(n) {
		return nil, fmt.Errorf("invalid FFT size %d: must be a power of two in [%d, %d]", n, MinSize, MaxSize)
	}

	t := Transform{
		size:     n,
		win:      window.Hann(n),
		fft:      fourier.NewCmplxFFT(n),
		floorDB:  DefaultFloorDB,
		windowed: make([]complex128, n),
	}
	for _, option := range options {
		option(&t)
	}

	if t.alpha < 0 || t.alpha > 1 {
		return nil, fmt.Errorf("invalid averaging factor %f: must be within [0, 1]", t.alpha)
	}

	var sum float64
	for _, w := range t.win {
		sum += w
	}
	t.winScale = 1 / sum
	t.floorPow = math.Pow(10, t.floorDB/10)

	return &t, nil
}

// Size returns the FFT size the transform was built for.
func (t *Transform) Size() int { return t.size }

// Floor returns the configured dB floor.
func (t *Transform) Floor() float64 { return t.floorDB }

// SetAveraging replaces the averaging factor and resets accumulated state.
func (t *Transform) SetAveraging(alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return fmt.Errorf("invalid averaging factor %f: must be within [0, 1]", alpha)
	}
	t.alpha = alpha
	t.avg = nil
	return nil
}

// Reset drops accumulated averaging state. Call whenever the tuning that
// produces incoming blocks changes, so stale spectra are not blended into
// rows at the new configuration.
func (t *Transform) Reset() {
	t.avg = nil
}

// Process converts one sample block into a spectrum row. Bin 0 is the lowest
// frequency of the span (DC centered ordering): bin i maps to
// block.CenterFreq − rate/2 + i·(rate/N).
//
// A block whose length differs from the configured FFT size is rejected with
// an error wrapping sdr.ErrConfigMismatch and must be discarded by the caller.
func (t *Transform) Process(block *sdr.SampleBlock) (spectrum.Row, error) {
	if len(block.IQ) != t.size {
		return spectrum.Row{}, fmt.Errorf("%w: got %d samples, want %d", sdr.ErrConfigMismatch, len(block.IQ), t.size)
	}

	for i, s := range block.IQ {
		t.windowed[i] = s * complex(t.win[i]*t.winScale, 0)
	}

	coeffs := t.fft.Coefficients(nil, t.windowed)

	row := spectrum.Row{
		Timestamp:  block.Timestamp,
		CenterFreq: block.CenterFreq,
		SampleRate: block.SampleRate,
		Bins:       make([]float64, t.size),
	}

	half := t.size / 2
	for i := range row.Bins {
		// fftshift: negative frequencies first, DC at size/2.
		c := coeffs[(i+half)%t.size]
		p := real(c)*real(c) + imag(c)*imag(c)
		row.Bins[i] = 10 * math.Log10(p+t.floorPow)
	}

	if t.alpha > 0 {
		t.average(row.Bins)
	}

	return row, nil
}

func (t *Transform) average(bins []float64) {
	if t.avg == nil {
		t.avg = make([]float64, len(bins))
		copy(t.avg, bins)
		return
	}

	for i, v := range bins {
		t.avg[i] += t.alpha * (v - t.avg[i])
		bins[i] = t.avg[i]
	}
}
