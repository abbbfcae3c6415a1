package sdr

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrOutOfRange is returned when a requested frequency, gain or sample
	// rate lies outside the device capability and cannot be satisfied.
	ErrOutOfRange = errors.New("requested value outside device range")

	// ErrInvalidGain is returned when a manual gain value does not match any
	// of the tuner's supported gain steps.
	ErrInvalidGain = errors.New("unsupported gain value")

	// ErrTimeout is returned when a sample block read exceeded its deadline.
	// The read may be retried; the device is still usable.
	ErrTimeout = errors.New("sample block read timed out")

	// ErrConfigMismatch is returned when a sample block's length does not
	// match the expected FFT size. The block must be dropped, never padded.
	ErrConfigMismatch = errors.New("sample block length does not match configuration")

	// ErrDeviceFailure is returned when the device is gone or unresponsive.
	// Unlike ErrTimeout this is fatal to the acquisition loop.
	ErrDeviceFailure = errors.New("device failure")
)

// SampleBlock is a fixed-length run of complex IQ samples together with the
// tuning in effect when it was captured. A block is immutable once produced:
// it is owned by the transform that consumes it and then discarded.
type SampleBlock struct {
	IQ         []complex128 // interleaved I/Q pairs as complex values
	CenterFreq int64        // Hz, frequency the device was tuned to
	SampleRate int64        // Hz
	Timestamp  time.Time    // capture time
}

// TunerInfo describes the capabilities of a device's tuner.
type TunerInfo struct {
	MinFreq int64     // Hz, lowest tunable frequency
	MaxFreq int64     // Hz, highest tunable frequency
	Gains   []float64 // supported manual gain steps in dB, ascending
}

// SupportsGain reports whether db matches one of the tuner's discrete gain
// steps within 0.1 dB.
func (t TunerInfo) SupportsGain(db float64) bool {
	for _, g := range t.Gains {
		d := g - db
		if d < 0 {
			d = -d
		}
		if d <= 0.1 {
			return true
		}
	}
	return false
}

// Device is an abstract sample source: a tuner that can be configured and
// read in fixed-size complex sample blocks. Implementations must be safe for
// use by a single reader goroutine with configuration applied between reads;
// they are not required to serialize concurrent calls themselves.
type Device interface {
	// SetCenterFrequency tunes the device to hz.
	SetCenterFrequency(hz int64) error

	// SetSampleRate sets the device sample rate in Hz.
	SetSampleRate(hz int64) error

	// SetGain enables manual gain at db. The value must be one of Tuner().Gains.
	SetGain(db float64) error

	// SetAutoGain enables automatic gain control.
	SetAutoGain() error

	// ReadBlock reads exactly n complex samples. The context deadline bounds
	// the read; an expired deadline yields an error wrapping ErrTimeout and
	// leaves the device usable. Any other failure wraps ErrDeviceFailure.
	ReadBlock(ctx context.Context, n int) (*SampleBlock, error)

	// Tuner reports the device's tuning range and supported gain steps.
	Tuner() TunerInfo

	Close() error
}
