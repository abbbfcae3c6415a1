package rtltcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bemasher/rtltcp"

	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
)

const Device = "rtl-tcp"

const (
	// R820T/RTL2832U tuning range.
	minFreq = 24_000_000
	maxFreq = 1_766_000_000

	// Raw sample bytes are offset-binary around this DC level.
	dcOffset = 127.4

	defaultReadTimeout = time.Second
)

// tunerGains are the discrete R820T tuner gain steps in dB.
var tunerGains = []float64{
	0.0, 0.9, 1.4, 2.7, 3.7, 7.7, 8.7, 12.5, 14.4, 15.7,
	16.6, 19.7, 20.7, 22.9, 25.4, 28.0, 29.7, 32.8, 33.8, 36.4,
	37.2, 38.6, 40.2, 42.1, 43.4, 43.9, 44.5, 48.0, 49.6,
}

// device is an sdr.Device backed by a network connection to an rtl_tcp
// server. All tuner state changes are pushed over the control channel; IQ
// bytes are read from the same TCP stream.
type device struct {
	conn rtltcp.SDR

	centerFreq int64
	sampleRate int64
	skewed     bool // a partial read left the stream mid-sample
}

// Open dials the rtl_tcp server described by config, bounded by the
// configured dial timeout, and returns a device ready for tuning and block
// reads.
func Open(config *Config) (sdr.Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.dialTimeout()
	conn, err := net.DialTimeout("tcp", config.Address, timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to rtl_tcp server %s: %w", config.Address, err)
	}

	d := &device{}
	d.conn.TCPConn = conn.(*net.TCPConn)

	// The server leads with a dongle info header; read it under the same
	// timeout so a silent peer cannot hang startup.
	if err = d.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		_ = d.conn.Close()
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	if err = binary.Read(d.conn.TCPConn, binary.BigEndian, &d.conn.Info); err != nil {
		_ = d.conn.Close()
		return nil, fmt.Errorf("reading dongle info from %s: %w", config.Address, err)
	}
	if !d.conn.Info.Valid() {
		_ = d.conn.Close()
		return nil, fmt.Errorf("%s is not an rtl_tcp server", config.Address)
	}

	if config.FreqCorrection != nil {
		if err = d.conn.SetFreqCorrection(uint32(*config.FreqCorrection)); err != nil {
			_ = d.conn.Close()
			return nil, fmt.Errorf("setting frequency correction: %w", err)
		}
	}

	return d, nil
}

func (d *device) SetCenterFrequency(hz int64) error {
	if hz < minFreq || hz > maxFreq {
		return fmt.Errorf("%w: center frequency %d Hz", sdr.ErrOutOfRange, hz)
	}
	if err := d.conn.SetCenterFreq(uint32(hz)); err != nil {
		return fmt.Errorf("%w: setting center frequency: %w", sdr.ErrDeviceFailure, err)
	}

	d.centerFreq = hz
	return nil
}

func (d *device) SetSampleRate(hz int64) error {
	if err := d.conn.SetSampleRate(uint32(hz)); err != nil {
		return fmt.Errorf("%w: setting sample rate: %w", sdr.ErrDeviceFailure, err)
	}

	d.sampleRate = hz
	return nil
}

func (d *device) SetGain(db float64) error {
	if !d.Tuner().SupportsGain(db) {
		return fmt.Errorf("%w: %.1f dB", sdr.ErrInvalidGain, db)
	}

	// Manual tuner gain, in tenths of a dB on the wire.
	if err := d.conn.SetGainMode(true); err != nil {
		return fmt.Errorf("%w: setting gain mode: %w", sdr.ErrDeviceFailure, err)
	}
	if err := d.conn.SetGain(uint32(db * 10)); err != nil {
		return fmt.Errorf("%w: setting gain: %w", sdr.ErrDeviceFailure, err)
	}
	return nil
}

func (d *device) SetAutoGain() error {
	if err := d.conn.SetGainMode(false); err != nil {
		return fmt.Errorf("%w: setting gain mode: %w", sdr.ErrDeviceFailure, err)
	}
	if err := d.conn.SetAGCMode(true); err != nil {
		return fmt.Errorf("%w: setting AGC mode: %w", sdr.ErrDeviceFailure, err)
	}
	return nil
}

func (d *device) ReadBlock(ctx context.Context, n int) (*sdr.SampleBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, readErr(err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultReadTimeout)
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: setting read deadline: %w", sdr.ErrDeviceFailure, err)
	}

	if d.skewed {
		// A previous partial read stopped mid-sample; discard the dangling
		// Q byte so I/Q pairing is restored.
		var pad [1]byte
		if _, err := io.ReadFull(d.conn, pad[:]); err != nil {
			return nil, readErr(err)
		}
		d.skewed = false
	}

	raw := make([]byte, 2*n)
	if m, err := io.ReadFull(d.conn, raw); err != nil {
		d.skewed = m%2 == 1
		return nil, readErr(err)
	}

	block := sdr.SampleBlock{
		IQ:         make([]complex128, n),
		CenterFreq: d.centerFreq,
		SampleRate: d.sampleRate,
		Timestamp:  time.Now().UTC(),
	}
	for i := 0; i < n; i++ {
		re := (float64(raw[2*i]) - dcOffset) / 128
		im := (float64(raw[2*i+1]) - dcOffset) / 128
		block.IQ[i] = complex(re, im)
	}

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
	return d.conn.Close()
}

// readErr maps transport errors onto the sdr error kinds: expired deadlines
// are recoverable, anything else means the server is gone.
func readErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", sdr.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sdr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: reading sample block: %w", sdr.ErrDeviceFailure, err)
}
