// Package scanner implements the spectrum acquisition engine: it owns the
// device configuration state machine, drives the sample-to-spectrum pipeline
// and maintains the waterfall history. The engine is headless; display and
// control collaborators talk to it through method calls and the row channel.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/spectrum-scanner/internal/dsp"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

const (
	DefaultWaterfallDepth = 512
	DefaultPeakDecay      = 0.5 // dB per ingested row
	DefaultReadTimeout    = time.Second
	DefaultRowBuffer      = 16

	boundsSmoothing = 0.3
)

// RowSink receives every processed spectrum row, in order. Rows are immutable
// once published; sinks must not modify Bins. A slow sink causes rows to be
// dropped for all sinks, never stalls acquisition.
type RowSink interface {
	HandleRow(ctx context.Context, row spectrum.Row) error
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithWaterfallDepth sets the waterfall history depth in rows.
func WithWaterfallDepth(rows int) func(*Engine) {
	return func(e *Engine) {
		e.depth = rows
	}
}

// WithPeakDecay sets the peak-hold decay in dB per ingested row.
func WithPeakDecay(db float64) func(*Engine) {
	return func(e *Engine) {
		e.peakDecay = db
	}
}

// WithReadTimeout bounds a single block read. A timed-out read skips the
// acquisition cycle instead of stalling the pipeline.
func WithReadTimeout(d time.Duration) func(*Engine) {
	return func(e *Engine) {
		e.readTimeout = d
	}
}

// WithFloor sets the dB floor reported for zero-power bins.
func WithFloor(db float64) func(*Engine) {
	return func(e *Engine) {
		e.floorDB = db
	}
}

// WithSink registers a row sink. May be given multiple times.
func WithSink(sink RowSink) func(*Engine) {
	return func(e *Engine) {
		e.sinks = append(e.sinks, sink)
	}
}

// WithRowBuffer sets the capacity of the Rows notification channel.
func WithRowBuffer(n int) func(*Engine) {
	return func(e *Engine) {
		e.rowBuffer = n
	}
}

// Engine drives one device: it owns the acquisition loop, the configuration
// state and the waterfall. All exported methods are safe to call concurrently
// with a running loop.
type Engine struct {
	dev    sdr.Device
	logger *slog.Logger

	mu     sync.Mutex
	cfg    Config
	sweep  *sweep
	bounds *spectrum.SmoothBounds

	waterfall *spectrum.Waterfall

	rowCh       chan spectrum.Row
	sinks       []RowSink
	sinkCh      chan spectrum.Row
	dropped     atomic.Uint64
	droppedSink atomic.Uint64

	depth       int
	peakDecay   float64
	readTimeout time.Duration
	floorDB     float64
	rowBuffer   int

	running atomic.Bool
}

// New creates an engine for the given device with the given initial
// configuration. The initial center frequency is clamped to the device's
// tuning range.
func New(dev sdr.Device, cfg Config, options ...func(*Engine)) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := Engine{
		dev:         dev,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		depth:       DefaultWaterfallDepth,
		peakDecay:   DefaultPeakDecay,
		readTimeout: DefaultReadTimeout,
		floorDB:     dsp.DefaultFloorDB,
		rowBuffer:   DefaultRowBuffer,
	}
	for _, option := range options {
		option(&e)
	}

	if e.rowBuffer < 0 {
		return nil, fmt.Errorf("invalid row buffer capacity: %d", e.rowBuffer)
	}

	applied, err := clampCenter(cfg.CenterFreq, cfg, dev.Tuner())
	if err != nil {
		return nil, err
	}
	cfg.CenterFreq = applied

	if !cfg.AutoGain && !dev.Tuner().SupportsGain(cfg.GainDB) {
		return nil, fmt.Errorf("%w: %.1f dB", sdr.ErrInvalidGain, cfg.GainDB)
	}

	e.cfg = cfg
	e.bounds = spectrum.NewSmoothBounds(boundsSmoothing)
	e.rowCh = make(chan spectrum.Row, e.rowBuffer)

	if e.waterfall, err = spectrum.NewWaterfall(e.depth, spectrum.WithPeakDecay(e.peakDecay)); err != nil {
		return nil, err
	}

	return &e, nil
}

// Run drives the acquisition loop until ctx is cancelled or the device
// fails. Recoverable conditions (read timeouts, short blocks) skip the cycle;
// any other device error terminates the loop and is returned so the caller
// can surface it and attempt reconnection.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine is already running")
	}
	defer e.running.Store(false)

	// Sinks run on their own goroutine so a slow consumer (a recording store
	// fsyncing every row) cannot stall acquisition. On shutdown the worker
	// drains whatever is still queued before Run returns.
	if len(e.sinks) > 0 {
		e.sinkCh = make(chan spectrum.Row, e.rowBuffer)
		drained := make(chan struct{})
		go e.drainSinks(ctx, drained)
		defer func() {
			close(e.sinkCh)
			<-drained
		}()
	}

	var (
		tr      *dsp.Transform
		applied *Config // device state pushed so far, nil before first cycle
		err     error
	)

	e.logger.Info("starting acquisition",
		slog.Int64("centerFreq", e.CurrentConfig().CenterFreq),
		slog.Int64("sampleRate", e.CurrentConfig().SampleRate),
		slog.Int("fftSize", e.CurrentConfig().FFTSize))

	for {
		if ctx.Err() != nil {
			return nil
		}

		// The cycle runs entirely on this snapshot; setter calls landing
		// mid-cycle take effect from the next block request.
		snap := e.CurrentConfig()

		if tr == nil || tr.Size() != snap.FFTSize {
			opts := []func(*dsp.Transform){dsp.WithFloor(e.floorDB), dsp.WithAveraging(snap.Averaging)}
			if tr, err = dsp.New(snap.FFTSize, opts...); err != nil {
				return fmt.Errorf("creating transform: %w", err)
			}
		} else if applied != nil && snap.Averaging != applied.Averaging {
			if err = tr.SetAveraging(snap.Averaging); err != nil {
				return err
			}
		}

		// Width or span changed: every held row is invalid. Clear before any
		// row of the new shape can be ingested.
		if applied == nil || applied.FFTSize != snap.FFTSize || applied.SampleRate != snap.SampleRate {
			e.resetHistory()
			tr.Reset()
		} else if applied.TunedFreq() != snap.TunedFreq() {
			tr.Reset() // retuned: do not blend spectra across frequencies
		}

		if err = e.applyDeviceConfig(applied, snap); err != nil {
			return err
		}
		applied = &snap

		readCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
		block, err := e.dev.ReadBlock(readCtx, snap.FFTSize)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil // shutting down
			}
			if errors.Is(err, sdr.ErrTimeout) {
				e.logger.Debug("block read timed out, skipping cycle")
				// The dwell clock keeps running while reads fail, or a sweep
				// could never leave a step on a dead-quiet transport.
				e.advanceSweep(time.Now())
				continue
			}
			return fmt.Errorf("reading sample block: %w", err)
		}

		row, err := tr.Process(block)
		if err != nil {
			if errors.Is(err, sdr.ErrConfigMismatch) {
				e.logger.Warn("dropping sample block", slog.String("error", err.Error()))
				continue
			}
			return err
		}

		// Rows carry the nominal center; the device was tuned offset higher.
		row.CenterFreq = snap.CenterFreq

		e.waterfall.Ingest(row)
		e.observeBounds(row.Bins)
		e.publish(row)
		e.advanceSweep(time.Now())
	}
}

// applyDeviceConfig pushes the parts of snap that differ from the previously
// applied state to the device. Any failure here is fatal: the device is not
// honoring its control path.
func (e *Engine) applyDeviceConfig(applied *Config, snap Config) error {
	if applied == nil || applied.SampleRate != snap.SampleRate {
		if err := e.dev.SetSampleRate(snap.SampleRate); err != nil {
			return fmt.Errorf("configuring sample rate: %w", err)
		}
	}
	if applied == nil || applied.TunedFreq() != snap.TunedFreq() {
		if err := e.dev.SetCenterFrequency(snap.TunedFreq()); err != nil {
			return fmt.Errorf("configuring center frequency: %w", err)
		}
	}

	gainChanged := applied == nil ||
		applied.AutoGain != snap.AutoGain ||
		(!snap.AutoGain && applied.GainDB != snap.GainDB)
	if gainChanged {
		var err error
		if snap.AutoGain {
			err = e.dev.SetAutoGain()
		} else {
			err = e.dev.SetGain(snap.GainDB)
		}
		if err != nil {
			return fmt.Errorf("configuring gain: %w", err)
		}
	}

	return nil
}

// publish fans the row out to the notification channel and the sink worker
// without ever blocking the loop: when a channel is full the oldest pending
// row is dropped in favor of the fresh one.
func (e *Engine) publish(row spectrum.Row) {
	e.dropped.Add(offer(e.rowCh, row))
	if e.sinkCh != nil {
		e.droppedSink.Add(offer(e.sinkCh, row))
	}
}

// offer is a non-blocking send that evicts the oldest pending row when ch is
// full. It returns the number of rows dropped.
func offer(ch chan spectrum.Row, row spectrum.Row) uint64 {
	select {
	case ch <- row:
		return 0
	default:
	}

	var dropped uint64
	select {
	case <-ch:
		dropped++
	default:
	}
	select {
	case ch <- row:
	default:
		dropped++
	}
	return dropped
}

// drainSinks delivers queued rows to every registered sink, in order, off the
// acquisition goroutine.
func (e *Engine) drainSinks(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for row := range e.sinkCh {
		for _, sink := range e.sinks {
			if err := sink.HandleRow(ctx, row); err != nil {
				e.logger.Warn("row sink failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Rows returns the push notification channel. Each processed row is offered
// to the channel; rows are dropped, oldest first, when the consumer lags.
func (e *Engine) Rows() <-chan spectrum.Row {
	return e.rowCh
}

// DroppedRows reports how many rows were dropped from the notification
// channel because the consumer was not keeping up.
func (e *Engine) DroppedRows() uint64 {
	return e.dropped.Load()
}

// DroppedSinkRows reports how many rows were dropped before sink delivery
// because the sink worker was not keeping up.
func (e *Engine) DroppedSinkRows() uint64 {
	return e.droppedSink.Load()
}

// CurrentConfig returns a copy of the current device configuration.
func (e *Engine) CurrentConfig() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// WaterfallSnapshot returns a point-in-time copy of the waterfall history,
// oldest row first.
func (e *Engine) WaterfallSnapshot() []spectrum.Row {
	return e.waterfall.Snapshot()
}

// PeakRow returns the decayed per-bin maxima, or nil when no rows have been
// ingested since the last clear.
func (e *Engine) PeakRow() []float64 {
	return e.waterfall.PeakRow()
}

// ResetPeaks drops the held per-bin maxima.
func (e *Engine) ResetPeaks() {
	e.waterfall.ResetPeaks()
}

// Bounds returns the smoothed auto-scaling intensity range for the current
// history.
func (e *Engine) Bounds() spectrum.PowerBounds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds.Current()
}

// ClearWaterfall wipes the history and the intensity bounds ("reset view").
func (e *Engine) ClearWaterfall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waterfall.Clear()
	e.bounds.Clear()
}

// SetCenterFrequency retunes to hz, clamped so the captured span fits the
// device's tuning range, and returns the applied value. A manual retune
// cancels an active frequency sweep before it takes effect. The new tuning
// is used from the next acquisition cycle; a cycle in progress completes on
// the prior configuration.
func (e *Engine) SetCenterFrequency(hz int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelSweepLocked("manual tune")

	applied, err := clampCenter(hz, e.cfg, e.dev.Tuner())
	if err != nil {
		return 0, err
	}

	e.cfg.CenterFreq = applied
	return applied, nil
}

// SetGain selects a manual tuner gain. The value must match one of the
// device's discrete gain steps; otherwise the call fails with
// sdr.ErrInvalidGain and the prior configuration is retained.
func (e *Engine) SetGain(db float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dev.Tuner().SupportsGain(db) {
		return fmt.Errorf("%w: %.1f dB", sdr.ErrInvalidGain, db)
	}

	e.cfg.GainDB = db
	e.cfg.AutoGain = false
	return nil
}

// SetAutoGain enables automatic gain control.
func (e *Engine) SetAutoGain() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.AutoGain = true
	return nil
}

// SetSampleRate changes the sample rate, and with it the frequency span of
// every row. The waterfall is cleared before any row at the new span is
// ingested. The center frequency is re-clamped in case the wider span no
// longer fits the tuner range.
func (e *Engine) SetSampleRate(hz int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !ValidSampleRate(hz) {
		return fmt.Errorf("%w: sample rate %d Hz (valid: 0.226-0.3 MHz and 0.901-3.2 MHz)", sdr.ErrOutOfRange, hz)
	}

	next := e.cfg
	next.SampleRate = hz
	center, err := clampCenter(next.CenterFreq, next, e.dev.Tuner())
	if err != nil {
		return err
	}

	e.cfg.SampleRate = hz
	e.cfg.CenterFreq = center
	return nil
}

// SetFFTSize changes the FFT size, and with it the width of every row. The
// waterfall is cleared before any row of the new width is ingested.
func (e *Engine) SetFFTSize(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !dsp.ValidSize(n) {
		return fmt.Errorf("invalid FFT size %d: must be a power of two in [%d, %d]", n, dsp.MinSize, dsp.MaxSize)
	}

	e.cfg.FFTSize = n
	return nil
}

// SetAveraging changes the per-bin exponential averaging factor.
func (e *Engine) SetAveraging(alpha float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if alpha < 0 || alpha > 1 {
		return fmt.Errorf("invalid averaging factor %f: must be within [0, 1]", alpha)
	}

	e.cfg.Averaging = alpha
	return nil
}

// resetHistory clears the waterfall, peaks and intensity bounds. Called by
// the loop when the row shape changes.
func (e *Engine) resetHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waterfall.Clear()
	e.bounds.Clear()
}

func (e *Engine) observeBounds(bins []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bounds.Observe(bins)
}
