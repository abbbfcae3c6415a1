package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

// blockFn produces one sample block given the device tuning at read time.
type blockFn func(freq, rate int64, n int) (*sdr.SampleBlock, error)

// fakeDevice is a scripted sdr.Device: ReadBlock serves generator functions
// from a channel and records every configuration call.
type fakeDevice struct {
	tuner  sdr.TunerInfo
	blocks chan blockFn

	mu        sync.Mutex
	freq      int64
	rate      int64
	freqs     []int64
	rates     []int64
	gains     []float64
	autoGains int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		tuner: sdr.TunerInfo{
			MinFreq: 24_000_000,
			MaxFreq: 1_766_000_000,
			Gains:   []float64{0.9, 33.8, 49.6},
		},
		blocks: make(chan blockFn, 16),
	}
}

func (d *fakeDevice) SetCenterFrequency(hz int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freq = hz
	d.freqs = append(d.freqs, hz)
	return nil
}

func (d *fakeDevice) SetSampleRate(hz int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = hz
	d.rates = append(d.rates, hz)
	return nil
}

func (d *fakeDevice) SetGain(db float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gains = append(d.gains, db)
	return nil
}

func (d *fakeDevice) SetAutoGain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoGains++
	return nil
}

func (d *fakeDevice) ReadBlock(ctx context.Context, n int) (*sdr.SampleBlock, error) {
	select {
	case fn := <-d.blocks:
		d.mu.Lock()
		freq, rate := d.freq, d.rate
		d.mu.Unlock()
		return fn(freq, rate, n)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", sdr.ErrTimeout, ctx.Err())
	}
}

func (d *fakeDevice) Tuner() sdr.TunerInfo { return d.tuner }
func (d *fakeDevice) Close() error         { return nil }

func (d *fakeDevice) history() (freqs, rates []int64, autoGains int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.freqs...), append([]int64(nil), d.rates...), d.autoGains
}

func okBlock(freq, rate int64, n int) (*sdr.SampleBlock, error) {
	return &sdr.SampleBlock{
		IQ:         make([]complex128, n),
		CenterFreq: freq,
		SampleRate: rate,
		Timestamp:  time.Now(),
	}, nil
}

func shortBlock(freq, rate int64, n int) (*sdr.SampleBlock, error) {
	return &sdr.SampleBlock{
		IQ:         make([]complex128, n-1),
		CenterFreq: freq,
		SampleRate: rate,
		Timestamp:  time.Now(),
	}, nil
}

func failBlock(_, _ int64, _ int) (*sdr.SampleBlock, error) {
	return nil, fmt.Errorf("%w: tuner went away", sdr.ErrDeviceFailure)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FFTSize = 64
	return cfg
}

func waitRow(t *testing.T, ch <-chan spectrum.Row) spectrum.Row {
	t.Helper()
	select {
	case row := <-ch:
		return row
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a spectrum row")
		return spectrum.Row{}
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the acquisition loop to stop")
		return nil
	}
}

func TestEngine_ProcessesBlocks(t *testing.T) {
	dev := newFakeDevice()
	for i := 0; i < 3; i++ {
		dev.blocks <- okBlock
	}

	e, err := New(dev, testConfig(), WithReadTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	for i := 0; i < 3; i++ {
		row := waitRow(t, e.Rows())

		if len(row.Bins) != 64 {
			t.Fatalf("Row %d: expected 64 bins, got %d", i, len(row.Bins))
		}
		if row.CenterFreq != DefaultCenterFreq {
			t.Errorf("Row %d: expected center %d, got %d", i, int64(DefaultCenterFreq), row.CenterFreq)
		}
		// Zero IQ input lands every bin exactly on the floor.
		for j, v := range row.Bins {
			if math.Abs(v+120) > 1e-6 {
				t.Fatalf("Row %d bin %d: expected floor -120 dB, got %f", i, j, v)
			}
		}
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	if got := len(e.WaterfallSnapshot()); got != 3 {
		t.Errorf("Expected 3 waterfall rows, got %d", got)
	}

	// Unchanged configuration is pushed to the device exactly once.
	freqs, rates, autoGains := dev.history()
	if len(freqs) != 1 || freqs[0] != DefaultCenterFreq {
		t.Errorf("Expected a single tune to %d, got %v", int64(DefaultCenterFreq), freqs)
	}
	if len(rates) != 1 || rates[0] != DefaultSampleRate {
		t.Errorf("Expected a single sample rate set to %d, got %v", int64(DefaultSampleRate), rates)
	}
	if autoGains != 1 {
		t.Errorf("Expected auto gain enabled once, got %d", autoGains)
	}
}

func TestEngine_TimeoutSkipsCycle(t *testing.T) {
	dev := newFakeDevice()
	dev.blocks <- okBlock

	e, err := New(dev, testConfig(), WithReadTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitRow(t, e.Rows())

	// Let several read timeouts elapse, then prove the loop is still alive.
	time.Sleep(50 * time.Millisecond)
	dev.blocks <- okBlock
	waitRow(t, e.Rows())

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Expected clean shutdown after timeouts, got %v", err)
	}
}

func TestEngine_ShortBlockDropped(t *testing.T) {
	dev := newFakeDevice()
	dev.blocks <- shortBlock
	dev.blocks <- okBlock

	e, err := New(dev, testConfig(), WithReadTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitRow(t, e.Rows())
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	// The short block was dropped, never padded into a row.
	if got := len(e.WaterfallSnapshot()); got != 1 {
		t.Errorf("Expected 1 waterfall row, got %d", got)
	}
}

func TestEngine_DeviceFailureStopsLoop(t *testing.T) {
	dev := newFakeDevice()
	dev.blocks <- failBlock

	e, err := New(dev, testConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	err = waitDone(t, done)
	if !errors.Is(err, sdr.ErrDeviceFailure) {
		t.Errorf("Expected device failure from Run, got %v", err)
	}
}

func TestEngine_RetuneAppliedNextCycle(t *testing.T) {
	dev := newFakeDevice()
	dev.blocks <- okBlock

	e, err := New(dev, testConfig(), WithReadTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitRow(t, e.Rows())

	applied, err := e.SetCenterFrequency(146_000_000)
	if err != nil {
		t.Fatalf("Failed to retune: %v", err)
	}
	if applied != 146_000_000 {
		t.Fatalf("Expected applied center 146000000, got %d", applied)
	}

	// The cycle in flight may still use the prior tuning; the one after it
	// must not.
	dev.blocks <- okBlock
	dev.blocks <- okBlock
	waitRow(t, e.Rows())
	row := waitRow(t, e.Rows())

	if row.CenterFreq != 146_000_000 {
		t.Errorf("Expected row at new center 146000000, got %d", row.CenterFreq)
	}

	cancel()
	waitDone(t, done)

	freqs, _, _ := dev.history()
	if freqs[len(freqs)-1] != 146_000_000 {
		t.Errorf("Expected device tuned to 146000000, got %v", freqs)
	}
}

func TestEngine_FFTSizeChangeClearsWaterfall(t *testing.T) {
	dev := newFakeDevice()
	dev.blocks <- okBlock

	e, err := New(dev, testConfig(), WithReadTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitRow(t, e.Rows())

	if err := e.SetFFTSize(128); err != nil {
		t.Fatalf("Failed to set FFT size: %v", err)
	}

	dev.blocks <- okBlock
	dev.blocks <- okBlock
	waitRow(t, e.Rows())
	row := waitRow(t, e.Rows())

	if len(row.Bins) != 128 {
		t.Fatalf("Expected 128 bins after resize, got %d", len(row.Bins))
	}

	// History from before the resize is gone; every held row has the new width.
	for i, held := range e.WaterfallSnapshot() {
		if len(held.Bins) != 128 {
			t.Errorf("Waterfall row %d: expected 128 bins, got %d", i, len(held.Bins))
		}
	}

	cancel()
	waitDone(t, done)
}

func TestEngine_SetGain(t *testing.T) {
	e, err := New(newFakeDevice(), testConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := e.SetGain(33.8); err != nil {
		t.Fatalf("Expected supported gain step to be accepted: %v", err)
	}
	cfg := e.CurrentConfig()
	if cfg.GainDB != 33.8 || cfg.AutoGain {
		t.Errorf("Expected manual gain 33.8, got %+v", cfg)
	}

	if err := e.SetGain(12.34); !errors.Is(err, sdr.ErrInvalidGain) {
		t.Errorf("Expected ErrInvalidGain for off-step gain, got %v", err)
	}
	if got := e.CurrentConfig().GainDB; got != 33.8 {
		t.Errorf("Rejected gain must not change configuration, got %f", got)
	}

	if err := e.SetAutoGain(); err != nil {
		t.Fatalf("Failed to enable auto gain: %v", err)
	}
	if !e.CurrentConfig().AutoGain {
		t.Error("Expected auto gain enabled")
	}
}

func TestEngine_SetSampleRate(t *testing.T) {
	e, err := New(newFakeDevice(), testConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := e.SetSampleRate(500_000); !errors.Is(err, sdr.ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for a rate in the dead window, got %v", err)
	}
	if got := e.CurrentConfig().SampleRate; got != DefaultSampleRate {
		t.Errorf("Rejected rate must not change configuration, got %d", got)
	}

	if err := e.SetSampleRate(1_000_000); err != nil {
		t.Fatalf("Expected valid rate to be accepted: %v", err)
	}
	if got := e.CurrentConfig().SampleRate; got != 1_000_000 {
		t.Errorf("Expected sample rate 1000000, got %d", got)
	}
}

func TestEngine_SetCenterFrequencyClamps(t *testing.T) {
	dev := newFakeDevice()
	e, err := New(dev, testConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	// Below the tuner range: clamped so the captured span still fits.
	wantLo := dev.tuner.MinFreq + DefaultSampleRate/2
	applied, err := e.SetCenterFrequency(1_000_000)
	if err != nil {
		t.Fatalf("Expected clamp, not error: %v", err)
	}
	if applied != wantLo {
		t.Errorf("Expected center clamped to %d, got %d", wantLo, applied)
	}

	wantHi := dev.tuner.MaxFreq - DefaultSampleRate/2
	applied, err = e.SetCenterFrequency(2_000_000_000)
	if err != nil {
		t.Fatalf("Expected clamp, not error: %v", err)
	}
	if applied != wantHi {
		t.Errorf("Expected center clamped to %d, got %d", wantHi, applied)
	}
}

func TestEngine_SetFFTSizeValidation(t *testing.T) {
	e, err := New(newFakeDevice(), testConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := e.SetFFTSize(63); err == nil {
		t.Error("Expected error for non power of two FFT size")
	}
	if err := e.SetAveraging(1.5); err == nil {
		t.Error("Expected error for averaging factor above 1")
	}
	if err := e.SetAveraging(0.5); err != nil {
		t.Errorf("Expected valid averaging factor to be accepted: %v", err)
	}
}

// slowSink simulates an expensive consumer, a recording store for instance.
type slowSink struct {
	delay time.Duration
	rows  atomic.Uint64
}

func (s *slowSink) HandleRow(ctx context.Context, _ spectrum.Row) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	s.rows.Add(1)
	return nil
}

// blockingSink never completes a delivery until shutdown.
type blockingSink struct{}

func (blockingSink) HandleRow(ctx context.Context, _ spectrum.Row) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_SlowSinkDoesNotStallAcquisition(t *testing.T) {
	dev := newFakeDevice()
	for i := 0; i < 3; i++ {
		dev.blocks <- okBlock
	}

	sink := &slowSink{delay: 200 * time.Millisecond}
	e, err := New(dev, testConfig(), WithReadTimeout(50*time.Millisecond), WithSink(sink))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	start := time.Now()
	go func() { done <- e.Run(ctx) }()

	for i := 0; i < 3; i++ {
		waitRow(t, e.Rows())
	}

	// All three rows must emerge without waiting on even a single sink
	// delivery.
	if elapsed := time.Since(start); elapsed >= sink.delay {
		t.Errorf("3 rows took %v, sink delivery must not gate acquisition", elapsed)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	if sink.rows.Load() == 0 {
		t.Error("Expected the sink worker to deliver rows")
	}
}

func TestEngine_SinkBackpressureDropsRows(t *testing.T) {
	dev := newFakeDevice()
	for i := 0; i < 5; i++ {
		dev.blocks <- okBlock
	}

	e, err := New(dev, testConfig(),
		WithReadTimeout(50*time.Millisecond),
		WithRowBuffer(1),
		WithSink(blockingSink{}))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(e.WaterfallSnapshot()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(e.WaterfallSnapshot()); got != 5 {
		t.Fatalf("Expected 5 rows ingested, got %d", got)
	}

	// The worker holds one row and one more fits the buffer; the rest must
	// have been dropped rather than stalling the loop.
	if e.DroppedSinkRows() == 0 {
		t.Error("Expected rows dropped under sink backpressure")
	}

	cancel()
	waitDone(t, done)
}

func TestEngine_SweepAdvancesWhileReadsTimeOut(t *testing.T) {
	dev := newFakeDevice() // never produces a block

	e, err := New(dev, testConfig(), WithReadTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	plan := ScanPlan{Steps: []ScanStep{
		{CenterFreq: 146_000_000, Dwell: 30 * time.Millisecond},
		{CenterFreq: 147_000_000, Dwell: 30 * time.Millisecond},
	}}
	if err := e.StartScan(plan); err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}

	// Without a single ingested row the plan must still run to completion.
	deadline := time.Now().Add(2 * time.Second)
	for e.ScanState() != ScanIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := e.ScanState(); got != ScanIdle {
		t.Fatalf("Expected the sweep to finish on timeouts alone, still %v", got)
	}
	if got := e.CurrentConfig().CenterFreq; got != 147_000_000 {
		t.Errorf("Expected last step tuned, got %d", got)
	}

	cancel()
	waitDone(t, done)
}

func TestEngine_NegativeRowBuffer(t *testing.T) {
	if _, err := New(newFakeDevice(), testConfig(), WithRowBuffer(-1)); err == nil {
		t.Error("Expected error for a negative row buffer capacity")
	}
}

func TestEngine_NewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRate = 500_000
	if _, err := New(newFakeDevice(), cfg); err == nil {
		t.Error("Expected error for invalid sample rate")
	}

	cfg = testConfig()
	cfg.AutoGain = false
	cfg.GainDB = 11.11
	if _, err := New(newFakeDevice(), cfg); !errors.Is(err, sdr.ErrInvalidGain) {
		t.Errorf("Expected ErrInvalidGain, got %v", err)
	}
}
