package scanner

import (
	"fmt"
	"log/slog"
	"time"
)

// ScanState is the sweep controller state.
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanActive
	ScanPaused
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanActive:
		return "scanning"
	case ScanPaused:
		return "paused"
	default:
		return fmt.Sprintf("ScanState(%d)", int(s))
	}
}

// ScanStep is one stop of a frequency sweep.
type ScanStep struct {
	CenterFreq int64         // Hz, nominal center to tune to
	Dwell      time.Duration // time to stay on this step
}

// ScanPlan is an ordered sequence of sweep steps. With Loop set the sweep
// wraps to the first step at the end of the plan; otherwise it stops and the
// controller returns to idle.
type ScanPlan struct {
	Steps []ScanStep
	Loop  bool
}

func (p ScanPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("scan plan has no steps")
	}
	for i, step := range p.Steps {
		if step.CenterFreq <= 0 {
			return fmt.Errorf("scan plan step %d: center frequency must be positive", i)
		}
		if step.Dwell <= 0 {
			return fmt.Errorf("scan plan step %d: dwell must be positive", i)
		}
	}
	return nil
}

// sweep is the engine's active sweep state, guarded by the engine mutex.
// The acquisition loop drives the dwell clock: elapse is checked once per
// ingested row, so advancing never races a manual retune.
type sweep struct {
	plan     ScanPlan
	index    int
	paused   bool
	deadline time.Time // when the current dwell elapses
}

// StartScan begins sweeping the given plan, retuning to its first step
// immediately. A sweep already in progress is replaced.
func (e *Engine) StartScan(plan ScanPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	step := plan.Steps[0]
	center, err := clampCenter(step.CenterFreq, e.cfg, e.dev.Tuner())
	if err != nil {
		return err
	}

	e.cfg.CenterFreq = center
	e.sweep = &sweep{
		plan:     plan,
		deadline: time.Now().Add(step.Dwell),
	}

	e.logger.Info("scan started",
		slog.Int("steps", len(plan.Steps)),
		slog.Bool("loop", plan.Loop))
	return nil
}

// StopScan cancels an active or paused sweep. Stopping an idle controller is
// a no-op.
func (e *Engine) StopScan() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelSweepLocked("stop requested")
}

// PauseScan suspends dwell advancement, keeping the current step tuned.
func (e *Engine) PauseScan() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sweep == nil {
		return fmt.Errorf("no scan in progress")
	}

	e.sweep.paused = true
	return nil
}

// ResumeScan restarts dwell advancement from the current step, with a full
// dwell period.
func (e *Engine) ResumeScan() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sweep == nil {
		return fmt.Errorf("no scan in progress")
	}

	e.sweep.paused = false
	e.sweep.deadline = time.Now().Add(e.sweep.plan.Steps[e.sweep.index].Dwell)
	return nil
}

// ScanState returns the sweep controller state.
func (e *Engine) ScanState() ScanState {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.sweep == nil:
		return ScanIdle
	case e.sweep.paused:
		return ScanPaused
	default:
		return ScanActive
	}
}

// ScanPosition returns the current step index, and whether a sweep is
// in progress.
func (e *Engine) ScanPosition() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sweep == nil {
		return 0, false
	}
	return e.sweep.index, true
}

// advanceSweep moves the sweep to its next step once the current dwell has
// elapsed. Called by the acquisition loop after each ingested row.
func (e *Engine) advanceSweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sweep
	if s == nil || s.paused || now.Before(s.deadline) {
		return
	}

	s.index++
	if s.index >= len(s.plan.Steps) {
		if !s.plan.Loop {
			e.sweep = nil
			e.logger.Info("scan finished")
			return
		}
		s.index = 0
	}

	step := s.plan.Steps[s.index]
	center, err := clampCenter(step.CenterFreq, e.cfg, e.dev.Tuner())
	if err != nil {
		// The plan asks for a span the tuner cannot fit; nothing further in
		// the plan can be satisfied either, so stop the sweep.
		e.sweep = nil
		e.logger.Warn("scan aborted", slog.String("error", err.Error()))
		return
	}

	e.cfg.CenterFreq = center
	s.deadline = now.Add(step.Dwell)
}

// cancelSweepLocked drops any sweep state so no later dwell check can fire.
func (e *Engine) cancelSweepLocked(reason string) {
	if e.sweep == nil {
		return
	}

	e.sweep = nil
	e.logger.Info("scan cancelled", slog.String("reason", reason))
}
