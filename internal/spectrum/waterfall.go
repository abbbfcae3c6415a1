package spectrum

import (
	"fmt"
	"sync"
)

// Waterfall is a thread-safe, bounded FIFO ring of the most recent spectrum
// rows. Inserting a row at capacity evicts the oldest. All rows in the ring
// have the same width; ingesting a row of a different width clears the ring
// first so that mixed-width history is never observable.
//
// The optional peak-hold row tracks per-bin running maxima across ingested
// rows, decaying linearly by a fixed number of dB per ingested row.
type Waterfall struct {
	mu   sync.Mutex
	rows []Row // ring storage, len == capacity
	head int   // index of the oldest row
	size int

	peakDecay float64 // dB subtracted from each held peak per ingested row
	peaks     []float64
}

// WithPeakDecay enables the peak-hold row, decaying held maxima by db per
// ingested row.
func WithPeakDecay(db float64) func(*Waterfall) {
	return func(w *Waterfall) {
		w.peakDecay = db
	}
}

// NewWaterfall creates a waterfall ring holding up to capacity rows.
func NewWaterfall(capacity int, options ...func(*Waterfall)) (*Waterfall, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid waterfall capacity: %d", capacity)
	}

	w := Waterfall{rows: make([]Row, capacity)}
	for _, option := range options {
		option(&w)
	}
	if w.peakDecay < 0 {
		return nil, fmt.Errorf("invalid peak decay: %f", w.peakDecay)
	}

	return &w, nil
}

// Ingest appends a row, evicting the oldest once capacity is reached. The
// waterfall takes ownership of the row's bins; callers must not mutate them
// afterwards.
func (w *Waterfall) Ingest(row Row) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && len(w.rows[w.head].Bins) != len(row.Bins) {
		w.clearLocked()
	}

	if w.size == len(w.rows) {
		w.rows[w.head] = row
		w.head = (w.head + 1) % len(w.rows)
	} else {
		w.rows[(w.head+w.size)%len(w.rows)] = row
		w.size++
	}

	w.updatePeaksLocked(row.Bins)
}

// Snapshot returns a point-in-time copy of the ring, oldest first. The
// returned rows do not alias the ring's storage.
func (w *Waterfall) Snapshot() []Row {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == 0 {
		return nil
	}

	out := make([]Row, 0, w.size)
	for i := 0; i < w.size; i++ {
		row := w.rows[(w.head+i)%len(w.rows)]
		out = append(out, row.Clone())
	}
	return out
}

// Len returns the number of rows currently held.
func (w *Waterfall) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Cap returns the configured history depth.
func (w *Waterfall) Cap() int {
	return len(w.rows)
}

// Clear removes all rows and held peaks.
func (w *Waterfall) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearLocked()
}

// PeakRow returns a copy of the per-bin running maxima, or nil if no rows
// have been ingested since the last clear.
func (w *Waterfall) PeakRow() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.peaks == nil {
		return nil
	}
	out := make([]float64, len(w.peaks))
	copy(out, w.peaks)
	return out
}

// ResetPeaks drops the held maxima without touching the history rows.
func (w *Waterfall) ResetPeaks() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.peaks = nil
}

func (w *Waterfall) clearLocked() {
	for i := range w.rows {
		w.rows[i] = Row{}
	}
	w.head = 0
	w.size = 0
	w.peaks = nil
}

func (w *Waterfall) updatePeaksLocked(bins []float64) {
	if w.peaks != nil && len(w.peaks) != len(bins) {
		w.peaks = nil
	}
	if w.peaks == nil {
		w.peaks = make([]float64, len(bins))
		copy(w.peaks, bins)
		return
	}

	for i, v := range bins {
		held := w.peaks[i] - w.peakDecay
		if v > held {
			held = v
		}
		w.peaks[i] = held
	}
}
