package spectrum

import (
	"time"
)

// ScanSession represents a single scanning session with a specific device.
// Each session captures metadata about when and how the scanning was performed.
type ScanSession struct {
	ID         int64     `json:"ID"`               // Unique identifier for the session
	StartTime  time.Time `json:"startTime"`        // When the scanning session began
	DeviceType string    `json:"deviceType"`       // Type of sample source (e.g., "rtl-tcp", "sim")
	DeviceID   string    `json:"deviceID"`         // Human-readable device identifier
	Config     *string   `json:"config,omitempty"` // Optional device configuration in JSON format
}

// Row is a single power spectrum: one dB value per frequency bin, ordered
// left to right by ascending frequency, DC centered. Bin i of a row covers
// the frequency CenterFreq − SampleRate/2 + i·(SampleRate/N) where N is the
// number of bins.
type Row struct {
	Timestamp  time.Time `json:"timestamp"`  // When the source block was captured
	CenterFreq int64     `json:"centerFreq"` // Hz, nominal center frequency of the row
	SampleRate int64     `json:"sampleRate"` // Hz, span covered by the row
	Bins       []float64 `json:"bins"`       // Power per bin in dB
}

// BinWidth returns the frequency width of one bin in Hz.
func (r *Row) BinWidth() float64 {
	if len(r.Bins) == 0 {
		return 0
	}
	return float64(r.SampleRate) / float64(len(r.Bins))
}

// BinFrequency returns the absolute frequency in Hz at the lower edge of bin i.
func (r *Row) BinFrequency(i int) float64 {
	return float64(r.CenterFreq) - float64(r.SampleRate)/2 + float64(i)*r.BinWidth()
}

// FrequencyStart returns the lowest frequency covered by the row in Hz.
func (r *Row) FrequencyStart() float64 {
	return float64(r.CenterFreq) - float64(r.SampleRate)/2
}

// FrequencyEnd returns the highest frequency covered by the row in Hz.
func (r *Row) FrequencyEnd() float64 {
	return float64(r.CenterFreq) + float64(r.SampleRate)/2
}

// BinFor returns the bin index covering the absolute frequency hz, or -1 if
// hz lies outside the row's span.
func (r *Row) BinFor(hz float64) int {
	w := r.BinWidth()
	if w == 0 || hz < r.FrequencyStart() {
		return -1
	}
	// Truncation toward zero would map frequencies just below the span onto
	// bin 0, so the low edge is rejected before converting.
	i := int((hz - r.FrequencyStart()) / w)
	if i >= len(r.Bins) {
		return -1
	}
	return i
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() Row {
	c := *r
	c.Bins = make([]float64, len(r.Bins))
	copy(c.Bins, r.Bins)
	return c
}
