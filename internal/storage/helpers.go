package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// encodeBins packs bin powers as little-endian float64s.
func encodeBins(bins []float64) []byte {
	out := make([]byte, 8*len(bins))
	for i, v := range bins {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func decodeBins(data []byte, count int) ([]float64, error) {
	if len(data) != 8*count {
		return nil, fmt.Errorf("bins blob is %d bytes, want %d", len(data), 8*count)
	}

	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return out, nil
}

func toSpectrumData(sessionID int64, row *spectrum.Row) *spectrumData {
	return &spectrumData{
		SessionID:  sessionID,
		Timestamp:  row.Timestamp.UTC(),
		CenterFreq: row.CenterFreq,
		SampleRate: row.SampleRate,
		BinCount:   len(row.Bins),
		Bins:       encodeBins(row.Bins),
	}
}
