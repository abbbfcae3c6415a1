package sdr

import "testing"

func TestTunerInfo_SupportsGain(t *testing.T) {
	tuner := TunerInfo{Gains: []float64{0.0, 0.9, 33.8, 49.6}}

	tests := []struct {
		db   float64
		want bool
	}{
		{0.0, true},
		{0.9, true},
		{33.8, true},
		{33.75, true}, // within the 0.1 dB tolerance
		{33.5, false},
		{49.6, true},
		{50.0, false},
		{-1.0, false},
	}

	for _, tt := range tests {
		if got := tuner.SupportsGain(tt.db); got != tt.want {
			t.Errorf("SupportsGain(%.2f) = %v, want %v", tt.db, got, tt.want)
		}
	}
}

func TestTunerInfo_SupportsGainEmpty(t *testing.T) {
	var tuner TunerInfo
	if tuner.SupportsGain(0) {
		t.Error("A tuner without gain steps supports no manual gain")
	}
}
