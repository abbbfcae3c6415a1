package spectrum

import "math"

const (
	defaultMinPower = -120.0 // dB
	defaultMaxPower = -20.0  // dB

	// Percentiles are meaningless on a handful of bins; below this count the
	// tracker reports the defaults.
	minimumSampleCount = 20
)

// PowerBounds is the intensity range a display collaborator should map the
// waterfall onto.
type PowerBounds struct {
	Min  float64 // 5th percentile power level in dB
	Max  float64 // 95th percentile power level in dB
	Mean float64 // Mean power level in dB
}

func defaultPowerBounds() PowerBounds {
	return PowerBounds{
		Min:  defaultMinPower,
		Max:  defaultMaxPower,
		Mean: (defaultMinPower + defaultMaxPower) / 2,
	}
}

// powerHistogram maintains a histogram of power values with 1 dB bins.
type powerHistogram struct {
	bins       map[int]uint32
	totalCount uint64
	minBin     int
	maxBin     int
}

func newPowerHistogram() *powerHistogram {
	return &powerHistogram{
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// scaleDown halves all bin counts so counters never overflow.
func (h *powerHistogram) scaleDown() {
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32

	for bin := range h.bins {
		h.bins[bin] /= 2
		if h.bins[bin] == 0 {
			delete(h.bins, bin)
			continue
		}

		if bin < h.minBin {
			h.minBin = bin
		}
		if bin > h.maxBin {
			h.maxBin = bin
		}
	}
	h.totalCount /= 2
}

func (h *powerHistogram) update(power float64) {
	bin := int(math.Floor(power)) // 1 dB bins

	if h.bins[bin] == math.MaxUint32 || h.totalCount == math.MaxUint64 {
		h.scaleDown()
	}

	h.bins[bin]++
	h.totalCount++

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

func (h *powerHistogram) clear() {
	h.bins = make(map[int]uint32)
	h.totalCount = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

// percentileBounds returns the 5th/95th percentile bounds, widened to a
// minimum 30 dB span with a 10% margin.
func (h *powerHistogram) percentileBounds() PowerBounds {
	if h.totalCount < minimumSampleCount {
		return defaultPowerBounds()
	}

	target := h.totalCount * 5 / 100

	var count uint64
	var min5th, max95th int

	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target {
			min5th = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target {
			max95th = bin
			break
		}
	}

	var sumProduct float64
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		sumProduct += float64(bin) * float64(h.bins[bin])
	}
	mean := sumProduct / float64(h.totalCount)

	if max95th-min5th < 30 {
		center := (max95th + min5th) / 2
		min5th = center - 15
		max95th = center + 15
	}

	margin := (max95th - min5th) / 10
	return PowerBounds{
		Min:  float64(min5th - margin),
		Max:  float64(max95th + margin),
		Mean: mean,
	}
}

// SmoothBounds tracks an auto-scaling intensity range for the waterfall:
// a percentile estimate over all observed bin powers, exponentially smoothed
// so the display range does not jump row to row. It is not safe for
// concurrent use; the engine serializes access.
type SmoothBounds struct {
	hist    *powerHistogram
	alpha   float64 // smoothing factor (0-1]
	current PowerBounds
}

// NewSmoothBounds creates a bounds tracker with smoothing factor alpha.
func NewSmoothBounds(alpha float64) *SmoothBounds {
	return &SmoothBounds{
		hist:    newPowerHistogram(),
		alpha:   alpha,
		current: defaultPowerBounds(),
	}
}

// Observe feeds one spectrum row's bins into the tracker and returns the
// updated smoothed bounds.
func (s *SmoothBounds) Observe(bins []float64) PowerBounds {
	if len(bins) == 0 {
		return s.current
	}

	for _, p := range bins {
		s.hist.update(p)
	}

	bounds := s.hist.percentileBounds()
	s.current.Min = s.current.Min*(1-s.alpha) + bounds.Min*s.alpha
	s.current.Max = s.current.Max*(1-s.alpha) + bounds.Max*s.alpha
	s.current.Mean = bounds.Mean

	return s.current
}

// Current returns the current smoothed power bounds.
func (s *SmoothBounds) Current() PowerBounds {
	return s.current
}

// Clear resets the histogram and bounds to defaults.
func (s *SmoothBounds) Clear() {
	s.hist.clear()
	s.current = defaultPowerBounds()
}
