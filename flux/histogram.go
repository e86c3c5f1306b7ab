package flux

import (
	"math"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	log "github.com/sirupsen/logrus"
)

const (
	// Longest delta recorded, in nanoseconds. Longer ones are clamped.
	histogramMax = 1_000_000

	// DefaultPeakThreshold is the minimum share of all samples a peak
	// must hold.
	DefaultPeakThreshold = 0.005
)

// Peak is a local maximum of the histogram. From and To are in
// nanoseconds, inclusive.
type Peak struct {
	Count    int64
	From, To int64
}

// Histogram is the distribution of flux deltas, used to estimate the
// bitcell period before running the PLL.
type Histogram struct {
	h      *hdrhistogram.Histogram
	maxima []Peak
	found  bool
}

// NewHistogram records the leading fraction of deltas (seconds).
func NewHistogram(deltas []float64, fraction float64) *Histogram {
	h := &Histogram{h: hdrhistogram.New(1, histogramMax, 1)}
	take := int(math.Round(float64(len(deltas)) * fraction))
	take = min(max(take, 0), len(deltas))
	log.Tracef("flux: histogram over %d of %d deltas", take, len(deltas))
	for _, d := range deltas[:take] {
		ns := int64(d * 1e9)
		if ns < 1 {
			continue
		}
		// Values are clamped below the maximum, so recording cannot fail.
		_ = h.h.RecordValue(min(ns, histogramMax))
	}
	return h
}

// TotalCount returns the number of recorded deltas.
func (h *Histogram) TotalCount() int64 {
	return h.h.TotalCount()
}

// FindLocalMaxima returns the buckets whose count is at least that of
// the previous bucket, above that of the next, and at least threshold
// of the total. Pass zero for DefaultPeakThreshold.
func (h *Histogram) FindLocalMaxima(threshold float64) []Peak {
	if threshold <= 0 {
		threshold = DefaultPeakThreshold
	}
	floor := int64(math.Round(float64(h.h.TotalCount()) * threshold))

	bars := h.h.Distribution()
	// A trailing empty bucket lets the last recorded one peak.
	bars = append(bars, hdrhistogram.Bar{})

	var peaks []Peak
	for i := 1; i+1 < len(bars); i++ {
		prev, cur, next := bars[i-1], bars[i], bars[i+1]
		if cur.Count >= prev.Count && cur.Count > next.Count && cur.Count >= floor {
			peaks = append(peaks, Peak{Count: cur.Count, From: cur.From, To: cur.To})
		}
	}
	h.maxima = peaks
	h.found = true
	for _, p := range peaks {
		log.Tracef("flux: histogram peak %d-%dns count %d", p.From, p.To, p.Count)
	}
	return peaks
}

// BaseTransitionTime returns the middle of the first peak in seconds: the
// shortest transition, two bitcells for MFM. It needs two peaks, and
// finds them with the default threshold if FindLocalMaxima was not called.
func (h *Histogram) BaseTransitionTime() (float64, bool) {
	if !h.found {
		h.FindLocalMaxima(0)
	}
	switch len(h.maxima) {
	case 0:
		log.Warn("flux: histogram has no peaks")
		return 0, false
	case 1:
		log.Warn("flux: histogram has a single peak")
		return 0, false
	}
	first := h.maxima[0]
	return float64((first.From+first.To)/2) * 1e-9, true
}
