package pll

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
)

// Nominal MFM flux spacings at 250 Kbps.
const (
	ShortTransition  = 4.0e-6
	MediumTransition = 6.0e-6
	LongTransition   = 8.0e-6
	Tolerance        = 0.5e-6
)

// Transition classifies a flux interval.
type Transition int

const (
	Short Transition = iota
	Medium
	Long
	Other
)

func (t Transition) String() string {
	switch t {
	case Short:
		return "S"
	case Medium:
		return "M"
	case Long:
		return "L"
	}
	return "X"
}

// ClassifyTransition buckets a flux interval in seconds by nominal length.
func ClassifyTransition(d float64) Transition {
	switch {
	case math.Abs(d-ShortTransition) <= Tolerance:
		return Short
	case math.Abs(d-MediumTransition) <= Tolerance:
		return Medium
	case math.Abs(d-LongTransition) <= Tolerance:
		return Long
	}
	return Other
}

// ClassifyDeltas classifies every interval without running the loop.
// Zero intervals are classified but left out of the average.
func ClassifyDeltas(deltas []float64) []Transition {
	out := make([]Transition, len(deltas))
	var sum float64
	valid, other := 0, 0
	for i, d := range deltas {
		if d > 0 {
			sum += d
			valid++
		}
		out[i] = ClassifyTransition(d)
		if out[i] == Other {
			other++
		}
	}
	if valid > 0 {
		log.Debugf("pll: %s average transition, %d unclassified", formatUs(sum/float64(valid)), other)
	}
	return out
}

// FluxStats summarizes one decode.
type FluxStats struct {
	Total       int
	Short       int
	ShortTime   float64
	Medium      int
	Long        int
	TooShort    int
	TooLong     int
	TooSlowBits int
	Shortest    float64
	Longest     float64
}

func (s FluxStats) String() string {
	return fmt.Sprintf("Total: %d S: %d M: %d L: %d Shortest: %s Longest: %s Too Short: %d Too Long: %d",
		s.Total, s.Short, s.Medium, s.Long, formatUs(s.Shortest), formatUs(s.Longest), s.TooShort, s.TooLong)
}

// ShortAvg returns the mean length of short transitions in seconds.
func (s FluxStats) ShortAvg() float64 {
	if s.Short == 0 {
		return 0
	}
	return s.ShortTime / float64(s.Short)
}

// DetectEncoding guesses MFM when more than 5% of transitions are medium.
func (s FluxStats) DetectEncoding() codec.Encoding {
	if s.Total > 0 && float64(s.Medium)/float64(s.Total) > 0.05 {
		return codec.EncodingMFM
	}
	return codec.EncodingFM
}

// DetectDensity guesses the density from the short transition average.
// MFI captures are recorded at half resolution, so mfi doubles the average.
func (s FluxStats) DetectDensity(mfi bool) (geom.Density, bool) {
	avg := s.ShortAvg()
	log.Debugf("pll: short transition average %s", formatUs(avg))
	if mfi {
		avg *= 2
	}
	switch {
	case avg >= 1e-6 && avg <= 3e-6:
		return geom.DensityHigh, true
	case avg > 3e-6 && avg <= 5e-6:
		return geom.DensityDouble, true
	}
	return geom.DensityDouble, false
}

// DecodeStat records the loop state at one flux transition.
type DecodeStat struct {
	Time      float64
	Len       float64
	Predicted float64
	Clock     float64
	PhaseErr  float64
}

func formatUs(v float64) string {
	return fmt.Sprintf("%.4fµs", v*1e6)
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.4fms", v*1e3)
}
