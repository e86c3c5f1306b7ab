// Package pll recovers a bitstream from flux transition intervals with a
// software phase-locked loop.
package pll

import (
	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
)

// BaseClock is the bitcell period of a 300 RPM, 250 Kbps disk.
const BaseClock = 2e-6

// Loop defaults.
const (
	DefaultClockGain     = 0.05
	DefaultPhaseGain     = 0.65
	DefaultMaxAdjust     = 0.15
	DefaultDensityFactor = 2.0
)

const (
	mfmMarkerMask uint64 = 0xFFFF_FFFF_FFFF_0000
	mfmMarkerBits uint64 = 0x4489_4489_4489_0000
)

// FluxSource provides flux intervals for the PLL.
// Different adapters can implement this interface to provide flux data
// in their own format.
type FluxSource interface {
	// NextFlux returns the next flux interval in nanoseconds.
	// Returns 0 if no more transitions are available.
	NextFlux() uint64
}

// FluxIterator provides flux intervals from absolute transition times.
type FluxIterator struct {
	transitions []uint64 // Absolute transition times in nanoseconds
	index       int
	lastTime    uint64
}

// NewFluxIterator creates a new FluxIterator from transition times.
func NewFluxIterator(transitions []uint64) *FluxIterator {
	return &FluxIterator{transitions: transitions}
}

// NextFlux returns the interval to the next transition in nanoseconds,
// or 0 when all transitions have been consumed.
func (fi *FluxIterator) NextFlux() uint64 {
	if fi.index >= len(fi.transitions) {
		return 0
	}
	nextTime := fi.transitions[fi.index]
	interval := nextTime - fi.lastTime
	fi.lastTime = nextTime
	fi.index++
	return interval
}

// IsDone returns true if all transitions have been consumed.
func (fi *FluxIterator) IsDone() bool {
	return fi.index >= len(fi.transitions)
}

// Deltas drains src and returns its intervals in seconds.
func Deltas(src FluxSource) []float64 {
	var out []float64
	for {
		ns := src.NextFlux()
		if ns == 0 {
			return out
		}
		out = append(out, float64(ns)*1e-9)
	}
}

// Preset selects a loop tuning.
type Preset int

const (
	Aggressive Preset = iota
	Conservative
)

// Pll is the clock recovery state for one track decode.
type Pll struct {
	defaultRate float64
	nominal     float64 // period the next decode starts from
	period      float64 // period at the end of the last decode

	MaxAdjust     float64
	DensityFactor float64
	ClockGain     float64
	PhaseGain     float64
}

// New returns a loop tuned for a 250 Kbps MFM disk.
func New() *Pll {
	return &Pll{
		defaultRate:   1 / BaseClock,
		nominal:       BaseClock,
		period:        BaseClock,
		MaxAdjust:     DefaultMaxAdjust,
		DensityFactor: DefaultDensityFactor,
		ClockGain:     DefaultClockGain,
		PhaseGain:     DefaultPhaseGain,
	}
}

// NewPreset returns a loop with preset gains.
func NewPreset(preset Preset) *Pll {
	p := New()
	switch preset {
	case Aggressive:
		p.ClockGain = 0.1
		p.MaxAdjust = 0.2
	case Conservative:
		p.ClockGain = 0.02
		p.MaxAdjust = 0.1
	}
	return p
}

// SetClock sets the default and current clock rate in Hz.
// A positive maxAdjust replaces the clamp fraction.
func (p *Pll) SetClock(rate, maxAdjust float64) {
	if rate <= 1 {
		log.Errorf("pll: ignoring clock rate %.2f", rate)
		return
	}
	p.defaultRate = rate
	p.nominal = 1 / rate
	p.period = p.nominal
	if maxAdjust > 0 {
		p.MaxAdjust = maxAdjust
	}
	log.Debugf("pll: clock rate %.2f, max adjust %.2f, period %s", rate, p.MaxAdjust, formatUs(p.nominal))
}

// Clock returns the current clock rate in Hz.
func (p *Pll) Clock() float64 {
	return 1 / p.nominal
}

// ResetClock restores the default clock rate.
func (p *Pll) ResetClock() {
	p.nominal = 1 / p.defaultRate
	p.period = p.nominal
	log.Debugf("pll: clock reset to %.2f, period %s", p.defaultRate, formatUs(p.nominal))
}

// AdjustClock multiplies the current clock rate by factor.
func (p *Pll) AdjustClock(factor float64) {
	old := 1 / p.nominal
	p.nominal = 1 / (old * factor)
	p.period = p.nominal
	log.Debugf("pll: clock adjusted by %.4f from %.4f to %.4f, period %s", factor, old, old*factor, formatUs(p.nominal))
}

// Period returns the bitcell period reached by the last decode.
func (p *Pll) Period() float64 {
	return p.period
}

// NominalPeriod returns the period each decode starts from.
func (p *Pll) NominalPeriod() float64 {
	return p.nominal
}

// DefaultPeriod returns the period of the default clock rate.
func (p *Pll) DefaultPeriod() float64 {
	return 1 / p.defaultRate
}

// DecodeResult is the output of one revolution decode.
type DecodeResult struct {
	Encoding    codec.Encoding
	Transitions []Transition
	Bits        *bitring.BitVec
	Errors      *bitring.BitVec
	Stats       FluxStats
	Entries     []DecodeStat
	Markers     []int
}

// loopParams describe how an encoding maps clock ticks to bits.
type loopParams struct {
	periodFactor float64
	minTicks     int
	maxTicks     int
	maxZeros     int // longer zero runs are errors
	onesError    bool
	marker       codec.Marker
}

var (
	mfmLoop = loopParams{
		periodFactor: 1,
		minTicks:     2,
		maxTicks:     4,
		maxZeros:     3,
		onesError:    true,
		marker:       codec.Marker{Bits: mfmMarkerBits, Mask: mfmMarkerMask, Len: 64},
	}
	fmLoop = loopParams{
		periodFactor: 2,
		minTicks:     1,
		maxTicks:     2,
		maxZeros:     1,
		marker:       codec.FmAnyMarker,
	}
)

// Decode runs the loop over flux intervals in seconds. GCR is decoded
// with MFM timing.
func (p *Pll) Decode(deltas []float64, enc codec.Encoding) DecodeResult {
	switch enc {
	case codec.EncodingFM:
		return p.decode(deltas, codec.EncodingFM, fmLoop)
	case codec.EncodingMFM:
	default:
		log.Errorf("pll: unsupported encoding %v, decoding as MFM", enc)
	}
	return p.decode(deltas, codec.EncodingMFM, mfmLoop)
}

func (p *Pll) decode(deltas []float64, enc codec.Encoding, lp loopParams) DecodeResult {
	working := p.nominal * lp.periodFactor
	minPeriod := working * (1 - p.MaxAdjust)
	maxPeriod := working * (1 + p.MaxAdjust)

	res := DecodeResult{
		Encoding: enc,
		Bits:     bitring.NewVec(0),
		Errors:   bitring.NewVec(0),
		Entries:  make([]DecodeStat, 0, len(deltas)),
		Stats:    FluxStats{Total: len(deltas)},
	}

	var reg uint64
	zeros := 0
	lastBit := false
	emit := func(bit bool) {
		reg <<= 1
		if bit {
			reg |= 1
			res.Errors.Push(lp.onesError && lastBit)
			zeros = 0
		} else {
			zeros++
			res.Errors.Push(zeros > lp.maxZeros)
		}
		res.Bits.Push(bit)
		lastBit = bit
		if res.Bits.Len() >= lp.marker.Len && reg&lp.marker.Mask == lp.marker.Bits {
			res.Markers = append(res.Markers, res.Bits.Len()-lp.marker.Len)
		}
	}

	// The clock starts half a cell in, so the first transition sits
	// mid-window and its tick count equals its cell count.
	time := working / 2
	var lastFlux float64
	totalTicks := 0
	for n, d := range deltas {
		if n == 0 || d < res.Stats.Shortest {
			res.Stats.Shortest = d
		}
		res.Stats.Longest = max(res.Stats.Longest, d)

		next := lastFlux + d

		// Tick the clock until it passes the transition.
		ticks := 0
		for time < next {
			time += working
			ticks++
		}
		totalTicks += ticks

		switch {
		case ticks < lp.minTicks:
			res.Stats.TooShort++
		case ticks > lp.maxTicks:
			log.Tracef("pll: slow flux #%d at %s, %d clocks", n, formatMs(time), ticks)
			res.Stats.TooLong++
			res.Stats.TooSlowBits += ticks - lp.maxTicks
		default:
			countFlux(&res, ticks-lp.minTicks, lp.maxTicks-lp.minTicks, d)
			for i := 1; i < ticks; i++ {
				emit(false)
			}
			emit(true)
		}

		// Phase error is measured from the center of the window the
		// transition fell into.
		predicted := time - working/2
		phaseErr := next - predicted
		res.Entries = append(res.Entries, DecodeStat{
			Time:      time,
			Len:       d,
			Predicted: predicted,
			Clock:     working,
			PhaseErr:  phaseErr,
		})

		time += p.PhaseGain * phaseErr
		working = min(max(working+p.ClockGain*phaseErr, minPeriod), maxPeriod)
		lastFlux = next
	}
	p.period = working / lp.periodFactor

	log.Debugf("pll: decoded %v flux, %d clocks, %d bits, %d markers, %s",
		enc, totalTicks, res.Bits.Len(), len(res.Markers), res.Stats)
	return res
}

// countFlux records a valid flux by its length class. FM has short and
// long classes; MFM adds medium.
func countFlux(res *DecodeResult, class, span int, d float64) {
	switch {
	case class == 0:
		res.Stats.Short++
		res.Stats.ShortTime += d
		res.Transitions = append(res.Transitions, Short)
	case class == span:
		res.Stats.Long++
		res.Transitions = append(res.Transitions, Long)
	default:
		res.Stats.Medium++
		res.Transitions = append(res.Transitions, Medium)
	}
}

// DensityFromPeriod guesses the density of the clock the loop settled on.
func (p *Pll) DensityFromPeriod() (geom.Density, bool) {
	return geom.DensityFromBaseClock(p.period)
}
