package flux

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/pll"
	"github.com/sergev/floppyflux/system34"
)

// ErrNoRevolutions is returned when a track has nothing to decode.
var ErrNoRevolutions = errors.New("flux: track has no revolutions")

// Revolutions with this many bits or fewer are dropped by Normalize.
const minRevolutionBits = 100

// Fraction of a revolution used to refine the clock at the start of track.
const startHistogramFraction = 0.02

// Track is a flux capture of one physical track: several revolutions,
// each decoded into its own bitstream, and the best of them.
type Track struct {
	ch       geom.Ch
	encoding codec.Encoding
	dataRate geom.DataRate
	density  geom.Density
	rpm      geom.RPM

	revolutions []*Revolution
	decoded     []codec.TrackCodec
	scans       []*system34.Track
	best        int
	tuning      Tuning
}

// Tuning overrides the loop gains used by DecodeRevolutions. Zero fields
// keep the aggressive preset.
type Tuning struct {
	ClockGain float64
	PhaseGain float64
	MaxAdjust float64
}

func (tu Tuning) apply(p *pll.Pll) {
	if tu.ClockGain > 0 {
		p.ClockGain = tu.ClockGain
	}
	if tu.PhaseGain > 0 {
		p.PhaseGain = tu.PhaseGain
	}
	if tu.MaxAdjust > 0 {
		p.MaxAdjust = tu.MaxAdjust
	}
}

func NewTrack(ch geom.Ch) *Track {
	return &Track{
		ch:       ch,
		encoding: codec.EncodingMFM,
		dataRate: geom.Rate250K,
		density:  geom.DensityDouble,
		rpm:      geom.Rpm300,
	}
}

func (t *Track) Ch() geom.Ch { return t.ch }
func (t *Track) Encoding() codec.Encoding { return t.encoding }
func (t *Track) DataRate() geom.DataRate { return t.dataRate }
func (t *Track) Density() geom.Density { return t.density }
func (t *Track) SetDensity(d geom.Density) { t.density = d }
func (t *Track) RPM() geom.RPM { return t.rpm }
func (t *Track) IsEmpty() bool { return len(t.revolutions) == 0 }
func (t *Track) Revolutions() []*Revolution { return t.revolutions }
func (t *Track) SetTuning(tu Tuning) { t.tuning = tu }

// AddRevolution appends a captured revolution.
func (t *Track) AddRevolution(deltas []float64, indexTime float64) *Revolution {
	r := NewRevolution(t.ch, deltas, indexTime)
	t.revolutions = append(t.revolutions, r)
	return r
}

// SetRevolution selects the revolution that backs the track.
func (t *Track) SetRevolution(i int) {
	if i >= 0 && i < len(t.revolutions) {
		t.best = i
	}
}

// SynthesizeRevolutions appends the synthetic revolutions produced by
// FromAdjacentPair for every consecutive pair.
func (t *Track) SynthesizeRevolutions() {
	var extra []*Revolution
	for i := 0; i+1 < len(t.revolutions); i++ {
		extra = append(extra, FromAdjacentPair(t.revolutions[i], t.revolutions[i+1])...)
	}
	if len(extra) > 0 {
		log.Debugf("flux: %v: %d synthetic revolutions", t.ch, len(extra))
	}
	t.revolutions = append(t.revolutions, extra...)
}

// baseClock picks the starting bitcell period for a revolution.
func baseClock(i int, r *Revolution, clockHint float64, rpm geom.RPM) float64 {
	if clockHint > 0 {
		log.Debugf("flux: revolution %d: clock hint %.3fus", i, clockHint*1e6)
		return rpm.AdjustClock(clockHint)
	}
	switch ft := r.FtCount(); {
	case ft >= 20_000 && ft < 41_666:
		return rpm.AdjustClock(2e-6)
	case ft >= 50_000:
		return rpm.AdjustClock(1e-6)
	default:
		log.Warnf("flux: revolution %d: ambiguous flux count %d, using histogram", i, ft)
	}
	if base, ok := NewHistogram(r.FluxDeltas, 1).BaseTransitionTime(); ok {
		return base / 2
	}
	log.Warnf("flux: revolution %d: no clock hint and no histogram peaks, assuming 2us", i)
	return 2e-6
}

// revolutionRPM classifies the index time, falling back to hint.
func revolutionRPM(i int, r *Revolution, hint geom.RPM) geom.RPM {
	if rpm, ok := geom.RPMFromIndexTime(r.IndexTime); ok {
		return rpm
	}
	if hint == 0 {
		hint = geom.Rpm300
	}
	if r.IndexTime > 0 {
		log.Errorf("flux: revolution %d: RPM out of range (%.2f), assuming %v", i, 60/r.IndexTime, hint)
	}
	return hint
}

// DecodeRevolutions runs the PLL over every revolution. A zero clockHint
// (seconds) or rpmHint means no hint.
func (t *Track) DecodeRevolutions(clockHint float64, rpmHint geom.RPM) error {
	if t.IsEmpty() {
		return fmt.Errorf("%w: %v", ErrNoRevolutions, t.ch)
	}
	t.decoded = make([]codec.TrackCodec, len(t.revolutions))
	t.scans = make([]*system34.Track, len(t.revolutions))

	for i, r := range t.revolutions {
		rpm := revolutionRPM(i, r, rpmHint)
		clock := baseClock(i, r, clockHint, rpm)

		if base, ok := NewHistogram(r.FluxDeltas, startHistogramFraction).BaseTransitionTime(); ok {
			period := base / 2
			if diff := (period - clock) / clock; diff > -0.25 && diff < 0.25 {
				log.Debugf("flux: revolution %d: histogram refined clock to %.3fus", i, period*1e6)
				clock = period
			} else {
				log.Warnf("flux: revolution %d: start of track clock %.3fus too far from %.3fus",
					i, period*1e6, clock*1e6)
			}
		} else {
			log.Warnf("flux: revolution %d: cannot detect start of track transition time", i)
		}

		p := pll.NewPreset(pll.Aggressive)
		t.tuning.apply(p)
		p.SetClock(1/clock, 0)
		log.Debugf("flux: decoding revolution %d: %.2f bps, %v", i, 1/clock, rpm)
		stats := r.DecodeDirect(p)

		c := codec.New(r.Encoding, r.Bits.Clone(), 0, nil)
		t.decoded[i] = c
		t.scans[i] = system34.Scan(c)
		t.rpm = rpm
		log.Debugf("flux: revolution %d: %s", i, stats)
	}
	return nil
}

// Normalize drops revolutions that decoded to almost nothing.
func (t *Track) Normalize() {
	keep := 0
	for i, r := range t.revolutions {
		if r.Bits.Len() <= minRevolutionBits {
			continue
		}
		t.revolutions[keep] = r
		if i < len(t.decoded) {
			t.decoded[keep] = t.decoded[i]
			t.scans[keep] = t.scans[i]
		}
		keep++
	}
	t.revolutions = t.revolutions[:keep]
	if len(t.decoded) > keep {
		t.decoded = t.decoded[:keep]
		t.scans = t.scans[:keep]
	}
	t.best = 0
}

// AnalyzeRevolutions picks the decoded revolution with the best
// sector score.
func (t *Track) AnalyzeRevolutions() {
	if t.IsEmpty() {
		log.Warnf("flux: %v: no revolutions to analyze", t.ch)
		return
	}
	best, bestScore := 0, 0
	for i, s := range t.scans {
		if s == nil {
			continue
		}
		score := s.Score()
		log.Debugf("flux: %v: revolution %d, %d ft, %d bitcells, score %d",
			t.ch, i, t.revolutions[i].FtCount(), t.decoded[i].Len(), score)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	log.Debugf("flux: %v: best revolution %d/%d, score %d", t.ch, best, len(t.revolutions), bestScore)
	t.best = best

	r := t.revolutions[best]
	t.encoding = r.Encoding
	if rate, ok := geom.DataRateFromBitsPerSecond(r.DataRate); ok {
		t.dataRate = rate
		t.density = geom.DensityFromDataRate(rate)
	}
}

// Resolve decodes all revolutions and selects the best one.
func (t *Track) Resolve(clockHint float64, rpmHint geom.RPM) error {
	t.SynthesizeRevolutions()
	if err := t.DecodeRevolutions(clockHint, rpmHint); err != nil {
		return err
	}
	t.Normalize()
	if t.IsEmpty() {
		return fmt.Errorf("%w: %v: nothing decoded", ErrNoRevolutions, t.ch)
	}
	t.AnalyzeRevolutions()
	return nil
}

// BestRevolution returns the index of the selected revolution.
func (t *Track) BestRevolution() int {
	return t.best
}

// Resolved returns the bitstream of the selected revolution.
func (t *Track) Resolved() (codec.TrackCodec, bool) {
	if t.best < len(t.decoded) && t.decoded[t.best] != nil {
		return t.decoded[t.best], true
	}
	log.Warnf("flux: %v: no track resolved, best %d of %d revolutions", t.ch, t.best, len(t.revolutions))
	return nil, false
}

// Scan returns the sector scan of the selected revolution.
func (t *Track) Scan() (*system34.Track, bool) {
	if t.best < len(t.scans) && t.scans[t.best] != nil {
		return t.scans[t.best], true
	}
	return nil, false
}

// Rescan repeats the sector scan of the selected revolution after its
// bits were changed.
func (t *Track) Rescan() {
	if t.best < len(t.decoded) && t.decoded[t.best] != nil {
		t.scans[t.best] = system34.Scan(t.decoded[t.best])
	}
}
