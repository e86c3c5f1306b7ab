// Package flux holds captured flux revolutions and turns them into
// decoded bitstream tracks.
package flux

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/pll"
)

// RevolutionType tells captured revolutions from ones built by
// shifting a flux across the index.
type RevolutionType int

const (
	Source RevolutionType = iota
	Synthetic
)

func (t RevolutionType) String() string {
	if t == Synthetic {
		return "synthetic"
	}
	return "source"
}

// Revolution is one turn of the disk between index pulses.
type Revolution struct {
	Type      RevolutionType
	Ch        geom.Ch
	DataRate  float64 // bits per second, zero until decoded
	IndexTime float64 // seconds

	FluxDeltas  []float64 // seconds between transitions
	Transitions []pll.Transition
	Bits        *bitring.BitVec
	Errors      *bitring.BitVec
	Encoding    codec.Encoding
	Markers     []int
	Entries     []pll.DecodeStat
}

// RevolutionStats summarizes a revolution.
type RevolutionStats struct {
	Type      RevolutionType
	Encoding  codec.Encoding
	DataRate  float64
	IndexTime float64
	FtCount   int
	Bitcells  int
	FirstFt   float64
	LastFt    float64
}

func (s RevolutionStats) String() string {
	return fmt.Sprintf("%v %v: %.0f bps, index %.3fms, %d ft, %d bitcells",
		s.Type, s.Encoding, s.DataRate, s.IndexTime*1e3, s.FtCount, s.Bitcells)
}

// NewRevolution wraps flux deltas in seconds. Zero deltas (no flux
// area) are dropped.
func NewRevolution(ch geom.Ch, deltas []float64, indexTime float64) *Revolution {
	kept := make([]float64, 0, len(deltas))
	for _, d := range deltas {
		if d > 0 {
			kept = append(kept, d)
		}
	}
	if nfa := len(deltas) - len(kept); nfa > 0 {
		log.Debugf("flux: %v: dropped %d NFA cells", ch, nfa)
	}
	return &Revolution{
		Type:       Source,
		Ch:         ch,
		IndexTime:  indexTime,
		FluxDeltas: kept,
		Bits:       bitring.NewVec(0),
		Errors:     bitring.NewVec(0),
		Encoding:   codec.EncodingMFM,
	}
}

func (r *Revolution) synthetic(deltas []float64) *Revolution {
	return &Revolution{
		Type:       Synthetic,
		Ch:         r.Ch,
		DataRate:   r.DataRate,
		IndexTime:  r.IndexTime,
		FluxDeltas: deltas,
		Bits:       bitring.NewVec(0),
		Errors:     bitring.NewVec(0),
		Encoding:   codec.EncodingMFM,
	}
}

// FromAdjacentPair corrects index jitter between two consecutive
// revolutions. When their flux counts differ by exactly two, one flux
// is moved across the boundary from the longer to the shorter, and the
// two synthetic revolutions are returned. Otherwise it returns nil.
func FromAdjacentPair(first, second *Revolution) []*Revolution {
	a, b := len(first.FluxDeltas), len(second.FluxDeltas)
	switch {
	case a-b == 2:
		log.Debugf("flux: %v: shifting last flux of revolution into the next", first.Ch)
		firstDeltas := append([]float64(nil), first.FluxDeltas[:a-1]...)
		secondDeltas := make([]float64, 0, b+1)
		secondDeltas = append(secondDeltas, first.FluxDeltas[a-1])
		secondDeltas = append(secondDeltas, second.FluxDeltas...)
		return []*Revolution{first.synthetic(firstDeltas), second.synthetic(secondDeltas)}
	case b-a == 2:
		log.Debugf("flux: %v: shifting first flux of revolution into the previous", first.Ch)
		firstDeltas := make([]float64, 0, a+1)
		firstDeltas = append(firstDeltas, first.FluxDeltas...)
		firstDeltas = append(firstDeltas, second.FluxDeltas[0])
		secondDeltas := append([]float64(nil), second.FluxDeltas[1:]...)
		return []*Revolution{first.synthetic(firstDeltas), second.synthetic(secondDeltas)}
	}
	return nil
}

// FtCount returns the number of flux transitions.
func (r *Revolution) FtCount() int {
	return len(r.FluxDeltas)
}

// TransitionAvg returns the mean positive flux delta in seconds.
func (r *Revolution) TransitionAvg() float64 {
	sum, n := 0.0, 0
	for _, d := range r.FluxDeltas {
		if d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Bitstream returns the decoded bits MSB-first and their count.
func (r *Revolution) Bitstream() ([]byte, int) {
	return r.Bits.Bytes(), r.Bits.Len()
}

func (r *Revolution) Stats() RevolutionStats {
	rate := r.DataRate
	if rate == 0 && r.IndexTime > 0 {
		rate = float64(r.Bits.Len()) / r.IndexTime
	}
	s := RevolutionStats{
		Type:      r.Type,
		Encoding:  r.Encoding,
		DataRate:  rate,
		IndexTime: r.IndexTime,
		FtCount:   len(r.FluxDeltas),
		Bitcells:  r.Bits.Len(),
	}
	if n := len(r.FluxDeltas); n > 0 {
		s.FirstFt = r.FluxDeltas[0]
		s.LastFt = r.FluxDeltas[n-1]
	}
	return s
}

// Classify labels every flux delta without decoding bits.
func (r *Revolution) Classify() {
	r.Transitions = pll.ClassifyDeltas(r.FluxDeltas)
	log.Tracef("flux: %v: classified %d transitions", r.Ch, len(r.Transitions))
}

// DecodeDirect decodes the revolution as MFM. When no address marks show
// up and the flux statistics look like FM, it decodes again as FM, and
// keeps that result only if FM finds marks.
func (r *Revolution) DecodeDirect(p *pll.Pll) pll.FluxStats {
	res := p.Decode(r.FluxDeltas, codec.EncodingMFM)
	r.Encoding = codec.EncodingMFM

	if len(res.Markers) == 0 && res.Stats.DetectEncoding() == codec.EncodingFM {
		log.Warnf("flux: %v: no markers found, track might be FM, decoding again", r.Ch)
		fm := p.Decode(r.FluxDeltas, codec.EncodingFM)
		if len(fm.Markers) == 0 {
			log.Warnf("flux: %v: no markers in FM decode either, keeping MFM", r.Ch)
		} else {
			log.Debugf("flux: %v: found %d FM markers", r.Ch, len(fm.Markers))
			r.Encoding = codec.EncodingFM
			res = fm
		}
	}

	r.Bits = res.Bits
	r.Errors = res.Errors
	r.Markers = res.Markers
	r.Entries = res.Entries
	if r.IndexTime > 0 {
		r.DataRate = float64(r.Bits.Len()) / r.IndexTime / 2
	}
	if n := len(r.FluxDeltas); n > 0 {
		log.Tracef("flux: %v: decoded %d transitions into %d %v bits, ratio %.2f",
			r.Ch, n, r.Bits.Len(), r.Encoding, float64(r.Bits.Len())/float64(n))
	}
	return res.Stats
}
