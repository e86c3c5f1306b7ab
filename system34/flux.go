package system34

import (
	"errors"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/pll"
)

var ErrEmptyTrack = errors.New("system34: empty bitstream")

// bitcellNs returns the bitcell period in nanoseconds.
func bitcellNs(rate geom.DataRate) uint64 {
	return uint64(1e9 / (float64(rate) * 2))
}

// GenerateFluxTransitions converts bitcells to flux transition times:
// every one bit is a transition at the end of its cell.
// Times are in nanoseconds from the start of the track.
func GenerateFluxTransitions(bits *bitring.BitVec, rate geom.DataRate) ([]uint64, error) {
	if bits.IsEmpty() {
		return nil, ErrEmptyTrack
	}
	period := bitcellNs(rate)

	var transitions []uint64
	now := uint64(0)
	for i := 0; i < bits.Len(); i++ {
		now += period
		if bits.Get(i) {
			transitions = append(transitions, now)
		}
	}
	return transitions, nil
}

// CoverFullRotation pads transitions at two-bitcell intervals up to the
// duration of one revolution.
func CoverFullRotation(transitions []uint64, rate geom.DataRate, rpm geom.RPM) []uint64 {
	rotation := uint64(rpm.IndexTime() * 1e9)
	step := 2 * bitcellNs(rate)

	now := uint64(0)
	if len(transitions) > 0 {
		now = transitions[len(transitions)-1]
	}
	for now+step <= rotation {
		now += step
		transitions = append(transitions, now)
	}
	return transitions
}

// GenerateFluxDeltas renders a bitstream as one revolution of flux
// deltas in seconds, ready for the PLL.
func GenerateFluxDeltas(bits *bitring.BitVec, rate geom.DataRate, rpm geom.RPM) ([]float64, error) {
	transitions, err := GenerateFluxTransitions(bits, rate)
	if err != nil {
		return nil, err
	}
	return pll.Deltas(pll.NewFluxIterator(CoverFullRotation(transitions, rate, rpm))), nil
}
