package flux

import (
	"math"
	"testing"

	"github.com/sergev/floppyflux/geom"
)

func TestSplitRevolutions(t *testing.T) {
	transitions := []uint64{100, 200, 300, 400, 500, 600, 700}
	index := []uint64{150, 350, 650}

	revs := SplitRevolutions(transitions, index)
	if len(revs) != 2 {
		t.Fatalf("%d revolutions, want 2", len(revs))
	}
	want := [][]float64{{100e-9, 100e-9}, {100e-9, 100e-9, 100e-9}}
	for i, r := range revs {
		if len(r.Deltas) != len(want[i]) {
			t.Fatalf("revolution %d: deltas %v, want %v", i, r.Deltas, want[i])
		}
		for j := range want[i] {
			if math.Abs(r.Deltas[j]-want[i][j]) > 1e-15 {
				t.Errorf("revolution %d delta %d = %g", i, j, r.Deltas[j])
			}
		}
	}
	if math.Abs(revs[0].IndexTime-200e-9) > 1e-15 || math.Abs(revs[1].IndexTime-300e-9) > 1e-15 {
		t.Errorf("index times %g %g", revs[0].IndexTime, revs[1].IndexTime)
	}

	if revs := SplitRevolutions(transitions, []uint64{150}); revs != nil {
		t.Errorf("single index gave %d revolutions", len(revs))
	}

	tr := NewTrack(geom.Ch{})
	tr.AddCaptures(SplitRevolutions(transitions, index))
	if len(tr.Revolutions()) != 2 || tr.Revolutions()[1].FtCount() != 3 {
		t.Errorf("AddCaptures gave %d revolutions", len(tr.Revolutions()))
	}
}
