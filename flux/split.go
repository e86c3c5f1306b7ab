package flux

// Capture is one revolution as delivered by a capture device or a flux
// container.
type Capture struct {
	Deltas    []float64 // seconds between transitions
	IndexTime float64   // seconds between the bounding index pulses
}

// SplitRevolutions cuts a capture into revolutions at the index pulses.
// Both slices hold absolute times in nanoseconds from the start of the
// capture, in increasing order. A transition belongs to the revolution it
// ends in, and its delta is measured from the previous transition. Flux
// before the first index and after the last one is dropped.
func SplitRevolutions(transitions, index []uint64) []Capture {
	if len(index) < 2 {
		return nil
	}
	revs := make([]Capture, 0, len(index)-1)
	t := 0
	var prev uint64
	for t < len(transitions) && transitions[t] <= index[0] {
		prev = transitions[t]
		t++
	}
	for i := 1; i < len(index); i++ {
		c := Capture{IndexTime: float64(index[i]-index[i-1]) * 1e-9}
		for t < len(transitions) && transitions[t] <= index[i] {
			c.Deltas = append(c.Deltas, float64(transitions[t]-prev)*1e-9)
			prev = transitions[t]
			t++
		}
		revs = append(revs, c)
	}
	return revs
}

// AddCaptures appends every capture as a revolution.
func (t *Track) AddCaptures(captures []Capture) {
	for _, c := range captures {
		t.AddRevolution(c.Deltas, c.IndexTime)
	}
}
