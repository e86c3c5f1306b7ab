package codec

import (
	"slices"
	"sort"
)

// rangeChecker answers point-in-union queries over inclusive ranges.
// Overlapping ranges stack; a point is covered while the stack is non-empty.
type rangeChecker struct {
	points []int
	depth  []int
}

type rangeEvent struct {
	at    int
	delta int
}

func newRangeChecker(ranges []Region) rangeChecker {
	events := make([]rangeEvent, 0, 2*len(ranges))
	for _, r := range ranges {
		events = append(events, rangeEvent{r.Start, 1}, rangeEvent{r.End + 1, -1})
	}
	slices.SortFunc(events, func(a, b rangeEvent) int {
		return a.at - b.at
	})

	var rc rangeChecker
	depth := 0
	for _, e := range events {
		depth += e.delta
		if n := len(rc.points); n > 0 && rc.points[n-1] == e.at {
			rc.depth[n-1] = depth
			continue
		}
		rc.points = append(rc.points, e.at)
		rc.depth = append(rc.depth, depth)
	}
	return rc
}

// Contains reports whether v lies in at least one range.
func (rc rangeChecker) Contains(v int) bool {
	// First event point past v; the one before it holds the depth at v.
	i := sort.Search(len(rc.points), func(i int) bool {
		return rc.points[i] > v
	})
	if i == 0 {
		return false
	}
	return rc.depth[i-1] > 0
}
