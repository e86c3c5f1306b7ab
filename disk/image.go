package disk

import (
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/sergev/floppyflux/geom"
)

// TrackID indexes the track arena of an Image.
type TrackID int

// SourceEntry records where a track came from.
type SourceEntry struct {
	Path        string            `json:"path"`
	Format      Format            `json:"format"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Image is an arena of tracks with a parallel source map. Replacing the
// track at an address keeps its TrackID.
type Image struct {
	tracks  []Track
	sources []SourceEntry
	byCh    map[geom.Ch]TrackID
}

func NewImage() *Image {
	return &Image{byCh: make(map[geom.Ch]TrackID)}
}

// AddTrack stores t under its address and returns its id.
func (img *Image) AddTrack(t Track, src SourceEntry) TrackID {
	if id, ok := img.byCh[t.Ch()]; ok {
		img.tracks[id] = t
		img.sources[id] = src
		return id
	}
	id := TrackID(len(img.tracks))
	img.tracks = append(img.tracks, t)
	img.sources = append(img.sources, src)
	img.byCh[t.Ch()] = id
	return id
}

func (img *Image) Len() int { return len(img.tracks) }

func (img *Image) Track(id TrackID) (Track, bool) {
	if id < 0 || int(id) >= len(img.tracks) {
		return Track{}, false
	}
	return img.tracks[id], true
}

// TrackByCh looks a track up by address.
func (img *Image) TrackByCh(ch geom.Ch) (TrackID, Track, error) {
	id, ok := img.byCh[ch]
	if !ok {
		return -1, Track{}, fmt.Errorf("%w: %v", ErrNoTrack, ch)
	}
	return id, img.tracks[id], nil
}

func (img *Image) Source(id TrackID) (SourceEntry, bool) {
	if id < 0 || int(id) >= len(img.sources) {
		return SourceEntry{}, false
	}
	return img.sources[id], true
}

// Annotate attaches a note to the source entry of a track.
func (img *Image) Annotate(id TrackID, key, value string) error {
	if id < 0 || int(id) >= len(img.sources) {
		return fmt.Errorf("%w: id %d", ErrNoTrack, id)
	}
	src := &img.sources[id]
	if src.Annotations == nil {
		src.Annotations = make(map[string]string)
	}
	src.Annotations[key] = value
	return nil
}

// Tracks iterates in cylinder, head order.
func (img *Image) Tracks() iter.Seq2[TrackID, Track] {
	chs := slices.SortedFunc(maps.Keys(img.byCh), func(a, b geom.Ch) int {
		if a.Cyl != b.Cyl {
			return int(a.Cyl) - int(b.Cyl)
		}
		return int(a.Head) - int(b.Head)
	})
	return func(yield func(TrackID, Track) bool) {
		for _, ch := range chs {
			id := img.byCh[ch]
			if !yield(id, img.tracks[id]) {
				return
			}
		}
	}
}

// Geometry returns the number of cylinders and heads spanned by the
// tracks.
func (img *Image) Geometry() (cyls, heads int) {
	for ch := range img.byCh {
		cyls = max(cyls, int(ch.Cyl)+1)
		heads = max(heads, int(ch.Head)+1)
	}
	return cyls, heads
}
