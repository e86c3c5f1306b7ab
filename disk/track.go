// Package disk holds a floppy image as an arena of tracks of three
// kinds: decoded sectors, raw bitstreams and flux captures.
package disk

import (
	"errors"
	"fmt"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/system34"
)

var (
	ErrNoTrack     = errors.New("disk: no such track")
	ErrNoSector    = errors.New("disk: no such sector")
	ErrUnresolved  = errors.New("disk: flux track not resolved")
	ErrUnsupported = errors.New("disk: unsupported")
)

// Kind tells which variant a Track holds.
type Kind int

const (
	KindMetaSector Kind = iota
	KindBitStream
	KindFluxStream
)

func (k Kind) String() string {
	switch k {
	case KindMetaSector:
		return "metasector"
	case KindBitStream:
		return "bitstream"
	case KindFluxStream:
		return "fluxstream"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sector is one decoded sector of a metasector track.
type Sector struct {
	ID      geom.Chsn
	Data    []byte
	Deleted bool
}

// MetaSectorTrack is a track known only by its sectors.
type MetaSectorTrack struct {
	Ch       geom.Ch
	DataRate geom.DataRate
	RPM      geom.RPM
	Sectors  []Sector
}

// Render lays the sectors out as an IBM PC MFM track.
func (m *MetaSectorTrack) Render() codec.TrackCodec {
	sectors := make([]system34.SectorData, len(m.Sectors))
	for i, s := range m.Sectors {
		sectors[i] = system34.SectorData{ID: s.ID, Data: s.Data, Deleted: s.Deleted}
	}
	w := system34.NewWriter(system34.TrackBits(m.DataRate, m.RPM))
	c := codec.NewMfm(w.EncodeTrackIBMPC(sectors, m.DataRate), 0, nil)
	system34.Scan(c)
	return c
}

// BitStreamTrack is a track held as raw encoded bits.
type BitStreamTrack struct {
	Ch       geom.Ch
	DataRate geom.DataRate
	RPM      geom.RPM
	codec    codec.TrackCodec
	scan     *system34.Track
}

// NewBitStreamTrack scans c for sectors.
func NewBitStreamTrack(ch geom.Ch, c codec.TrackCodec, rate geom.DataRate, rpm geom.RPM) *BitStreamTrack {
	return &BitStreamTrack{Ch: ch, DataRate: rate, RPM: rpm, codec: c, scan: system34.Scan(c)}
}

// SectorInfo describes a sector of any kind of track.
type SectorInfo struct {
	ID        geom.Chsn `json:"id"`
	Deleted   bool      `json:"deleted"`
	HasData   bool      `json:"has_data"`
	IDCrcOK   bool      `json:"id_crc_ok"`
	DataCrcOK bool      `json:"data_crc_ok"`
}

// TrackInfo summarizes a track.
type TrackInfo struct {
	Ch          geom.Ch `json:"ch"`
	Kind        string  `json:"kind"`
	Encoding    string  `json:"encoding"`
	DataRate    int     `json:"data_rate_kbps"`
	RPM         int     `json:"rpm"`
	BitLength   int     `json:"bit_length"`
	Sectors     int     `json:"sectors"`
	GoodSectors int     `json:"good_sectors"`
	WeakBits    int     `json:"weak_bits"`
	Revolutions int     `json:"revolutions,omitempty"`
	Resolved    bool    `json:"resolved"`
}

// Track is a tagged union over the three track kinds.
type Track struct {
	kind Kind
	meta *MetaSectorTrack
	bits *BitStreamTrack
	flux *flux.Track
}

func NewMetaSector(m *MetaSectorTrack) Track { return Track{kind: KindMetaSector, meta: m} }
func NewBitStream(b *BitStreamTrack) Track { return Track{kind: KindBitStream, bits: b} }
func NewFluxStream(f *flux.Track) Track { return Track{kind: KindFluxStream, flux: f} }

func (t Track) Kind() Kind { return t.kind }

func (t Track) MetaSector() (*MetaSectorTrack, bool) { return t.meta, t.kind == KindMetaSector }
func (t Track) BitStream() (*BitStreamTrack, bool) { return t.bits, t.kind == KindBitStream }
func (t Track) FluxStream() (*flux.Track, bool) { return t.flux, t.kind == KindFluxStream }

func (t Track) Ch() geom.Ch {
	switch t.kind {
	case KindMetaSector:
		return t.meta.Ch
	case KindBitStream:
		return t.bits.Ch
	default:
		return t.flux.Ch()
	}
}

func (t Track) Encoding() codec.Encoding {
	switch t.kind {
	case KindMetaSector:
		return codec.EncodingMFM
	case KindBitStream:
		return t.bits.codec.Encoding()
	default:
		return t.flux.Encoding()
	}
}

func (t Track) DataRate() geom.DataRate {
	switch t.kind {
	case KindMetaSector:
		return t.meta.DataRate
	case KindBitStream:
		return t.bits.DataRate
	default:
		return t.flux.DataRate()
	}
}

func (t Track) RPM() geom.RPM {
	switch t.kind {
	case KindMetaSector:
		return t.meta.RPM
	case KindBitStream:
		return t.bits.RPM
	default:
		return t.flux.RPM()
	}
}

// Codec returns the bitstream of the track. Metasector tracks are
// rendered on every call; flux tracks return their resolved revolution.
func (t Track) Codec() (codec.TrackCodec, bool) {
	switch t.kind {
	case KindMetaSector:
		return t.meta.Render(), true
	case KindBitStream:
		return t.bits.codec, true
	default:
		return t.flux.Resolved()
	}
}

func (t Track) scan() (*system34.Track, codec.TrackCodec, error) {
	switch t.kind {
	case KindBitStream:
		return t.bits.scan, t.bits.codec, nil
	case KindFluxStream:
		s, ok := t.flux.Scan()
		c, ok2 := t.flux.Resolved()
		if !ok || !ok2 {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnresolved, t.flux.Ch())
		}
		return s, c, nil
	}
	return nil, nil, fmt.Errorf("%w: %v track has no scan", ErrUnsupported, t.kind)
}

// Layout returns the scanned address marks and sectors of the track with
// the codec they were found in. Metasector tracks are rendered first.
func (t Track) Layout() (*system34.Track, codec.TrackCodec, error) {
	if t.kind == KindMetaSector {
		c := t.meta.Render()
		return system34.Scan(c), c, nil
	}
	return t.scan()
}

// Sectors lists the sectors of the track in track order.
func (t Track) Sectors() []SectorInfo {
	if t.kind == KindMetaSector {
		out := make([]SectorInfo, len(t.meta.Sectors))
		for i, s := range t.meta.Sectors {
			out[i] = SectorInfo{ID: s.ID, Deleted: s.Deleted, HasData: true, IDCrcOK: true, DataCrcOK: true}
		}
		return out
	}
	scan, _, err := t.scan()
	if err != nil {
		return nil
	}
	out := make([]SectorInfo, len(scan.Sectors))
	for i, s := range scan.Sectors {
		out[i] = SectorInfo{ID: s.ID, Deleted: s.Deleted, HasData: s.HasData, IDCrcOK: s.IDCrcOK, DataCrcOK: s.DataCrcOK}
	}
	return out
}

// ReadSector returns the data of the first sector with the given number
// and whether its CRC is good.
func (t Track) ReadSector(sector uint8) ([]byte, bool, error) {
	if t.kind == KindMetaSector {
		for _, s := range t.meta.Sectors {
			if s.ID.Sector == sector {
				return append([]byte(nil), s.Data...), true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: %v sector %d", ErrNoSector, t.meta.Ch, sector)
	}
	scan, c, err := t.scan()
	if err != nil {
		return nil, false, err
	}
	s, ok := scan.Find(sector)
	if !ok {
		return nil, false, fmt.Errorf("%w: %v sector %d", ErrNoSector, t.Ch(), sector)
	}
	return system34.ReadSector(c, s)
}

// WriteSector replaces the data of a sector. Bitstream and flux tracks
// are re-encoded in place and rescanned.
func (t Track) WriteSector(sector uint8, data []byte) error {
	if t.kind == KindMetaSector {
		for i, s := range t.meta.Sectors {
			if s.ID.Sector == sector {
				if len(data) != s.ID.Size() {
					return fmt.Errorf("%w: %d bytes for %d byte sector", system34.ErrSectorSize, len(data), s.ID.Size())
				}
				t.meta.Sectors[i].Data = append([]byte(nil), data...)
				return nil
			}
		}
		return fmt.Errorf("%w: %v sector %d", ErrNoSector, t.meta.Ch, sector)
	}
	scan, c, err := t.scan()
	if err != nil {
		return err
	}
	s, ok := scan.Find(sector)
	if !ok {
		return fmt.Errorf("%w: %v sector %d", ErrNoSector, t.Ch(), sector)
	}
	if err := system34.WriteSector(c, s, data); err != nil {
		return err
	}
	if t.kind == KindBitStream {
		t.bits.scan = system34.Scan(c)
	} else {
		t.flux.Rescan()
	}
	return nil
}

// HasWeakBits reports whether the bitstream shows runs of weak bits.
func (t Track) HasWeakBits() bool {
	if t.kind == KindMetaSector {
		return false
	}
	c, ok := t.Codec()
	return ok && c.HasWeakBits()
}

// Info summarizes the track.
func (t Track) Info() TrackInfo {
	info := TrackInfo{
		Ch:       t.Ch(),
		Kind:     t.kind.String(),
		Encoding: t.Encoding().String(),
		DataRate: t.DataRate().Kbps(),
		RPM:      int(t.RPM()),
	}
	if t.kind == KindFluxStream {
		info.Revolutions = len(t.flux.Revolutions())
	}
	c, ok := t.Codec()
	if !ok {
		return info
	}
	info.Resolved = true
	info.BitLength = c.Len()
	info.WeakBits = c.WeakMask().Count()
	for _, s := range t.Sectors() {
		info.Sectors++
		if s.IDCrcOK && s.DataCrcOK {
			info.GoodSectors++
		}
	}
	return info
}
