// Package system34 reads and writes the IBM System 34 track layout used by
// PC floppies: address marks, sector IDs, data fields and their CRCs.
package system34

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
)

// Address mark bytes.
const (
	MarkIAM  = 0xFC
	MarkIDAM = 0xFE
	MarkDAM  = 0xFB
	MarkDDAM = 0xF8
)

// IAMMarker matches three C2 sync words followed by the FC index mark.
var IAMMarker = codec.Marker{Bits: 0x5224_5224_5224_5552, Mask: ^uint64(0), Len: codec.MfmMarkerLen}

// A data mark further than this from its ID belongs to no sector.
const maxIDToData = 80 * codec.MfmByteLen

// Raw bits from the start of a marker window to the first byte after the mark.
const markerHeader = codec.MfmMarkerLen

var (
	ErrNoData     = errors.New("system34: sector has no data field")
	ErrSectorSize = errors.New("system34: data does not match sector size")
)

// MarkerKind names an address mark.
type MarkerKind int

const (
	IAM MarkerKind = iota
	IDAM
	DAM
	DDAM
)

func (k MarkerKind) String() string {
	switch k {
	case IAM:
		return "IAM"
	case IDAM:
		return "IDAM"
	case DAM:
		return "DAM"
	case DDAM:
		return "DDAM"
	}
	return "?"
}

// Marker is an address mark found on a track.
type Marker struct {
	Kind   MarkerKind
	Offset int // raw bit offset of the sync window
}

// Sector describes one sector found by Scan.
type Sector struct {
	ID         geom.Chsn
	IDOffset   int
	IDCrcOK    bool
	HasData    bool
	Deleted    bool
	Mark       byte // data address mark, F8 to FB
	DataOffset int  // raw bit offset of the first data byte
	DataEnd    int  // raw bit offset of the last data bit
	DataCrcOK  bool
}

// Size returns the data length in bytes.
func (s Sector) Size() int {
	return s.ID.Size()
}

// Track is the result of scanning a codec.
type Track struct {
	Encoding codec.Encoding
	Markers  []Marker
	Sectors  []Sector
}

// Score rates how well a track decoded: two points per sector with good
// data, one per good ID, minus one per bad data field.
func (t *Track) Score() int {
	score := 0
	for _, s := range t.Sectors {
		if s.IDCrcOK {
			score++
		}
		if s.HasData {
			if s.DataCrcOK {
				score += 2
			} else {
				score--
			}
		}
	}
	return score
}

// Find returns the first sector whose ID has the given sector number.
func (t *Track) Find(sector uint8) (Sector, bool) {
	for _, s := range t.Sectors {
		if s.ID.Sector == sector {
			return s, true
		}
	}
	return Sector{}, false
}

func (t *Track) String() string {
	good := 0
	for _, s := range t.Sectors {
		if s.IDCrcOK && s.DataCrcOK {
			good++
		}
	}
	return fmt.Sprintf("%v: %d markers, %d sectors (%d good)", t.Encoding, len(t.Markers), len(t.Sectors), good)
}

// crcSeed returns the CRC register before the mark byte.
func crcSeed(enc codec.Encoding) uint16 {
	if enc == codec.EncodingMFM {
		return crcAfterSync
	}
	return crcInit
}

// Scan walks the address marks of a track, installs a clock map that
// follows the phase of each marker, and registers sector data ranges.
func Scan(c codec.TrackCodec) *Track {
	t := &Track{Encoding: c.Encoding()}
	search := codec.AnyMarker
	switch c.Encoding() {
	case codec.EncodingFM:
		search = codec.FmAnyMarker
	case codec.EncodingGCR:
		return t
	}

	var offsets []int
	for start := 0; ; {
		pos, _, ok := c.FindMarker(search, start, codec.NoLimit)
		if !ok {
			break
		}
		offsets = append(offsets, pos)
		start = pos + markerHeader
	}
	if t.Encoding == codec.EncodingMFM {
		if pos, _, ok := c.FindMarker(IAMMarker, 0, codec.NoLimit); ok {
			t.Markers = append(t.Markers, Marker{Kind: IAM, Offset: pos})
		}
	}
	if len(offsets) == 0 {
		log.Debugf("system34: no address marks on %v track", t.Encoding)
		return t
	}
	c.SetClockMap(markerClockMap(c.Len(), offsets))

	var ranges []codec.Region
	pending := -1 // index of the last sector still waiting for data
	for _, pos := range offsets {
		mark, _ := c.ReadDecodedU8(pos + markerHeader - codec.MfmByteLen)
		switch mark {
		case MarkIDAM:
			t.Markers = append(t.Markers, Marker{Kind: IDAM, Offset: pos})
			t.Sectors = append(t.Sectors, readID(c, pos))
			pending = len(t.Sectors) - 1
		case MarkDAM, MarkDDAM, 0xF9, 0xFA:
			kind := DAM
			if mark == MarkDDAM || mark == 0xF9 {
				kind = DDAM
			}
			t.Markers = append(t.Markers, Marker{Kind: kind, Offset: pos})
			if pending < 0 || pos-t.Sectors[pending].IDOffset > maxIDToData {
				log.Debugf("system34: orphan data mark %02x at %d", mark, pos)
				continue
			}
			s := &t.Sectors[pending]
			readData(c, s, pos, mark)
			ranges = append(ranges, codec.Region{Start: s.DataOffset, End: s.DataEnd})
			pending = -1
		case MarkIAM:
			t.Markers = append(t.Markers, Marker{Kind: IAM, Offset: pos})
		default:
			log.Tracef("system34: unknown mark %02x at %d", mark, pos)
		}
	}
	c.SetDataRanges(ranges)
	log.Debugf("system34: %s", t)
	return t
}

// markerClockMap marks clock bits with the parity of the nearest preceding
// marker. Bits before the first marker take the parity of the last one,
// since the track wraps.
func markerClockMap(n int, offsets []int) *bitring.BitVec {
	m := bitring.NewVec(n)
	phase := offsets[len(offsets)-1] % 2
	next := 0
	for i := 0; i < n; i++ {
		for next < len(offsets) && offsets[next] <= i {
			phase = offsets[next] % 2
			next++
		}
		if i%2 == phase {
			m.Set(i, true)
		}
	}
	return m
}

func readID(c codec.TrackCodec, pos int) Sector {
	at := pos + markerHeader
	header := make([]byte, 6)
	c.ReadDecodedBuf(header, at)
	crc := crc16CCITT(crc16CCITTByte(crcSeed(c.Encoding()), MarkIDAM), header[:4])
	return Sector{
		ID: geom.Chsn{
			Chs: geom.Chs{Cyl: uint16(header[0]), Head: header[1], Sector: header[2]},
			N:   header[3],
		},
		IDOffset: pos,
		IDCrcOK:  crc == uint16(header[4])<<8|uint16(header[5]),
	}
}

func readData(c codec.TrackCodec, s *Sector, pos int, mark byte) {
	s.HasData = true
	s.Mark = mark
	s.Deleted = mark == MarkDDAM || mark == 0xF9
	s.DataOffset = pos + markerHeader
	size := s.Size()
	s.DataEnd = s.DataOffset + size*codec.MfmByteLen - 1

	data := make([]byte, size+2)
	c.ReadDecodedBuf(data, s.DataOffset)
	crc := crc16CCITT(crc16CCITTByte(crcSeed(c.Encoding()), mark), data[:size])
	s.DataCrcOK = crc == uint16(data[size])<<8|uint16(data[size+1])
}

// ReadSector decodes the data field of s. The flag reports a good CRC.
func ReadSector(c codec.TrackCodec, s Sector) ([]byte, bool, error) {
	if !s.HasData {
		return nil, false, fmt.Errorf("%w: %v", ErrNoData, s.ID)
	}
	size := s.Size()
	data := make([]byte, size+2)
	c.ReadDecodedBuf(data, s.DataOffset)
	crc := crc16CCITT(crc16CCITTByte(crcSeed(c.Encoding()), dataMark(s)), data[:size])
	return data[:size], crc == uint16(data[size])<<8|uint16(data[size+1]), nil
}

// WriteSector encodes data into the data field of s with a fresh CRC.
func WriteSector(c codec.TrackCodec, s Sector, data []byte) error {
	if !s.HasData {
		return fmt.Errorf("%w: %v", ErrNoData, s.ID)
	}
	if len(data) != s.Size() {
		return fmt.Errorf("%w: %d bytes for %d byte sector %v", ErrSectorSize, len(data), s.Size(), s.ID)
	}
	crc := crc16CCITT(crc16CCITTByte(crcSeed(c.Encoding()), dataMark(s)), data)
	field := append(append([]byte{}, data...), byte(crc>>8), byte(crc))
	if c.WriteEncodedBuf(field, s.DataOffset) == 0 {
		return fmt.Errorf("system34: %v track does not support encoded writes", c.Encoding())
	}
	return nil
}

func dataMark(s Sector) byte {
	if s.Mark != 0 {
		return s.Mark
	}
	if s.Deleted {
		return MarkDDAM
	}
	return MarkDAM
}
