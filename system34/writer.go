package system34

import (
	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
)

// Raw sync words with a missing clock bit.
const (
	syncA1 uint16 = 0x4489
	syncC2 uint16 = 0x5224
)

// Writer builds an MFM track bitstream.
type Writer struct {
	bits        *bitring.BitVec
	lastDataBit bool
	maxHalfBits int
}

// NewWriter creates a writer for a track of maxHalfBits bitcells.
func NewWriter(maxHalfBits int) *Writer {
	return &Writer{
		bits:        bitring.NewVec(0),
		maxHalfBits: maxHalfBits,
	}
}

// TrackBits returns the bitcell count of one revolution.
func TrackBits(rate geom.DataRate, rpm geom.RPM) int {
	return int(float64(rate) * 2 * rpm.IndexTime())
}

// Bits returns the bitstream written so far.
func (w *Writer) Bits() *bitring.BitVec {
	return w.bits
}

// Write a "half" bit, which means one MFM bitcell.
func (w *Writer) writeHalfBit(bit bool) {
	if w.bits.Len() >= w.maxHalfBits {
		// The track has ended.
		return
	}
	w.bits.Push(bit)
}

func (w *Writer) writeBytes(data []byte) {
	enc := codec.EncodeMfm(data, w.lastDataBit, codec.Data)
	for i := 0; i < enc.Len(); i++ {
		w.writeHalfBit(enc.Get(i))
	}
	if len(data) > 0 {
		w.lastDataBit = data[len(data)-1]&1 != 0
	}
}

func (w *Writer) writeByte(b byte) {
	w.writeBytes([]byte{b})
}

// Write n bytes of gap
func (w *Writer) writeGap(n int) {
	for i := 0; i < n; i++ {
		w.writeByte(0x4E)
	}
}

// writeSync writes twelve zero bytes and three copies of a sync word.
func (w *Writer) writeSync(word uint16) {
	w.writeBytes(make([]byte, 12))
	for i := 0; i < 3; i++ {
		for b := 15; b >= 0; b-- {
			w.writeHalfBit(word&(1<<b) != 0)
		}
	}
	w.lastDataBit = word&1 != 0
}

func (w *Writer) writeMarker(tag byte) {
	w.writeSync(syncA1)
	w.writeByte(tag)
}

func (w *Writer) writeIndexMarker() {
	w.writeSync(syncC2)
	w.writeByte(MarkIAM)
}

// SectorData is one sector to lay out on a track.
type SectorData struct {
	ID      geom.Chsn
	Data    []byte
	Deleted bool
}

// FormatSectors returns count sectors numbered from 1 with size code n,
// filled with fill.
func FormatSectors(ch geom.Ch, count int, n uint8, fill byte) []SectorData {
	sectors := make([]SectorData, count)
	for i := range sectors {
		data := make([]byte, geom.SectorSize(n))
		for j := range data {
			data[j] = fill
		}
		sectors[i] = SectorData{
			ID:   geom.Chsn{Chs: geom.Chs{Cyl: ch.Cyl, Head: ch.Head, Sector: uint8(i + 1)}, N: n},
			Data: data,
		}
	}
	return sectors
}

// EncodeTrackIBMPC encodes a track in IBM PC format and returns its
// bitstream, padded with gap bytes to the writer's track length.
//
//	┌─────┬──────┬────┬···┬──────┬──────┬────┬──────┬────┬────┬···┬─────┐
//	│gap4a│Index │gap1│   │Sector│Sector│gap2│Data  │Data│gap3│   │gap4b│
//	│(80) │Marker│(50)│   │Marker│Header│(22)│Marker│+CRC│    │   │     │
//	└─────┴──────┴────┴···┴──────┴──────┴────┴──────┴────┴────┴···┴─────┘
//	                    └───────────────repeat──────────────────┘
func (w *Writer) EncodeTrackIBMPC(sectors []SectorData, rate geom.DataRate) *bitring.BitVec {
	const startGap = 80 // gap4a: empty bytes before index marker
	const indexGap = 50 // gap1: empty bytes before first sector

	headerGap, sectorGap := computeGapsIBMPC(rate.Kbps(), len(sectors))

	w.writeGap(startGap)
	w.writeIndexMarker()
	w.writeGap(indexGap)

	for _, s := range sectors {
		w.writeMarker(MarkIDAM)
		header := []byte{byte(s.ID.Cyl), s.ID.Head, s.ID.Sector, s.ID.N}
		w.writeBytes(header)
		sum := crc16CCITT(crcAfterIDAM, header)
		w.writeBytes([]byte{byte(sum >> 8), byte(sum)})

		w.writeGap(headerGap)

		mark := byte(MarkDAM)
		if s.Deleted {
			mark = MarkDDAM
		}
		w.writeMarker(mark)
		w.writeBytes(s.Data)
		sum = crc16CCITT(crc16CCITTByte(crcAfterSync, mark), s.Data)
		w.writeBytes([]byte{byte(sum >> 8), byte(sum)})

		w.writeGap(sectorGap)
	}

	// Fill remaining track
	if fill := (w.maxHalfBits - w.bits.Len()) / codec.MfmByteLen; fill > 0 {
		w.writeGap(fill)
	}
	return w.bits
}

// Compute gap2 and gap3 based on bit rate and number of sectors per track.
//
//	            Floppy  Media   Sectors
//	Bit rate    Drive   Volume  per track  Heads  Tracks  gap2  gap3
//	----------------------------------------------------------------
//	500 kbps    5¼"AT   1.2M    15         2      80      22    84
//	            3½"     1.44M   18         2      80      22    108
//	            3½"     1.6M    20         2      80      22    44
//	----------------------------------------------------------------
//	250 kbps    5¼"SS   160K    8          1      40      22    80
//	            5¼"PC   320K    8          2      40      22    80
//	            5¼"SS   180K    9          1      40      22    80
//	            5¼"PC   360K    9          2      40      22    80
//	            3½"SS   360K    9          1      80      22    80
//	            3½"     720K    9          2      80      22    80
//	            3½"     800K    10         2      80      22    34
//	----------------------------------------------------------------
//	300 kbps    5¼"AT   360K    9          2      40      22    80
//	----------------------------------------------------------------
//	1000 kbps   3½"     2.88M   36         2      80      41    84
//	            3½"     3.12M   39         2      80      41    40
func computeGapsIBMPC(kbps int, sectorsPerTrack int) (int, int) {
	// gap2: empty bytes after sector header before sector data
	headerGap := 22
	if kbps > 500 {
		// 2.88M floppies need more time for magnetic head to switch
		headerGap = 41
	}

	// gap3: empty bytes between sectors
	sectorGap := 80
	switch kbps {
	case 500:
		sectorGap = 108
		if sectorsPerTrack < 18 {
			sectorGap = 84
		}
		if sectorsPerTrack > 18 {
			sectorGap = 44
		}
	case 1000:
		sectorGap = 84
		if sectorsPerTrack > 36 {
			sectorGap = 40
		}
	case 250, 300:
		if sectorsPerTrack > 9 {
			// Recommended gap3 value for 800K format is 46, but
			// it seems unstable: last sector sometimes not found.
			sectorGap = 34
		}
	}
	return headerGap, sectorGap
}
