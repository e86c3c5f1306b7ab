package codec

import (
	"fmt"

	"github.com/sergev/floppyflux/bitring"
)

const (
	// MfmByteLen is the number of raw bits per decoded byte.
	MfmByteLen = 16
	// MfmMarkerLen is the length of an A1A1A1xx marker window in raw bits.
	MfmMarkerLen = 64
	// MfmMarkerClock holds the clock bits dropped from the three A1 sync bytes.
	MfmMarkerClock uint64 = 0x0220_0220_0220_0000

	// AnyMarkerBits matches three A1 sync bytes followed by any mark byte.
	AnyMarkerBits uint64 = 0x4489_4489_4489_0000
	// MarkerMask selects the sync part of a marker window.
	MarkerMask uint64 = 0xFFFF_FFFF_FFFF_0000

	// syncPattern is a run of encoded zero bytes.
	syncPattern uint32 = 0xAAAA_AAAA
)

// AnyMarker finds any IBM MFM address mark.
var AnyMarker = Marker{Bits: AnyMarkerBits, Mask: MarkerMask, Len: MfmMarkerLen}

// MfmCodec decodes MFM: a data one is 01, a data zero is 10 after a zero
// and 00 after a one.
type MfmCodec struct {
	*stream
}

// NewMfm wraps bits as an MFM track. A positive bitCount truncates the
// stream. A non-nil weakMask must match the stream length or NewMfm panics.
func NewMfm(bits *bitring.BitVec, bitCount int, weakMask *bitring.BitVec) *MfmCodec {
	return &MfmCodec{newStream(bits, bitCount, weakMask, true, EncodeMfm)}
}

func (c *MfmCodec) Encoding() Encoding {
	return EncodingMFM
}

func (c *MfmCodec) Encode(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec {
	return EncodeMfm(data, prevBit, variant)
}

// EncodeMfm encodes data MSB-first. prevBit is the raw bit preceding the
// output. The AddressMark variant clears the clock bit of the fourth data
// bit of each byte. IBM sync bytes are built with MarkerFor instead.
func EncodeMfm(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec {
	out := bitring.NewVec(0)
	last := prevBit
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bit := b&(0x80>>i) != 0
			if bit {
				out.Push(false)
				out.Push(true)
			} else {
				out.Push(!last)
				out.Push(false)
			}
			last = bit
			if variant == AddressMark && i == 3 {
				out.Set(out.Len()-2, false)
			}
		}
	}
	return out
}

// EncodeMfmMarker encodes four bytes into a 64-bit marker pattern.
// Clock bits are not suppressed; mask with MfmMarkerClock for sync bytes.
func EncodeMfmMarker(data []byte) uint64 {
	if len(data) != 4 {
		panic(fmt.Sprintf("codec: marker needs 4 bytes, got %d", len(data)))
	}
	var out uint64
	last := false
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bit := b&(0x80>>i) != 0
			out <<= 2
			switch {
			case bit:
				out |= 0b01
			case !last:
				out |= 0b10
			}
			last = bit
		}
	}
	return out
}

// MarkerFor returns a marker matching three A1 sync bytes and the mark byte.
func MarkerFor(mark byte) Marker {
	bits := EncodeMfmMarker([]byte{0xA1, 0xA1, 0xA1, mark}) &^ MfmMarkerClock
	return Marker{Bits: bits, Mask: ^uint64(0), Len: MfmMarkerLen}
}

// FindSync returns the offset of the first 32-bit run of encoded zero bytes
// at or after start. The bit at the offset is a clock bit.
func FindSync(bits *bitring.BitVec, start int) (int, bool) {
	var reg uint32
	shifted := 0
	for i := max(start, 0); i < bits.Len(); i++ {
		reg <<= 1
		if bits.Get(i) {
			reg |= 1
		}
		shifted++
		if shifted >= 32 && reg == syncPattern {
			return i - 31, true
		}
	}
	return 0, false
}

// SyncOffset returns the offset of the first sync run on the track.
func SyncOffset(bits *bitring.BitVec) (int, bool) {
	return FindSync(bits, 0)
}

// SyncPhase returns the clock phase (0 or 1) established by the first sync run.
func SyncPhase(bits *bitring.BitVec) (int, bool) {
	offset, ok := SyncOffset(bits)
	if !ok {
		return 0, false
	}
	return offset % 2, true
}
