package codec

import "github.com/sergev/floppyflux/bitring"

const (
	// FmMarkerClockMask selects the clock bits of a 64-bit FM window.
	FmMarkerClockMask uint64 = 0xAAAA_AAAA_AAAA_AAAA
	// FmMarkerClockPattern is three FF-clocked bytes followed by a C7 clock.
	FmMarkerClockPattern uint64 = 0xAAAA_AAAA_AAAA_A02A

	// fmMarkClock is the clock byte of an FM address mark.
	fmMarkClock = 0xC7
)

// FmAnyMarker finds any FM address mark by its missing clock bits.
var FmAnyMarker = Marker{Bits: FmMarkerClockPattern, Mask: FmMarkerClockMask, Len: MfmMarkerLen}

// FmCodec decodes FM: every data bit is preceded by a clock one.
type FmCodec struct {
	*stream
}

// NewFm wraps bits as an FM track, with the same arguments as NewMfm.
func NewFm(bits *bitring.BitVec, bitCount int, weakMask *bitring.BitVec) *FmCodec {
	return &FmCodec{newStream(bits, bitCount, weakMask, true, EncodeFm)}
}

func (c *FmCodec) Encoding() Encoding {
	return EncodingFM
}

func (c *FmCodec) Encode(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec {
	return EncodeFm(data, prevBit, variant)
}

// EncodeFm encodes data MSB-first with a clock one before each bit.
// The AddressMark variant clocks the first byte with C7.
func EncodeFm(data []byte, _ bool, variant EncodingVariant) *bitring.BitVec {
	out := bitring.NewVec(0)
	for n, b := range data {
		clock := byte(0xFF)
		if variant == AddressMark && n == 0 {
			clock = fmMarkClock
		}
		for i := 0; i < 8; i++ {
			out.Push(clock&(0x80>>i) != 0)
			out.Push(b&(0x80>>i) != 0)
		}
	}
	return out
}

// EncodeFmMarker interleaves a clock byte and a data byte.
func EncodeFmMarker(clock, data byte) uint16 {
	var out uint16
	for i := 0; i < 8; i++ {
		out <<= 2
		if clock&(0x80>>i) != 0 {
			out |= 0b10
		}
		if data&(0x80>>i) != 0 {
			out |= 0b01
		}
	}
	return out
}
