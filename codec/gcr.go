package codec

import "github.com/sergev/floppyflux/bitring"

// GcrCodec keeps a GCR track as raw bits. Group code decoding is not
// implemented: decoded reads return zero and markers are never found.
type GcrCodec struct {
	*stream
}

// NewGcr wraps bits as a GCR track, with the same arguments as NewMfm.
func NewGcr(bits *bitring.BitVec, bitCount int, weakMask *bitring.BitVec) *GcrCodec {
	return &GcrCodec{newStream(bits, bitCount, weakMask, false, encodeNothing)}
}

func encodeNothing([]byte, bool, EncodingVariant) *bitring.BitVec {
	return bitring.NewVec(0)
}

func (c *GcrCodec) Encoding() Encoding {
	return EncodingGCR
}

func (c *GcrCodec) Encode(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec {
	return encodeNothing(data, prevBit, variant)
}

func (c *GcrCodec) ReadDecodedU8(int) (uint8, bool) {
	return 0, false
}

func (c *GcrCodec) ReadDecodedU32LE(int) uint32 {
	return 0
}

func (c *GcrCodec) ReadDecodedU32BE(int) uint32 {
	return 0
}

func (c *GcrCodec) ReadDecodedBuf([]byte, int) int {
	return 0
}

func (c *GcrCodec) WriteEncodedBuf([]byte, int) int {
	return 0
}

func (c *GcrCodec) FindMarker(Marker, int, int) (int, uint16, bool) {
	return 0, 0, false
}

func (c *GcrCodec) DebugDecode(int) string {
	return ""
}
