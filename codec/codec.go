// Package codec interprets a raw track bitstream under a line code.
//
// A codec owns the recorded bits of one track as a ring together with the
// auxiliary maps that describe them: which positions are clock bits, which
// are weak (nondeterministic on re-read), and which violate the run-length
// rules of the encoding. Decoded reads are clock aligned; raw reads are not.
package codec

import (
	"errors"
	"io"

	"github.com/sergev/floppyflux/bitring"
)

// Encoding identifies the line code of a track.
type Encoding int

const (
	EncodingMFM Encoding = iota
	EncodingFM
	EncodingGCR
)

func (e Encoding) String() string {
	switch e {
	case EncodingMFM:
		return "MFM"
	case EncodingFM:
		return "FM"
	case EncodingGCR:
		return "GCR"
	}
	return "Unknown"
}

// EncodingVariant selects between ordinary data and address mark encoding.
type EncodingVariant int

const (
	Data EncodingVariant = iota
	AddressMark
)

// Marker describes a bit pattern to search for in the raw stream.
type Marker struct {
	Bits uint64
	Mask uint64
	Len  int
}

// Region is an inclusive range of raw bit offsets.
type Region struct {
	Start int
	End   int
}

// NoLimit searches a marker up to the end of the track.
const NoLimit = -1

// WeakBitRun is the default zero-run length above which bits are weak.
const WeakBitRun = 6

var (
	ErrEmptyStream    = errors.New("codec: empty bitstream")
	ErrWeakMaskLength = errors.New("codec: weak mask length does not match bitstream")
)

// TrackCodec is the capability shared by MFM, FM and GCR codecs.
type TrackCodec interface {
	io.ReadSeeker

	Encoding() Encoding
	Len() int
	IsEmpty() bool
	Replace(bits *bitring.BitVec)
	Data() *bitring.BitVec
	DataBytes() []byte

	SetClockMap(clockMap *bitring.BitVec)
	ClockMap() *bitring.BitVec
	Phase() int

	EnableWeak(enable bool)
	Seed(seed int64)
	WeakMask() *bitring.BitVec
	WeakData() []byte
	SetWeakMask(mask *bitring.BitVec) error
	HasWeakBits() bool
	ErrorMap() *bitring.BitVec

	ReadRawU8(index int) uint8
	ReadRawU32(index int) uint32
	ReadRawBuf(buf []byte, offset int) int
	WriteRawU8(index int, b uint8)
	WriteRawBuf(buf []byte, offset int) int

	ReadDecodedU8(index int) (uint8, bool)
	ReadDecodedU32LE(index int) uint32
	ReadDecodedU32BE(index int) uint32
	ReadDecodedBuf(buf []byte, offset int) int
	WriteEncodedBuf(buf []byte, offset int) int
	Encode(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec

	FindMarker(marker Marker, start, limit int) (int, uint16, bool)
	SetDataRanges(ranges []Region)
	IsData(index int, wrapping bool) bool

	DetectWeakBits(run int) (regions, bits int)
	DetectWeakRegions(run int) []Region
	CreateWeakBitMask(run int) *bitring.BitVec

	DebugMarker(index int) string
	DebugDecode(index int) string
}

// New builds the codec for the given encoding.
// See NewMfm for the meaning of bitCount and weakMask.
func New(enc Encoding, bits *bitring.BitVec, bitCount int, weakMask *bitring.BitVec) TrackCodec {
	switch enc {
	case EncodingFM:
		return NewFm(bits, bitCount, weakMask)
	case EncodingGCR:
		return NewGcr(bits, bitCount, weakMask)
	default:
		return NewMfm(bits, bitCount, weakMask)
	}
}
