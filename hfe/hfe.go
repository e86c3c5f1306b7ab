// Package hfe reads and writes HxC Floppy Emulator bitstream images,
// versions 1 and 3.
package hfe

import (
	"errors"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
)

// Version is the HFE file format version.
type Version int

const (
	Version1 Version = 1
	Version3 Version = 3
)

const (
	v1Signature = "HXCPICFE"
	v3Signature = "HXCHFEV3"

	// BlockSize is the allocation unit of the file, in bytes.
	BlockSize = 512
)

// Version 3 stream opcodes, MSB-first.
const (
	opcodeMask    = 0xF0
	opNop         = 0xF0
	opSetIndex    = 0xF1
	opSetBitrate  = 0xF2
	opSkipBits    = 0xF3
	opRand        = 0xF4
	floppyEmuFreq = 36_000_000
)

// Track encodings.
const (
	EncIBMMFM = iota
	EncAmigaMFM
	EncIBMFM
	EncEmuFM
	EncUnknown = 0xFF
)

// Interface modes.
const (
	ModeIBMPCDD = iota
	ModeIBMPCHD
	ModeAtariSTDD
	ModeAtariSTHD
	ModeAmigaDD
	ModeAmigaHD
	ModeCPCDD
	ModeGenericShugartDD
	ModeIBMPCED
	ModeMSX2DD
	ModeC64DD
	ModeEmuShugartDD
)

var ErrSignature = errors.New("hfe: bad signature")

// Header is the first 26 bytes of the file.
type Header struct {
	Signature           [8]byte
	FormatRevision      uint8
	NumberOfTrack       uint8
	NumberOfSide        uint8
	TrackEncoding       uint8
	BitRate             uint16 // Kbps
	FloppyRPM           uint16
	FloppyInterfaceMode uint8
	WriteProtected      uint8
	TrackListOffset     uint16 // in blocks
	WriteAllowed        uint8
	SingleStep          uint8
	Track0S0AltEncoding uint8
	Track0S0Encoding    uint8
	Track0S1AltEncoding uint8
	Track0S1Encoding    uint8
}

// trackEntry is one record of the track list.
type trackEntry struct {
	Offset   uint16 // in blocks
	TrackLen uint16 // bytes, both sides
}

// TrackData holds the bitstream of both sides of a cylinder, MSB-first.
// Weak masks are set only by version 3 RAND opcodes.
type TrackData struct {
	Side [2][]byte
	Weak [2][]byte
}

// Disk is a complete HFE image.
type Disk struct {
	Header Header
	Tracks []TrackData
}

// NewDisk returns an empty IBM PC disk of the given shape.
func NewDisk(cyls, heads int, rate geom.DataRate, rpm geom.RPM, enc codec.Encoding) *Disk {
	d := &Disk{
		Header: Header{
			NumberOfTrack:       uint8(cyls),
			NumberOfSide:        uint8(heads),
			TrackEncoding:       EncIBMMFM,
			BitRate:             uint16(rate.Kbps()),
			FloppyRPM:           uint16(rpm),
			FloppyInterfaceMode: ModeIBMPCDD,
			WriteProtected:      0xFF,
			WriteAllowed:        0xFF,
			SingleStep:          0xFF,
			Track0S0AltEncoding: 0xFF,
			Track0S0Encoding:    EncIBMMFM,
			Track0S1AltEncoding: 0xFF,
			Track0S1Encoding:    EncIBMMFM,
		},
		Tracks: make([]TrackData, cyls),
	}
	if enc == codec.EncodingFM {
		d.Header.TrackEncoding = EncIBMFM
		d.Header.Track0S0Encoding = EncIBMFM
		d.Header.Track0S1Encoding = EncIBMFM
	}
	switch {
	case rate >= geom.Rate1M:
		d.Header.FloppyInterfaceMode = ModeIBMPCED
	case rate >= geom.Rate500K:
		d.Header.FloppyInterfaceMode = ModeIBMPCHD
	}
	return d
}

// Encoding maps the header track encoding to a codec encoding.
func (d *Disk) Encoding() codec.Encoding {
	switch d.Header.TrackEncoding {
	case EncIBMFM, EncEmuFM:
		return codec.EncodingFM
	}
	return codec.EncodingMFM
}

func (d *Disk) DataRate() geom.DataRate {
	rate, _ := geom.DataRateFromBitsPerSecond(float64(d.Header.BitRate) * 1000)
	return rate
}

func (d *Disk) RPM() geom.RPM {
	if d.Header.FloppyRPM >= 330 {
		return geom.Rpm360
	}
	return geom.Rpm300
}

// Heads returns the number of sides.
func (d *Disk) Heads() int {
	return int(d.Header.NumberOfSide)
}

// Bitstream returns the bits of one side and its weak mask, or false
// when the track is missing or empty.
func (d *Disk) Bitstream(ch geom.Ch) (bits, weak *bitring.BitVec, ok bool) {
	if int(ch.Cyl) >= len(d.Tracks) || int(ch.Head) >= d.Heads() || ch.Head > 1 {
		return nil, nil, false
	}
	t := d.Tracks[ch.Cyl]
	if len(t.Side[ch.Head]) == 0 {
		return nil, nil, false
	}
	bits = bitring.VecFromBytes(t.Side[ch.Head])
	if w := t.Weak[ch.Head]; len(w) == len(t.Side[ch.Head]) {
		weak = bitring.VecFromBytes(w)
	}
	return bits, weak, true
}

// SetBitstream stores the bits of one side. The length is rounded up
// to whole bytes.
func (d *Disk) SetBitstream(ch geom.Ch, bits, weak *bitring.BitVec) {
	for int(ch.Cyl) >= len(d.Tracks) {
		d.Tracks = append(d.Tracks, TrackData{})
	}
	d.Header.NumberOfTrack = uint8(len(d.Tracks))
	if int(ch.Head) >= d.Heads() {
		d.Header.NumberOfSide = ch.Head + 1
	}
	d.Tracks[ch.Cyl].Side[ch.Head] = bits.Bytes()
	d.Tracks[ch.Cyl].Weak[ch.Head] = nil
	if weak != nil && weak.Count() > 0 {
		d.Tracks[ch.Cyl].Weak[ch.Head] = weak.Bytes()
	}
}

// bitReverse swaps the bit order of a byte. The file stores bits LSB-first.
var bitReverse [256]byte

func init() {
	for i := range bitReverse {
		var r byte
		for j := 0; j < 8; j++ {
			if i&(1<<j) != 0 {
				r |= 1 << (7 - j)
			}
		}
		bitReverse[i] = r
	}
}

// bitCopy copies size bits MSB-first between arbitrary bit offsets and
// returns the new destination offset.
func bitCopy(dst []byte, dstOff int, src []byte, srcOff int, size int) int {
	for i := 0; i < size; i++ {
		if srcOff >= len(src)*8 || dstOff >= len(dst)*8 {
			return dstOff
		}
		if src[srcOff/8]&(0x80>>(srcOff&7)) != 0 {
			dst[dstOff/8] |= 0x80 >> (dstOff & 7)
		} else {
			dst[dstOff/8] &^= 0x80 >> (dstOff & 7)
		}
		srcOff++
		dstOff++
	}
	return dstOff
}
