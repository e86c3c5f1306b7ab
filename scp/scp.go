// Package scp reads and writes SuperCard Pro flux images.
//
// An image is a 16-byte header, a table of 168 track offsets, and one
// TRK block per track: a revolution table followed by big-endian flux
// words. All multi-byte header fields are little-endian.
package scp

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

const (
	// NumTracks is the size of the track offset table.
	NumTracks = 168

	signature      = "SCP"
	trackSignature = "TRK"
	headerSize     = 16
	trackHdrSize   = 4
	revEntrySize   = 12

	// BaseTick is the sample period at resolution 0, in seconds.
	BaseTick = 25e-9
)

// Header flags.
const (
	FlagIndex      = 0x01
	FlagTPI96      = 0x02
	FlagRPM360     = 0x04
	FlagNormalized = 0x08
	FlagReadWrite  = 0x10
	FlagFooter     = 0x20
)

// Disk types: manufacturer in the high nibble.
const (
	DiskTypePC360K  = 0x30
	DiskTypePC720K  = 0x31
	DiskTypePC1200K = 0x32
	DiskTypePC1440K = 0x33
	DiskTypeOther   = 0x80
)

var ErrSignature = errors.New("scp: bad signature")

// Header is the file header.
type Header struct {
	Signature    [3]byte
	Version      uint8
	DiskType     uint8
	Revolutions  uint8
	StartTrack   uint8
	EndTrack     uint8
	Flags        uint8
	BitCellWidth uint8 // 0 means 16
	Heads        uint8 // 0 both, 1 side 0 only, 2 side 1 only
	Resolution   uint8 // tick is 25ns * (Resolution+1)
	Checksum     uint32
}

type offsetTable struct {
	Offsets [NumTracks]uint32
}

type trackHeader struct {
	Signature [3]byte
	Track     uint8
}

type revolutionEntry struct {
	IndexTime  uint32 // in 25ns units
	FluxCount  uint32
	DataOffset uint32 // from the start of the TRK block
}

// Track is one side of one cylinder with its captured revolutions.
type Track struct {
	Ch          geom.Ch
	Revolutions []flux.Capture
}

// Disk is a complete SCP image.
type Disk struct {
	Header Header
	Tracks []Track
}

// NewDisk returns an empty double-sided image with 16-bit flux words.
func NewDisk(diskType uint8, rpm geom.RPM) *Disk {
	d := &Disk{Header: Header{
		Version:  0x22,
		DiskType: diskType,
		Flags:    FlagIndex | FlagTPI96,
	}}
	copy(d.Header.Signature[:], signature)
	if rpm == geom.Rpm360 {
		d.Header.Flags |= FlagRPM360
	}
	return d
}

// DiskTypeFor picks the PC disk type for a data rate and RPM.
func DiskTypeFor(rate geom.DataRate, rpm geom.RPM) uint8 {
	switch {
	case rate >= geom.Rate500K && rpm == geom.Rpm360:
		return DiskTypePC1200K
	case rate >= geom.Rate500K:
		return DiskTypePC1440K
	case rate >= geom.Rate300K || rpm == geom.Rpm360:
		return DiskTypePC360K
	case rate >= geom.Rate250K:
		return DiskTypePC720K
	}
	return DiskTypeOther
}

// Tick returns the flux sample period in seconds.
func (h *Header) Tick() float64 {
	return BaseTick * float64(int(h.Resolution)+1)
}

// RPM reports the drive speed flag.
func (h *Header) RPM() geom.RPM {
	if h.Flags&FlagRPM360 != 0 {
		return geom.Rpm360
	}
	return geom.Rpm300
}

// trackNumber maps a cylinder and head to a table index.
func (h *Header) trackNumber(ch geom.Ch) int {
	if h.Heads != 0 {
		return int(ch.Cyl)
	}
	return int(ch.Cyl)*2 + int(ch.Head)
}

func (h *Header) trackCh(n int) geom.Ch {
	switch h.Heads {
	case 1:
		return geom.Ch{Cyl: uint16(n)}
	case 2:
		return geom.Ch{Cyl: uint16(n), Head: 1}
	}
	return geom.Ch{Cyl: uint16(n / 2), Head: uint8(n % 2)}
}

// AddTrack stores the revolutions of one track, replacing any previous
// capture of the same track.
func (d *Disk) AddTrack(ch geom.Ch, revs []flux.Capture) error {
	if n := d.Header.trackNumber(ch); n >= NumTracks {
		return fmt.Errorf("scp: track %d out of range", n)
	}
	for i := range d.Tracks {
		if d.Tracks[i].Ch == ch {
			d.Tracks[i].Revolutions = revs
			return nil
		}
	}
	d.Tracks = append(d.Tracks, Track{Ch: ch, Revolutions: revs})
	sort.Slice(d.Tracks, func(i, j int) bool {
		return d.Header.trackNumber(d.Tracks[i].Ch) < d.Header.trackNumber(d.Tracks[j].Ch)
	})
	return nil
}

// Track returns the revolutions captured for ch.
func (d *Disk) Track(ch geom.Ch) ([]flux.Capture, bool) {
	for _, t := range d.Tracks {
		if t.Ch == ch {
			return t.Revolutions, true
		}
	}
	return nil, false
}
