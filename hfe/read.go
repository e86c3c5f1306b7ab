package hfe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// ReadFile reads an HFE image from a file.
func ReadFile(filename string) (*Disk, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Read decodes an HFE v1 or v3 image. Version 2 is rejected.
func Read(r io.ReadSeeker) (*Disk, error) {
	disk := &Disk{}
	if err := binary.Read(r, binary.LittleEndian, &disk.Header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h := &disk.Header
	var v3 bool
	switch sig := string(h.Signature[:]); sig {
	case v1Signature:
		if h.FormatRevision == 1 {
			return nil, errors.New("hfe: version 2 (revision 1) is not supported")
		}
	case v3Signature:
		v3 = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrSignature, sig)
	}
	if h.FormatRevision != 0 {
		return nil, fmt.Errorf("hfe: invalid format revision %d", h.FormatRevision)
	}
	if h.BitRate == 0 {
		return nil, errors.New("hfe: invalid bit rate")
	}
	if h.NumberOfTrack == 0 {
		return nil, errors.New("hfe: invalid number of tracks")
	}
	if h.NumberOfSide == 0 || h.NumberOfSide > 2 {
		return nil, fmt.Errorf("hfe: invalid number of sides %d", h.NumberOfSide)
	}

	if _, err := r.Seek(int64(h.TrackListOffset)*BlockSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to track list: %w", err)
	}
	entries := make([]trackEntry, h.NumberOfTrack)
	if err := binary.Read(r, binary.LittleEndian, entries); err != nil {
		return nil, fmt.Errorf("failed to read track list: %w", err)
	}

	disk.Tracks = make([]TrackData, h.NumberOfTrack)
	for i := range entries {
		t, err := readTrack(r, entries[i], int(h.NumberOfSide), v3)
		if err != nil {
			return nil, fmt.Errorf("failed to read track %d: %w", i, err)
		}
		disk.Tracks[i] = t
	}

	if h.FloppyRPM == 0 {
		// Guess from the length of track 0.
		trackBits := len(disk.Tracks[0].Side[0]) * 8
		if trackBits == 0 {
			return nil, errors.New("hfe: unknown RPM")
		}
		rpm := 60 * uint32(h.BitRate) * 2000 / uint32(trackBits)
		if rpm > 400 || rpm < 250 {
			return nil, fmt.Errorf("hfe: bad RPM %d", rpm)
		}
		h.FloppyRPM = 300
		if rpm >= 330 {
			h.FloppyRPM = 360
		}
	}
	log.Debugf("hfe: read %d tracks, %d sides, %d Kbps, %d RPM, v3 %v",
		h.NumberOfTrack, h.NumberOfSide, h.BitRate, h.FloppyRPM, v3)
	return disk, nil
}

// readTrack reads the interleaved blocks of one cylinder: each 512-byte
// block holds 256 bytes of side 0 followed by 256 bytes of side 1.
func readTrack(r io.ReadSeeker, e trackEntry, sides int, v3 bool) (TrackData, error) {
	var t TrackData
	blocks := (int(e.TrackLen) + BlockSize - 1) / BlockSize
	if _, err := r.Seek(int64(e.Offset)*BlockSize, io.SeekStart); err != nil {
		return t, fmt.Errorf("failed to seek to track data: %w", err)
	}
	buf := make([]byte, blocks*BlockSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return t, fmt.Errorf("failed to read track data: %w", err)
	}

	sideLen := int(e.TrackLen) / 2
	for s := 0; s < sides; s++ {
		data := make([]byte, sideLen)
		for i := range data {
			data[i] = bitReverse[buf[(i/256)*BlockSize+s*256+i%256]]
		}
		if !v3 {
			t.Side[s] = data
			continue
		}
		bits, weak, err := processOpcodes(data)
		if err != nil {
			return t, fmt.Errorf("side %d: %w", s, err)
		}
		t.Side[s] = bits
		for _, w := range weak {
			if w != 0 {
				t.Weak[s] = weak
				break
			}
		}
	}
	return t, nil
}

// processOpcodes expands a version 3 stream into plain bits and a weak
// mask, rotated so that the index mark is at bit 0.
func processOpcodes(data []byte) ([]byte, []byte, error) {
	out := make([]byte, len(data))
	weak := make([]byte, len(data))

	inBit, outBit, indexBit := 0, 0, 0
	for inBit/8 < len(data) {
		opc := data[inBit/8]
		if opc&opcodeMask != opcodeMask {
			bitCopy(out, outBit, data, inBit, 8)
			inBit += 8
			outBit += 8
			continue
		}
		switch opc {
		case opNop:
			inBit += 8
		case opSetIndex:
			inBit += 8
			indexBit = outBit
		case opSetBitrate:
			if inBit/8+1 >= len(data) {
				return nil, nil, errors.New("SETBITRATE opcode: insufficient data")
			}
			if rate := data[inBit/8+1]; rate != 0 {
				log.Tracef("hfe: bit rate %d bps at bit %d", floppyEmuFreq/(int(rate)*2), outBit)
			}
			inBit += 16
		case opSkipBits:
			if inBit/8+1 >= len(data) {
				return nil, nil, errors.New("SKIPBITS opcode: insufficient data")
			}
			skip := int(data[inBit/8+1])
			if skip > 7 {
				return nil, nil, fmt.Errorf("SKIPBITS opcode: skip value %d > 7", skip)
			}
			inBit += 16 + skip
			outBit = bitCopy(out, outBit, data, inBit, 8-skip)
			inBit += 8 - skip
		case opRand:
			inBit += 8
			if outBit%8 == 0 {
				weak[outBit/8] = 0xFF
			} else {
				bitCopy(weak, outBit, []byte{0xFF}, 0, 8)
			}
			outBit += 8
		default:
			return nil, nil, fmt.Errorf("unknown opcode: 0x%02X", opc)
		}
	}

	n := outBit
	bits := make([]byte, (n+7)/8)
	mask := make([]byte, (n+7)/8)
	for _, p := range [][2][]byte{{bits, out}, {mask, weak}} {
		bitCopy(p[0], 0, p[1], indexBit, n-indexBit)
		bitCopy(p[0], n-indexBit, p[1], 0, indexBit)
	}
	return bits, mask, nil
}
