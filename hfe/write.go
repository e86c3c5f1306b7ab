package hfe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// WriteFile writes disk to a file.
func WriteFile(filename string, disk *Disk, version Version) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(file, disk, version); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write encodes disk as an HFE image. Version 3 streams carry weak
// bytes as RAND opcodes.
func Write(w io.Writer, disk *Disk, version Version) error {
	header := disk.Header
	switch version {
	case Version1:
		copy(header.Signature[:], v1Signature)
	case Version3:
		copy(header.Signature[:], v3Signature)
	default:
		return fmt.Errorf("hfe: invalid version %d (must be 1 or 3)", version)
	}
	sides := max(int(header.NumberOfSide), 1)
	header.NumberOfSide = uint8(sides)
	header.NumberOfTrack = uint8(len(disk.Tracks))
	header.FormatRevision = 0
	header.TrackListOffset = 1

	// Lay out the side streams.
	streams := make([][2][]byte, len(disk.Tracks))
	for i, t := range disk.Tracks {
		for s := 0; s < sides; s++ {
			if version == Version3 {
				streams[i][s] = encodeOpcodes(t.Side[s], t.Weak[s])
			} else {
				streams[i][s] = t.Side[s]
			}
		}
	}

	listBlocks := max((len(streams)*4+BlockSize-1)/BlockSize, 1)
	entries := make([]trackEntry, len(streams))
	pos := 1 + listBlocks
	for i, st := range streams {
		sideLen := max(len(st[0]), len(st[1]))
		if sideLen*2 > 0xFFFF {
			return fmt.Errorf("hfe: track %d too long (%d bytes per side)", i, sideLen)
		}
		entries[i] = trackEntry{Offset: uint16(pos), TrackLen: uint16(sideLen * 2)}
		pos += (sideLen*2 + BlockSize - 1) / BlockSize
		if pos > 0xFFFF {
			return fmt.Errorf("hfe: image too large at track %d", i)
		}
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		return err
	}
	buf.Write(bytes.Repeat([]byte{0xFF}, BlockSize-buf.Len()))
	if err := binary.Write(&buf, binary.LittleEndian, entries); err != nil {
		return err
	}
	buf.Write(bytes.Repeat([]byte{0xFF}, (1+listBlocks)*BlockSize-buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	pad := byte(0xFF)
	if version == Version3 {
		pad = opNop
	}
	for i, st := range streams {
		if _, err := w.Write(interleave(st, int(entries[i].TrackLen)/2, pad)); err != nil {
			return fmt.Errorf("failed to write track %d: %w", i, err)
		}
	}
	log.Debugf("hfe: wrote %d tracks, %d sides, version %d", len(streams), sides, version)
	return nil
}

// interleave packs both sides into 512-byte blocks, reversing the bit
// order of every byte. A missing side repeats side 0.
func interleave(st [2][]byte, sideLen int, pad byte) []byte {
	blocks := (sideLen*2 + BlockSize - 1) / BlockSize
	out := make([]byte, blocks*BlockSize)
	for s := 0; s < 2; s++ {
		src := st[s]
		if src == nil {
			src = st[0]
		}
		for i := 0; i < blocks*256; i++ {
			b := pad
			if i < len(src) {
				b = src[i]
			}
			out[(i/256)*BlockSize+s*256+i%256] = bitReverse[b]
		}
	}
	return out
}

// encodeOpcodes turns a bitstream into a version 3 stream. Bytes that
// look like opcodes are escaped with a zero SKIPBITS, and fully weak
// bytes become RAND.
func encodeOpcodes(data, weak []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, opSetIndex)
	for i, b := range data {
		switch {
		case i < len(weak) && weak[i] == 0xFF:
			out = append(out, opRand)
		case b&opcodeMask == opcodeMask:
			out = append(out, opSkipBits, 0, b)
		default:
			out = append(out, b)
		}
	}
	return out
}
