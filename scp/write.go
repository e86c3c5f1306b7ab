package scp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
)

// WriteFile writes disk to a file.
func WriteFile(filename string, disk *Disk) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(file, disk); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write encodes disk with 16-bit flux words. Every track gets the same
// number of revolutions: the smallest count present.
func Write(w io.Writer, disk *Disk) error {
	h := disk.Header
	copy(h.Signature[:], signature)
	h.BitCellWidth = 0
	h.Checksum = 0

	revs := 0
	first, last := NumTracks, -1
	for _, t := range disk.Tracks {
		if len(t.Revolutions) == 0 {
			continue
		}
		if revs == 0 || len(t.Revolutions) < revs {
			revs = len(t.Revolutions)
		}
		n := h.trackNumber(t.Ch)
		if n >= NumTracks {
			return fmt.Errorf("scp: track %d out of range", n)
		}
		first, last = min(first, n), max(last, n)
	}
	if revs == 0 {
		return errors.New("scp: no tracks to write")
	}
	if revs > 0xFF {
		revs = 0xFF
	}
	h.Revolutions = uint8(revs)
	h.StartTrack, h.EndTrack = uint8(first), uint8(last)

	var table offsetTable
	var body bytes.Buffer
	base := headerSize + NumTracks*4
	for _, t := range disk.Tracks {
		if len(t.Revolutions) == 0 {
			continue
		}
		n := h.trackNumber(t.Ch)
		table.Offsets[n] = uint32(base + body.Len())
		block, err := encodeTrack(n, t.Revolutions[:revs], h.Tick())
		if err != nil {
			return fmt.Errorf("failed to encode track %d: %w", n, err)
		}
		body.Write(block)
	}

	tableBytes, err := restruct.Pack(binary.LittleEndian, &table)
	if err != nil {
		return err
	}
	h.Checksum = checksum(tableBytes) + checksum(body.Bytes())
	headerBytes, err := restruct.Pack(binary.LittleEndian, &h)
	if err != nil {
		return err
	}
	for _, b := range [][]byte{headerBytes, tableBytes, body.Bytes()} {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
	}
	log.Debugf("scp: wrote %d tracks, %d revolutions", len(disk.Tracks), revs)
	return nil
}

// encodeTrack builds one TRK block.
func encodeTrack(n int, revs []flux.Capture, tick float64) ([]byte, error) {
	th := trackHeader{Track: uint8(n)}
	copy(th.Signature[:], trackSignature)
	out, err := restruct.Pack(binary.LittleEndian, &th)
	if err != nil {
		return nil, err
	}

	words := make([][]byte, len(revs))
	offset := trackHdrSize + len(revs)*revEntrySize
	for i, c := range revs {
		words[i] = EncodeFlux(c.Deltas, tick)
		indexTime := c.IndexTime
		if indexTime == 0 {
			for _, d := range c.Deltas {
				indexTime += d
			}
		}
		e := revolutionEntry{
			IndexTime:  uint32(math.Round(indexTime / BaseTick)),
			FluxCount:  uint32(len(words[i]) / 2),
			DataOffset: uint32(offset),
		}
		entry, err := restruct.Pack(binary.LittleEndian, &e)
		if err != nil {
			return nil, err
		}
		out = append(out, entry...)
		offset += len(words[i])
	}
	for _, w := range words {
		out = append(out, w...)
	}
	return out, nil
}

// EncodeFlux converts seconds to 16-bit big-endian words, emitting a zero
// word for every full overflow.
func EncodeFlux(deltas []float64, tick float64) []byte {
	out := make([]byte, 0, len(deltas)*2)
	for _, d := range deltas {
		ticks := uint64(max(math.Round(d/tick), 1))
		for ticks > 0xFFFF {
			out = append(out, 0, 0)
			ticks -= 0x10000
		}
		if ticks == 0 {
			ticks = 1
		}
		out = binary.BigEndian.AppendUint16(out, uint16(ticks))
	}
	return out
}
