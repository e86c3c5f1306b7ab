package scp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
)

// ReadFile reads an SCP image from a file.
func ReadFile(filename string) (*Disk, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Read decodes an SCP image. A checksum mismatch is logged, not fatal.
func Read(r io.Reader) (*Disk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) < headerSize+NumTracks*4 {
		return nil, fmt.Errorf("scp: file too short (%d bytes)", len(data))
	}

	disk := &Disk{}
	h := &disk.Header
	if err := restruct.Unpack(data[:headerSize], binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if sig := string(h.Signature[:]); sig != signature {
		return nil, fmt.Errorf("%w: %q", ErrSignature, sig)
	}
	if h.Revolutions == 0 {
		return nil, errors.New("scp: no revolutions")
	}
	width := int(h.BitCellWidth)
	if width == 0 {
		width = 16
	}
	if width != 8 && width != 16 {
		return nil, fmt.Errorf("scp: unsupported bit cell width %d", width)
	}
	if h.Checksum != 0 {
		if sum := checksum(data[headerSize:]); sum != h.Checksum {
			log.Warnf("scp: checksum 0x%08x, header says 0x%08x", sum, h.Checksum)
		}
	}

	var table offsetTable
	if err := restruct.Unpack(data[headerSize:headerSize+NumTracks*4], binary.LittleEndian, &table); err != nil {
		return nil, fmt.Errorf("failed to decode track table: %w", err)
	}
	for n, off := range table.Offsets {
		if off == 0 {
			continue
		}
		revs, err := readTrack(data, int(off), n, h, width)
		if err != nil {
			return nil, fmt.Errorf("failed to read track %d: %w", n, err)
		}
		disk.Tracks = append(disk.Tracks, Track{Ch: h.trackCh(n), Revolutions: revs})
	}
	log.Debugf("scp: read %d tracks, %d revolutions, tick %.0f ns",
		len(disk.Tracks), h.Revolutions, h.Tick()*1e9)
	return disk, nil
}

func readTrack(data []byte, off, n int, h *Header, width int) ([]flux.Capture, error) {
	end := off + trackHdrSize + int(h.Revolutions)*revEntrySize
	if end > len(data) {
		return nil, io.ErrUnexpectedEOF
	}
	var th trackHeader
	if err := restruct.Unpack(data[off:off+trackHdrSize], binary.LittleEndian, &th); err != nil {
		return nil, err
	}
	if string(th.Signature[:]) != trackSignature {
		return nil, fmt.Errorf("%w: no TRK block at 0x%x", ErrSignature, off)
	}
	if int(th.Track) != n {
		log.Warnf("scp: table entry %d points to track %d", n, th.Track)
	}

	revs := make([]flux.Capture, 0, h.Revolutions)
	for i := 0; i < int(h.Revolutions); i++ {
		p := off + trackHdrSize + i*revEntrySize
		var e revolutionEntry
		if err := restruct.Unpack(data[p:p+revEntrySize], binary.LittleEndian, &e); err != nil {
			return nil, err
		}
		start := off + int(e.DataOffset)
		stop := start + int(e.FluxCount)*width/8
		if stop > len(data) {
			return nil, fmt.Errorf("revolution %d: %w", i, io.ErrUnexpectedEOF)
		}
		revs = append(revs, flux.Capture{
			Deltas:    DecodeFlux(data[start:stop], width, h.Tick()),
			IndexTime: float64(e.IndexTime) * BaseTick,
		})
	}
	return revs, nil
}

// DecodeFlux converts flux words to seconds. A zero word adds a full
// word range to the next interval.
func DecodeFlux(words []byte, width int, tick float64) []float64 {
	step := width / 8
	overflow := uint64(1) << width
	deltas := make([]float64, 0, len(words)/step)
	var acc uint64
	for i := 0; i+step <= len(words); i += step {
		v := uint64(words[i])
		if step == 2 {
			v = uint64(binary.BigEndian.Uint16(words[i:]))
		}
		if v == 0 {
			acc += overflow
			continue
		}
		deltas = append(deltas, float64(acc+v)*tick)
		acc = 0
	}
	return deltas
}

func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
