package kryoflux

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
)

// Stream block codes
const (
	blockFlux2Max = 0x07
	blockNop1     = 0x08
	blockNop2     = 0x09
	blockNop3     = 0x0a
	blockOvl16    = 0x0b
	blockFlux3    = 0x0c
	blockOOB      = 0x0d
)

// OOB block types
const (
	oobStreamInfo = 0x01
	oobIndex      = 0x02
	oobStreamEnd  = 0x03
	oobKFInfo     = 0x04
	oobEOF        = 0x0d
)

// Stream end result codes
const (
	streamOK      = 0
	streamBuffer  = 1
	streamNoIndex = 2
)

// Timing information about each index.
type IndexTiming struct {
	// Position (in number of non-OOB bytes) in the stream of the next
	// flux reversal just after the index was detected.
	StreamPosition uint32

	// Value of the Sample Counter when the index was detected, in sample
	// clocks since the previous flux reversal.
	SampleCounter uint32

	// Value of the Index Counter when the index was detected, in index
	// clocks.
	IndexCounter uint32
}

// Stream is a decoded KryoFlux stream. Times are absolute sample clock
// counts from the start of the stream.
type Stream struct {
	Transitions []uint64
	Index       []uint64
	Timings     []IndexTiming
	SampleClock float64
	IndexClock  float64
	Info        []string
}

// DecodeStream parses a raw KryoFlux stream up to its EOF block.
func DecodeStream(data []byte) (*Stream, error) {
	s := &Stream{
		SampleClock: DefaultSampleClock,
		IndexClock:  DefaultIndexClock,
	}

	// Stream position and absolute time of every transition, and the
	// overflow pending before it.
	var positions []uint32
	var overflows []uint64

	var ticks, pending uint64
	var pos uint32
	emit := func(value uint64, size uint32) {
		positions = append(positions, pos)
		overflows = append(overflows, pending)
		ticks += pending + value
		pending = 0
		s.Transitions = append(s.Transitions, ticks)
		pos += size
	}

	i := 0
loop:
	for i < len(data) {
		val := data[i]
		switch {
		case val <= blockFlux2Max:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("incomplete Flux2 block at offset %d", i)
			}
			emit(uint64(val)<<8|uint64(data[i+1]), 2)
			i += 2
		case val == blockNop1, val == blockNop2, val == blockNop3:
			n := int(val-blockNop1) + 1
			pos += uint32(n)
			i += n
		case val == blockOvl16:
			pending += 0x10000
			pos++
			i++
		case val == blockFlux3:
			if i+2 >= len(data) {
				return nil, fmt.Errorf("incomplete Flux3 block at offset %d", i)
			}
			emit(uint64(data[i+1])<<8|uint64(data[i+2]), 3)
			i += 3
		case val == blockOOB:
			if i+4 > len(data) {
				return nil, fmt.Errorf("incomplete OOB header at offset %d", i)
			}
			oobType := data[i+1]
			if oobType == oobEOF {
				break loop
			}
			size := int(binary.LittleEndian.Uint16(data[i+2 : i+4]))
			if i+4+size > len(data) {
				return nil, fmt.Errorf("incomplete OOB data at offset %d", i)
			}
			if err := s.oob(oobType, data[i+4:i+4+size], pos); err != nil {
				return nil, err
			}
			i += 4 + size
		default:
			emit(uint64(val), 1)
			i++
		}
	}

	// An index belongs before the first transition at or after its
	// stream position.
	k := 0
	for _, it := range s.Timings {
		for k < len(positions) && positions[k] < it.StreamPosition {
			k++
		}
		var prev, ovl uint64
		if k > 0 {
			prev = s.Transitions[k-1]
		}
		if k < len(overflows) {
			ovl = overflows[k]
		}
		s.Index = append(s.Index, prev+ovl+uint64(it.SampleCounter))
	}
	return s, nil
}

// oob interprets one out-of-band block.
func (s *Stream) oob(oobType byte, body []byte, pos uint32) error {
	switch oobType {
	case oobIndex:
		if len(body) < 12 {
			return fmt.Errorf("short index block (%d bytes)", len(body))
		}
		s.Timings = append(s.Timings, IndexTiming{
			StreamPosition: binary.LittleEndian.Uint32(body[0:4]),
			SampleCounter:  binary.LittleEndian.Uint32(body[4:8]),
			IndexCounter:   binary.LittleEndian.Uint32(body[8:12]),
		})

	case oobStreamInfo, oobStreamEnd:
		if len(body) < 8 {
			return fmt.Errorf("short OOB block type %d (%d bytes)", oobType, len(body))
		}
		at := binary.LittleEndian.Uint32(body[0:4])
		if at != pos {
			log.Warnf("kryoflux: stream position %d, device reports %d", pos, at)
		}
		if oobType == oobStreamEnd {
			switch code := binary.LittleEndian.Uint32(body[4:8]); code {
			case streamOK:
			case streamBuffer:
				return fmt.Errorf("stream buffering problem")
			case streamNoIndex:
				return fmt.Errorf("no index signal")
			default:
				return fmt.Errorf("stream ended with code %d", code)
			}
		}

	case oobKFInfo:
		info := strings.TrimRight(string(body), "\x00")
		s.Info = append(s.Info, info)
		for _, field := range strings.Split(info, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
			if !ok {
				continue
			}
			clock, err := strconv.ParseFloat(value, 64)
			if err != nil || clock <= 0 {
				continue
			}
			switch key {
			case "sck":
				s.SampleClock = clock
			case "ick":
				s.IndexClock = clock
			}
		}
	}
	return nil
}

// nanoseconds converts sample clock counts to nanoseconds.
func (s *Stream) nanoseconds(ticks []uint64) []uint64 {
	out := make([]uint64, len(ticks))
	for i, t := range ticks {
		out[i] = uint64(float64(t) * 1e9 / s.SampleClock)
	}
	return out
}

// Captures cuts the stream into revolutions at its index pulses.
func (s *Stream) Captures() []flux.Capture {
	return flux.SplitRevolutions(s.nanoseconds(s.Transitions), s.nanoseconds(s.Index))
}

// RotationTime measures the first revolution with the index counter, in
// seconds.
func (s *Stream) RotationTime() (float64, bool) {
	if len(s.Timings) < 2 {
		return 0, false
	}
	d := s.Timings[1].IndexCounter - s.Timings[0].IndexCounter
	return float64(d) / s.IndexClock, true
}

// endOfStream scans for the EOF block starting at a block boundary.
// It returns the boundary to resume from when the end is not there yet.
func endOfStream(data []byte, offset int) (int, bool) {
	for offset < len(data) {
		val := data[offset]
		var size int
		switch {
		case val <= blockFlux2Max:
			size = 2
		case val == blockNop1, val == blockNop2, val == blockNop3:
			size = int(val-blockNop1) + 1
		case val == blockOvl16:
			size = 1
		case val == blockFlux3:
			size = 3
		case val == blockOOB:
			if offset+4 > len(data) {
				return offset, false
			}
			if data[offset+1] == oobEOF {
				return offset, true
			}
			size = 4 + int(binary.LittleEndian.Uint16(data[offset+2:offset+4]))
		default:
			size = 1
		}
		if offset+size > len(data) {
			return offset, false
		}
		offset += size
	}
	return offset, false
}
