package kryoflux

import (
	"encoding/binary"
	"math"
	"testing"
)

// streamBuilder renders test streams the way the device sends them.
type streamBuilder struct {
	data []byte
	pos  uint32
}

func (b *streamBuilder) raw(p ...byte) {
	b.data = append(b.data, p...)
	b.pos += uint32(len(p))
}

func (b *streamBuilder) flux(v uint64) {
	for v >= 0x10000 {
		b.raw(blockOvl16)
		v -= 0x10000
	}
	switch {
	case v >= 0x0e && v <= 0xff:
		b.raw(byte(v))
	case v < 0x800:
		b.raw(byte(v>>8), byte(v))
	default:
		b.raw(blockFlux3, byte(v>>8), byte(v))
	}
}

func (b *streamBuilder) oob(oobType byte, body []byte) {
	hdr := []byte{blockOOB, oobType, 0, 0}
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(body)))
	b.data = append(b.data, hdr...)
	b.data = append(b.data, body...)
}

func (b *streamBuilder) index(sampleCounter, indexCounter uint32) {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[0:], b.pos)
	binary.LittleEndian.PutUint32(body[4:], sampleCounter)
	binary.LittleEndian.PutUint32(body[8:], indexCounter)
	b.oob(oobIndex, body)
}

func (b *streamBuilder) end(code uint32) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:], b.pos)
	binary.LittleEndian.PutUint32(body[4:], code)
	b.oob(oobStreamEnd, body)
	b.data = append(b.data, blockOOB, oobEOF, blockOOB, blockOOB)
	return b.data
}

func TestDecodeStreamBlocks(t *testing.T) {
	var b streamBuilder
	b.oob(oobKFInfo, []byte("name=KryoFlux DiskSystem, version=3.00s, sck=24027428.5714285, ick=3003428.5714285625\x00"))
	b.flux(20)      // Flux1
	b.flux(0x100)   // Flux2
	b.flux(0x900)   // Flux3
	b.raw(blockNop2, 0)
	b.flux(0x10005) // Ovl16 + Flux2
	b.index(7, 1000)
	b.flux(30)
	b.raw(blockNop3, 0, 0)
	b.raw(blockNop1)
	b.flux(0x0d) // below Flux1 range
	data := b.end(0)

	s, err := DecodeStream(data)
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	want := []uint64{20, 276, 2580, 68121, 68151, 68164}
	if len(s.Transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", s.Transitions, want)
	}
	for i := range want {
		if s.Transitions[i] != want[i] {
			t.Errorf("transition %d = %d, want %d", i, s.Transitions[i], want[i])
		}
	}
	if len(s.Index) != 1 || s.Index[0] != 68128 {
		t.Errorf("index = %v, want [68128]", s.Index)
	}
	if len(s.Info) != 1 {
		t.Errorf("info = %q", s.Info)
	}
	if math.Abs(s.SampleClock-24027428.5714285) > 1e-6 {
		t.Errorf("sample clock = %f", s.SampleClock)
	}
}

func TestDecodeStreamClocks(t *testing.T) {
	var b streamBuilder
	b.oob(oobKFInfo, []byte("sck=24000000, ick=3000000, hwid=1\x00"))
	b.flux(100)
	s, err := DecodeStream(b.end(0))
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	if s.SampleClock != 24e6 || s.IndexClock != 3e6 {
		t.Errorf("clocks = %f, %f", s.SampleClock, s.IndexClock)
	}

	var d streamBuilder
	d.flux(100)
	s, err = DecodeStream(d.end(0))
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	if s.SampleClock != DefaultSampleClock || s.IndexClock != DefaultIndexClock {
		t.Errorf("default clocks = %f, %f", s.SampleClock, s.IndexClock)
	}
}

func TestDecodeStreamErrors(t *testing.T) {
	noIndex := func() []byte {
		var b streamBuilder
		b.flux(50)
		return b.end(streamNoIndex)
	}
	buffering := func() []byte {
		var b streamBuilder
		return b.end(streamBuffer)
	}
	shortIndex := func() []byte {
		var b streamBuilder
		b.oob(oobIndex, make([]byte, 8))
		return b.end(0)
	}

	testCases := []struct {
		name string
		data []byte
	}{
		{"no index", noIndex()},
		{"buffering", buffering()},
		{"short index block", shortIndex()},
		{"truncated flux2", []byte{0x01}},
		{"truncated flux3", []byte{blockFlux3, 1}},
		{"truncated oob header", []byte{blockOOB, oobIndex}},
		{"truncated oob body", []byte{blockOOB, oobKFInfo, 10, 0, 'a'}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeStream(tc.data); err == nil {
				t.Errorf("DecodeStream() accepted %x", tc.data)
			}
		})
	}
}

func TestStreamCaptures(t *testing.T) {
	const cell = 96 // 4 us at the default sample clock
	rev := uint64(DefaultSampleClock / 5)

	var b streamBuilder
	var now uint64
	for i := 0; i < 3; i++ {
		next := uint64(i)*rev + 1000
		for now+cell <= next {
			b.flux(cell)
			now += cell
		}
		b.index(uint32(next-now), uint32(1000+i*600686))
	}
	b.flux(cell)
	s, err := DecodeStream(b.end(0))
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	if len(s.Index) != 3 {
		t.Fatalf("got %d index pulses", len(s.Index))
	}
	for i, x := range s.Index {
		if want := uint64(i)*rev + 1000; x != want {
			t.Errorf("index %d at %d, want %d", i, x, want)
		}
	}

	captures := s.Captures()
	if len(captures) != 2 {
		t.Fatalf("got %d captures", len(captures))
	}
	for i, c := range captures {
		if math.Abs(c.IndexTime-0.2) > 1e-6 {
			t.Errorf("capture %d index time %g", i, c.IndexTime)
		}
		if n := len(c.Deltas); n < 50040 || n > 50060 {
			t.Errorf("capture %d has %d transitions", i, n)
		}
	}

	seconds, ok := s.RotationTime()
	if !ok || math.Abs(seconds-0.2) > 1e-4 {
		t.Errorf("RotationTime() = %g, %v", seconds, ok)
	}
}

func TestEndOfStream(t *testing.T) {
	var b streamBuilder
	b.oob(oobKFInfo, []byte("sck=24000000\x00"))
	for i := 0; i < 100; i++ {
		b.flux(uint64(20 + i*37))
	}
	b.index(3, 3)
	data := b.end(0)
	eof := len(data) - 4

	for _, split := range []int{1, 3, 5, 64, 101} {
		offset := 0
		done := false
		for n := split; !done; n += split {
			if n > len(data) {
				n = len(data)
			}
			offset, done = endOfStream(data[:n], offset)
			if !done && n == len(data) {
				t.Fatalf("split %d: end not found", split)
			}
		}
		if offset != eof {
			t.Errorf("split %d: EOF at %d, want %d", split, offset, eof)
		}
	}
}
