package greaseweazle

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/sergev/floppyflux/flux"
)

func TestN28(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16383, 16384, 0x0FFFFFFF} {
		enc := encodeN28(v)
		for i, b := range enc {
			if b&1 == 0 {
				t.Errorf("encodeN28(%d) byte %d has bit 0 clear", v, i)
			}
		}
		got, n, err := readN28(enc, 0)
		if err != nil || n != 4 || got != v {
			t.Errorf("readN28(encodeN28(%d)) = %d, %d, %v", v, got, n, err)
		}
	}
	if _, _, err := readN28([]byte{1, 1, 1}, 0); err == nil {
		t.Errorf("readN28() accepted 3 bytes")
	}
}

func TestDecodeStream(t *testing.T) {
	stream := []byte{10, 0xFF, fluxOpIndex}
	stream = append(stream, encodeN28(5)...)
	stream = append(stream, 20, 0xFA, 1, 0xFB, 1, 0xFF, fluxOpSpace)
	stream = append(stream, encodeN28(1000)...)
	stream = append(stream, 5)

	transitions, index, err := DecodeStream(stream)
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	want := []uint64{10, 30, 280, 785, 1790}
	if len(transitions) != len(want) {
		t.Fatalf("got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %d, want %d", i, transitions[i], want[i])
		}
	}
	if len(index) != 1 || index[0] != 15 {
		t.Errorf("index = %v, want [15]", index)
	}
}

func TestDecodeStreamErrors(t *testing.T) {
	testCases := []struct {
		name   string
		stream []byte
	}{
		{"lone opcode", []byte{0xFF}},
		{"short n28", []byte{0xFF, fluxOpIndex, 1, 1}},
		{"unknown opcode", append([]byte{0xFF, 3}, encodeN28(0)...)},
		{"short extended", []byte{10, 0xFC}},
		{"embedded zero", []byte{10, 0, 10}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeStream(tc.stream); err == nil {
				t.Errorf("DecodeStream() accepted %x", tc.stream)
			}
		})
	}
}

func TestEncodeStreamRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var transitions, index []uint64
	var now uint64
	for i := 0; i < 5000; i++ {
		prev := now
		if i%97 == 0 {
			now += uint64(1500 + rng.Intn(5000))
		} else {
			now += uint64(1 + rng.Intn(600))
		}
		if i%1000 == 0 {
			index = append(index, prev+uint64(rng.Int63n(int64(now-prev))))
		}
		transitions = append(transitions, now)
	}
	index = append(index, now)

	stream := EncodeStream(transitions, index)
	if stream[len(stream)-1] != 0 {
		t.Fatalf("stream is not terminated")
	}
	if bytes.IndexByte(stream[:len(stream)-1], 0) >= 0 {
		t.Fatalf("stream contains an embedded zero")
	}
	gotT, gotI, err := DecodeStream(stream[:len(stream)-1])
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	if len(gotT) != len(transitions) || len(gotI) != len(index) {
		t.Fatalf("got %d/%d, want %d/%d", len(gotT), len(gotI), len(transitions), len(index))
	}
	for i := range transitions {
		if gotT[i] != transitions[i] {
			t.Fatalf("transition %d = %d, want %d", i, gotT[i], transitions[i])
		}
	}
	for i := range index {
		if gotI[i] != index[i] {
			t.Errorf("index %d = %d, want %d", i, gotI[i], index[i])
		}
	}
}

func TestEncodeStreamBoundaries(t *testing.T) {
	testCases := []struct {
		ticks uint64
		want  []byte
	}{
		{1, []byte{1}},
		{249, []byte{249}},
		{250, []byte{0xFA, 1}},
		{504, []byte{0xFA, 255}},
		{505, []byte{0xFB, 1}},
		{1524, []byte{0xFE, 255}},
		{1525, append(append([]byte{0xFF, fluxOpSpace}, encodeN28(1524)...), 1)},
	}
	for _, tc := range testCases {
		got := EncodeStream([]uint64{tc.ticks}, nil)
		want := append(tc.want, 0)
		if !bytes.Equal(got, want) {
			t.Errorf("EncodeStream(%d) = %x, want %x", tc.ticks, got, want)
		}
	}
}

func TestStreamToCaptures(t *testing.T) {
	const freq = 72_000_000
	rev := uint64(freq / 5) // 200 ms

	var transitions []uint64
	for tick := uint64(100); tick < 2*rev+500; tick += 288 {
		transitions = append(transitions, tick)
	}
	index := []uint64{50, 50 + rev, 50 + 2*rev}

	stream := EncodeStream(transitions, index)
	gotT, gotI, err := DecodeStream(stream[:len(stream)-1])
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	indexNs := ticksToNs(gotI, freq)
	captures := flux.SplitRevolutions(ticksToNs(gotT, freq), indexNs)
	if len(captures) != 2 {
		t.Fatalf("got %d captures", len(captures))
	}
	for i, c := range captures {
		if c.IndexTime < 0.1999 || c.IndexTime > 0.2001 {
			t.Errorf("capture %d index time %g", i, c.IndexTime)
		}
		if n := len(c.Deltas); n < 49990 || n > 50010 {
			t.Errorf("capture %d has %d transitions", i, n)
		}
	}
	if rpm := estimateRPM(indexNs); rpm != 300 {
		t.Errorf("estimateRPM() = %d, want 300", rpm)
	}
	if rpm := estimateRPM([]uint64{0, 166_666_667}); rpm != 360 {
		t.Errorf("estimateRPM() = %d, want 360", rpm)
	}
	if rpm := estimateRPM(nil); rpm != 300 {
		t.Errorf("estimateRPM(nil) = %d", rpm)
	}
}
