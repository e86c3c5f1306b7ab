package bitring

import (
	"math/rand"
	"testing"
)

func randomVec(rng *rand.Rand, n int) *BitVec {
	vec := NewVec(n)
	for i := 0; i < n; i++ {
		vec.Set(i, rng.Intn(2) == 1)
	}
	return vec
}

// Reads past the wrap point must repeat the first revolution.
func TestRingWrap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	testCases := []struct {
		name string
		len  int
		wrap int
	}{
		{"FullLength", 100, 100},
		{"ShortWrap", 100, 37},
		{"OddLength", 13, 13},
		{"WrapBeyondLength", 40, 400},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ring := New(randomVec(rng, tc.len))
			ring.SetWrap(tc.wrap)

			wrap := ring.WrapLen()
			if wrap > ring.Len() {
				t.Fatalf("WrapLen() = %d, exceeds Len() = %d", wrap, ring.Len())
			}
			for i := wrap; i < wrap*5; i++ {
				if ring.Get(i) != ring.Get(i%wrap) {
					t.Errorf("Get(%d) = %v, expected Get(%d) = %v", i, ring.Get(i), i%wrap, ring.Get(i%wrap))
				}
			}
		})
	}
}

// With a wrap value set, every index past the wrap reads as that value.
func TestRingWrapValue(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, v := range []bool{false, true} {
		ring := New(randomVec(rng, 64))
		ring.SetWrap(50)
		ring.SetWrapValue(v)
		for i := 50; i < 300; i++ {
			if ring.Get(i) != v {
				t.Fatalf("Get(%d) = %v, expected wrap value %v", i, ring.Get(i), v)
			}
		}
		ring.ClearWrapValue()
		if ring.Get(60) != ring.Get(10) {
			t.Errorf("after ClearWrapValue, Get(60) != Get(10)")
		}
	}
}

func TestRingRevolutionLength(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 1000} {
		ring := New(NewVec(n))
		count := 0
		for range ring.Revolution() {
			count++
		}
		if count != ring.Len() {
			t.Errorf("Revolution() yielded %d bits for ring of %d", count, ring.Len())
		}
	}
}

func TestRingAllIsUnbounded(t *testing.T) {
	ring := FromBytes([]byte{0xA5})
	count := 0
	for bit := range ring.All() {
		if bit != ring.Get(count%8) {
			t.Fatalf("All() bit %d = %v, expected %v", count, bit, ring.Get(count%8))
		}
		count++
		if count == 100 {
			break
		}
	}
	if count != 100 {
		t.Errorf("All() stopped after %d bits", count)
	}
}

// Writes past the wrap point are folded into the primary revolution.
func TestRingSetNormalizes(t *testing.T) {
	ring := New(NewVec(16))
	ring.Set(16+5, true)
	if !ring.Get(5) {
		t.Errorf("Set(21) did not set bit 5")
	}
	ring.SetWrap(10)
	ring.Set(13, true)
	if !ring.Get(3) {
		t.Errorf("Set(13) with wrap 10 did not set bit 3")
	}
}

func TestRingRead(t *testing.T) {
	// 0x0F MSB-first is 00001111; Read packs LSB-first so byte 0 is 0xF0.
	ring := FromBytes([]byte{0x0F, 0x80})
	buf := make([]byte, 3)
	n, err := ring.Read(buf)
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("Read() = %d, expected 3", n)
	}
	expected := []byte{0xF0, 0x01, 0xF0}
	for i := range expected {
		if buf[i] != expected[i] {
			t.Errorf("Read() byte %d = 0x%02X, expected 0x%02X", i, buf[i], expected[i])
		}
	}

	empty := New(NewVec(0))
	if _, err := empty.Read(buf); err == nil {
		t.Errorf("Read() on empty ring returned no error")
	}
}

func TestBitVecBytesRoundTrip(t *testing.T) {
	data := []byte{0x44, 0x89, 0x00, 0xFF, 0x5A}
	vec := VecFromBytes(data)
	if vec.Len() != 40 {
		t.Fatalf("Len() = %d, expected 40", vec.Len())
	}
	out := vec.Bytes()
	for i := range data {
		if out[i] != data[i] {
			t.Errorf("Bytes()[%d] = 0x%02X, expected 0x%02X", i, out[i], data[i])
		}
	}
	if vec.Count() != 2+3+0+8+4 {
		t.Errorf("Count() = %d", vec.Count())
	}

	vec.Truncate(12)
	if vec.Len() != 12 || vec.Count() != 3 {
		t.Errorf("after Truncate(12): Len() = %d Count() = %d", vec.Len(), vec.Count())
	}
	if !vec.Equal(VecFromBools([]bool{false, true, false, false, false, true, false, false, true, false, false, false})) {
		t.Errorf("truncated vector = %s", vec)
	}
}
