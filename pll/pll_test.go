package pll

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
)

func us(v ...float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * 1e-6
	}
	return out
}

func bitString(v *bitring.BitVec) string {
	var sb strings.Builder
	for i := 0; i < v.Len(); i++ {
		if v.Get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// cellDeltas converts bitcells to flux intervals: a transition at the end
// of every one cell. Each interval is scaled by speed and jittered by up to
// jitter (fraction) using a fixed seed.
func cellDeltas(bits *bitring.BitVec, cell, speed, jitter float64) []float64 {
	rng := rand.New(rand.NewSource(42))
	var out []float64
	run := 0
	for i := 0; i < bits.Len(); i++ {
		run++
		if bits.Get(i) {
			d := float64(run) * cell * speed
			d *= 1 + (rng.Float64()*2-1)*jitter
			out = append(out, d)
			run = 0
		}
	}
	return out
}

func TestDecodeScenario(t *testing.T) {
	p := New()
	res := p.Decode(us(4, 4, 6, 4), codec.EncodingMFM)
	if got := bitString(res.Bits); got != "010100101" {
		t.Errorf("bits = %s, want 010100101", got)
	}
	if res.Stats.Short != 3 || res.Stats.Medium != 1 || res.Stats.TooShort != 0 || res.Stats.TooLong != 0 {
		t.Errorf("stats = %v", res.Stats)
	}
	want := []Transition{Short, Short, Medium, Short}
	for i, tr := range want {
		if res.Transitions[i] != tr {
			t.Errorf("transition %d = %v, want %v", i, res.Transitions[i], tr)
		}
	}
	if res.Errors.Len() != res.Bits.Len() || res.Errors.Count() != 0 {
		t.Errorf("error map %s", bitString(res.Errors))
	}
}

func TestDecodeTickBoundaries(t *testing.T) {
	p := New()
	res := p.Decode(us(4, 2, 10, 4), codec.EncodingMFM)
	if got := bitString(res.Bits); got != "0101" {
		t.Errorf("bits = %s, want 0101", got)
	}
	if res.Stats.TooShort != 1 || res.Stats.TooLong != 1 || res.Stats.TooSlowBits != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if math.Abs(res.Stats.Shortest-2e-6) > 1e-12 || math.Abs(res.Stats.Longest-10e-6) > 1e-12 {
		t.Errorf("shortest %v longest %v", res.Stats.Shortest, res.Stats.Longest)
	}
}

func TestPhaseGain(t *testing.T) {
	// A transition 0.4us late, then an exact one: the second phase error
	// is what the gain left uncorrected.
	testCases := []struct {
		gain float64
		want float64
	}{
		{1, 0},
		{0.65, 0.14e-6},
		{0.5, 0.2e-6},
		{0, 0.4e-6},
	}
	for _, tc := range testCases {
		p := New()
		p.ClockGain = 0
		p.PhaseGain = tc.gain
		res := p.Decode(us(4.4, 4), codec.EncodingMFM)
		if got := bitString(res.Bits); got != "0101" {
			t.Errorf("gain %g: bits = %s, want 0101", tc.gain, got)
		}
		if len(res.Entries) != 2 {
			t.Fatalf("gain %g: %d entries", tc.gain, len(res.Entries))
		}
		if got := res.Entries[0].PhaseErr; math.Abs(got-0.4e-6) > 1e-12 {
			t.Errorf("gain %g: first phase error %g, want 4e-7", tc.gain, got)
		}
		if got := res.Entries[1].PhaseErr; math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("gain %g: second phase error %g, want %g", tc.gain, got, tc.want)
		}
	}
}

func TestPeriodClamp(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	testCases := []struct {
		name string
		enc  codec.Encoding
		rate float64
	}{
		{"MFM DD", codec.EncodingMFM, 500_000},
		{"MFM HD", codec.EncodingMFM, 1_000_000},
		{"FM", codec.EncodingFM, 500_000},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for iter := 0; iter < 20; iter++ {
				deltas := make([]float64, 2000)
				for i := range deltas {
					deltas[i] = (0.5 + rng.Float64()*12) * 1e-6
				}
				p := New()
				p.SetClock(tc.rate, 0)
				p.Decode(deltas, tc.enc)
				lo := p.NominalPeriod() * (1 - p.MaxAdjust)
				hi := p.NominalPeriod() * (1 + p.MaxAdjust)
				if p.Period() < lo || p.Period() > hi {
					t.Fatalf("period %v outside [%v, %v]", p.Period(), lo, hi)
				}
			}
		})
	}
}

func TestDecodeDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	deltas := make([]float64, 5000)
	for i := range deltas {
		deltas[i] = float64(2+rng.Intn(3))*2e-6 + (rng.Float64()-0.5)*0.6e-6
	}
	a := New().Decode(deltas, codec.EncodingMFM)
	b := New().Decode(deltas, codec.EncodingMFM)
	if !a.Bits.Equal(b.Bits) {
		t.Fatalf("bitstreams differ")
	}
	if len(a.Entries) != len(b.Entries) {
		t.Fatalf("entry counts differ")
	}
	for i := range a.Entries {
		if a.Entries[i] != b.Entries[i] {
			t.Fatalf("entry %d differs: %+v vs %+v", i, a.Entries[i], b.Entries[i])
		}
	}
}

// mfmMarkerTrack returns twelve zero bytes, an A1A1A1 FE marker and a few
// ID bytes, starting with a zero cell so the first flux is a valid one.
func mfmMarkerTrack() *bitring.BitVec {
	bits := codec.EncodeMfm(make([]byte, 12), true, codec.Data)
	bits.Append(bitring.VecFromBytes([]byte{0x44, 0x89, 0x44, 0x89, 0x44, 0x89}))
	bits.Append(codec.EncodeMfm([]byte{0xFE, 0x01, 0x00, 0x03, 0x02, 0x55}, true, codec.Data))
	return bits
}

func TestDecodeRecoversBitstream(t *testing.T) {
	testCases := []struct {
		name   string
		speed  float64
		jitter float64
	}{
		{"ideal", 1, 0},
		{"jitter", 1, 0.04},
		{"fast drive", 0.97, 0.03},
		{"slow drive", 1.03, 0.03},
	}
	raw := mfmMarkerTrack()
	last := raw.Len() - 1
	for !raw.Get(last) {
		last--
	}
	want := bitString(raw.Slice(0, last+1))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := New().Decode(cellDeltas(raw, BaseClock, tc.speed, tc.jitter), codec.EncodingMFM)
			if got := bitString(res.Bits); got != want {
				t.Fatalf("decoded\n%s\nwant\n%s", got, want)
			}
			if len(res.Markers) != 1 || res.Markers[0] != 12*codec.MfmByteLen {
				t.Errorf("markers = %v, want [192]", res.Markers)
			}
		})
	}
}

func TestDecodeFm(t *testing.T) {
	raw := codec.EncodeFm(make([]byte, 6), false, codec.Data)
	raw.Append(codec.EncodeFm([]byte{0xFE}, false, codec.AddressMark))
	raw.Append(codec.EncodeFm([]byte{0x02, 0x01}, false, codec.Data))

	p := New()
	res := p.Decode(cellDeltas(raw, 2*BaseClock, 1, 0.03), codec.EncodingFM)
	if !strings.HasPrefix(bitString(raw), bitString(res.Bits)) || res.Bits.Len() < raw.Len()-2 {
		t.Fatalf("decoded %d bits, not a prefix of the %d encoded", res.Bits.Len(), raw.Len())
	}
	if len(res.Markers) != 1 || res.Markers[0] != 3*codec.MfmByteLen {
		t.Errorf("markers = %v, want [48]", res.Markers)
	}
	if res.Stats.DetectEncoding() != codec.EncodingFM {
		t.Errorf("FM flux detected as %v", res.Stats.DetectEncoding())
	}
}

func TestClassifyTransition(t *testing.T) {
	testCases := []struct {
		d    float64
		want Transition
	}{
		{4e-6, Short},
		{4.4e-6, Short},
		{5.9e-6, Medium},
		{8.3e-6, Long},
		{5e-6, Other},
		{12e-6, Other},
	}
	for _, tc := range testCases {
		if got := ClassifyTransition(tc.d); got != tc.want {
			t.Errorf("ClassifyTransition(%v) = %v, want %v", tc.d, got, tc.want)
		}
	}
	if got := ClassifyDeltas(us(4, 0, 6)); len(got) != 3 || got[1] != Other {
		t.Errorf("ClassifyDeltas = %v", got)
	}
}

func TestDetect(t *testing.T) {
	mfm := FluxStats{Total: 100, Short: 60, ShortTime: 60 * 4e-6, Medium: 30, Long: 10}
	if mfm.DetectEncoding() != codec.EncodingMFM {
		t.Errorf("MFM stats detected as FM")
	}
	if d, ok := mfm.DetectDensity(false); !ok || d.String() != "Double" {
		t.Errorf("density = %v, %v", d, ok)
	}
	hd := FluxStats{Total: 100, Short: 50, ShortTime: 50 * 2e-6}
	if d, ok := hd.DetectDensity(false); !ok || d.String() != "High" {
		t.Errorf("density = %v, %v", d, ok)
	}
	if d, ok := hd.DetectDensity(true); !ok || d.String() != "Double" {
		t.Errorf("MFI density = %v, %v", d, ok)
	}
	if (FluxStats{}).DetectEncoding() != codec.EncodingFM {
		t.Errorf("empty stats not FM")
	}
}

func TestClock(t *testing.T) {
	p := New()
	p.SetClock(1_000_000, 0.1)
	if math.Abs(p.Clock()-1_000_000) > 1e-3 || p.MaxAdjust != 0.1 {
		t.Fatalf("clock %v max adjust %v", p.Clock(), p.MaxAdjust)
	}
	p.AdjustClock(0.5)
	if p.NominalPeriod() != 2e-6 {
		t.Errorf("adjusted period %v", p.NominalPeriod())
	}
	p.ResetClock()
	if p.NominalPeriod() != 1e-6 || p.DefaultPeriod() != 1e-6 {
		t.Errorf("reset period %v", p.NominalPeriod())
	}
	p.SetClock(0, 0)
	if p.DefaultPeriod() != 1e-6 {
		t.Errorf("invalid rate accepted")
	}
}

func TestFluxIterator(t *testing.T) {
	fi := NewFluxIterator([]uint64{2000, 6000, 10000})
	got := Deltas(fi)
	want := us(2, 4, 4)
	if len(got) != len(want) {
		t.Fatalf("Deltas = %v", got)
	}
	for i := range want {
		if d := got[i] - want[i]; d > 1e-15 || d < -1e-15 {
			t.Errorf("delta %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !fi.IsDone() || fi.NextFlux() != 0 {
		t.Errorf("iterator not exhausted")
	}
}
