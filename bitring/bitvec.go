package bitring

import "github.com/bits-and-blooms/bitset"

// BitVec is a packed bit vector with an explicit length.
// Byte conversions are MSB-first, matching the order bits come off the disk.
type BitVec struct {
	set *bitset.BitSet
	n   int
}

// NewVec returns a zeroed vector of n bits.
func NewVec(n int) *BitVec {
	return &BitVec{set: bitset.New(uint(n)), n: n}
}

// FilledVec returns a vector of n bits all set to v.
func FilledVec(n int, v bool) *BitVec {
	vec := NewVec(n)
	if v {
		for i := 0; i < n; i++ {
			vec.set.Set(uint(i))
		}
	}
	return vec
}

// VecFromBytes unpacks data MSB-first into a vector of 8*len(data) bits.
func VecFromBytes(data []byte) *BitVec {
	vec := NewVec(len(data) * 8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			if b&(0x80>>j) != 0 {
				vec.set.Set(uint(i*8 + j))
			}
		}
	}
	return vec
}

// VecFromBools builds a vector from a slice of booleans.
func VecFromBools(bits []bool) *BitVec {
	vec := NewVec(len(bits))
	for i, b := range bits {
		if b {
			vec.set.Set(uint(i))
		}
	}
	return vec
}

func (v *BitVec) Len() int {
	return v.n
}

func (v *BitVec) IsEmpty() bool {
	return v.n == 0
}

// Get returns bit i. It panics if i is out of range.
func (v *BitVec) Get(i int) bool {
	if i < 0 || i >= v.n {
		panic("bitring: index out of range")
	}
	return v.set.Test(uint(i))
}

// Set assigns bit i. It panics if i is out of range.
func (v *BitVec) Set(i int, b bool) {
	if i < 0 || i >= v.n {
		panic("bitring: index out of range")
	}
	v.set.SetTo(uint(i), b)
}

// Push appends one bit.
func (v *BitVec) Push(b bool) {
	v.set.SetTo(uint(v.n), b)
	v.n++
}

// Append appends all bits of o.
func (v *BitVec) Append(o *BitVec) {
	for i := 0; i < o.n; i++ {
		v.Push(o.set.Test(uint(i)))
	}
}

// Truncate shortens the vector to n bits. Longer lengths are ignored.
func (v *BitVec) Truncate(n int) {
	if n < 0 || n >= v.n {
		return
	}
	for i := n; i < v.n; i++ {
		v.set.Clear(uint(i))
	}
	v.n = n
}

// Count returns the number of set bits.
func (v *BitVec) Count() int {
	return int(v.set.Count())
}

// Bytes packs the vector MSB-first. A partial last byte is zero padded.
func (v *BitVec) Bytes() []byte {
	out := make([]byte, (v.n+7)/8)
	for i := 0; i < v.n; i++ {
		if v.set.Test(uint(i)) {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// Bools returns the vector as a slice of booleans.
func (v *BitVec) Bools() []bool {
	out := make([]bool, v.n)
	for i := range out {
		out[i] = v.set.Test(uint(i))
	}
	return out
}

// Slice copies bits [start, end) into a new vector.
func (v *BitVec) Slice(start, end int) *BitVec {
	if start < 0 {
		start = 0
	}
	if end > v.n {
		end = v.n
	}
	out := NewVec(0)
	for i := start; i < end; i++ {
		out.Push(v.set.Test(uint(i)))
	}
	return out
}

func (v *BitVec) Clone() *BitVec {
	return &BitVec{set: v.set.Clone(), n: v.n}
}

// Equal reports whether both vectors hold the same bits.
func (v *BitVec) Equal(o *BitVec) bool {
	if v.n != o.n {
		return false
	}
	return v.set.SymmetricDifferenceCardinality(o.set) == 0
}

func (v *BitVec) String() string {
	buf := make([]byte, v.n)
	for i := range buf {
		if v.set.Test(uint(i)) {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}
