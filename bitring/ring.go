// Package bitring provides a circular view over a finite bit sequence.
//
// A disk track is a circle: reading past the end of a captured revolution
// continues from its start. Ring models this with a configurable wrap
// length, and an optional constant returned past the wrap point for
// auxiliary maps that must not wrap.
package bitring

import (
	"io"
	"iter"
)

// Ring is a bit buffer indexed modulo its wrap length.
type Ring struct {
	bits      *BitVec
	wrap      int
	cursor    int
	wrapValue bool
	hasValue  bool
}

// New wraps bits in a ring. The wrap length equals the bit length.
func New(bits *BitVec) *Ring {
	return &Ring{bits: bits, wrap: bits.Len()}
}

// FromBytes builds a ring from MSB-first packed bytes.
func FromBytes(data []byte) *Ring {
	return New(VecFromBytes(data))
}

// Filled returns a ring of n bits all set to v.
func Filled(n int, v bool) *Ring {
	return New(FilledVec(n, v))
}

func (r *Ring) Len() int {
	return r.bits.Len()
}

func (r *Ring) IsEmpty() bool {
	return r.bits.Len() == 0
}

// WrapLen returns the index at which reads start over.
func (r *Ring) WrapLen() int {
	return r.wrap
}

// SetWrap sets the wrap length, clamped to the bit length.
func (r *Ring) SetWrap(n int) {
	r.wrap = min(n, r.bits.Len())
	if r.wrap > 0 {
		r.cursor %= r.wrap
	} else {
		r.cursor = 0
	}
}

// SetWrapValue makes every index at or past the wrap length read as v.
func (r *Ring) SetWrapValue(v bool) {
	r.wrapValue = v
	r.hasValue = true
}

// ClearWrapValue restores modulo indexing past the wrap length.
func (r *Ring) ClearWrapValue() {
	r.hasValue = false
}

// WrapValue returns the override bit and whether one is set.
func (r *Ring) WrapValue() (bool, bool) {
	return r.wrapValue, r.hasValue
}

// Get returns the bit at index i.
func (r *Ring) Get(i int) bool {
	if i < r.wrap {
		return r.bits.Get(i)
	}
	if r.hasValue {
		return r.wrapValue
	}
	if r.wrap == 0 {
		return false
	}
	return r.bits.Get(i % r.wrap)
}

// Set writes bit i. Indices past the wrap length land in the first revolution.
func (r *Ring) Set(i int, b bool) {
	if r.wrap == 0 {
		return
	}
	if i >= r.wrap {
		i %= r.wrap
	}
	r.bits.Set(i, b)
}

// Bits returns the underlying vector.
func (r *Ring) Bits() *BitVec {
	return r.bits
}

// Bytes packs the underlying vector MSB-first.
func (r *Ring) Bytes() []byte {
	return r.bits.Bytes()
}

// All yields ring bits starting at index 0 forever. Callers must bound it.
func (r *Ring) All() iter.Seq[bool] {
	return func(yield func(bool) bool) {
		if r.wrap == 0 {
			return
		}
		for i := 0; ; i++ {
			if !yield(r.Get(i)) {
				return
			}
		}
	}
}

// Revolution yields exactly WrapLen bits with their indices.
func (r *Ring) Revolution() iter.Seq2[int, bool] {
	return func(yield func(int, bool) bool) {
		for i := 0; i < r.wrap; i++ {
			if !yield(i, r.bits.Get(i)) {
				return
			}
		}
	}
}

// Cursor returns the position of the next bit returned by Next.
func (r *Ring) Cursor() int {
	return r.cursor
}

// Next returns the bit under the cursor and advances it, wrapping at WrapLen.
func (r *Ring) Next() bool {
	if r.wrap == 0 {
		return false
	}
	bit := r.bits.Get(r.cursor)
	r.cursor = (r.cursor + 1) % r.wrap
	return bit
}

// Read fills p with ring bits, eight per byte, least significant bit first.
// The cursor wraps, so Read never runs out of data on a non-empty ring.
func (r *Ring) Read(p []byte) (int, error) {
	if r.wrap == 0 {
		return 0, io.EOF
	}
	for n := range p {
		var b byte
		for i := 0; i < 8; i++ {
			if r.Next() {
				b |= 1 << i
			}
		}
		p[n] = b
	}
	return len(p), nil
}
