// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package succinct

import (
	"fmt"
	"math/bits"
)

// PackedArray stores unsigned integers of exactly B bits each.
//
// Description:
//
//	Value i occupies bits [i*B, (i+1)*B) of the word stream. A value may
//	straddle two adjacent words; reads and writes split accordingly.
//
// Thread Safety: Not safe for concurrent mutation. Safe for concurrent
// reads once construction is finished.
type PackedArray struct {
	words []uint64
	width int
	mask  uint64
	n     int
}

// NewPackedArray creates an empty array of width bitsPerValue.
//
// Outputs:
//
//	*PackedArray - The array.
//	error - ErrInvalidWidth when bitsPerValue is outside 1..64.
func NewPackedArray(bitsPerValue int) (*PackedArray, error) {
	return NewPackedArrayWithCapacity(bitsPerValue, 0)
}

// NewPackedArrayWithCapacity creates an empty array sized for capacity values.
func NewPackedArrayWithCapacity(bitsPerValue, capacity int) (*PackedArray, error) {
	if bitsPerValue < 1 || bitsPerValue > 64 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWidth, bitsPerValue)
	}
	if capacity < 0 {
		capacity = 0
	}
	mask := ^uint64(0)
	if bitsPerValue < 64 {
		mask = (uint64(1) << uint(bitsPerValue)) - 1
	}
	return &PackedArray{
		words: make([]uint64, 0, wordsFor(capacity*bitsPerValue)),
		width: bitsPerValue,
		mask:  mask,
	}, nil
}

// PackedArrayFromSlice packs values at the given width.
func PackedArrayFromSlice(values []uint64, bitsPerValue int) (*PackedArray, error) {
	pa, err := NewPackedArrayWithCapacity(bitsPerValue, len(values))
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := pa.Push(v); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return pa, nil
}

// PackedArrayFitting packs values at the smallest width that holds max(values).
func PackedArrayFitting(values []uint64) *PackedArray {
	var maxValue uint64
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}
	// Cannot fail: the width is derived from the data.
	pa, _ := PackedArrayFromSlice(values, BitsNeeded(maxValue))
	return pa
}

// BitsNeeded returns the minimum width able to store v (at least 1).
func BitsNeeded(v uint64) int {
	if v == 0 {
		return 1
	}
	return bits.Len64(v)
}

// Len returns the number of stored values.
func (p *PackedArray) Len() int {
	return p.n
}

// BitsPerValue returns the declared width B.
func (p *PackedArray) BitsPerValue() int {
	return p.width
}

// Push appends v.
//
// Outputs:
//
//	error - ErrOversizedValue when v > 2^B-1. The array is unchanged.
func (p *PackedArray) Push(v uint64) error {
	if v > p.mask {
		return fmt.Errorf("%w: %d does not fit in %d bits", ErrOversizedValue, v, p.width)
	}
	need := wordsFor((p.n + 1) * p.width)
	for len(p.words) < need {
		p.words = append(p.words, 0)
	}
	p.put(p.n, v)
	p.n++
	return nil
}

// Get returns value i.
func (p *PackedArray) Get(i int) (uint64, error) {
	if i < 0 || i >= p.n {
		return 0, fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, p.n)
	}
	return p.at(i), nil
}

// at is the unchecked read.
func (p *PackedArray) at(i int) uint64 {
	off := i * p.width
	wi, bi := off/wordBits, uint(off%wordBits)
	if int(bi)+p.width <= wordBits {
		return (p.words[wi] >> bi) & p.mask
	}
	lo := p.words[wi] >> bi
	hi := p.words[wi+1] << (wordBits - bi)
	return (lo | hi) & p.mask
}

// Set overwrites value i with v.
func (p *PackedArray) Set(i int, v uint64) error {
	if i < 0 || i >= p.n {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, p.n)
	}
	if v > p.mask {
		return fmt.Errorf("%w: %d does not fit in %d bits", ErrOversizedValue, v, p.width)
	}
	p.put(i, v)
	return nil
}

// put writes v at slot i; the words must already cover the slot.
func (p *PackedArray) put(i int, v uint64) {
	off := i * p.width
	wi, bi := off/wordBits, uint(off%wordBits)
	p.words[wi] = p.words[wi]&^(p.mask<<bi) | v<<bi
	if int(bi)+p.width <= wordBits {
		return
	}
	hiBits := uint(int(bi) + p.width - wordBits)
	hiMask := (uint64(1) << hiBits) - 1
	p.words[wi+1] = p.words[wi+1]&^hiMask | v>>(wordBits-bi)
}

// Values returns all values as a plain slice.
func (p *PackedArray) Values() []uint64 {
	out := make([]uint64, p.n)
	for i := range out {
		out[i] = p.at(i)
	}
	return out
}

// MemoryBytes returns the storage cost of the backing words.
func (p *PackedArray) MemoryBytes() int {
	return len(p.words) * 8
}

// Efficiency returns theoretical bits as a percentage of allocated bits.
//
// An empty array reports 0.
func (p *PackedArray) Efficiency() float64 {
	if p.n == 0 || len(p.words) == 0 {
		return 0
	}
	theoretical := float64(p.n * p.width)
	actual := float64(len(p.words) * wordBits)
	return theoretical / actual * 100
}

// String renders the width, length and up to the first 10 values.
func (p *PackedArray) String() string {
	limit := p.n
	if limit > 10 {
		limit = 10
	}
	vals := make([]uint64, limit)
	for i := range vals {
		vals[i] = p.at(i)
	}
	suffix := ""
	if limit < p.n {
		suffix = "..."
	}
	return fmt.Sprintf("PackedArray[%d bits, %d values]%v%s", p.width, p.n, vals, suffix)
}
