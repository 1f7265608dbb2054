// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package succinct provides the succinct building blocks for compact CST
// storage: an immutable bit vector with rank/select, a mutable bit vector
// for construction, a bit-packed integer array, balanced-parenthesis tree
// topology, and varint/delta codecs.
//
// # Thread Safety
//
// BitVec, PackedArray (once no longer mutated) and BP are immutable and safe
// for unrestricted concurrent reads. MutableBitVec, BPBuilder and the delta
// encoder are single-goroutine construction helpers.
package succinct

import (
	"fmt"
	"math/bits"
	"strings"
	"sync"
)

const wordBits = 64

// wordsFor returns the number of 64-bit words needed to hold n bits.
func wordsFor(n int) int {
	return (n + wordBits - 1) / wordBits
}

// BitVec is an immutable bit vector packed into 64-bit words.
//
// Description:
//
//	Bit i lives in words[i/64] at bit position i%64 (least significant bit
//	first). Bits past Len() in the last word are always zero, which lets
//	CountOnes and Select1 work on whole words without masking. A
//	RankSelect directory is built on the first rank or select call.
//
// Thread Safety: Immutable. Safe for concurrent use.
type BitVec struct {
	words []uint64
	n     int

	dirOnce sync.Once
	dir     *RankSelect
}

// Directory returns the rank/select directory, building it on first use.
func (b *BitVec) Directory() *RankSelect {
	b.dirOnce.Do(func() {
		b.dir = NewRankSelect(b)
	})
	return b.dir
}

// NewBitVec creates an all-zero bit vector of n bits.
func NewBitVec(n int) *BitVec {
	if n < 0 {
		n = 0
	}
	return &BitVec{words: make([]uint64, wordsFor(n)), n: n}
}

// BitVecFromBits creates a bit vector with bit i set when bits[i] is true.
func BitVecFromBits(bitsIn []bool) *BitVec {
	bv := NewBitVec(len(bitsIn))
	for i, b := range bitsIn {
		if b {
			bv.words[i/wordBits] |= 1 << uint(i%wordBits)
		}
	}
	return bv
}

// BitVecFromWords creates a bit vector of n bits backed by words.
//
// Description:
//
//	Takes ownership of words. Extra trailing words are dropped and bits past
//	n in the last word are cleared so the tail invariant holds.
//
// Outputs:
//
//	*BitVec - The bit vector.
//	error - ErrOutOfRange if words is too short to hold n bits.
func BitVecFromWords(words []uint64, n int) (*BitVec, error) {
	need := wordsFor(n)
	if n < 0 || len(words) < need {
		return nil, fmt.Errorf("%w: %d words cannot hold %d bits", ErrOutOfRange, len(words), n)
	}
	words = words[:need]
	if rem := n % wordBits; rem != 0 {
		words[need-1] &= (uint64(1) << uint(rem)) - 1
	}
	return &BitVec{words: words, n: n}, nil
}

// Len returns the number of bits.
func (b *BitVec) Len() int {
	return b.n
}

// Words returns the backing words. Callers must not modify the result.
func (b *BitVec) Words() []uint64 {
	return b.words
}

// MemoryBytes returns the storage cost of the backing words.
func (b *BitVec) MemoryBytes() int {
	return len(b.words) * 8
}

// Get returns bit i.
//
// Outputs:
//
//	bool - The bit value.
//	error - ErrOutOfRange when i is negative or i >= Len().
func (b *BitVec) Get(i int) (bool, error) {
	if i < 0 || i >= b.n {
		return false, fmt.Errorf("%w: bit %d of %d", ErrOutOfRange, i, b.n)
	}
	return b.bit(i), nil
}

// bit is the unchecked accessor used by navigation code that has already
// validated its index.
func (b *BitVec) bit(i int) bool {
	return b.words[i/wordBits]>>uint(i%wordBits)&1 != 0
}

// Set returns a copy of the vector with bit i set to v.
//
// Description:
//
//	Copy-on-write: the receiver is not modified, so previously shared
//	references stay valid. This is O(n) in the number of words; hot
//	construction paths should use MutableBitVec instead.
//
// Outputs:
//
//	*BitVec - The updated copy.
//	error - ErrOutOfRange when i is outside the vector.
func (b *BitVec) Set(i int, v bool) (*BitVec, error) {
	if i < 0 || i >= b.n {
		return nil, fmt.Errorf("%w: bit %d of %d", ErrOutOfRange, i, b.n)
	}
	words := make([]uint64, len(b.words))
	copy(words, b.words)
	mask := uint64(1) << uint(i%wordBits)
	if v {
		words[i/wordBits] |= mask
	} else {
		words[i/wordBits] &^= mask
	}
	return &BitVec{words: words, n: b.n}, nil
}

// Rank1 returns the number of set bits in [0, i).
//
// Description:
//
//	Reads the superblock and word counts from the directory, then adds
//	a masked popcount of the partial word. Rank1(0) is 0 and
//	Rank1(Len()) is CountOnes().
//
// Outputs:
//
//	int - The count of set bits before position i.
//	error - ErrOutOfRange when i is negative or i > Len().
func (b *BitVec) Rank1(i int) (int, error) {
	if i < 0 || i > b.n {
		return 0, fmt.Errorf("%w: rank position %d of %d", ErrOutOfRange, i, b.n)
	}
	return b.rank1(i), nil
}

func (b *BitVec) rank1(i int) int {
	return b.Directory().rank1(i)
}

// Rank0 returns the number of clear bits in [0, i).
func (b *BitVec) Rank0(i int) (int, error) {
	r, err := b.Rank1(i)
	if err != nil {
		return 0, err
	}
	return i - r, nil
}

// Select1 returns the position of the k-th set bit (k is 1-based).
//
// Outputs:
//
//	int - The 0-based position of the k-th set bit.
//	bool - False when k is 0 or k exceeds CountOnes().
func (b *BitVec) Select1(k int) (int, bool) {
	return b.Directory().Select1(k)
}

// Select0 returns the position of the k-th clear bit (k is 1-based).
//
// Padding bits past Len() are never reported.
func (b *BitVec) Select0(k int) (int, bool) {
	return b.Directory().Select0(k)
}

// selectInWord returns the bit index of the k-th set bit of w (1-based).
// The caller guarantees w has at least k set bits.
func selectInWord(w uint64, k int) int {
	for ; k > 1; k-- {
		w &= w - 1
	}
	return bits.TrailingZeros64(w)
}

// CountOnes returns the number of set bits.
func (b *BitVec) CountOnes() int {
	count := 0
	for _, w := range b.words {
		count += bits.OnesCount64(w)
	}
	return count
}

// CountZeros returns the number of clear bits.
func (b *BitVec) CountZeros() int {
	return b.n - b.CountOnes()
}

// String renders up to the first 128 bits as 0/1 characters.
func (b *BitVec) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BitVec[%d](", b.n)
	limit := b.n
	if limit > 128 {
		limit = 128
	}
	for i := 0; i < limit; i++ {
		if b.bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	if limit < b.n {
		sb.WriteString("...")
	}
	sb.WriteByte(')')
	return sb.String()
}

// MutableBitVec is a growable bit vector with in-place updates.
//
// Description:
//
//	Used on construction hot paths (bracket emission while walking a tree)
//	where BitVec's copy-on-write Set would cost O(n) per bit. Freeze hands
//	the words to an immutable BitVec without copying.
//
// Thread Safety: Not safe for concurrent use.
type MutableBitVec struct {
	words []uint64
	n     int
}

// NewMutableBitVec creates an empty vector with room for capacity bits.
func NewMutableBitVec(capacity int) *MutableBitVec {
	if capacity < 0 {
		capacity = 0
	}
	return &MutableBitVec{words: make([]uint64, 0, wordsFor(capacity))}
}

// Len returns the number of bits pushed so far.
func (m *MutableBitVec) Len() int {
	return m.n
}

// Push appends one bit.
func (m *MutableBitVec) Push(v bool) {
	if m.n%wordBits == 0 {
		m.words = append(m.words, 0)
	}
	if v {
		m.words[m.n/wordBits] |= 1 << uint(m.n%wordBits)
	}
	m.n++
}

// Get returns bit i.
func (m *MutableBitVec) Get(i int) (bool, error) {
	if i < 0 || i >= m.n {
		return false, fmt.Errorf("%w: bit %d of %d", ErrOutOfRange, i, m.n)
	}
	return m.words[i/wordBits]>>uint(i%wordBits)&1 != 0, nil
}

// Set updates bit i in place.
func (m *MutableBitVec) Set(i int, v bool) error {
	if i < 0 || i >= m.n {
		return fmt.Errorf("%w: bit %d of %d", ErrOutOfRange, i, m.n)
	}
	mask := uint64(1) << uint(i%wordBits)
	if v {
		m.words[i/wordBits] |= mask
	} else {
		m.words[i/wordBits] &^= mask
	}
	return nil
}

// Freeze converts the vector into an immutable BitVec and resets the
// receiver to empty. The words are moved, not copied.
func (m *MutableBitVec) Freeze() *BitVec {
	bv := &BitVec{words: m.words, n: m.n}
	m.words = nil
	m.n = 0
	return bv
}
