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

const (
	superblockBits  = 512
	wordsPerSuper   = superblockBits / wordBits
	selectSampleGap = 512
)

// RankSelect is a read-only rank/select directory over a BitVec.
//
// Description:
//
//	Cumulative one counts are kept per 512-bit superblock (uint32) and per
//	word relative to its superblock (uint16), so Rank1 is two lookups and
//	one masked popcount. Every 512th one and every 512th zero record the
//	superblock holding it; Select narrows to the superblocks between two
//	samples with a binary search and then scans at most eight words.
//	Overhead is about 0.28 bits per bit plus the samples.
//
// Thread Safety: Immutable. Safe for concurrent use.
type RankSelect struct {
	bv     *BitVec
	supers []uint32
	blocks []uint16
	ones   int

	selOnes  []int32
	selZeros []int32
}

// NewRankSelect builds the directory in one pass over bv's words.
func NewRankSelect(bv *BitVec) *RankSelect {
	nw := len(bv.words)
	ns := (nw + wordsPerSuper - 1) / wordsPerSuper
	rs := &RankSelect{
		bv:     bv,
		supers: make([]uint32, ns+1),
		blocks: make([]uint16, nw),
	}

	total := 0
	zeros := 0
	for w, word := range bv.words {
		if w%wordsPerSuper == 0 {
			rs.supers[w/wordsPerSuper] = uint32(total)
		}
		rs.blocks[w] = uint16(total - int(rs.supers[w/wordsPerSuper]))

		ones := bits.OnesCount64(word)
		valid := wordBits
		if w == nw-1 && bv.n%wordBits != 0 {
			valid = bv.n % wordBits
		}
		// A sample is due when this word crosses a multiple of the gap.
		if ones > 0 {
			for len(rs.selOnes) <= (total+ones-1)/selectSampleGap {
				rs.selOnes = append(rs.selOnes, int32(w/wordsPerSuper))
			}
		}
		wz := valid - ones
		if wz > 0 {
			for len(rs.selZeros) <= (zeros+wz-1)/selectSampleGap {
				rs.selZeros = append(rs.selZeros, int32(w/wordsPerSuper))
			}
		}
		total += ones
		zeros += wz
	}
	rs.supers[ns] = uint32(total)
	rs.ones = total
	return rs
}

// Len returns the length of the underlying vector.
func (rs *RankSelect) Len() int {
	return rs.bv.n
}

// CountOnes returns the number of set bits.
func (rs *RankSelect) CountOnes() int {
	return rs.ones
}

// MemoryBytes returns the directory's own storage, excluding the vector.
func (rs *RankSelect) MemoryBytes() int {
	return len(rs.supers)*4 + len(rs.blocks)*2 + (len(rs.selOnes)+len(rs.selZeros))*4
}

// rank1 counts set bits in [0, i) for 0 <= i <= Len().
func (rs *RankSelect) rank1(i int) int {
	w := i / wordBits
	if w >= len(rs.blocks) {
		return rs.ones
	}
	count := int(rs.supers[w/wordsPerSuper]) + int(rs.blocks[w])
	if rem := i % wordBits; rem != 0 {
		count += bits.OnesCount64(rs.bv.words[w] & ((uint64(1) << uint(rem)) - 1))
	}
	return count
}

// Rank1 returns the number of set bits in [0, i) in constant time.
func (rs *RankSelect) Rank1(i int) (int, error) {
	if i < 0 || i > rs.bv.n {
		return 0, fmt.Errorf("%w: rank position %d of %d", ErrOutOfRange, i, rs.bv.n)
	}
	return rs.rank1(i), nil
}

// Rank0 returns the number of clear bits in [0, i).
func (rs *RankSelect) Rank0(i int) (int, error) {
	r, err := rs.Rank1(i)
	if err != nil {
		return 0, err
	}
	return i - r, nil
}

// onesBefore and zerosBefore give cumulative counts at superblock starts.
func (rs *RankSelect) onesBefore(s int) int {
	return int(rs.supers[s])
}

func (rs *RankSelect) zerosBefore(s int) int {
	start := s * superblockBits
	if start > rs.bv.n {
		start = rs.bv.n
	}
	return start - int(rs.supers[s])
}

// Select1 returns the position of the k-th set bit (1-based), or false
// when k is 0 or exceeds CountOnes().
func (rs *RankSelect) Select1(k int) (int, bool) {
	if k <= 0 || k > rs.ones {
		return 0, false
	}
	s := rs.findSuper(k, rs.selOnes, rs.onesBefore)
	remaining := k - rs.onesBefore(s)
	for w := s * wordsPerSuper; w < len(rs.bv.words); w++ {
		word := rs.bv.words[w]
		ones := bits.OnesCount64(word)
		if ones >= remaining {
			return w*wordBits + selectInWord(word, remaining), true
		}
		remaining -= ones
	}
	return 0, false
}

// Select0 returns the position of the k-th clear bit (1-based). Padding
// past Len() is never reported.
func (rs *RankSelect) Select0(k int) (int, bool) {
	if k <= 0 || k > rs.bv.n-rs.ones {
		return 0, false
	}
	s := rs.findSuper(k, rs.selZeros, rs.zerosBefore)
	remaining := k - rs.zerosBefore(s)
	last := len(rs.bv.words) - 1
	for w := s * wordsPerSuper; w <= last; w++ {
		inverted := ^rs.bv.words[w]
		if w == last {
			if rem := rs.bv.n % wordBits; rem != 0 {
				inverted &= (uint64(1) << uint(rem)) - 1
			}
		}
		zeros := bits.OnesCount64(inverted)
		if zeros >= remaining {
			return w*wordBits + selectInWord(inverted, remaining), true
		}
		remaining -= zeros
	}
	return 0, false
}

// findSuper returns the last superblock whose cumulative count is below k,
// searching only between the samples that bracket k.
func (rs *RankSelect) findSuper(k int, samples []int32, before func(int) int) int {
	idx := (k - 1) / selectSampleGap
	lo := int(samples[idx])
	hi := len(rs.supers) - 2
	if idx+1 < len(samples) {
		hi = int(samples[idx+1])
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if before(mid) < k {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
