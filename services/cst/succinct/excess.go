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

import "math"

// byteExcess[v] describes byte v read least significant bit first, with
// open = +1 and close = -1: min is the lowest running excess after each of
// its eight bits and delta the excess after all of them.
var byteExcess = func() (t [256]struct{ min, delta int8 }) {
	for v := 0; v < 256; v++ {
		e, lo := 0, 8
		for b := 0; b < 8; b++ {
			if v>>b&1 == 1 {
				e++
			} else {
				e--
			}
			if e < lo {
				lo = e
			}
		}
		t[v].min = int8(lo)
		t[v].delta = int8(e)
	}
	return t
}()

// excessIndex answers "nearest bracket whose running excess drops to a
// target" over a BP vector.
//
// Description:
//
//	after(i) is the excess (opens minus closes) of bits [0, i]. Each
//	512-bit superblock stores its minimum after value in the leaves of a
//	min segment tree. A search scans its own superblock a byte at a time
//	using byteExcess, then descends the tree to the nearest superblock
//	that can hold a hit, and scans that one. Cost is O(log n) plus two
//	superblock scans of at most 64 byte steps each.
type excessIndex struct {
	bv   *BitVec
	rs   *RankSelect
	size int
	tree []int32
}

func newExcessIndex(bv *BitVec, rs *RankSelect) *excessIndex {
	ns := (bv.n + superblockBits - 1) / superblockBits
	size := 1
	for size < ns {
		size <<= 1
	}
	x := &excessIndex{bv: bv, rs: rs, size: size, tree: make([]int32, 2*size)}
	for i := range x.tree {
		x.tree[i] = math.MaxInt32
	}

	e := 0
	for s := 0; s < ns; s++ {
		lo := math.MaxInt32
		end := min((s+1)*superblockBits, bv.n)
		for i := s * superblockBits; i < end; i++ {
			e += x.step(i)
			if e < lo {
				lo = e
			}
		}
		x.tree[size+s] = int32(lo)
	}
	for i := size - 1; i >= 1; i-- {
		x.tree[i] = min(x.tree[2*i], x.tree[2*i+1])
	}
	return x
}

func (x *excessIndex) memoryBytes() int {
	return len(x.tree) * 4
}

func (x *excessIndex) step(i int) int {
	if x.bv.bit(i) {
		return 1
	}
	return -1
}

// before returns the excess of bits [0, i).
func (x *excessIndex) before(i int) int {
	return 2*x.rs.rank1(i) - i
}

// after returns the excess of bits [0, i].
func (x *excessIndex) after(i int) int {
	return x.before(i + 1)
}

// byteAt returns the eight bits starting at i, which must be byte aligned.
func (x *excessIndex) byteAt(i int) uint8 {
	return uint8(x.bv.words[i/wordBits] >> uint(i%wordBits))
}

// forward returns the smallest i >= from with after(i) <= target, or -1.
func (x *excessIndex) forward(from, target int) int {
	if from < 0 || from >= x.bv.n {
		return -1
	}
	s := from / superblockBits
	if r := x.scanForward(from, min((s+1)*superblockBits, x.bv.n), target); r >= 0 {
		return r
	}
	next := x.leftmost(1, 0, x.size, s+1, target)
	if next < 0 {
		return -1
	}
	return x.scanForward(next*superblockBits, min((next+1)*superblockBits, x.bv.n), target)
}

// backward returns the largest i <= from with after(i) <= target, or -1.
func (x *excessIndex) backward(from, target int) int {
	if from < 0 {
		return -1
	}
	if from >= x.bv.n {
		from = x.bv.n - 1
	}
	s := from / superblockBits
	if r := x.scanBackward(from, s*superblockBits, target); r >= 0 {
		return r
	}
	prev := x.rightmost(1, 0, x.size, s-1, target)
	if prev < 0 {
		return -1
	}
	end := min((prev+1)*superblockBits, x.bv.n)
	return x.scanBackward(end-1, prev*superblockBits, target)
}

// scanForward searches [from, end).
func (x *excessIndex) scanForward(from, end, target int) int {
	e := x.before(from)
	i := from
	for ; i < end && i%8 != 0; i++ {
		e += x.step(i)
		if e <= target {
			return i
		}
	}
	for i+8 <= end {
		be := byteExcess[x.byteAt(i)]
		if e+int(be.min) <= target {
			break
		}
		e += int(be.delta)
		i += 8
	}
	for ; i < end; i++ {
		e += x.step(i)
		if e <= target {
			return i
		}
	}
	return -1
}

// scanBackward searches [start, from] from the top down.
func (x *excessIndex) scanBackward(from, start, target int) int {
	e := x.after(from)
	i := from
	for ; i >= start && i%8 != 7; i-- {
		if e <= target {
			return i
		}
		e -= x.step(i)
	}
	for i-7 >= start {
		be := byteExcess[x.byteAt(i-7)]
		base := e - int(be.delta)
		if base+int(be.min) <= target {
			break
		}
		e = base
		i -= 8
	}
	for ; i >= start; i-- {
		if e <= target {
			return i
		}
		e -= x.step(i)
	}
	return -1
}

// leftmost returns the first superblock >= from whose minimum is at most
// target, searching node's range [lo, hi).
func (x *excessIndex) leftmost(node, lo, hi, from, target int) int {
	if hi <= from || int(x.tree[node]) > target {
		return -1
	}
	if hi-lo == 1 {
		return lo
	}
	mid := (lo + hi) / 2
	if r := x.leftmost(2*node, lo, mid, from, target); r >= 0 {
		return r
	}
	return x.leftmost(2*node+1, mid, hi, from, target)
}

// rightmost returns the last superblock <= upto whose minimum is at most
// target.
func (x *excessIndex) rightmost(node, lo, hi, upto, target int) int {
	if lo > upto || int(x.tree[node]) > target {
		return -1
	}
	if hi-lo == 1 {
		return lo
	}
	mid := (lo + hi) / 2
	if r := x.rightmost(2*node+1, mid, hi, upto, target); r >= 0 {
		return r
	}
	return x.rightmost(2*node, lo, mid, upto, target)
}
