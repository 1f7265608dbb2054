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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSampleBP builds:
//
//	0
//	├── 1
//	│   ├── 2
//	│   └── 3
//	├── 4
//	└── 5
//	    └── 6
func buildSampleBP(t *testing.T) *BP {
	t.Helper()
	b := NewBPBuilder(7)
	b.OpenNode() // 0
	b.OpenNode() // 1
	b.OpenNode() // 2
	b.CloseNode()
	b.OpenNode() // 3
	b.CloseNode()
	b.CloseNode()
	b.OpenNode() // 4
	b.CloseNode()
	b.OpenNode() // 5
	b.OpenNode() // 6
	b.CloseNode()
	b.CloseNode()
	b.CloseNode()
	bp, err := b.Build()
	require.NoError(t, err)
	return bp
}

func TestBP_Navigation(t *testing.T) {
	bp := buildSampleBP(t)
	require.Equal(t, 7, bp.NodeCount())
	assert.Equal(t, 14, bp.Bits().Len())

	parents := map[int]int{1: 0, 2: 1, 3: 1, 4: 0, 5: 0, 6: 5}
	for node, want := range parents {
		got, ok, err := bp.Parent(node)
		require.NoError(t, err)
		require.True(t, ok, "node %d", node)
		assert.Equal(t, want, got, "parent of %d", node)
	}
	_, ok, err := bp.Parent(0)
	require.NoError(t, err)
	assert.False(t, ok)

	children := map[int][]int{0: {1, 4, 5}, 1: {2, 3}, 2: nil, 3: nil, 4: nil, 5: {6}, 6: nil}
	for node, want := range children {
		got, err := bp.Children(node)
		require.NoError(t, err)
		assert.Equal(t, want, got, "children of %d", node)
		count, err := bp.ChildCount(node)
		require.NoError(t, err)
		assert.Equal(t, len(want), count)
	}

	sizes := []int{7, 3, 1, 1, 1, 2, 1}
	depths := []int{0, 1, 2, 2, 1, 1, 2}
	for node := range sizes {
		size, err := bp.SubtreeSize(node)
		require.NoError(t, err)
		assert.Equal(t, sizes[node], size, "subtree of %d", node)
		depth, err := bp.Depth(node)
		require.NoError(t, err)
		assert.Equal(t, depths[node], depth, "depth of %d", node)
	}
}

func TestBP_FindCloseOpen(t *testing.T) {
	bp := buildSampleBP(t)
	for node := 0; node < bp.NodeCount(); node++ {
		open, err := bp.OpenPosition(node)
		require.NoError(t, err)
		closePos, err := bp.FindClose(open)
		require.NoError(t, err)
		back, err := bp.FindOpen(closePos)
		require.NoError(t, err)
		assert.Equal(t, open, back)

		at, err := bp.NodeAt(open)
		require.NoError(t, err)
		assert.Equal(t, node, at)
		at, err = bp.NodeAt(closePos)
		require.NoError(t, err)
		assert.Equal(t, node, at)
	}

	_, err := bp.FindClose(3) // position 3 is a close
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = bp.OpenPosition(7)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBPBuilder_Malformed(t *testing.T) {
	b := NewBPBuilder(1)
	b.OpenNode()
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrMalformedTopology)

	b = NewBPBuilder(1)
	b.CloseNode()
	b.OpenNode()
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrMalformedTopology)

	_, err = NewBP(BitVecFromBits([]bool{false, true}))
	assert.ErrorIs(t, err, ErrMalformedTopology)

	bp, err := NewBP(BitVecFromBits([]bool{true, true, false, false}))
	require.NoError(t, err)
	assert.Equal(t, 2, bp.NodeCount())
}

func TestDeltaCodecs(t *testing.T) {
	enc := NewDeltaEncoder(16)
	values := []uint64{0, 0, 5, 300, 70000}
	for _, v := range values {
		require.NoError(t, enc.Push(v))
	}
	assert.ErrorIs(t, enc.Push(1), ErrNonMonotonic)

	dec := NewDeltaDecoder(enc.Bytes(), 0, 0)
	for _, want := range values {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrTruncated)

	senc := NewSignedDeltaEncoder(16)
	signed := []int64{10, 3, 3, 900, -4}
	for _, v := range signed {
		senc.Push(v)
	}
	sdec := NewSignedDeltaDecoder(senc.Bytes(), 0, 0)
	for _, want := range signed {
		got, err := sdec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, _, err = ReadUvarint([]byte{0x80}, 0)
	assert.ErrorIs(t, err, ErrTruncated)
}
