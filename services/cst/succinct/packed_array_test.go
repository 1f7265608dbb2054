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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedArray_Concrete(t *testing.T) {
	pa, err := NewPackedArray(5)
	require.NoError(t, err)
	for _, v := range []uint64{0, 15, 31, 7} {
		require.NoError(t, pa.Push(v))
	}

	got, err := pa.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), got)

	require.NoError(t, pa.Set(1, 20))
	got, err = pa.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got)

	assert.Equal(t, []uint64{0, 20, 31, 7}, pa.Values())
}

// TestPackedArray_AllWidths pushes random values at every width and reads
// them back, including values straddling word boundaries.
func TestPackedArray_AllWidths(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for width := 1; width <= 64; width++ {
		pa, err := NewPackedArray(width)
		require.NoError(t, err)

		mask := ^uint64(0)
		if width < 64 {
			mask = (uint64(1) << uint(width)) - 1
		}
		want := make([]uint64, 300)
		for i := range want {
			want[i] = r.Uint64() & mask
			require.NoError(t, pa.Push(want[i]))
		}
		for i, w := range want {
			got, err := pa.Get(i)
			require.NoError(t, err)
			require.Equal(t, w, got, "width=%d index=%d", width, i)
		}

		// Overwrite in reverse so neighbouring slots are rewritten after
		// their straddling partner.
		for i := len(want) - 1; i >= 0; i-- {
			want[i] = ^want[i] & mask
			require.NoError(t, pa.Set(i, want[i]))
		}
		assert.Equal(t, want, pa.Values(), "width=%d after Set", width)
	}
}

// TestPackedArray_WordBoundaries places values at bit offsets 63, 64, 127
// and 128.
func TestPackedArray_WordBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		index  int
		offset int
	}{
		{"offset 63 straddles", 9, 7, 63},
		{"offset 64 aligned", 16, 4, 64},
		{"offset 127 straddles", 1, 127, 127},
		{"offset 128 aligned", 32, 4, 128},
		{"offset 63 width 63", 63, 1, 63},
		{"offset 126 straddles", 42, 3, 126},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.offset, tc.index*tc.width)
			pa, err := NewPackedArray(tc.width)
			require.NoError(t, err)

			top := ^uint64(0)
			if tc.width < 64 {
				top = (uint64(1) << uint(tc.width)) - 1
			}
			for i := 0; i <= tc.index+1; i++ {
				require.NoError(t, pa.Push(0))
			}
			require.NoError(t, pa.Set(tc.index, top))

			got, err := pa.Get(tc.index)
			require.NoError(t, err)
			assert.Equal(t, top, got)

			before, _ := pa.Get(tc.index - 1)
			after, _ := pa.Get(tc.index + 1)
			assert.Zero(t, before, "neighbour before was clobbered")
			assert.Zero(t, after, "neighbour after was clobbered")
		})
	}
}

func TestPackedArray_Errors(t *testing.T) {
	_, err := NewPackedArray(0)
	assert.ErrorIs(t, err, ErrInvalidWidth)
	_, err = NewPackedArray(65)
	assert.ErrorIs(t, err, ErrInvalidWidth)

	pa, err := NewPackedArray(4)
	require.NoError(t, err)
	assert.ErrorIs(t, pa.Push(16), ErrOversizedValue)
	assert.Equal(t, 0, pa.Len(), "rejected push must not grow the array")

	require.NoError(t, pa.Push(15))
	assert.ErrorIs(t, pa.Set(0, 16), ErrOversizedValue)
	assert.ErrorIs(t, pa.Set(1, 1), ErrOutOfRange)
	_, err = pa.Get(1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = PackedArrayFromSlice([]uint64{1, 2, 300}, 8)
	assert.ErrorIs(t, err, ErrOversizedValue)
}

func TestPackedArray_Sizing(t *testing.T) {
	assert.Equal(t, 1, BitsNeeded(0))
	assert.Equal(t, 1, BitsNeeded(1))
	assert.Equal(t, 8, BitsNeeded(255))
	assert.Equal(t, 9, BitsNeeded(256))
	assert.Equal(t, 64, BitsNeeded(^uint64(0)))

	pa := PackedArrayFitting([]uint64{3, 1000, 7})
	assert.Equal(t, 10, pa.BitsPerValue())
	assert.Equal(t, []uint64{3, 1000, 7}, pa.Values())

	empty, err := NewPackedArray(8)
	require.NoError(t, err)
	assert.Zero(t, empty.Efficiency())

	full, err := PackedArrayFromSlice(make([]uint64, 8), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, full.MemoryBytes())
	assert.InDelta(t, 100.0, full.Efficiency(), 0.001)
}
