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

import "errors"

// Sentinel errors for succinct structure access.
//
// Accessors never return a wrong value silently. Any index outside the
// structure or any value that does not fit its declared width is reported
// through one of these errors, wrapped with the offending values.
var (
	// ErrOutOfRange indicates an index at or beyond the structure length.
	ErrOutOfRange = errors.New("index out of range")

	// ErrOversizedValue indicates a value larger than 2^B-1 for a
	// PackedArray of width B. Values are rejected, never truncated.
	ErrOversizedValue = errors.New("value exceeds packed width")

	// ErrInvalidWidth indicates a PackedArray width outside 1..64.
	ErrInvalidWidth = errors.New("bits per value must be between 1 and 64")

	// ErrMalformedTopology indicates a bracket sequence that is not
	// well formed (negative balance, non-zero final balance).
	ErrMalformedTopology = errors.New("malformed balanced-parenthesis sequence")

	// ErrTruncated indicates a varint stream that ended mid-value.
	ErrTruncated = errors.New("truncated varint")

	// ErrNonMonotonic indicates a delta encoder was given a value smaller
	// than its predecessor.
	ErrNonMonotonic = errors.New("values must be non-decreasing")
)
