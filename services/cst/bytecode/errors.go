// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt indicates a stream, table or blob that fails validation.
	ErrCorrupt = errors.New("corrupt bytecode")

	// ErrInvalidNode indicates a node that cannot be encoded, such as one
	// whose range lies past the end of the source.
	ErrInvalidNode = errors.New("invalid node")

	// ErrOutOfRange indicates a node index at or beyond the node count.
	ErrOutOfRange = errors.New("node index out of range")
)

// CorruptError names the check that failed and the disagreeing values.
type CorruptError struct {
	// Field is the name of the failed check, e.g. "node_count" or "depth".
	Field string

	// Offset is the byte offset in the stream, or -1 when not applicable.
	Offset int

	Expected any
	Actual   any
}

func (e *CorruptError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("corrupt bytecode: %s at offset %d: expected %v, got %v",
			e.Field, e.Offset, e.Expected, e.Actual)
	}
	return fmt.Sprintf("corrupt bytecode: %s: expected %v, got %v", e.Field, e.Expected, e.Actual)
}

func (e *CorruptError) Unwrap() error {
	return ErrCorrupt
}

func corrupt(field string, offset int, expected, actual any) *CorruptError {
	return &CorruptError{Field: field, Offset: offset, Expected: expected, Actual: actual}
}
