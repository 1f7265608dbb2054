// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import "errors"

var (
	// ErrInvalidConfig indicates a Config that cannot open a database.
	ErrInvalidConfig = errors.New("invalid storage config")

	// ErrNotFound indicates no record exists for the path.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord indicates a stored value failed its checksum or
	// could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidPath indicates an empty path or one containing a NUL byte.
	ErrInvalidPath = errors.New("invalid path")
)
