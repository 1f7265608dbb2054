// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package incremental

import "errors"

var (
	// ErrParseFailure indicates the parser returned no tree. Nothing is
	// cached when it occurs.
	ErrParseFailure = errors.New("parse failure")

	// ErrInvalidRange indicates change offsets outside the old text or a
	// new text too short to hold the unchanged suffix.
	ErrInvalidRange = errors.New("invalid change range")

	// ErrInvalidDiff indicates a unified diff that does not apply to the
	// given text.
	ErrInvalidDiff = errors.New("invalid unified diff")

	// ErrNotTracked indicates an operation on a path with no cached tree.
	ErrNotTracked = errors.New("path not tracked")

	// ErrReplay indicates a journal that cannot be replayed over its base.
	ErrReplay = errors.New("journal replay failed")

	// ErrJournalTruncated indicates a journal that dropped edits at its
	// limit and so no longer starts at its base snapshot.
	ErrJournalTruncated = errors.New("journal truncated")

	// ErrClosed indicates use of a closed parser.
	ErrClosed = errors.New("incremental parser closed")
)
