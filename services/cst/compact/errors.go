// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compact

import (
	"errors"

	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
)

// Sentinel errors for compact tree construction and access.
var (
	// ErrOutOfRange indicates a node, kind or field index past the end of
	// the tree or its tables.
	ErrOutOfRange = succinct.ErrOutOfRange

	// ErrMalformedTopology indicates unbalanced OpenNode/CloseNode calls.
	ErrMalformedTopology = succinct.ErrMalformedTopology

	// ErrUnknownKind indicates a kind name missing from a closed KindTable.
	ErrUnknownKind = errors.New("kind not in kind table")

	// ErrTooManyKinds indicates more distinct kinds than a u16 id can hold.
	ErrTooManyKinds = errors.New("too many distinct kinds")

	// ErrTooManyFields indicates more than 254 distinct field names; id 255
	// is reserved for "no field".
	ErrTooManyFields = errors.New("too many distinct field names")

	// ErrNonMonotonicPosition indicates a node whose start byte precedes the
	// previous node's start in pre-order.
	ErrNonMonotonicPosition = errors.New("node start precedes previous node")

	// ErrRangeExceedsSource indicates a node whose end lies past the source.
	ErrRangeExceedsSource = errors.New("node range exceeds source length")

	// ErrBuilderState indicates builder calls in an invalid order, such as
	// AddNode without a preceding OpenNode.
	ErrBuilderState = errors.New("invalid builder call order")
)
