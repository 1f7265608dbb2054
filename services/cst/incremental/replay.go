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

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// FillerByte stands in for inserted text a journal entry did not record.
const FillerByte = ' '

// ReplayResult is the outcome of ReplayEdits.
type ReplayResult struct {
	// Tree is the final tree. The caller owns it and must Close it.
	Tree syntax.Tree

	// Source is the reconstructed text.
	Source []byte

	// Applied is the number of edits replayed.
	Applied int

	// ShapeOnly is set when at least one entry lacked its inserted text
	// and was replayed with FillerByte. The tree shape around such edits
	// is approximate and Source does not match the historical text.
	ShapeOnly bool
}

// ReplayEdits rebuilds a tree by parsing baseSource and re-applying the
// journal's edits in SequenceID order.
//
// Description:
//
//	Each edit is applied to the text and to the previous tree, which then
//	serves as the reparse hint. Entries that carry their inserted text
//	reproduce the historical content exactly. Entries without it are
//	filled with FillerByte and mark the result ShapeOnly. Parser state for
//	path is not modified.
//
//	A Truncated journal is refused: its first retained edit was made
//	against text that already had the dropped edits applied, so its
//	offsets do not address baseSource. Call Snapshot to start a new base.
//
// Outputs:
//
//	*ReplayResult - The rebuilt tree and text.
//	error - ErrReplay when the journal is truncated, sequence ids repeat or
//	an edit does not fit the text (truncation also matches
//	ErrJournalTruncated); ErrParseFailure when any parse yields no tree.
func (p *IncrementalParser) ReplayEdits(ctx context.Context, path string, baseSource []byte, journal *EditJournal) (*ReplayResult, error) {
	if journal == nil {
		journal = &EditJournal{}
	}
	ctx, span := startReplaySpan(ctx, path, journal.Len())
	defer span.End()
	start := time.Now()

	if journal.Truncated {
		recordReplayMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: %s: %w", ErrReplay, path, ErrJournalTruncated)
	}

	entries := append([]LoggedEdit(nil), journal.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SequenceID < entries[j].SequenceID })
	for i := 1; i < len(entries); i++ {
		if entries[i].SequenceID == entries[i-1].SequenceID {
			return nil, fmt.Errorf("%w: duplicate sequence id %d", ErrReplay, entries[i].SequenceID)
		}
	}

	tree, err := p.parser.Parse(ctx, baseSource, nil)
	if err != nil || tree == nil || tree.Root() == nil {
		if tree != nil {
			tree.Close()
		}
		recordReplayMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("replay %s base: %w", path, ErrParseFailure)
	}

	cur := append([]byte(nil), baseSource...)
	result := &ReplayResult{}
	for _, e := range entries {
		text := e.InsertedText
		if !e.HasText {
			text = bytes.Repeat([]byte{FillerByte}, int(e.Edit.NewEndByte-e.Edit.StartByte))
			result.ShapeOnly = true
		}
		next, err := ApplyEdit(cur, e.Edit, text)
		if err != nil {
			tree.Close()
			recordReplayMetrics(ctx, time.Since(start), result.Applied, false)
			return nil, fmt.Errorf("%w: sequence id %d: %w", ErrReplay, e.SequenceID, err)
		}

		tree.Edit(e.Edit)
		nextTree, err := p.parser.Parse(ctx, next, tree)
		tree.Close()
		if err != nil || nextTree == nil || nextTree.Root() == nil {
			if nextTree != nil {
				nextTree.Close()
			}
			recordReplayMetrics(ctx, time.Since(start), result.Applied, false)
			return nil, fmt.Errorf("replay %s sequence id %d: %w", path, e.SequenceID, ErrParseFailure)
		}
		tree = nextTree
		cur = next
		result.Applied++
	}

	result.Tree = tree
	result.Source = cur
	recordReplayMetrics(ctx, time.Since(start), result.Applied, true)
	if result.ShapeOnly {
		p.logger.Warn("journal replayed with filler text",
			slog.String("path", path),
			slog.Int("applied", result.Applied))
	}
	return result, nil
}
