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
	"context"
	"time"

	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// DefaultJournalLimit is the number of edits a journal retains.
const DefaultJournalLimit = 256

// LoggedEdit is one journaled edit.
type LoggedEdit struct {
	Edit       syntax.Edit `json:"edit"`
	Timestamp  time.Time   `json:"timestamp"`
	SequenceID uint64      `json:"sequence_id"`

	// InsertedText is the text that replaced the old range. It is only
	// meaningful when HasText is set; an empty text with HasText is a
	// deletion.
	InsertedText []byte `json:"inserted_text,omitempty"`
	HasText      bool   `json:"has_text"`
}

// EditJournal is the ordered edit log of one path since its base snapshot.
//
// Description:
//
//	Entries are kept in SequenceID order. Append drops the oldest entries
//	once the limit is exceeded and marks the journal Truncated: the
//	oldest retained edit no longer applies to the base snapshot, so
//	ReplayEdits refuses it until a Snapshot starts a new journal.
//
// Thread Safety: Not safe for concurrent use. The IncrementalParser hands
// out clones.
type EditJournal struct {
	BaseSnapshotID uint64       `json:"base_snapshot_id"`
	Entries        []LoggedEdit `json:"entries"`
	Truncated      bool         `json:"truncated,omitempty"`

	limit int
}

// NewEditJournal creates an empty journal. A limit below 1 selects
// DefaultJournalLimit.
func NewEditJournal(baseSnapshotID uint64, limit int) *EditJournal {
	if limit < 1 {
		limit = DefaultJournalLimit
	}
	return &EditJournal{BaseSnapshotID: baseSnapshotID, limit: limit}
}

// Len returns the number of retained entries.
func (j *EditJournal) Len() int {
	return len(j.Entries)
}

// Limit returns the retention limit.
func (j *EditJournal) Limit() int {
	if j.limit < 1 {
		return DefaultJournalLimit
	}
	return j.limit
}

// Append adds e and trims the journal to its limit. It returns the number
// of entries dropped.
func (j *EditJournal) Append(e LoggedEdit) int {
	j.Entries = append(j.Entries, e)
	over := len(j.Entries) - j.Limit()
	if over <= 0 {
		return 0
	}
	kept := make([]LoggedEdit, j.Limit())
	copy(kept, j.Entries[over:])
	j.Entries = kept
	j.Truncated = true
	return over
}

// LastSequenceID returns the newest sequence id, or 0 when empty.
func (j *EditJournal) LastSequenceID() uint64 {
	if len(j.Entries) == 0 {
		return 0
	}
	return j.Entries[len(j.Entries)-1].SequenceID
}

// FullFidelity reports whether every entry carries its inserted text.
func (j *EditJournal) FullFidelity() bool {
	for _, e := range j.Entries {
		if !e.HasText {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (j *EditJournal) Clone() *EditJournal {
	out := &EditJournal{
		BaseSnapshotID: j.BaseSnapshotID,
		Entries:        make([]LoggedEdit, len(j.Entries)),
		Truncated:      j.Truncated,
		limit:          j.limit,
	}
	for i, e := range j.Entries {
		if e.InsertedText != nil {
			e.InsertedText = append([]byte(nil), e.InsertedText...)
		}
		out.Entries[i] = e
	}
	return out
}

// MemoryBytes returns an estimate of the journal's footprint.
func (j *EditJournal) MemoryBytes() int {
	const entryBytes = 96
	total := 16
	for _, e := range j.Entries {
		total += entryBytes + len(e.InsertedText)
	}
	return total
}

// JournalStore persists journals outside the process.
//
// Description:
//
//	The IncrementalParser calls AppendEdit after every journaled edit and
//	DeleteJournal when a path's journal is cleared. Store failures are
//	logged and never fail the parse that triggered them.
//
// Thread Safety: Implementations must be safe for concurrent use.
type JournalStore interface {
	AppendEdit(ctx context.Context, path string, baseSnapshotID uint64, e LoggedEdit) error
	DeleteJournal(ctx context.Context, path string) error
	LoadJournal(ctx context.Context, path string) (*EditJournal, error)
}
