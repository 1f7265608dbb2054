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

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCST/services/cst/bytecode"
	"github.com/AleutianAI/AleutianCST/services/cst/incremental"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

func openStore(t *testing.T, opts ...StoreOption) (*DB, *Store) {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, NewStore(db, opts...)
}

func edit(seq uint64, text string) incremental.LoggedEdit {
	return incremental.LoggedEdit{
		Edit:         syntax.Edit{StartByte: 1, OldEndByte: 2, NewEndByte: 1 + uint32(len(text))},
		Timestamp:    time.Unix(1700000000, 0).UTC(),
		SequenceID:   seq,
		InsertedText: []byte(text),
		HasText:      true,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"in memory", InMemoryConfig(), false},
		{"default", DefaultConfig("/tmp/x"), false},
		{"missing dir", Config{}, true},
		{"negative interval", Config{InMemory: true, GCInterval: -1}, true},
		{"ratio above one", Config{InMemory: true, GCDiscardRatio: 1.5}, true},
		{"interval without ratio", Config{Dir: "/tmp/x", GCInterval: time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	db, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Dir())
	assert.False(t, db.InMemory())
	require.NoError(t, NewStore(db).PutSource(ctx, "a.go", []byte("package a\n")))
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewStore(db).GetSource(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(got))
}

func TestDB_CancelledContext(t *testing.T) {
	db, _ := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.Update(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.View(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_JournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AppendEdit(ctx, "a.go", 9, edit(i, "x")))
	}
	j, err := s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), j.BaseSnapshotID)
	require.Equal(t, 3, j.Len())
	for i, e := range j.Entries {
		assert.Equal(t, uint64(i+1), e.SequenceID)
		assert.Equal(t, edit(uint64(i+1), "x"), e)
	}
}

func TestStore_JournalLimit(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t, WithJournalLimit(3))

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(i, "x")))
	}
	j, err := s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	require.Equal(t, 3, j.Len())
	assert.Equal(t, uint64(3), j.Entries[0].SequenceID)
	assert.Equal(t, uint64(5), j.LastSequenceID())
	assert.True(t, j.Truncated)
}

func TestStore_TruncationMarkFollowsBase(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t, WithJournalLimit(2))

	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(1, "x")))
	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(2, "x")))
	j, err := s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, j.Truncated, "at the limit nothing is dropped yet")

	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(3, "x")))
	j, err = s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.True(t, j.Truncated)

	require.NoError(t, s.AppendEdit(ctx, "a.go", 2, edit(4, "y")))
	j, err = s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, j.Truncated, "a new base starts untruncated")

	require.NoError(t, s.AppendEdit(ctx, "a.go", 2, edit(5, "y")))
	require.NoError(t, s.AppendEdit(ctx, "a.go", 2, edit(6, "y")))
	require.NoError(t, s.DeleteJournal(ctx, "a.go"))
	require.NoError(t, s.AppendEdit(ctx, "a.go", 3, edit(7, "z")))
	j, err = s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, j.Truncated, "deleting the journal clears the mark")
}

func TestStore_NewBaseDiscardsOldEntries(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)

	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(1, "x")))
	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(2, "y")))
	require.NoError(t, s.AppendEdit(ctx, "a.go", 2, edit(3, "z")))

	j, err := s.LoadJournal(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), j.BaseSnapshotID)
	require.Equal(t, 1, j.Len())
	assert.Equal(t, uint64(3), j.Entries[0].SequenceID)
}

func TestStore_PathsAreIsolated(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)

	require.NoError(t, s.AppendEdit(ctx, "a", 1, edit(1, "x")))
	require.NoError(t, s.AppendEdit(ctx, "a/b", 1, edit(2, "y")))

	j, err := s.LoadJournal(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, j.Len())
	assert.Equal(t, uint64(1), j.Entries[0].SequenceID)

	require.NoError(t, s.DeleteJournal(ctx, "a"))
	_, err = s.LoadJournal(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	j, err = s.LoadJournal(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Len())
}

func TestStore_InvalidPath(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)
	assert.ErrorIs(t, s.AppendEdit(ctx, "", 1, edit(1, "x")), ErrInvalidPath)
	_, err := s.LoadJournal(ctx, "a\x00b")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.GetStream(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	db, s := openStore(t)

	require.NoError(t, s.AppendEdit(ctx, "a.go", 1, edit(1, "x")))
	err := db.Update(ctx, func(txn *badger.Txn) error {
		val, err := encodeEntry(edit(1, "x"))
		if err != nil {
			return err
		}
		val[len(val)-2] ^= 0xFF
		return txn.Set(journalKey("a.go", 1), val)
	})
	require.NoError(t, err)

	_, err = s.LoadJournal(ctx, "a.go")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestStore_Sources(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)

	_, err := s.GetSource(ctx, "a.go")
	assert.ErrorIs(t, err, ErrNotFound)

	src := []byte("package a\n")
	require.NoError(t, s.PutSource(ctx, "a.go", src))
	src[0] = 'X'
	got, err := s.GetSource(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(got))
}

func encodeGo(t *testing.T, source string) *bytecode.Stream {
	t.Helper()
	p, err := syntax.DefaultRegistry().Parser("go")
	require.NoError(t, err)
	tree, err := p.Parse(context.Background(), []byte(source), nil)
	require.NoError(t, err)
	defer tree.Close()
	s, err := bytecode.NewEncoder(bytecode.WithCheckpointInterval(4), bytecode.WithJumpTable()).
		EncodeSyntax(context.Background(), tree.Root(), []byte(source))
	require.NoError(t, err)
	return s
}

func TestStore_Streams(t *testing.T) {
	ctx := context.Background()
	db, s := openStore(t)

	_, err := s.GetStream(ctx, "a.go")
	assert.ErrorIs(t, err, ErrNotFound)

	want := encodeGo(t, "package a\n\nfunc f() int { return 1 }\n")
	require.NoError(t, s.PutStream(ctx, "a.go", want))
	require.NoError(t, s.PutStream(ctx, "b.go", encodeGo(t, "package b\n")))

	got, err := s.GetStream(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, want.Bytes, got.Bytes)
	assert.Equal(t, want.NodeCount, got.NodeCount)
	assert.Equal(t, want.KindNames, got.KindNames)
	assert.Equal(t, want.Checkpoints, got.Checkpoints)

	paths, err := s.ListStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths)

	err = db.Update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(streamPrefix + "b.go"))
		if err != nil {
			return err
		}
		blob, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		blob[len(blob)-1] ^= 0xFF
		return txn.Set([]byte(streamPrefix+"b.go"), blob)
	})
	require.NoError(t, err)
	_, err = s.GetStream(ctx, "b.go")
	assert.ErrorIs(t, err, bytecode.ErrCorrupt)

	require.NoError(t, s.DeleteStream(ctx, "a.go"))
	_, err = s.GetStream(ctx, "a.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RestoresParserJournal(t *testing.T) {
	ctx := context.Background()
	_, s := openStore(t)
	p, err := syntax.DefaultRegistry().Parser("go")
	require.NoError(t, err)

	base := "package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n"
	first := incremental.New(p, incremental.WithJournalStore(s))
	res, err := first.ParseIncremental(ctx, "m.go", []byte(base), nil)
	require.NoError(t, err)
	res.Tree.Close()
	require.NoError(t, s.PutSource(ctx, "m.go", []byte(base)))

	source := base
	for _, name := range []string{"sum", "plus"} {
		start := len("package main\n\nfunc ")
		end := start + len("add")
		if name == "plus" {
			end = start + len("sum")
		}
		next := source[:start] + name + source[end:]
		e, err := incremental.CalculateEdit([]byte(source), []byte(next), uint32(start), uint32(end))
		require.NoError(t, err)
		res, err := first.ParseIncremental(ctx, "m.go", []byte(next), &e)
		require.NoError(t, err)
		res.Tree.Close()
		source = next
	}
	first.Close()

	j, err := s.LoadJournal(ctx, "m.go")
	require.NoError(t, err)
	require.Equal(t, 2, j.Len())
	baseText, err := s.GetSource(ctx, "m.go")
	require.NoError(t, err)

	second := incremental.New(p)
	defer second.Close()
	second.RestoreJournal("m.go", j)
	out, err := second.ReplayEdits(ctx, "m.go", baseText, j)
	require.NoError(t, err)
	defer out.Tree.Close()
	assert.Equal(t, source, string(out.Source))
	assert.False(t, out.ShapeOnly)
}
