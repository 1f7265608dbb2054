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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

const addSource = "package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n"

func goParser(t *testing.T) *syntax.TreeSitterParser {
	t.Helper()
	p, err := syntax.DefaultRegistry().Parser("go")
	require.NoError(t, err)
	return p
}

// replaceAt returns old with [start, end) replaced by text, and the edit.
func replaceAt(t *testing.T, old string, start, end int, text string) (string, syntax.Edit) {
	t.Helper()
	next := old[:start] + text + old[end:]
	e, err := CalculateEdit([]byte(old), []byte(next), uint32(start), uint32(end))
	require.NoError(t, err)
	return next, e
}

func assertEquivalent(t *testing.T, tree syntax.Tree, source string) {
	t.Helper()
	scratch, err := goParser(t).Parse(context.Background(), []byte(source), nil)
	require.NoError(t, err)
	defer scratch.Close()
	ct, err := compact.BuildFromSyntax(context.Background(), scratch.Root(), []byte(source))
	require.NoError(t, err)
	assert.Empty(t, compact.Compare(ct, tree.Root()))
}

func TestCalculateEdit(t *testing.T) {
	e, err := CalculateEdit([]byte("hello world"), []byte("hello brave world"), 6, 6)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), e.StartByte)
	assert.Equal(t, uint32(6), e.OldEndByte)
	assert.Equal(t, uint32(12), e.NewEndByte)
	assert.Equal(t, syntax.Point{Row: 0, Column: 12}, e.NewEndPoint)

	e, err = CalculateEdit([]byte("a\nbc\nd"), []byte("a\nxyz\nw\nd"), 2, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), e.NewEndByte)
	assert.Equal(t, syntax.Point{Row: 1, Column: 0}, e.StartPoint)
	assert.Equal(t, syntax.Point{Row: 1, Column: 2}, e.OldEndPoint)
	assert.Equal(t, syntax.Point{Row: 2, Column: 1}, e.NewEndPoint)

	_, err = CalculateEdit([]byte("abc"), []byte("abc"), 2, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = CalculateEdit([]byte("abc"), []byte("abc"), 0, 9)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = CalculateEdit([]byte("abcdef"), []byte("a"), 3, 4)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestApplyEdit(t *testing.T) {
	out, err := ApplyEdit([]byte("hello world"), syntax.Edit{StartByte: 0, OldEndByte: 5, NewEndByte: 3}, []byte("bye"))
	require.NoError(t, err)
	assert.Equal(t, "bye world", string(out))

	_, err = ApplyEdit([]byte("abc"), syntax.Edit{StartByte: 0, OldEndByte: 1, NewEndByte: 3}, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = ApplyEdit([]byte("abc"), syntax.Edit{StartByte: 2, OldEndByte: 1, NewEndByte: 2}, nil)
	assert.ErrorIs(t, err, syntax.ErrInvalidEdit)
}

func TestParseIncremental_MatchesFromScratch(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t), WithCompactBuild())
	defer p.Close()

	full, err := p.ParseIncremental(ctx, "add.go", []byte(addSource), nil)
	require.NoError(t, err)
	defer full.Tree.Close()
	assert.False(t, full.Incremental)
	assert.Zero(t, full.ReusedNodes)
	assert.Equal(t, StateCached, p.State("add.go"))

	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err := p.ParseIncremental(ctx, "add.go", []byte(next), &edit)
	require.NoError(t, err)
	defer res.Tree.Close()

	assert.True(t, res.Incremental)
	assert.Equal(t, res.NodeCount, res.ReusedNodes+res.ReparsedNodes)
	assert.Positive(t, res.ReusedNodes)
	assert.NotZero(t, res.SequenceID)
	assertEquivalent(t, res.Tree, next)

	require.NotNil(t, res.Compact)
	assert.Empty(t, compact.Compare(res.Compact, res.Tree.Root()))

	src, ok := p.Source("add.go")
	require.True(t, ok)
	assert.Equal(t, next, string(src))

	j, ok := p.Journal("add.go")
	require.True(t, ok)
	require.Equal(t, 1, j.Len())
	assert.Equal(t, "sum", string(j.Entries[0].InsertedText))
	assert.True(t, j.Entries[0].HasText)
	assert.Equal(t, StateCachedWithJournal, p.State("add.go"))
}

func TestParseIncremental_EditWithoutCacheIsFullParse(t *testing.T) {
	p := New(goParser(t))
	defer p.Close()

	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err := p.ParseIncremental(context.Background(), "new.go", []byte(next), &edit)
	require.NoError(t, err)
	defer res.Tree.Close()
	assert.False(t, res.Incremental)
	assert.Zero(t, res.ReusedNodes)
	_, ok := p.Journal("new.go")
	assert.False(t, ok)
}

func TestParseIncremental_InvalidEdit(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	res, err := p.ParseIncremental(ctx, "a.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()

	_, err = p.ParseIncremental(ctx, "a.go", []byte(addSource), &syntax.Edit{StartByte: 5, OldEndByte: 2, NewEndByte: 5})
	assert.ErrorIs(t, err, syntax.ErrInvalidEdit)
	_, err = p.ParseIncremental(ctx, "a.go", []byte(addSource), &syntax.Edit{StartByte: 0, OldEndByte: 1, NewEndByte: 999})
	assert.ErrorIs(t, err, syntax.ErrInvalidEdit)
}

func TestJournal_Bound(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	source := "package main\n\n//\n"
	base := source
	res, err := p.ParseIncremental(ctx, "j.go", []byte(source), nil)
	require.NoError(t, err)
	res.Tree.Close()

	var seqs []uint64
	for i := 0; i < 300; i++ {
		at := len(source) - 1
		var edit syntax.Edit
		source, edit = replaceAt(t, source, at, at, "x")
		res, err := p.ParseIncremental(ctx, "j.go", []byte(source), &edit)
		require.NoError(t, err)
		res.Tree.Close()
		seqs = append(seqs, res.SequenceID)
	}

	j, ok := p.Journal("j.go")
	require.True(t, ok)
	require.Equal(t, DefaultJournalLimit, j.Len())
	for i, e := range j.Entries {
		assert.Equal(t, seqs[300-DefaultJournalLimit+i], e.SequenceID)
	}
	assert.NotZero(t, j.BaseSnapshotID)
	assert.True(t, j.Truncated)

	// The oldest retained edit was made against text 44 bytes longer than
	// base.
	_, err = p.ReplayEdits(ctx, "j.go", []byte(base), j)
	assert.ErrorIs(t, err, ErrReplay)
	assert.ErrorIs(t, err, ErrJournalTruncated)

	snap, err := p.Snapshot(ctx, "j.go")
	require.NoError(t, err)
	at := len(source) - 1
	next, edit := replaceAt(t, source, at, at, "y")
	res, err = p.ParseIncremental(ctx, "j.go", []byte(next), &edit)
	require.NoError(t, err)
	res.Tree.Close()

	fresh, ok := p.Journal("j.go")
	require.True(t, ok)
	assert.False(t, fresh.Truncated)
	out, err := p.ReplayEdits(ctx, "j.go", snap, fresh)
	require.NoError(t, err)
	defer out.Tree.Close()
	assert.Equal(t, next, string(out.Source))
}

func TestEditJournal_AppendTrims(t *testing.T) {
	j := NewEditJournal(7, 3)
	for i := 1; i <= 5; i++ {
		j.Append(LoggedEdit{SequenceID: uint64(i)})
	}
	require.Equal(t, 3, j.Len())
	assert.Equal(t, uint64(3), j.Entries[0].SequenceID)
	assert.Equal(t, uint64(5), j.LastSequenceID())
	assert.False(t, j.FullFidelity())
	assert.True(t, j.Truncated)

	c := j.Clone()
	assert.True(t, c.Truncated)
	c.Entries[0].SequenceID = 99
	assert.Equal(t, uint64(3), j.Entries[0].SequenceID)
	assert.Equal(t, DefaultJournalLimit, NewEditJournal(1, 0).Limit())

	full := NewEditJournal(1, 2)
	full.Append(LoggedEdit{SequenceID: 1})
	full.Append(LoggedEdit{SequenceID: 2})
	assert.False(t, full.Truncated)
}

func TestParseIncremental_FullParseRebasesJournal(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	p := New(goParser(t), WithJournalStore(store))
	defer p.Close()

	res, err := p.ParseIncremental(ctx, "fb.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()
	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err = p.ParseIncremental(ctx, "fb.go", []byte(next), &edit)
	require.NoError(t, err)
	res.Tree.Close()
	first, ok := p.Journal("fb.go")
	require.True(t, ok)

	// Same text without an edit: the journal still leads to it.
	res, err = p.ParseIncremental(ctx, "fb.go", []byte(next), nil)
	require.NoError(t, err)
	res.Tree.Close()
	assert.Equal(t, StateCachedWithJournal, p.State("fb.go"))

	// New text without an edit: the old journal no longer reaches it.
	rewritten := "package main\n\nvar x = 1\n"
	res, err = p.ParseIncremental(ctx, "fb.go", []byte(rewritten), nil)
	require.NoError(t, err)
	res.Tree.Close()
	assert.Equal(t, StateCached, p.State("fb.go"))
	_, ok = p.Journal("fb.go")
	assert.False(t, ok)
	assert.Equal(t, []string{"fb.go"}, store.deleted)

	after, edit := replaceAt(t, rewritten, len("package main\n\nvar "), len("package main\n\nvar x"), "y")
	res, err = p.ParseIncremental(ctx, "fb.go", []byte(after), &edit)
	require.NoError(t, err)
	res.Tree.Close()
	second, ok := p.Journal("fb.go")
	require.True(t, ok)
	assert.Greater(t, second.BaseSnapshotID, first.BaseSnapshotID)
	require.Equal(t, 1, second.Len())

	out, err := p.ReplayEdits(ctx, "fb.go", []byte(rewritten), second)
	require.NoError(t, err)
	defer out.Tree.Close()
	assert.Equal(t, after, string(out.Source))
}

func TestPathLocks_ReleasedAfterUse(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("l%d.go", i%4)
			res, err := p.ParseIncremental(ctx, path, []byte(addSource), nil)
			if assert.NoError(t, err) {
				res.Tree.Close()
			}
			if i%2 == 0 {
				p.Clear(ctx, path)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("gone%d.go", i)
		res, err := p.ParseIncremental(ctx, path, []byte(addSource), nil)
		require.NoError(t, err)
		res.Tree.Close()
		p.Clear(ctx, path)
	}

	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	assert.Empty(t, p.pathLocks)
}

type nilParser struct{}

func (nilParser) Parse(context.Context, []byte, syntax.Tree) (syntax.Tree, error) { return nil, nil }
func (nilParser) Language() string                                                 { return "none" }

func TestParseIncremental_ParseFailure(t *testing.T) {
	p := New(nilParser{})
	_, err := p.ParseIncremental(context.Background(), "x", []byte("x"), nil)
	assert.ErrorIs(t, err, ErrParseFailure)
	assert.False(t, p.Tracked("x"))
	assert.Equal(t, StateUntracked, p.State("x"))
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	assert.Equal(t, StateUntracked, p.State("s.go"))
	_, err := p.Snapshot(ctx, "s.go")
	assert.ErrorIs(t, err, ErrNotTracked)

	res, err := p.ParseIncremental(ctx, "s.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()
	assert.Equal(t, StateCached, p.State("s.go"))

	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err = p.ParseIncremental(ctx, "s.go", []byte(next), &edit)
	require.NoError(t, err)
	res.Tree.Close()
	assert.Equal(t, StateCachedWithJournal, p.State("s.go"))
	first, _ := p.Journal("s.go")

	base, err := p.Snapshot(ctx, "s.go")
	require.NoError(t, err)
	assert.Equal(t, next, string(base))
	assert.Equal(t, StateCached, p.State("s.go"))

	again, edit := replaceAt(t, next, 19, 22, "add")
	res, err = p.ParseIncremental(ctx, "s.go", []byte(again), &edit)
	require.NoError(t, err)
	res.Tree.Close()
	second, _ := p.Journal("s.go")
	assert.Greater(t, second.BaseSnapshotID, first.BaseSnapshotID)

	p.ClearJournal(ctx, "s.go")
	assert.Equal(t, StateCached, p.State("s.go"))

	p.Clear(ctx, "s.go")
	assert.Equal(t, StateUntracked, p.State("s.go"))
	assert.False(t, p.Tracked("s.go"))
}

func TestReplayEdits(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	res, err := p.ParseIncremental(ctx, "r.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()

	source := addSource
	steps := []struct {
		start, end int
		text       string
	}{
		{19, 22, "sum"},
		{len("package main\n\nfunc sum(a, b int) int {\n\treturn a + b"), len("package main\n\nfunc sum(a, b int) int {\n\treturn a + b"), " + 1"},
		{0, 0, "// header\n"},
	}
	for _, s := range steps {
		var edit syntax.Edit
		source, edit = replaceAt(t, source, s.start, s.end, s.text)
		res, err := p.ParseIncremental(ctx, "r.go", []byte(source), &edit)
		require.NoError(t, err)
		res.Tree.Close()
	}

	j, ok := p.Journal("r.go")
	require.True(t, ok)
	require.True(t, j.FullFidelity())

	t.Run("full fidelity", func(t *testing.T) {
		out, err := p.ReplayEdits(ctx, "r.go", []byte(addSource), j)
		require.NoError(t, err)
		defer out.Tree.Close()
		assert.Equal(t, source, string(out.Source))
		assert.Equal(t, 3, out.Applied)
		assert.False(t, out.ShapeOnly)
		assertEquivalent(t, out.Tree, source)
	})

	t.Run("shape only", func(t *testing.T) {
		blind := j.Clone()
		for i := range blind.Entries {
			blind.Entries[i].InsertedText = nil
			blind.Entries[i].HasText = false
		}
		out, err := p.ReplayEdits(ctx, "r.go", []byte(addSource), blind)
		require.NoError(t, err)
		defer out.Tree.Close()
		assert.True(t, out.ShapeOnly)
		assert.Len(t, out.Source, len(source))
	})

	t.Run("out of order entries are sorted", func(t *testing.T) {
		shuffled := j.Clone()
		e := shuffled.Entries
		e[0], e[2] = e[2], e[0]
		out, err := p.ReplayEdits(ctx, "r.go", []byte(addSource), shuffled)
		require.NoError(t, err)
		defer out.Tree.Close()
		assert.Equal(t, source, string(out.Source))
	})

	t.Run("duplicate sequence id", func(t *testing.T) {
		dup := j.Clone()
		dup.Entries[1].SequenceID = dup.Entries[0].SequenceID
		_, err := p.ReplayEdits(ctx, "r.go", []byte(addSource), dup)
		assert.ErrorIs(t, err, ErrReplay)
	})

	t.Run("edit past base", func(t *testing.T) {
		_, err := p.ReplayEdits(ctx, "r.go", []byte("package main\n"), j)
		assert.ErrorIs(t, err, ErrReplay)
	})

	t.Run("empty journal", func(t *testing.T) {
		out, err := p.ReplayEdits(ctx, "r.go", []byte(addSource), nil)
		require.NoError(t, err)
		defer out.Tree.Close()
		assert.Equal(t, addSource, string(out.Source))
		assert.Zero(t, out.Applied)
	})
}

type memStore struct {
	mu       sync.Mutex
	appended map[string][]LoggedEdit
	deleted  []string
}

func (s *memStore) AppendEdit(_ context.Context, path string, _ uint64, e LoggedEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appended == nil {
		s.appended = make(map[string][]LoggedEdit)
	}
	s.appended[path] = append(s.appended[path], e)
	return nil
}

func (s *memStore) DeleteJournal(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, path)
	delete(s.appended, path)
	return nil
}

func (s *memStore) LoadJournal(context.Context, string) (*EditJournal, error) {
	return nil, nil
}

func TestJournalStore_ReceivesEdits(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	p := New(goParser(t), WithJournalStore(store))
	defer p.Close()

	res, err := p.ParseIncremental(ctx, "st.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()
	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err = p.ParseIncremental(ctx, "st.go", []byte(next), &edit)
	require.NoError(t, err)
	res.Tree.Close()

	require.Len(t, store.appended["st.go"], 1)
	assert.Equal(t, edit, store.appended["st.go"][0].Edit)

	p.Clear(ctx, "st.go")
	assert.Equal(t, []string{"st.go"}, store.deleted)
}

func TestRestoreJournal_AdvancesSequence(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	j := NewEditJournal(40, 0)
	j.Append(LoggedEdit{SequenceID: 100, HasText: true})
	p.RestoreJournal("rj.go", j)

	res, err := p.ParseIncremental(ctx, "rj.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()
	next, edit := replaceAt(t, addSource, 19, 22, "sum")
	res, err = p.ParseIncremental(ctx, "rj.go", []byte(next), &edit)
	require.NoError(t, err)
	res.Tree.Close()
	assert.Greater(t, res.SequenceID, uint64(100))

	got, ok := p.Journal("rj.go")
	require.True(t, ok)
	assert.Equal(t, uint64(40), got.BaseSnapshotID)
	assert.Equal(t, 2, got.Len())
}

func TestParseIncremental_ConcurrentPaths(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("f%d.go", i)
			res, err := p.ParseIncremental(ctx, path, []byte(addSource), nil)
			if err != nil {
				errs <- err
				return
			}
			res.Tree.Close()
			next := addSource[:19] + "sum" + addSource[22:]
			edit, err := CalculateEdit([]byte(addSource), []byte(next), 19, 22)
			if err != nil {
				errs <- err
				return
			}
			res, err = p.ParseIncremental(ctx, path, []byte(next), &edit)
			if err != nil {
				errs <- err
				return
			}
			res.Tree.Close()
			_ = p.MemoryUsage()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m := p.MemoryUsage()
	assert.Equal(t, n, m.Paths)
	assert.Equal(t, n, m.JournalEntries)
	assert.Equal(t, n*len(addSource), m.SourceBytes)
	assert.Positive(t, m.Total())
}

func TestParseIncremental_Closed(t *testing.T) {
	p := New(goParser(t))
	p.Close()
	_, err := p.ParseIncremental(context.Background(), "c.go", []byte(addSource), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEstimateReuse(t *testing.T) {
	reused, reparsed := estimateReuse(100, 100, 10, 50)
	assert.Equal(t, 80, reused)
	assert.Equal(t, 20, reparsed)

	reused, reparsed = estimateReuse(100, 30, 50, 50)
	assert.Equal(t, 0, reused)
	assert.Equal(t, 30, reparsed)

	reused, reparsed = estimateReuse(10, 5, 1, 0)
	assert.Equal(t, 0, reused)
	assert.Equal(t, 5, reparsed)
}

func TestEditsFromUnifiedDiff(t *testing.T) {
	t.Run("file diff", func(t *testing.T) {
		old := "a\nb\nc\n"
		d := "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n-b\n+B2\n c\n"
		edits, final, err := EditsFromUnifiedDiff([]byte(old), []byte(d))
		require.NoError(t, err)
		assert.Equal(t, "a\nB2\nc\n", string(final))
		require.Len(t, edits, 1)
		assert.Equal(t, uint32(2), edits[0].Edit.StartByte)
		assert.Equal(t, uint32(3), edits[0].Edit.OldEndByte)
		assert.Equal(t, uint32(4), edits[0].Edit.NewEndByte)
		assert.Equal(t, "B2", string(edits[0].Text))
	})

	t.Run("two hunks applied in order", func(t *testing.T) {
		old := "1\n2\n3\n4\n5\n6\n7\n8\n9\n"
		d := "@@ -1,2 +1,3 @@\n 1\n+1.5\n 2\n@@ -8,2 +9,1 @@\n-8\n 9\n"
		edits, final, err := EditsFromUnifiedDiff([]byte(old), []byte(d))
		require.NoError(t, err)
		assert.Equal(t, "1\n1.5\n2\n3\n4\n5\n6\n7\n9\n", string(final))
		require.Len(t, edits, 2)

		cur := []byte(old)
		for _, e := range edits {
			cur, err = ApplyEdit(cur, e.Edit, e.Text)
			require.NoError(t, err)
		}
		assert.Equal(t, string(final), string(cur))
	})

	t.Run("no newline at end", func(t *testing.T) {
		old := "a\nb"
		d := "@@ -1,2 +1,2 @@\n a\n-b\n\\ No newline at end of file\n+c\n\\ No newline at end of file\n"
		_, final, err := EditsFromUnifiedDiff([]byte(old), []byte(d))
		require.NoError(t, err)
		assert.Equal(t, "a\nc", string(final))
	})

	t.Run("insert into empty file", func(t *testing.T) {
		d := "@@ -0,0 +1,2 @@\n+x\n+y\n"
		edits, final, err := EditsFromUnifiedDiff(nil, []byte(d))
		require.NoError(t, err)
		assert.Equal(t, "x\ny\n", string(final))
		require.Len(t, edits, 1)
		assert.Equal(t, uint32(0), edits[0].Edit.OldEndByte)
	})

	t.Run("context mismatch", func(t *testing.T) {
		d := "@@ -1,2 +1,2 @@\n a\n-z\n+y\n"
		_, _, err := EditsFromUnifiedDiff([]byte("a\nb\n"), []byte(d))
		assert.ErrorIs(t, err, ErrInvalidDiff)
	})

	t.Run("hunk past end", func(t *testing.T) {
		d := "@@ -5,1 +5,1 @@\n-e\n+f\n"
		_, _, err := EditsFromUnifiedDiff([]byte("a\nb\n"), []byte(d))
		assert.ErrorIs(t, err, ErrInvalidDiff)
	})
}

func TestEditsFromUnifiedDiff_DrivesParser(t *testing.T) {
	ctx := context.Background()
	p := New(goParser(t))
	defer p.Close()

	res, err := p.ParseIncremental(ctx, "d.go", []byte(addSource), nil)
	require.NoError(t, err)
	res.Tree.Close()

	d := "@@ -3,3 +3,3 @@\n-func add(a, b int) int {\n+func add(a, b, c int) int {\n \treturn a + b\n }\n"
	edits, final, err := EditsFromUnifiedDiff([]byte(addSource), []byte(d))
	require.NoError(t, err)
	require.Len(t, edits, 1)

	res, err = p.ParseIncremental(ctx, "d.go", final, &edits[0].Edit)
	require.NoError(t, err)
	defer res.Tree.Close()
	assertEquivalent(t, res.Tree, string(final))

	j, _ := p.Journal("d.go")
	require.Equal(t, 1, j.Len())
	assert.Equal(t, string(edits[0].Text), string(j.Entries[0].InsertedText))
}
