// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package incremental keeps the last parse of each file and re-parses only
// what an edit touched, logging every edit in a bounded journal that can be
// replayed over the base text.
//
// Per path the state moves Untracked -> Cached -> CachedWithJournal and
// back to Untracked on Clear. An edit against an untracked path always
// falls back to a full parse.
package incremental

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// PathState is the lifecycle state of one path.
type PathState int

const (
	StateUntracked PathState = iota
	StateCached
	StateCachedWithJournal
)

func (s PathState) String() string {
	switch s {
	case StateUntracked:
		return "untracked"
	case StateCached:
		return "cached"
	case StateCachedWithJournal:
		return "cached_with_journal"
	default:
		return fmt.Sprintf("PathState(%d)", int(s))
	}
}

// Option configures an IncrementalParser.
type Option func(*IncrementalParser)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *IncrementalParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCompactBuild attaches a compact tree, built with opts, to every
// ParseResult.
func WithCompactBuild(opts ...compact.Option) Option {
	return func(p *IncrementalParser) {
		p.buildCompact = true
		p.compactOpts = opts
	}
}

// WithJournalStore persists journals through store.
func WithJournalStore(store JournalStore) Option {
	return func(p *IncrementalParser) {
		p.store = store
	}
}

// WithJournalLimit overrides DefaultJournalLimit.
func WithJournalLimit(n int) Option {
	return func(p *IncrementalParser) {
		if n >= 1 {
			p.journalLimit = n
		}
	}
}

// ParseResult describes one ParseIncremental call.
type ParseResult struct {
	Path string

	// Tree is a copy of the cached tree. The caller owns it and must
	// Close it.
	Tree syntax.Tree

	// Compact is set when the parser was built WithCompactBuild.
	Compact *compact.Tree

	Incremental   bool
	NodeCount     int
	ReusedNodes   int
	ReparsedNodes int
	Duration      time.Duration

	// SequenceID is the journal sequence id of the edit, 0 for full parses.
	SequenceID uint64
}

type cachedTree struct {
	tree   syntax.Tree
	source []byte
	nodes  int
}

// MemoryStats summarises what the parser holds.
type MemoryStats struct {
	Paths          int
	SourceBytes    int
	TreeBytes      int // estimated from node counts
	JournalEntries int
	JournalBytes   int
}

// Total returns the sum of all byte counts.
func (m MemoryStats) Total() int {
	return m.SourceBytes + m.TreeBytes + m.JournalBytes
}

// IncrementalParser caches the last (tree, source) per path and journals
// edits.
//
// Description:
//
//	The tree cache and the journal map are guarded by separate
//	RWMutexes. Neither is held during a parse. Calls for the same path are
//	serialised by a per-path mutex in arrival order; different paths
//	proceed in parallel.
//
// Thread Safety: Safe for concurrent use.
type IncrementalParser struct {
	parser       syntax.Parser
	logger       *slog.Logger
	store        JournalStore
	buildCompact bool
	compactOpts  []compact.Option
	journalLimit int

	cacheMu sync.RWMutex
	cache   map[string]*cachedTree

	journalMu sync.RWMutex
	journals  map[string]*EditJournal

	locksMu   sync.Mutex
	pathLocks map[string]*pathLock

	nextSeq      atomic.Uint64
	nextSnapshot atomic.Uint64
	closed       atomic.Bool
}

// New creates an IncrementalParser over parser.
func New(parser syntax.Parser, opts ...Option) *IncrementalParser {
	p := &IncrementalParser{
		parser:       parser,
		logger:       slog.Default(),
		journalLimit: DefaultJournalLimit,
		cache:        make(map[string]*cachedTree),
		journals:     make(map[string]*EditJournal),
		pathLocks:    make(map[string]*pathLock),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(
		slog.String("component", "incremental_parser"),
		slog.String("language", parser.Language()),
	)
	return p
}

// pathLock serialises calls for one path. refs counts holders and
// waiters; the entry leaves pathLocks when it drops to zero.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

func (p *IncrementalParser) lockPath(path string) func() {
	p.locksMu.Lock()
	l, ok := p.pathLocks[path]
	if !ok {
		l = &pathLock{}
		p.pathLocks[path] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.pathLocks, path)
		}
		p.locksMu.Unlock()
	}
}

func (p *IncrementalParser) cached(path string) (*cachedTree, bool) {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	c, ok := p.cache[path]
	return c, ok
}

func (p *IncrementalParser) put(path string, c *cachedTree) {
	p.cacheMu.Lock()
	old := p.cache[path]
	p.cache[path] = c
	p.cacheMu.Unlock()
	if old != nil {
		old.tree.Close()
	}
}

// ParseIncremental parses newSource for path, reusing the cached tree when
// an edit is given.
//
// Description:
//
//	With no cached tree, or a nil edit, the source is parsed from scratch
//	and cached with ReusedNodes 0. A nil-edit parse whose source differs
//	from the cached one also drops the path's journal, making newSource the
//	base of the next one. Otherwise a copy of the cached tree has
//	the edit applied and is passed to the parser as a hint; the new tree
//	and source replace the cache and the edit, with its inserted text, is
//	appended to the path's journal. The reused/reparsed split is the
//	estimate oldCount*editedBytes/newLen, not an exact diff.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	path - Cache key, usually a file path.
//	newSource - The complete new text.
//	edit - The edit that turned the cached source into newSource, or nil.
//
// Outputs:
//
//	*ParseResult - The parse outcome. Its Tree must be closed by the caller.
//	error - ErrParseFailure if the parser produced no tree, in which case
//	nothing is cached; syntax.ErrInvalidEdit for malformed edits.
//
// Thread Safety: Safe for concurrent use.
func (p *IncrementalParser) ParseIncremental(ctx context.Context, path string, newSource []byte, edit *syntax.Edit) (*ParseResult, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	unlock := p.lockPath(path)
	defer unlock()

	prev, hasPrev := p.cached(path)
	incremental := hasPrev && edit != nil

	ctx, span := startParseSpan(ctx, path, len(newSource), incremental)
	defer span.End()
	start := time.Now()

	if edit != nil {
		if err := edit.Validate(); err != nil {
			return nil, err
		}
		if int(edit.NewEndByte) > len(newSource) {
			return nil, fmt.Errorf("%w: new end %d past %d bytes", syntax.ErrInvalidEdit, edit.NewEndByte, len(newSource))
		}
		if hasPrev && int(edit.OldEndByte) > len(prev.source) {
			return nil, fmt.Errorf("%w: old end %d past %d cached bytes", syntax.ErrInvalidEdit, edit.OldEndByte, len(prev.source))
		}
	}

	var hint syntax.Tree
	if incremental {
		hint = prev.tree.Copy()
		hint.Edit(*edit)
		defer hint.Close()
	}

	tree, err := p.parser.Parse(ctx, newSource, hint)
	if err != nil || tree == nil || tree.Root() == nil {
		if tree != nil {
			tree.Close()
		}
		recordParseMetrics(ctx, incremental, time.Since(start), 0, 0, false)
		span.RecordError(fmt.Errorf("parse %s: %w", path, ErrParseFailure))
		if err == nil {
			return nil, fmt.Errorf("parse %s: %w", path, ErrParseFailure)
		}
		return nil, fmt.Errorf("parse %s: %w: %w", path, ErrParseFailure, err)
	}

	source := append([]byte(nil), newSource...)
	nodes := syntax.CountNodes(tree.Root())
	result := &ParseResult{
		Path:          path,
		Incremental:   incremental,
		NodeCount:     nodes,
		ReparsedNodes: nodes,
	}

	if p.buildCompact {
		ct, err := compact.BuildFromSyntax(ctx, tree.Root(), source, p.compactOpts...)
		if err != nil {
			tree.Close()
			recordParseMetrics(ctx, incremental, time.Since(start), 0, 0, false)
			return nil, fmt.Errorf("compact %s: %w", path, err)
		}
		result.Compact = ct
	}

	if incremental {
		result.ReusedNodes, result.ReparsedNodes = estimateReuse(prev.nodes, nodes, edit.EditedBytes(), len(newSource))
	}

	rebased := !incremental && hasPrev && !bytes.Equal(prev.source, source)
	p.put(path, &cachedTree{tree: tree, source: source, nodes: nodes})
	result.Tree = tree.Copy()

	if rebased {
		p.ClearJournal(ctx, path)
	}

	if incremental {
		result.SequenceID = p.journalEdit(ctx, path, *edit, source[edit.StartByte:edit.NewEndByte])
	}

	result.Duration = time.Since(start)
	recordParseMetrics(ctx, incremental, result.Duration, result.ReusedNodes, result.ReparsedNodes, true)
	setParseSpanResult(span, result)
	p.logger.Debug("parsed",
		slog.String("path", path),
		slog.Bool("incremental", incremental),
		slog.Int("node_count", nodes),
		slog.Int("reused_nodes", result.ReusedNodes),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// estimateReuse splits newCount into reused and reparsed nodes using
// reparsed = oldCount * editedBytes / newLen.
func estimateReuse(oldCount, newCount int, editedBytes uint32, newLen int) (reused, reparsed int) {
	if newLen <= 0 {
		return 0, newCount
	}
	reparsed = int(uint64(oldCount) * uint64(editedBytes) / uint64(newLen))
	if reparsed > newCount {
		reparsed = newCount
	}
	return newCount - reparsed, reparsed
}

func (p *IncrementalParser) journalEdit(ctx context.Context, path string, edit syntax.Edit, inserted []byte) uint64 {
	entry := LoggedEdit{
		Edit:         edit,
		Timestamp:    time.Now(),
		SequenceID:   p.nextSeq.Add(1),
		InsertedText: append([]byte(nil), inserted...),
		HasText:      true,
	}

	p.journalMu.Lock()
	j, ok := p.journals[path]
	if !ok {
		j = NewEditJournal(p.nextSnapshot.Add(1), p.journalLimit)
		p.journals[path] = j
	}
	wasTruncated := j.Truncated
	dropped := j.Append(entry)
	base := j.BaseSnapshotID
	size := j.Len()
	p.journalMu.Unlock()

	recordJournalMetrics(ctx, size, dropped)
	if dropped > 0 && !wasTruncated {
		p.logger.Warn("journal limit reached, replay disabled until next snapshot",
			slog.String("path", path),
			slog.Int("limit", size))
	}
	if p.store != nil {
		if err := p.store.AppendEdit(ctx, path, base, entry); err != nil {
			p.logger.Warn("journal store append failed",
				slog.String("path", path),
				slog.Uint64("sequence_id", entry.SequenceID),
				slog.String("error", err.Error()))
		}
	}
	return entry.SequenceID
}

// Journal returns a copy of the journal for path.
func (p *IncrementalParser) Journal(path string) (*EditJournal, bool) {
	p.journalMu.RLock()
	defer p.journalMu.RUnlock()
	j, ok := p.journals[path]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// RestoreJournal installs a journal for path, typically one loaded from a
// JournalStore. Sequence ids handed out afterwards exceed its newest entry.
func (p *IncrementalParser) RestoreJournal(path string, j *EditJournal) {
	if j == nil {
		return
	}
	clone := j.Clone()
	clone.limit = p.journalLimit
	for {
		cur := p.nextSeq.Load()
		if cur >= clone.LastSequenceID() || p.nextSeq.CompareAndSwap(cur, clone.LastSequenceID()) {
			break
		}
	}
	for {
		cur := p.nextSnapshot.Load()
		if cur >= clone.BaseSnapshotID || p.nextSnapshot.CompareAndSwap(cur, clone.BaseSnapshotID) {
			break
		}
	}
	p.journalMu.Lock()
	p.journals[path] = clone
	p.journalMu.Unlock()
}

// ClearJournal drops the journal for path, keeping the cached tree.
func (p *IncrementalParser) ClearJournal(ctx context.Context, path string) {
	p.journalMu.Lock()
	_, had := p.journals[path]
	delete(p.journals, path)
	p.journalMu.Unlock()

	if had && p.store != nil {
		if err := p.store.DeleteJournal(ctx, path); err != nil {
			p.logger.Warn("journal store delete failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}

// Clear evicts the cached tree and journal for path.
func (p *IncrementalParser) Clear(ctx context.Context, path string) {
	unlock := p.lockPath(path)
	defer unlock()

	p.cacheMu.Lock()
	c, ok := p.cache[path]
	delete(p.cache, path)
	p.cacheMu.Unlock()
	if ok {
		c.tree.Close()
	}
	p.ClearJournal(ctx, path)
}

// Snapshot makes the cached source the new replay base for path and clears
// its journal. It returns a copy of that source.
func (p *IncrementalParser) Snapshot(ctx context.Context, path string) ([]byte, error) {
	unlock := p.lockPath(path)
	defer unlock()

	c, ok := p.cached(path)
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", path, ErrNotTracked)
	}
	p.ClearJournal(ctx, path)
	return append([]byte(nil), c.source...), nil
}

// Source returns a copy of the cached source for path.
func (p *IncrementalParser) Source(path string) ([]byte, bool) {
	c, ok := p.cached(path)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), c.source...), true
}

// Tracked reports whether path has a cached tree.
func (p *IncrementalParser) Tracked(path string) bool {
	_, ok := p.cached(path)
	return ok
}

// State returns the lifecycle state of path.
func (p *IncrementalParser) State(path string) PathState {
	if !p.Tracked(path) {
		return StateUntracked
	}
	p.journalMu.RLock()
	_, ok := p.journals[path]
	p.journalMu.RUnlock()
	if ok {
		return StateCachedWithJournal
	}
	return StateCached
}

// MemoryUsage reports the parser's footprint. It takes only read locks.
func (p *IncrementalParser) MemoryUsage() MemoryStats {
	var m MemoryStats

	p.cacheMu.RLock()
	m.Paths = len(p.cache)
	for _, c := range p.cache {
		m.SourceBytes += len(c.source)
		m.TreeBytes += compact.EstimatePointerTreeSize(c.nodes, 0)
	}
	p.cacheMu.RUnlock()

	p.journalMu.RLock()
	for _, j := range p.journals {
		m.JournalEntries += j.Len()
		m.JournalBytes += j.MemoryBytes()
	}
	p.journalMu.RUnlock()
	return m
}

// Close releases every cached tree. Further parses return ErrClosed.
func (p *IncrementalParser) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.cacheMu.Lock()
	for path, c := range p.cache {
		c.tree.Close()
		delete(p.cache, path)
	}
	p.cacheMu.Unlock()
}
