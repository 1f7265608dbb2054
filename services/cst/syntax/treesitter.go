// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
)

// WarnSourceSize is the source size above which a parse is logged.
const WarnSourceSize = 1024 * 1024

// TreeSitterParser adapts a tree-sitter grammar to the Parser interface.
//
// Description:
//
//	A new sitter.Parser is created for every call because tree-sitter
//	parsers hold mutable state. Old trees passed as hints must come from
//	this adapter; anything else is ignored and a full parse is done.
//
// Thread Safety: Safe for concurrent use.
type TreeSitterParser struct {
	grammar *Grammar
	logger  *slog.Logger
}

// TreeSitterOption configures a TreeSitterParser.
type TreeSitterOption func(*TreeSitterParser)

// WithParserLogger sets the logger used for large-source warnings.
func WithParserLogger(logger *slog.Logger) TreeSitterOption {
	return func(p *TreeSitterParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewTreeSitterParser creates a parser for grammar.
func NewTreeSitterParser(grammar *Grammar, opts ...TreeSitterOption) *TreeSitterParser {
	p := &TreeSitterParser{
		grammar: grammar,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "treesitter"), slog.String("language", grammar.Name()))
	return p
}

// Language returns the grammar name.
func (p *TreeSitterParser) Language() string {
	return p.grammar.Name()
}

// Grammar returns the grammar this parser was built for.
func (p *TreeSitterParser) Grammar() *Grammar {
	return p.grammar
}

// Parse parses source, reusing old when it is a tree-sitter tree.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked before and after parsing.
//	source - Raw source bytes.
//	old - A previously parsed tree that already had the edit applied, or nil.
//
// Outputs:
//
//	Tree - The new tree. The caller owns it and must Close it.
//	error - ErrParseFailed when tree-sitter returns no tree, or the
//	        context error on cancellation.
func (p *TreeSitterParser) Parse(ctx context.Context, source []byte, old Tree) (Tree, error) {
	ctx, span := startParseSpan(ctx, p.grammar.Name(), len(source), old != nil)
	defer span.End()

	start := time.Now()
	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, p.grammar.Name(), time.Since(start), false, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if len(source) > WarnSourceSize {
		p.logger.Warn("parsing large source", slog.Int("size_bytes", len(source)))
	}

	var hint *sitter.Tree
	if t, ok := old.(*tsTree); ok && t != nil {
		hint = t.tree
	}

	parser := sitter.NewParser()
	parser.SetLanguage(p.grammar.language)

	tree, err := parser.ParseCtx(ctx, hint, source)
	if err != nil {
		recordParseMetrics(ctx, p.grammar.Name(), time.Since(start), hint != nil, false)
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if tree == nil || tree.RootNode() == nil {
		recordParseMetrics(ctx, p.grammar.Name(), time.Since(start), hint != nil, false)
		return nil, fmt.Errorf("%w: tree-sitter returned no tree", ErrParseFailed)
	}

	recordParseMetrics(ctx, p.grammar.Name(), time.Since(start), hint != nil, true)
	return &tsTree{tree: tree}, nil
}

// tsTree wraps a tree-sitter tree.
type tsTree struct {
	tree *sitter.Tree
}

func (t *tsTree) Root() Node {
	root := t.tree.RootNode()
	if root == nil {
		return nil
	}
	return tsNode{n: root}
}

func (t *tsTree) Edit(e Edit) {
	t.tree.Edit(sitter.EditInput{
		StartIndex:  e.StartByte,
		OldEndIndex: e.OldEndByte,
		NewEndIndex: e.NewEndByte,
		StartPoint:  sitter.Point{Row: e.StartPoint.Row, Column: e.StartPoint.Column},
		OldEndPoint: sitter.Point{Row: e.OldEndPoint.Row, Column: e.OldEndPoint.Column},
		NewEndPoint: sitter.Point{Row: e.NewEndPoint.Row, Column: e.NewEndPoint.Column},
	})
}

func (t *tsTree) Copy() Tree {
	return &tsTree{tree: t.tree.Copy()}
}

func (t *tsTree) Close() {
	t.tree.Close()
}

// tsNode wraps a tree-sitter node.
type tsNode struct {
	n *sitter.Node
}

func (n tsNode) Kind() string      { return n.n.Type() }
func (n tsNode) KindID() uint16    { return uint16(n.n.Symbol()) }
func (n tsNode) IsNamed() bool     { return n.n.IsNamed() }
func (n tsNode) IsMissing() bool   { return n.n.IsMissing() }
func (n tsNode) IsExtra() bool     { return n.n.IsExtra() }
func (n tsNode) IsError() bool     { return n.n.IsError() }
func (n tsNode) StartByte() uint32 { return n.n.StartByte() }
func (n tsNode) EndByte() uint32   { return n.n.EndByte() }
func (n tsNode) ChildCount() int   { return int(n.n.ChildCount()) }

func (n tsNode) Child(i int) Node {
	c := n.n.Child(i)
	if c == nil {
		return nil
	}
	return tsNode{n: c}
}

func (n tsNode) FieldNameForChild(i int) string {
	return n.n.FieldNameForChild(i)
}
