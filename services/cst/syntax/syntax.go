// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax defines the contract between the compact CST layer and an
// external grammar parser, plus a tree-sitter implementation of it.
//
// The compact, bytecode and incremental packages only see the Node, Tree
// and Parser interfaces declared here. They never import tree-sitter
// directly, so alternative parsers (or in-memory trees in tests) can be
// plugged in.
package syntax

import (
	"context"
	"fmt"
)

// Point is a zero-based row/column location. Column counts bytes.
type Point struct {
	Row    uint32 `json:"row"`
	Column uint32 `json:"column"`
}

// String renders the point as row:column.
func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Column)
}

// Edit describes a single source replacement.
//
// Description:
//
//	Bytes [StartByte, OldEndByte) of the old text were replaced so that the
//	new text holds the replacement at [StartByte, NewEndByte). The points
//	carry the same locations as row/column pairs.
type Edit struct {
	StartByte   uint32 `json:"start_byte"`
	OldEndByte  uint32 `json:"old_end_byte"`
	NewEndByte  uint32 `json:"new_end_byte"`
	StartPoint  Point  `json:"start_point"`
	OldEndPoint Point  `json:"old_end_point"`
	NewEndPoint Point  `json:"new_end_point"`
}

// EditedBytes returns the larger of the removed and inserted spans.
func (e Edit) EditedBytes() uint32 {
	removed := e.OldEndByte - e.StartByte
	inserted := e.NewEndByte - e.StartByte
	if removed > inserted {
		return removed
	}
	return inserted
}

// Validate reports whether the byte offsets are ordered.
func (e Edit) Validate() error {
	if e.OldEndByte < e.StartByte || e.NewEndByte < e.StartByte {
		return fmt.Errorf("%w: start=%d old_end=%d new_end=%d",
			ErrInvalidEdit, e.StartByte, e.OldEndByte, e.NewEndByte)
	}
	return nil
}

// Node is a read-only view of one CST node.
//
// Implementations must return children in source order and report the
// field name under which the parent holds each child ("" when none).
type Node interface {
	Kind() string
	KindID() uint16
	IsNamed() bool
	IsMissing() bool
	IsExtra() bool
	IsError() bool
	StartByte() uint32
	EndByte() uint32
	ChildCount() int
	Child(i int) Node
	FieldNameForChild(i int) string
}

// Tree is a parsed syntax tree that can be edited and used as a reparse hint.
type Tree interface {
	// Root returns the root node.
	Root() Node

	// Edit adjusts node positions in place to account for a source edit.
	// Only positions change; the tree must be reparsed to pick up new text.
	Edit(e Edit)

	// Copy returns an independent tree that can be edited without
	// affecting the receiver.
	Copy() Tree

	// Close releases resources held by the tree.
	Close()
}

// Parser produces trees from source.
//
// Description:
//
//	When old is non-nil it must already have had the corresponding Edit
//	applied. Implementations use it to reuse unchanged subtrees.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, source []byte, old Tree) (Tree, error)
	Language() string
}

// Walk visits root and its descendants in pre-order.
//
// Description:
//
//	Uses an explicit stack so deeply nested trees cannot exhaust the
//	goroutine stack. fn receives the node, its depth, and the field name
//	under which its parent holds it. Returning false skips the node's
//	children.
func Walk(root Node, fn func(n Node, depth int, field string) bool) {
	if root == nil {
		return
	}
	type frame struct {
		node  Node
		depth int
		field string
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth, f.field) {
			continue
		}
		for i := f.node.ChildCount() - 1; i >= 0; i-- {
			child := f.node.Child(i)
			if child == nil {
				continue
			}
			stack = append(stack, frame{node: child, depth: f.depth + 1, field: f.node.FieldNameForChild(i)})
		}
	}
}

// CountNodes returns the number of nodes under root, root included.
func CountNodes(root Node) int {
	count := 0
	Walk(root, func(Node, int, string) bool {
		count++
		return true
	})
	return count
}
