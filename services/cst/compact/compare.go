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
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// Mismatch is one disagreement between a compact tree and the external
// tree it was built from.
type Mismatch struct {
	Index    int    `json:"index"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("node %d %s: expected %s, got %s", m.Index, m.Field, m.Expected, m.Actual)
}

// Compare checks t node by node against the external tree rooted at root.
//
// Description:
//
//	Both trees are walked in pre-order. For every node the kind name, the
//	named/missing/extra/error/has-field flags, the field name, the byte
//	range, the child count and the parent must agree. The node counts must
//	also agree. An empty result means the trees are equivalent.
func Compare(t *Tree, root syntax.Node) []Mismatch {
	var out []Mismatch
	add := func(i int, field string, expected, actual any) {
		out = append(out, Mismatch{
			Index:    i,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}
	if root == nil {
		if t.NodeCount() != 0 {
			add(0, "node_count", 0, t.NodeCount())
		}
		return out
	}

	type frame struct {
		node   syntax.Node
		field  string
		parent int
	}
	stack := []frame{{node: root, parent: -1}}
	index := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if index >= t.NodeCount() {
			add(index, "node_count", fmt.Sprintf("more than %d", t.NodeCount()), t.NodeCount())
			return out
		}
		compareNode(t, index, f.node, f.field, f.parent, add)

		self := index
		index++
		for i := f.node.ChildCount() - 1; i >= 0; i-- {
			child := f.node.Child(i)
			if child == nil {
				continue
			}
			stack = append(stack, frame{node: child, field: f.node.FieldNameForChild(i), parent: self})
		}
	}
	if index != t.NodeCount() {
		add(index, "node_count", index, t.NodeCount())
	}
	return out
}

func compareNode(t *Tree, i int, n syntax.Node, field string, parent int, add func(int, string, any, any)) {
	info, err := t.NodeInfo(i)
	if err != nil {
		add(i, "record", "present", err)
		return
	}

	kind, err := t.KindName(info.KindID)
	if err != nil {
		add(i, "kind", n.Kind(), err)
	} else if kind != n.Kind() {
		add(i, "kind", n.Kind(), kind)
	}

	want := FlagsOf(n.IsNamed(), n.IsMissing(), n.IsExtra(), n.IsError(), field != "")
	if info.Flags != want {
		add(i, "flags", want, info.Flags)
	}

	gotField, err := t.FieldName(info.FieldID)
	if err != nil {
		add(i, "field", field, err)
	} else if gotField != field {
		add(i, "field", strconv.Quote(field), strconv.Quote(gotField))
	}

	start, length, err := t.NodePosition(i)
	if err != nil {
		add(i, "position", "decodable", err)
	} else {
		if start != n.StartByte() {
			add(i, "start_byte", n.StartByte(), start)
		}
		if start+length != n.EndByte() {
			add(i, "end_byte", n.EndByte(), start+length)
		}
	}

	wantChildren := 0
	for c := 0; c < n.ChildCount(); c++ {
		if n.Child(c) != nil {
			wantChildren++
		}
	}
	if got, err := t.ChildCount(i); err != nil || got != wantChildren {
		add(i, "child_count", wantChildren, got)
	}

	gotParent, ok, err := t.Parent(i)
	if err != nil || !ok {
		gotParent = -1
	}
	if gotParent != parent {
		add(i, "parent", parent, gotParent)
	}
}
