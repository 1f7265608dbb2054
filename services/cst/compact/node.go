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

import "github.com/AleutianAI/AleutianCST/services/cst/syntax"

// NodeView is a decoded view of one node. It implements syntax.Node so a
// compact tree can be fed back into anything that walks external trees.
//
// Thread Safety: Not safe for concurrent use; the child list is cached
// lazily. Views are cheap, so create one per goroutine.
type NodeView struct {
	tree     *Tree
	index    int
	info     NodeInfo
	start    uint32
	length   uint32
	children []int
	loaded   bool
}

var _ syntax.Node = (*NodeView)(nil)

// Node returns a view of node i.
func (t *Tree) Node(i int) (*NodeView, error) {
	info, err := t.NodeInfo(i)
	if err != nil {
		return nil, err
	}
	start, length, err := t.NodePosition(i)
	if err != nil {
		return nil, err
	}
	return &NodeView{tree: t, index: i, info: info, start: start, length: length}, nil
}

// Root returns a view of node 0, or nil for an empty tree.
func (t *Tree) Root() *NodeView {
	if t.NodeCount() == 0 {
		return nil
	}
	v, err := t.Node(0)
	if err != nil {
		return nil
	}
	return v
}

// Index returns the pre-order index.
func (v *NodeView) Index() int { return v.index }

// Info returns the raw record.
func (v *NodeView) Info() NodeInfo { return v.info }

// Flags returns the node flags.
func (v *NodeView) Flags() NodeFlags { return v.info.Flags }

// Length returns the byte length.
func (v *NodeView) Length() uint32 { return v.length }

// Field returns the field name under which the parent holds this node.
func (v *NodeView) Field() string {
	name, _ := v.tree.FieldName(v.info.FieldID)
	return name
}

// Text returns the source bytes covered by the node.
func (v *NodeView) Text() []byte {
	return v.tree.source[v.start : v.start+v.length]
}

func (v *NodeView) Kind() string {
	name, _ := v.tree.KindName(v.info.KindID)
	return name
}

func (v *NodeView) KindID() uint16    { return v.info.KindID }
func (v *NodeView) IsNamed() bool     { return v.info.Flags.IsNamed() }
func (v *NodeView) IsMissing() bool   { return v.info.Flags.IsMissing() }
func (v *NodeView) IsExtra() bool     { return v.info.Flags.IsExtra() }
func (v *NodeView) IsError() bool     { return v.info.Flags.IsError() }
func (v *NodeView) StartByte() uint32 { return v.start }
func (v *NodeView) EndByte() uint32   { return v.start + v.length }

func (v *NodeView) loadChildren() {
	if v.loaded {
		return
	}
	v.children, _ = v.tree.Children(v.index)
	v.loaded = true
}

func (v *NodeView) ChildCount() int {
	v.loadChildren()
	return len(v.children)
}

func (v *NodeView) Child(i int) syntax.Node {
	v.loadChildren()
	if i < 0 || i >= len(v.children) {
		return nil
	}
	c, err := v.tree.Node(v.children[i])
	if err != nil {
		return nil
	}
	return c
}

func (v *NodeView) FieldNameForChild(i int) string {
	v.loadChildren()
	if i < 0 || i >= len(v.children) {
		return ""
	}
	info, err := v.tree.NodeInfo(v.children[i])
	if err != nil {
		return ""
	}
	name, _ := v.tree.FieldName(info.FieldID)
	return name
}
