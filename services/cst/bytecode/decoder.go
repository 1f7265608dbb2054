// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bytecode

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// DecodedNode is one node read back from a stream.
type DecodedNode struct {
	Index   int
	KindID  uint32
	Kind    string
	FieldID int // -1 when the node has no field
	Field   string
	Flags   compact.NodeFlags
	Start   uint32
	Length  uint32
	Depth   int
	Leaf    bool

	// Offset is the byte offset of the node's Enter or Leaf opcode.
	Offset int
}

// End returns the exclusive end byte.
func (n DecodedNode) End() uint32 {
	return n.Start + n.Length
}

// Decoder reads nodes from a Stream.
//
// Thread Safety: Safe for concurrent use. Cursors are not shared.
type Decoder struct {
	s *Stream
}

// NewDecoder creates a decoder over s.
func NewDecoder(s *Stream) *Decoder {
	return &Decoder{s: s}
}

// Stream returns the decoded stream.
func (d *Decoder) Stream() *Stream {
	return d.s
}

// Cursor returns a cursor positioned before the first node.
func (d *Decoder) Cursor() *Cursor {
	return &Cursor{s: d.s}
}

// NavigateTo returns a cursor whose next node is index.
//
// Description:
//
//	Uses the jump table when present. Otherwise resumes at the closest
//	checkpoint at or before index and skips forward; with no usable
//	checkpoint it scans from the start.
//
// Outputs:
//
//	*Cursor - Cursor whose Next returns node index.
//	error - ErrOutOfRange, or a CorruptError met while skipping.
func (d *Decoder) NavigateTo(index int) (*Cursor, error) {
	if index < 0 || index >= d.s.NodeCount {
		return nil, fmt.Errorf("%w: %d (node count %d)", ErrOutOfRange, index, d.s.NodeCount)
	}

	if d.s.Jump != nil && index < d.s.Jump.Len() {
		off, start, depth, err := d.s.Jump.Entry(index)
		if err != nil {
			return nil, corrupt("jump_table", -1, "entry", err)
		}
		return &Cursor{s: d.s, off: off, next: index, depth: depth, pinned: true, pinnedStart: start}, nil
	}

	c := &Cursor{s: d.s}
	cps := d.s.Checkpoints
	k := sort.Search(len(cps), func(i int) bool { return cps[i].NodeIndex > index }) - 1
	if k >= 0 {
		cp := cps[k]
		c.off, c.next, c.depth = cp.Offset, cp.NodeIndex, cp.Depth
	}
	for c.next < index {
		if _, err := c.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, corrupt("node_count", c.off, d.s.NodeCount, c.next)
			}
			return nil, err
		}
	}
	return c, nil
}

// Node decodes the single node at index.
func (d *Decoder) Node(index int) (DecodedNode, error) {
	c, err := d.NavigateTo(index)
	if err != nil {
		return DecodedNode{}, err
	}
	return c.Next()
}

// Cursor walks a stream forward one node at a time.
type Cursor struct {
	s     *Stream
	off   int
	next  int
	depth int
	last  uint32
	done  bool

	pinned      bool
	pinnedStart uint32

	// seen collects checkpoints passed, for Verify.
	track bool
	seen  []Checkpoint
}

// Offset returns the current byte offset.
func (c *Cursor) Offset() int {
	return c.off
}

// Next decodes the next node. It returns io.EOF once End is reached.
func (c *Cursor) Next() (DecodedNode, error) {
	if c.done {
		return DecodedNode{}, io.EOF
	}
	buf := c.s.Bytes
	for {
		if c.off < 0 || c.off >= len(buf) {
			return DecodedNode{}, corrupt("end", c.off, OpEnd, "end of stream")
		}
		at := c.off
		op := Op(buf[at])
		c.off++

		switch op {
		case OpEnter, OpLeaf:
			return c.readNode(at, op)

		case OpExit:
			c.depth--
			if c.depth < 0 {
				return DecodedNode{}, corrupt("depth", at, ">= 0", c.depth)
			}

		case OpCheckpoint:
			idx, off, err := succinct.ReadUvarint(buf, c.off)
			if err != nil {
				return DecodedNode{}, corrupt("checkpoint_index", c.off, "uvarint", err)
			}
			if int(idx) != c.next {
				return DecodedNode{}, corrupt("checkpoint_index", at, c.next, idx)
			}
			if c.track {
				c.seen = append(c.seen, Checkpoint{NodeIndex: c.next, Offset: at, Depth: c.depth})
			}
			c.off = off

		case OpEnd:
			if c.depth != 0 {
				return DecodedNode{}, corrupt("depth", at, 0, c.depth)
			}
			c.done = true
			return DecodedNode{}, io.EOF

		default:
			return DecodedNode{}, corrupt("opcode", at, "known opcode", op)
		}
	}
}

func (c *Cursor) readNode(at int, op Op) (DecodedNode, error) {
	buf := c.s.Bytes
	n := DecodedNode{Index: c.next, FieldID: -1, Depth: c.depth, Leaf: op == OpLeaf, Offset: at}

	kind, off, err := succinct.ReadUvarint(buf, c.off)
	if err != nil {
		return n, corrupt("kind_id", c.off, "uvarint", err)
	}
	if kind >= uint64(len(c.s.KindNames)) {
		return n, corrupt("kind_id", c.off, fmt.Sprintf("< %d", len(c.s.KindNames)), kind)
	}
	n.KindID = uint32(kind)
	n.Kind = c.s.KindNames[kind]

	if off >= len(buf) {
		return n, corrupt("flags", off, "flags byte", "end of stream")
	}
	n.Flags = compact.NodeFlags(buf[off])
	off++

	if n.Flags.HasField() {
		field, next, err := succinct.ReadUvarint(buf, off)
		if err != nil {
			return n, corrupt("field_id", off, "uvarint", err)
		}
		if field >= uint64(len(c.s.FieldNames)) {
			return n, corrupt("field_id", off, fmt.Sprintf("< %d", len(c.s.FieldNames)), field)
		}
		n.FieldID = int(field)
		n.Field = c.s.FieldNames[field]
		off = next
	}

	if off >= len(buf) {
		return n, corrupt("position", off, "position opcode", "end of stream")
	}
	posOp := Op(buf[off])
	pos, next, err := succinct.ReadUvarint(buf, off+1)
	if err != nil {
		return n, corrupt("position", off+1, "uvarint", err)
	}
	switch posOp {
	case OpSetPos:
		n.Start = uint32(pos)
	case OpDeltaPos:
		n.Start = c.last + uint32(pos)
	default:
		return n, corrupt("position", off, "SetPos or DeltaPos", posOp)
	}
	if c.pinned {
		n.Start = c.pinnedStart
		c.pinned = false
	}

	length, next, err := succinct.ReadUvarint(buf, next)
	if err != nil {
		return n, corrupt("length", next, "uvarint", err)
	}
	n.Length = uint32(length)

	c.off = next
	c.last = n.Start
	c.next++
	if !n.Leaf {
		c.depth++
	}
	return n, nil
}

// DecodedTree is a fully decoded stream with parent and child links.
type DecodedTree struct {
	Nodes    []DecodedNode
	Parents  []int // -1 for roots
	Children [][]int
}

// DecodeAll decodes every node of the stream.
func (d *Decoder) DecodeAll() (*DecodedTree, error) {
	// NodeCount is untrusted here; a node takes at least one opcode byte.
	capacity := min(max(d.s.NodeCount, 0), len(d.s.Bytes))
	t := &DecodedTree{
		Nodes:    make([]DecodedNode, 0, capacity),
		Parents:  make([]int, 0, capacity),
		Children: make([][]int, 0, capacity),
	}
	var open []int
	c := d.Cursor()
	for {
		n, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n.Depth > len(open) {
			return nil, corrupt("depth", n.Offset, len(open), n.Depth)
		}
		open = open[:n.Depth]
		parent := -1
		if n.Depth > 0 {
			parent = open[n.Depth-1]
			t.Children[parent] = append(t.Children[parent], n.Index)
		}
		t.Nodes = append(t.Nodes, n)
		t.Parents = append(t.Parents, parent)
		t.Children = append(t.Children, nil)
		if !n.Leaf {
			open = append(open, n.Index)
		}
	}
	if len(t.Nodes) != d.s.NodeCount {
		return nil, corrupt("node_count", -1, d.s.NodeCount, len(t.Nodes))
	}
	return t, nil
}

// ToSyntax rebuilds the first root as a syntax tree. It returns nil for an
// empty stream.
func (t *DecodedTree) ToSyntax() *syntax.MemNode {
	if len(t.Nodes) == 0 {
		return nil
	}
	mem := make([]*syntax.MemNode, len(t.Nodes))
	for i, n := range t.Nodes {
		mem[i] = &syntax.MemNode{
			KindName: n.Kind,
			ID:       uint16(n.KindID),
			Named:    n.Flags.IsNamed(),
			Missing:  n.Flags.IsMissing(),
			Extra:    n.Flags.IsExtra(),
			Error:    n.Flags.IsError(),
			Start:    n.Start,
			End:      n.End(),
		}
	}
	for i := range t.Nodes {
		for _, child := range t.Children[i] {
			mem[i].AddChild(t.Nodes[child].Field, mem[child])
		}
	}
	return mem[0]
}
