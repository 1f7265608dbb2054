// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package succinct

import "fmt"

// BPBuilder emits a balanced-parenthesis bracket sequence during a
// pre-order walk. An open bracket is a 1 bit, a close bracket a 0 bit.
//
// Thread Safety: Not safe for concurrent use.
type BPBuilder struct {
	bits    *MutableBitVec
	depth   int
	nodes   int
	invalid bool
}

// NewBPBuilder creates a builder sized for nodeHint nodes.
func NewBPBuilder(nodeHint int) *BPBuilder {
	return &BPBuilder{bits: NewMutableBitVec(2 * nodeHint)}
}

// OpenNode emits the open bracket of the next pre-order node and returns
// its node index.
func (b *BPBuilder) OpenNode() int {
	b.bits.Push(true)
	b.depth++
	b.nodes++
	return b.nodes - 1
}

// CloseNode emits the close bracket of the innermost open node.
//
// A close with no open node marks the sequence malformed; Build reports it.
func (b *BPBuilder) CloseNode() {
	if b.depth == 0 {
		b.invalid = true
	}
	b.bits.Push(false)
	b.depth--
}

// Depth returns the number of currently open nodes.
func (b *BPBuilder) Depth() int {
	return b.depth
}

// NodeCount returns the number of nodes opened so far.
func (b *BPBuilder) NodeCount() int {
	return b.nodes
}

// Build validates the bracket sequence and freezes it.
//
// Outputs:
//
//	*BP - The topology.
//	error - ErrMalformedTopology when the balance went negative or did not
//	        return to zero.
func (b *BPBuilder) Build() (*BP, error) {
	if b.invalid {
		return nil, fmt.Errorf("%w: close without matching open", ErrMalformedTopology)
	}
	if b.depth != 0 {
		return nil, fmt.Errorf("%w: %d nodes left open", ErrMalformedTopology, b.depth)
	}
	return newBP(b.bits.Freeze(), b.nodes), nil
}

// BP is a tree topology stored as a balanced-parenthesis bit vector.
//
// Description:
//
//	Nodes are identified by pre-order index. Node i's open bracket is the
//	(i+1)-th set bit, found through the rank/select directory. Matching
//	brackets and enclosing pairs come from the min-excess index, so
//	parent, child and sibling queries cost O(log n) at worst without
//	explicit pointers.
//
// Thread Safety: Immutable. Safe for concurrent use.
type BP struct {
	bits   *BitVec
	nodes  int
	rs     *RankSelect
	excess *excessIndex
}

func newBP(bits *BitVec, nodes int) *BP {
	rs := bits.Directory()
	return &BP{bits: bits, nodes: nodes, rs: rs, excess: newExcessIndex(bits, rs)}
}

// NewBP wraps an existing bracket vector after validating it.
func NewBP(bits *BitVec) (*BP, error) {
	balance := 0
	for i := 0; i < bits.Len(); i++ {
		if bits.bit(i) {
			balance++
			continue
		}
		balance--
		if balance < 0 {
			return nil, fmt.Errorf("%w: negative balance at %d", ErrMalformedTopology, i)
		}
	}
	if balance != 0 {
		return nil, fmt.Errorf("%w: final balance %d", ErrMalformedTopology, balance)
	}
	return newBP(bits, bits.CountOnes()), nil
}

// Bits returns the underlying bracket vector.
func (t *BP) Bits() *BitVec {
	return t.bits
}

// NodeCount returns the number of nodes.
func (t *BP) NodeCount() int {
	return t.nodes
}

// MemoryBytes returns the storage cost of the bracket vector and its
// navigation indexes.
func (t *BP) MemoryBytes() int {
	return t.bits.MemoryBytes() + t.rs.MemoryBytes() + t.excess.memoryBytes()
}

func (t *BP) checkNode(node int) error {
	if node < 0 || node >= t.nodes {
		return fmt.Errorf("%w: node %d of %d", ErrOutOfRange, node, t.nodes)
	}
	return nil
}

// OpenPosition returns the bracket position of node's open bracket.
func (t *BP) OpenPosition(node int) (int, error) {
	if err := t.checkNode(node); err != nil {
		return 0, err
	}
	pos, _ := t.rs.Select1(node + 1)
	return pos, nil
}

// NodeAt returns the node whose open or close bracket is at pos.
func (t *BP) NodeAt(pos int) (int, error) {
	if pos < 0 || pos >= t.bits.Len() {
		return 0, fmt.Errorf("%w: position %d of %d", ErrOutOfRange, pos, t.bits.Len())
	}
	if !t.bits.bit(pos) {
		open, err := t.FindOpen(pos)
		if err != nil {
			return 0, err
		}
		pos = open
	}
	return t.rs.rank1(pos), nil
}

// FindClose returns the position of the close bracket matching the open
// bracket at pos: the first later position where the running excess falls
// back to its level before pos.
func (t *BP) FindClose(pos int) (int, error) {
	if pos < 0 || pos >= t.bits.Len() || !t.bits.bit(pos) {
		return 0, fmt.Errorf("%w: no open bracket at %d", ErrOutOfRange, pos)
	}
	closePos := t.excess.forward(pos+1, t.excess.before(pos))
	if closePos < 0 {
		return 0, fmt.Errorf("%w: open at %d never closes", ErrMalformedTopology, pos)
	}
	return closePos, nil
}

// FindOpen returns the position of the open bracket matching the close
// bracket at pos.
func (t *BP) FindOpen(pos int) (int, error) {
	if pos < 0 || pos >= t.bits.Len() || t.bits.bit(pos) {
		return 0, fmt.Errorf("%w: no close bracket at %d", ErrOutOfRange, pos)
	}
	open, ok := t.openAtLevel(pos, t.excess.after(pos))
	if !ok {
		return 0, fmt.Errorf("%w: close at %d never opens", ErrMalformedTopology, pos)
	}
	return open, nil
}

// openAtLevel returns the last position j < pos whose preceding excess is
// at most level. Bit j is then an open bracket.
func (t *BP) openAtLevel(pos, level int) (int, bool) {
	if level < 0 {
		return 0, false
	}
	if i := t.excess.backward(pos-1, level); i >= 0 {
		return i + 1, true
	}
	// The excess before position 0 is 0.
	return 0, true
}

// Enclose returns the open position of the nearest bracket pair strictly
// enclosing the open bracket at pos, or false when pos is a root.
func (t *BP) Enclose(pos int) (int, bool) {
	if pos <= 0 || pos >= t.bits.Len() {
		return 0, false
	}
	return t.openAtLevel(pos, t.excess.before(pos)-1)
}

// Parent returns the parent node, or false for a root.
func (t *BP) Parent(node int) (int, bool, error) {
	pos, err := t.OpenPosition(node)
	if err != nil {
		return 0, false, err
	}
	open, ok := t.Enclose(pos)
	if !ok {
		return 0, false, nil
	}
	return t.rs.rank1(open), true, nil
}

// FirstChild returns node's first child, or false for a leaf.
//
// In pre-order the first child is always node+1 when it exists.
func (t *BP) FirstChild(node int) (int, bool, error) {
	pos, err := t.OpenPosition(node)
	if err != nil {
		return 0, false, err
	}
	if pos+1 < t.bits.Len() && t.bits.bit(pos+1) {
		return node + 1, true, nil
	}
	return 0, false, nil
}

// NextSibling returns the sibling following node, or false for the last
// child.
func (t *BP) NextSibling(node int) (int, bool, error) {
	pos, err := t.OpenPosition(node)
	if err != nil {
		return 0, false, err
	}
	closePos, err := t.FindClose(pos)
	if err != nil {
		return 0, false, err
	}
	next := closePos + 1
	if next < t.bits.Len() && t.bits.bit(next) {
		// Consecutive top-level trees are treated as siblings.
		return t.rs.rank1(next), true, nil
	}
	return 0, false, nil
}

// ChildCount returns the number of direct children of node.
func (t *BP) ChildCount(node int) (int, error) {
	children, err := t.Children(node)
	if err != nil {
		return 0, err
	}
	return len(children), nil
}

// Children returns node's direct children in order.
func (t *BP) Children(node int) ([]int, error) {
	child, ok, err := t.FirstChild(node)
	if err != nil || !ok {
		return nil, err
	}
	var out []int
	for ok {
		out = append(out, child)
		child, ok, err = t.NextSibling(child)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SubtreeSize returns the number of nodes in node's subtree, itself included.
func (t *BP) SubtreeSize(node int) (int, error) {
	pos, err := t.OpenPosition(node)
	if err != nil {
		return 0, err
	}
	closePos, err := t.FindClose(pos)
	if err != nil {
		return 0, err
	}
	return (closePos - pos + 1) / 2, nil
}

// Depth returns node's depth; roots have depth 0.
func (t *BP) Depth(node int) (int, error) {
	pos, err := t.OpenPosition(node)
	if err != nil {
		return 0, err
	}
	// Opens before pos minus closes before pos is the number of ancestors.
	ones := t.rs.rank1(pos)
	return ones - (pos - ones), nil
}
