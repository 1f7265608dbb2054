// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compact stores concrete syntax trees in a succinct layout.
//
// A Tree keeps the shape as a balanced-parenthesis bit vector, a 4-byte
// record per node (kind id, flags, field id), start and length as delta
// varint streams with a sampled index, and deduplicated name tables. It
// answers the same structural queries as a pointer tree at a fraction of
// the memory.
//
// # Thread Safety
//
// A built Tree is immutable and safe for concurrent reads. Builders are
// single-goroutine.
package compact

import (
	"fmt"

	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
)

// PointerNodeBytes approximates the size of one node in a conventional
// pointer-linked syntax tree: kind pointer, three positions, parent,
// first-child and next-sibling pointers, flags and a field string header.
const PointerNodeBytes = 80

// NodeInfo is the fixed-size record of one node.
type NodeInfo struct {
	KindID  uint16
	Flags   NodeFlags
	FieldID uint8
}

// HasField reports whether the node is held under a field name.
func (n NodeInfo) HasField() bool {
	return n.FieldID != NoField
}

// MemoryStats breaks down the byte cost of a Tree.
type MemoryStats struct {
	Topology  int `json:"topology"`
	Records   int `json:"records"`
	Positions int `json:"positions"`
	Samples   int `json:"samples"`
	Names     int `json:"names"`
	Source    int `json:"source"`
	Total     int `json:"total"`
}

// Tree is an immutable succinct syntax tree.
type Tree struct {
	topology *succinct.BP
	records  []byte
	starts   []byte
	lengths  []byte

	sampleInterval int
	sampleStartOff *succinct.PackedArray
	sampleLenOff   *succinct.PackedArray
	sampleStart    *succinct.PackedArray
	sampleLen      *succinct.PackedArray

	kindNames  []string
	fieldNames []string
	kindTable  *KindTable
	source     []byte
}

// NodeCount returns the number of nodes.
func (t *Tree) NodeCount() int {
	return t.topology.NodeCount()
}

// Topology returns the balanced-parenthesis shape.
func (t *Tree) Topology() *succinct.BP {
	return t.topology
}

// Source returns the tree's private copy of the source. Callers must not
// modify it.
func (t *Tree) Source() []byte {
	return t.source
}

// KindTable returns the shared kind table, or nil when kinds were interned
// per tree.
func (t *Tree) KindTable() *KindTable {
	return t.kindTable
}

// KindNames returns kind names in id order.
func (t *Tree) KindNames() []string {
	return t.kindNames
}

// FieldNames returns field names in id order.
func (t *Tree) FieldNames() []string {
	return t.fieldNames
}

func (t *Tree) checkNode(i int) error {
	if i < 0 || i >= t.NodeCount() {
		return fmt.Errorf("%w: node %d of %d", ErrOutOfRange, i, t.NodeCount())
	}
	return nil
}

// NodeInfo returns the record of node i.
func (t *Tree) NodeInfo(i int) (NodeInfo, error) {
	if err := t.checkNode(i); err != nil {
		return NodeInfo{}, err
	}
	r := t.records[i*recordSize : (i+1)*recordSize]
	return NodeInfo{
		KindID:  uint16(r[0]) | uint16(r[1])<<8,
		Flags:   NodeFlags(r[2]),
		FieldID: r[3],
	}, nil
}

// NodePosition returns the start byte and length of node i.
//
// Description:
//
//	Seeks to the position sample at or before i and decodes forward, so
//	each call decodes at most one sample interval of deltas regardless of i.
func (t *Tree) NodePosition(i int) (start, length uint32, err error) {
	if err := t.checkNode(i); err != nil {
		return 0, 0, err
	}
	s := i / t.sampleInterval
	startOff, _ := t.sampleStartOff.Get(s)
	lenOff, _ := t.sampleLenOff.Get(s)
	baseStart, _ := t.sampleStart.Get(s)
	baseLen, _ := t.sampleLen.Get(s)

	starts := succinct.NewDeltaDecoder(t.starts, int(startOff), baseStart)
	lengths := succinct.NewSignedDeltaDecoder(t.lengths, int(lenOff), int64(baseLen))
	var st uint64
	var ln int64
	for j := s * t.sampleInterval; j <= i; j++ {
		if st, err = starts.Next(); err != nil {
			return 0, 0, fmt.Errorf("decode start of node %d: %w", j, err)
		}
		if ln, err = lengths.Next(); err != nil {
			return 0, 0, fmt.Errorf("decode length of node %d: %w", j, err)
		}
	}
	return uint32(st), uint32(ln), nil
}

// KindName returns the name of kind id.
func (t *Tree) KindName(id uint16) (string, error) {
	if int(id) >= len(t.kindNames) {
		return "", fmt.Errorf("%w: kind id %d of %d", ErrOutOfRange, id, len(t.kindNames))
	}
	return t.kindNames[id], nil
}

// FieldName returns the name of field id. NoField yields "".
func (t *Tree) FieldName(id uint8) (string, error) {
	if id == NoField {
		return "", nil
	}
	if int(id) >= len(t.fieldNames) {
		return "", fmt.Errorf("%w: field id %d of %d", ErrOutOfRange, id, len(t.fieldNames))
	}
	return t.fieldNames[id], nil
}

// Parent returns the parent of node i, or false for the root.
func (t *Tree) Parent(i int) (int, bool, error) {
	return t.topology.Parent(i)
}

// FirstChild returns the first child of node i, or false for a leaf.
func (t *Tree) FirstChild(i int) (int, bool, error) {
	return t.topology.FirstChild(i)
}

// NextSibling returns the next sibling of node i, or false for the last.
func (t *Tree) NextSibling(i int) (int, bool, error) {
	return t.topology.NextSibling(i)
}

// ChildCount returns the number of children of node i.
func (t *Tree) ChildCount(i int) (int, error) {
	return t.topology.ChildCount(i)
}

// Children returns the children of node i in order.
func (t *Tree) Children(i int) ([]int, error) {
	return t.topology.Children(i)
}

// Depth returns the depth of node i; the root has depth 0.
func (t *Tree) Depth(i int) (int, error) {
	return t.topology.Depth(i)
}

// SubtreeSize returns the number of nodes under i, i included.
func (t *Tree) SubtreeSize(i int) (int, error) {
	return t.topology.SubtreeSize(i)
}

// MemoryUsage reports the byte cost of the tree. Names held by a shared
// KindTable are not charged to the tree.
func (t *Tree) MemoryUsage() MemoryStats {
	m := MemoryStats{
		Topology:  t.topology.MemoryBytes(),
		Records:   len(t.records),
		Positions: len(t.starts) + len(t.lengths),
		Samples: t.sampleStartOff.MemoryBytes() + t.sampleLenOff.MemoryBytes() +
			t.sampleStart.MemoryBytes() + t.sampleLen.MemoryBytes(),
		Source: len(t.source),
	}
	if t.kindTable == nil {
		for _, n := range t.kindNames {
			m.Names += len(n)
		}
	}
	for _, n := range t.fieldNames {
		m.Names += len(n)
	}
	m.Total = m.Topology + m.Records + m.Positions + m.Samples + m.Names + m.Source
	return m
}

// MemorySavingsPercent compares MemoryUsage against a baseline size.
// Results are negative when the tree is larger than the baseline and zero
// for a non-positive baseline.
func (t *Tree) MemorySavingsPercent(baseline int) float64 {
	if baseline <= 0 {
		return 0
	}
	used := t.MemoryUsage().Total
	return float64(baseline-used) / float64(baseline) * 100
}

// EstimatePointerTreeSize approximates the memory of a pointer-linked tree
// with nodeCount nodes over sourceLen bytes of source.
func EstimatePointerTreeSize(nodeCount, sourceLen int) int {
	return nodeCount*PointerNodeBytes + sourceLen
}
