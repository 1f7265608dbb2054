// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bytecode serialises syntax trees into a flat opcode stream.
//
// # Format
//
// Each node is written in pre-order as
//
//	Enter|Leaf  kind:uvarint  flags:byte  [field:uvarint]  SetPos|DeltaPos pos:uvarint  length:uvarint
//
// The field id is present only when the has-field flag is set. Nodes with
// children are followed by their children and then Exit; Leaf nodes have no
// Exit. Before every CheckpointInterval-th node the encoder writes
// Checkpoint index:uvarint, and the node after it always uses SetPos so a
// decoder can start there without prior state. The stream ends with a
// single End.
//
// Checkpoint and jump tables live beside the opcode bytes and are persisted
// separately (see MarshalTables).
package bytecode

import (
	"fmt"

	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
)

// Op is a stream opcode.
type Op byte

const (
	OpEnter      Op = 0x01
	OpExit       Op = 0x02
	OpLeaf       Op = 0x03
	OpSetPos     Op = 0x10
	OpDeltaPos   Op = 0x11
	OpCheckpoint Op = 0xF0
	OpEnd        Op = 0xFF
)

func (op Op) String() string {
	switch op {
	case OpEnter:
		return "Enter"
	case OpExit:
		return "Exit"
	case OpLeaf:
		return "Leaf"
	case OpSetPos:
		return "SetPos"
	case OpDeltaPos:
		return "DeltaPos"
	case OpCheckpoint:
		return "Checkpoint"
	case OpEnd:
		return "End"
	default:
		return fmt.Sprintf("Op(0x%02x)", byte(op))
	}
}

// DefaultCheckpointInterval is the number of nodes between checkpoints.
const DefaultCheckpointInterval = 1000

// Checkpoint locates a resumable point in the stream.
type Checkpoint struct {
	// NodeIndex is the pre-order index of the node that follows.
	NodeIndex int `cbor:"1,keyasint" json:"node_index"`

	// Offset is the byte offset of the Checkpoint opcode.
	Offset int `cbor:"2,keyasint" json:"offset"`

	// Depth is the number of open Enter nodes at that point.
	Depth int `cbor:"3,keyasint" json:"depth"`
}

// JumpTable gives O(1) access to any node: its opcode offset, absolute
// start byte and depth.
type JumpTable struct {
	offsets *succinct.PackedArray
	starts  *succinct.PackedArray
	depths  *succinct.PackedArray
}

func newJumpTable(offsets, starts, depths []uint64) *JumpTable {
	return &JumpTable{
		offsets: succinct.PackedArrayFitting(offsets),
		starts:  succinct.PackedArrayFitting(starts),
		depths:  succinct.PackedArrayFitting(depths),
	}
}

// Len returns the number of entries.
func (j *JumpTable) Len() int {
	return j.offsets.Len()
}

// Entry returns the offset, start byte and depth of node i.
func (j *JumpTable) Entry(i int) (offset int, start uint32, depth int, err error) {
	off, err := j.offsets.Get(i)
	if err != nil {
		return 0, 0, 0, err
	}
	st, err := j.starts.Get(i)
	if err != nil {
		return 0, 0, 0, err
	}
	d, err := j.depths.Get(i)
	if err != nil {
		return 0, 0, 0, err
	}
	return int(off), uint32(st), int(d), nil
}

// MemoryBytes returns the storage cost of the table.
func (j *JumpTable) MemoryBytes() int {
	return j.offsets.MemoryBytes() + j.starts.MemoryBytes() + j.depths.MemoryBytes()
}

// Stream is an encoded tree.
type Stream struct {
	// Bytes holds the opcode stream, terminated by OpEnd.
	Bytes []byte

	// Checkpoints lists checkpoints in stream order.
	Checkpoints []Checkpoint

	// Jump is the optional per-node jump table.
	Jump *JumpTable

	// NodeCount is the declared number of nodes.
	NodeCount int

	// SourceLen is the length of the encoded source.
	SourceLen int

	// CheckpointInterval is the node spacing used when encoding.
	CheckpointInterval int

	// KindNames maps stream kind ids to names.
	KindNames []string

	// FieldNames maps stream field ids to names.
	FieldNames []string
}

// MemoryBytes returns the approximate storage cost of the stream and its
// tables.
func (s *Stream) MemoryBytes() int {
	total := len(s.Bytes) + len(s.Checkpoints)*24
	if s.Jump != nil {
		total += s.Jump.MemoryBytes()
	}
	for _, n := range s.KindNames {
		total += len(n)
	}
	for _, n := range s.FieldNames {
		total += len(n)
	}
	return total
}
