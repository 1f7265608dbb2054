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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithCheckpointInterval sets the node spacing between checkpoints.
// Values below 1 are ignored.
func WithCheckpointInterval(n int) EncoderOption {
	return func(e *Encoder) {
		if n >= 1 {
			e.interval = n
		}
	}
}

// WithJumpTable makes the encoder record a per-node jump table.
func WithJumpTable() EncoderOption {
	return func(e *Encoder) {
		e.jump = true
	}
}

// WithEncoderLogger sets the encoder logger.
func WithEncoderLogger(logger *slog.Logger) EncoderOption {
	return func(e *Encoder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Encoder turns trees into Streams.
//
// Thread Safety: Not safe for concurrent use. Each Encode call resets the
// encoder, so one Encoder can serve many trees sequentially.
type Encoder struct {
	interval int
	jump     bool
	logger   *slog.Logger

	buf         []byte
	sourceLen   int
	lastPos     uint32
	index       int
	depth       int
	forceSet    bool
	checkpoints []Checkpoint
	kindIDs     map[string]uint64
	kindNames   []string
	fieldIDs    map[string]uint64
	fieldNames  []string
	jumpOffsets []uint64
	jumpStarts  []uint64
	jumpDepths  []uint64
}

// NewEncoder creates an encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		interval: DefaultCheckpointInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "bytecode_encoder"))
	return e
}

func (e *Encoder) reset(sourceLen, nodeHint int) {
	e.buf = make([]byte, 0, nodeHint*6+1)
	e.sourceLen = sourceLen
	e.lastPos = 0
	e.index = 0
	e.depth = 0
	e.forceSet = false
	e.checkpoints = nil
	e.kindIDs = make(map[string]uint64)
	e.kindNames = nil
	e.fieldIDs = make(map[string]uint64)
	e.fieldNames = nil
	e.jumpOffsets, e.jumpStarts, e.jumpDepths = nil, nil, nil
}

type nodeRecord struct {
	kind   string
	field  string
	flags  compact.NodeFlags
	start  uint32
	length uint32
	leaf   bool
}

func (e *Encoder) emitNode(n nodeRecord) error {
	if end := uint64(n.start) + uint64(n.length); end > uint64(e.sourceLen) {
		return fmt.Errorf("%w: node %d ends at %d, source is %d bytes", ErrInvalidNode, e.index, end, e.sourceLen)
	}

	if e.index > 0 && e.index%e.interval == 0 {
		e.checkpoints = append(e.checkpoints, Checkpoint{NodeIndex: e.index, Offset: len(e.buf), Depth: e.depth})
		e.buf = append(e.buf, byte(OpCheckpoint))
		e.buf = succinct.AppendUvarint(e.buf, uint64(e.index))
		e.forceSet = true
	}

	if e.jump {
		e.jumpOffsets = append(e.jumpOffsets, uint64(len(e.buf)))
		e.jumpStarts = append(e.jumpStarts, uint64(n.start))
		e.jumpDepths = append(e.jumpDepths, uint64(e.depth))
	}

	op := OpEnter
	if n.leaf {
		op = OpLeaf
	}
	e.buf = append(e.buf, byte(op))

	kindID, ok := e.kindIDs[n.kind]
	if !ok {
		kindID = uint64(len(e.kindNames))
		e.kindIDs[n.kind] = kindID
		e.kindNames = append(e.kindNames, n.kind)
	}
	e.buf = succinct.AppendUvarint(e.buf, kindID)

	flags := n.flags &^ compact.FlagHasField
	if n.field != "" {
		flags |= compact.FlagHasField
	}
	e.buf = append(e.buf, byte(flags))
	if n.field != "" {
		fieldID, ok := e.fieldIDs[n.field]
		if !ok {
			fieldID = uint64(len(e.fieldNames))
			e.fieldIDs[n.field] = fieldID
			e.fieldNames = append(e.fieldNames, n.field)
		}
		e.buf = succinct.AppendUvarint(e.buf, fieldID)
	}

	if e.index == 0 || e.forceSet || n.start < e.lastPos {
		e.buf = append(e.buf, byte(OpSetPos))
		e.buf = succinct.AppendUvarint(e.buf, uint64(n.start))
	} else {
		e.buf = append(e.buf, byte(OpDeltaPos))
		e.buf = succinct.AppendUvarint(e.buf, uint64(n.start-e.lastPos))
	}
	e.buf = succinct.AppendUvarint(e.buf, uint64(n.length))

	e.lastPos = n.start
	e.forceSet = false
	e.index++
	if !n.leaf {
		e.depth++
	}
	return nil
}

func (e *Encoder) emitExit() {
	e.buf = append(e.buf, byte(OpExit))
	e.depth--
}

func (e *Encoder) finish() *Stream {
	e.buf = append(e.buf, byte(OpEnd))
	s := &Stream{
		Bytes:              e.buf,
		Checkpoints:        e.checkpoints,
		NodeCount:          e.index,
		SourceLen:          e.sourceLen,
		CheckpointInterval: e.interval,
		KindNames:          e.kindNames,
		FieldNames:         e.fieldNames,
	}
	if e.jump {
		s.Jump = newJumpTable(e.jumpOffsets, e.jumpStarts, e.jumpDepths)
	}
	e.buf = nil
	return s
}

// EncodeSyntax encodes the external tree rooted at root.
//
// Inputs:
//
//	ctx - Context for tracing.
//	root - Root of the tree. A nil root yields a stream holding only End.
//	source - The source the tree was parsed from; only its length is used.
//
// Outputs:
//
//	*Stream - The encoded stream.
//	error - ErrInvalidNode when a node extends past the source.
func (e *Encoder) EncodeSyntax(ctx context.Context, root syntax.Node, source []byte) (*Stream, error) {
	ctx, span := startEncodeSpan(ctx, "syntax", len(source))
	defer span.End()
	start := time.Now()

	e.reset(len(source), len(source)/4)
	if root != nil {
		if err := e.walkSyntax(root); err != nil {
			recordEncodeMetrics(ctx, "syntax", time.Since(start), 0, 0, false)
			return nil, err
		}
	}
	s := e.finish()
	recordEncodeMetrics(ctx, "syntax", time.Since(start), s.NodeCount, len(s.Bytes), true)
	setEncodeSpanResult(span, s)
	e.logger.Debug("encoded syntax tree",
		slog.Int("node_count", s.NodeCount),
		slog.Int("stream_bytes", len(s.Bytes)),
		slog.Int("checkpoints", len(s.Checkpoints)))
	return s, nil
}

func (e *Encoder) walkSyntax(root syntax.Node) error {
	type frame struct {
		node syntax.Node
		next int
	}
	emit := func(n syntax.Node, field string) error {
		spec := compact.SpecOf(n, field)
		return e.emitNode(nodeRecord{
			kind:   spec.Kind,
			field:  field,
			flags:  compact.FlagsOf(spec.Named, spec.Missing, spec.Extra, spec.Error, false),
			start:  spec.StartByte,
			length: spec.Length,
			leaf:   n.ChildCount() == 0,
		})
	}

	if err := emit(root, ""); err != nil {
		return err
	}
	if root.ChildCount() == 0 {
		return nil
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= top.node.ChildCount() {
			e.emitExit()
			stack = stack[:len(stack)-1]
			continue
		}
		i := top.next
		top.next++
		child := top.node.Child(i)
		if child == nil {
			continue
		}
		if err := emit(child, top.node.FieldNameForChild(i)); err != nil {
			return err
		}
		if child.ChildCount() > 0 {
			stack = append(stack, frame{node: child})
		}
	}
	return nil
}

// EncodeCompact encodes a compact tree by scanning its bracket sequence.
func (e *Encoder) EncodeCompact(ctx context.Context, t *compact.Tree) (*Stream, error) {
	ctx, span := startEncodeSpan(ctx, "compact", len(t.Source()))
	defer span.End()
	start := time.Now()

	fail := func(err error) (*Stream, error) {
		recordEncodeMetrics(ctx, "compact", time.Since(start), 0, 0, false)
		return nil, err
	}

	e.reset(len(t.Source()), t.NodeCount())
	bits := t.Topology().Bits()
	node := 0
	for pos := 0; pos < bits.Len(); pos++ {
		open, err := bits.Get(pos)
		if err != nil {
			return fail(err)
		}
		if !open {
			e.emitExit()
			continue
		}

		leaf := false
		if pos+1 < bits.Len() {
			nextOpen, err := bits.Get(pos + 1)
			if err != nil {
				return fail(err)
			}
			leaf = !nextOpen
		}
		info, err := t.NodeInfo(node)
		if err != nil {
			return fail(err)
		}
		kind, err := t.KindName(info.KindID)
		if err != nil {
			return fail(err)
		}
		field, err := t.FieldName(info.FieldID)
		if err != nil {
			return fail(err)
		}
		st, length, err := t.NodePosition(node)
		if err != nil {
			return fail(err)
		}
		if err := e.emitNode(nodeRecord{
			kind: kind, field: field, flags: info.Flags,
			start: st, length: length, leaf: leaf,
		}); err != nil {
			return fail(err)
		}
		node++
		if leaf {
			pos++ // the leaf's close bracket has no Exit
		}
	}

	s := e.finish()
	recordEncodeMetrics(ctx, "compact", time.Since(start), s.NodeCount, len(s.Bytes), true)
	setEncodeSpanResult(span, s)
	return s, nil
}
