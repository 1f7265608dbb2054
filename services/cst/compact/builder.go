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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// DefaultSampleInterval is the number of nodes between position samples.
const DefaultSampleInterval = 64

// recordSize is the byte size of one node record.
const recordSize = 4

// NodeSpec describes one node handed to AddNode.
type NodeSpec struct {
	Kind      string
	Field     string
	Named     bool
	Missing   bool
	Extra     bool
	Error     bool
	StartByte uint32
	Length    uint32
}

// Option configures a Builder.
type Option func(*Builder)

// WithKindTable makes the builder resolve kinds through a closed
// per-grammar table. Kinds missing from the table fail with ErrUnknownKind.
func WithKindTable(kt *KindTable) Option {
	return func(b *Builder) {
		b.kindTable = kt
	}
}

// WithInterner routes kind and field names through a shared interner so
// trees built with it reuse one string per distinct name.
func WithInterner(in Interner) Option {
	return func(b *Builder) {
		b.interner = in
	}
}

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSampleInterval sets the distance between position samples. Values
// below 1 are ignored.
func WithSampleInterval(n int) Option {
	return func(b *Builder) {
		if n >= 1 {
			b.sampleInterval = n
		}
	}
}

// WithCapacity presizes the builder for nodes nodes.
func WithCapacity(nodes int) Option {
	return func(b *Builder) {
		if nodes > 0 {
			b.capacity = nodes
		}
	}
}

// Builder assembles a Tree in a single pre-order pass.
//
// Description:
//
//	For every node the caller issues OpenNode, then AddNode with the node's
//	attributes, then (after any children) CloseNode. AddLeaf combines the
//	three. AddSyntaxTree drives the same calls from an external tree.
//	The first error is sticky: later calls and Build return it.
//
// Thread Safety: Not safe for concurrent use. A Builder produces one Tree.
type Builder struct {
	kindTable      *KindTable
	interner       Interner
	logger         *slog.Logger
	sampleInterval int
	capacity       int

	bp      *succinct.BPBuilder
	records []byte
	starts  *succinct.DeltaEncoder
	lengths *succinct.SignedDeltaEncoder

	sampleStartOff []uint64
	sampleLenOff   []uint64
	sampleStart    []uint64
	sampleLen      []uint64

	kindIDs    map[string]uint16
	kindNames  []string
	fieldIDs   map[string]uint8
	fieldNames []string

	pending bool
	maxEnd  uint64
	err     error
	built   bool
}

// NewBuilder creates a builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		logger:         slog.Default(),
		sampleInterval: DefaultSampleInterval,
		capacity:       256,
		kindIDs:        make(map[string]uint16),
		fieldIDs:       make(map[string]uint8),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "compact_builder"))
	b.bp = succinct.NewBPBuilder(b.capacity)
	b.records = make([]byte, 0, b.capacity*recordSize)
	b.starts = succinct.NewDeltaEncoder(b.capacity)
	b.lengths = succinct.NewSignedDeltaEncoder(b.capacity)
	return b
}

// NodeCount returns the number of nodes opened so far.
func (b *Builder) NodeCount() int {
	return b.bp.NodeCount()
}

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return b.err
}

// OpenNode starts the next pre-order node. AddNode must follow.
func (b *Builder) OpenNode() error {
	if b.err != nil {
		return b.err
	}
	if b.built {
		return b.fail(fmt.Errorf("%w: builder already built", ErrBuilderState))
	}
	if b.pending {
		return b.fail(fmt.Errorf("%w: node %d opened without a record", ErrBuilderState, b.bp.NodeCount()-1))
	}
	b.bp.OpenNode()
	b.pending = true
	return nil
}

// AddNode records the attributes of the most recently opened node.
func (b *Builder) AddNode(spec NodeSpec) error {
	if b.err != nil {
		return b.err
	}
	if !b.pending {
		return b.fail(fmt.Errorf("%w: AddNode without OpenNode", ErrBuilderState))
	}
	index := len(b.records) / recordSize

	kindID, err := b.kindID(spec.Kind)
	if err != nil {
		return b.fail(fmt.Errorf("node %d: %w", index, err))
	}
	fieldID, err := b.fieldID(spec.Field)
	if err != nil {
		return b.fail(fmt.Errorf("node %d: %w", index, err))
	}

	if index%b.sampleInterval == 0 {
		b.sampleStartOff = append(b.sampleStartOff, uint64(b.starts.Offset()))
		b.sampleLenOff = append(b.sampleLenOff, uint64(b.lengths.Offset()))
		b.sampleStart = append(b.sampleStart, b.starts.Last())
		b.sampleLen = append(b.sampleLen, uint64(b.lengths.Last()))
	}

	if err := b.starts.Push(uint64(spec.StartByte)); err != nil {
		if errors.Is(err, succinct.ErrNonMonotonic) {
			return b.fail(fmt.Errorf("%w: node %d starts at %d after %d",
				ErrNonMonotonicPosition, index, spec.StartByte, b.starts.Last()))
		}
		return b.fail(err)
	}
	b.lengths.Push(int64(spec.Length))

	flags := FlagsOf(spec.Named, spec.Missing, spec.Extra, spec.Error, fieldID != NoField)
	b.records = append(b.records, byte(kindID), byte(kindID>>8), byte(flags), fieldID)

	if end := uint64(spec.StartByte) + uint64(spec.Length); end > b.maxEnd {
		b.maxEnd = end
	}
	b.pending = false
	return nil
}

// CloseNode ends the innermost open node.
func (b *Builder) CloseNode() error {
	if b.err != nil {
		return b.err
	}
	if b.pending {
		return b.fail(fmt.Errorf("%w: node %d closed without a record", ErrBuilderState, b.bp.NodeCount()-1))
	}
	if b.bp.Depth() == 0 {
		return b.fail(fmt.Errorf("%w: close without open node", ErrMalformedTopology))
	}
	b.bp.CloseNode()
	return nil
}

// AddLeaf opens, records and closes a node with no children.
func (b *Builder) AddLeaf(spec NodeSpec) error {
	if err := b.OpenNode(); err != nil {
		return err
	}
	if err := b.AddNode(spec); err != nil {
		return err
	}
	return b.CloseNode()
}

// SpecOf converts an external node into a NodeSpec.
func SpecOf(n syntax.Node, field string) NodeSpec {
	start, end := n.StartByte(), n.EndByte()
	var length uint32
	if end > start {
		length = end - start
	}
	return NodeSpec{
		Kind:      n.Kind(),
		Field:     field,
		Named:     n.IsNamed(),
		Missing:   n.IsMissing(),
		Extra:     n.IsExtra(),
		Error:     n.IsError(),
		StartByte: start,
		Length:    length,
	}
}

// AddSyntaxTree appends root and its whole subtree in pre-order.
//
// Description:
//
//	Walks with an explicit stack so deep trees cannot overflow the
//	goroutine stack. Field names come from the parent's
//	FieldNameForChild. Nil children are skipped.
func (b *Builder) AddSyntaxTree(root syntax.Node) error {
	if root == nil {
		return nil
	}
	type frame struct {
		node syntax.Node
		next int
	}
	open := func(n syntax.Node, field string) error {
		if err := b.OpenNode(); err != nil {
			return err
		}
		return b.AddNode(SpecOf(n, field))
	}

	if err := open(root, ""); err != nil {
		return err
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= top.node.ChildCount() {
			if err := b.CloseNode(); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}
		i := top.next
		top.next++
		child := top.node.Child(i)
		if child == nil {
			continue
		}
		if err := open(child, top.node.FieldNameForChild(i)); err != nil {
			return err
		}
		stack = append(stack, frame{node: child})
	}
	return nil
}

func (b *Builder) canonical(name string) string {
	if b.interner == nil {
		return name
	}
	if s, ok := b.interner.Resolve(b.interner.Intern(name)); ok {
		return s
	}
	return name
}

func (b *Builder) kindID(kind string) (uint16, error) {
	if b.kindTable != nil {
		id, ok := b.kindTable.ID(kind)
		if !ok {
			return 0, fmt.Errorf("%w: %q in grammar %q", ErrUnknownKind, kind, b.kindTable.Grammar())
		}
		return id, nil
	}
	if id, ok := b.kindIDs[kind]; ok {
		return id, nil
	}
	if len(b.kindNames) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: more than %d", ErrTooManyKinds, math.MaxUint16+1)
	}
	id := uint16(len(b.kindNames))
	name := b.canonical(kind)
	b.kindIDs[name] = id
	b.kindNames = append(b.kindNames, name)
	return id, nil
}

func (b *Builder) fieldID(field string) (uint8, error) {
	if field == "" {
		return NoField, nil
	}
	if id, ok := b.fieldIDs[field]; ok {
		return id, nil
	}
	if len(b.fieldNames) >= MaxFields {
		return 0, fmt.Errorf("%w: more than %d", ErrTooManyFields, MaxFields)
	}
	id := uint8(len(b.fieldNames))
	name := b.canonical(field)
	b.fieldIDs[name] = id
	b.fieldNames = append(b.fieldNames, name)
	return id, nil
}

// Build finalises the tree over source.
//
// Description:
//
//	Validates the bracket sequence and that no node extends past the end of
//	source, packs the position samples, and takes a private copy of source.
//	The builder cannot be used afterwards.
//
// Outputs:
//
//	*Tree - The immutable tree.
//	error - The first construction error, ErrMalformedTopology,
//	        ErrRangeExceedsSource or ErrBuilderState.
func (b *Builder) Build(source []byte) (*Tree, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built {
		return nil, fmt.Errorf("%w: builder already built", ErrBuilderState)
	}
	if b.pending {
		return nil, b.fail(fmt.Errorf("%w: last node has no record", ErrBuilderState))
	}
	if b.maxEnd > uint64(len(source)) {
		return nil, b.fail(fmt.Errorf("%w: node ends at %d, source is %d bytes",
			ErrRangeExceedsSource, b.maxEnd, len(source)))
	}
	topology, err := b.bp.Build()
	if err != nil {
		return nil, b.fail(err)
	}
	b.built = true

	kindNames := b.kindNames
	if b.kindTable != nil {
		kindNames = b.kindTable.Names()
	}
	src := make([]byte, len(source))
	copy(src, source)

	t := &Tree{
		topology:       topology,
		records:        b.records,
		starts:         b.starts.Bytes(),
		lengths:        b.lengths.Bytes(),
		sampleInterval: b.sampleInterval,
		sampleStartOff: succinct.PackedArrayFitting(b.sampleStartOff),
		sampleLenOff:   succinct.PackedArrayFitting(b.sampleLenOff),
		sampleStart:    succinct.PackedArrayFitting(b.sampleStart),
		sampleLen:      succinct.PackedArrayFitting(b.sampleLen),
		kindNames:      kindNames,
		fieldNames:     b.fieldNames,
		kindTable:      b.kindTable,
		source:         src,
	}

	b.logger.Debug("compact tree built",
		slog.Int("node_count", t.NodeCount()),
		slog.Int("kinds", len(kindNames)),
		slog.Int("fields", len(b.fieldNames)),
		slog.Int("memory_bytes", t.MemoryUsage().Total))
	return t, nil
}

// BuildFromSyntax builds a Tree from an external tree in one call and
// records build metrics.
func BuildFromSyntax(ctx context.Context, root syntax.Node, source []byte, opts ...Option) (*Tree, error) {
	ctx, span := startBuildSpan(ctx, len(source))
	defer span.End()
	start := time.Now()

	b := NewBuilder(opts...)
	if err := b.AddSyntaxTree(root); err != nil {
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("add syntax tree: %w", err)
	}
	t, err := b.Build(source)
	if err != nil {
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("build compact tree: %w", err)
	}
	recordBuildMetrics(ctx, time.Since(start), t.NodeCount(), t.MemoryUsage().Total, true)
	setBuildSpanResult(span, t)
	return t, nil
}
