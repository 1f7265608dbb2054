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
	"errors"
	"fmt"
	"io"
)

// Verify checks the structural integrity of a stream.
//
// Description:
//
//	Decodes the whole stream and checks that depth never goes negative and
//	returns to zero, that exactly one End terminates the bytes, that the
//	decoded node count matches NodeCount, that kind and field ids resolve,
//	that every node range lies within SourceLen, and that the checkpoint
//	list and jump table agree with the bytes.
//
// Outputs:
//
//	error - nil, or a *CorruptError naming the first failed check.
func Verify(s *Stream) error {
	return VerifyContext(context.Background(), s)
}

// VerifyContext is Verify with tracing.
func VerifyContext(ctx context.Context, s *Stream) error {
	ctx, span := startVerifySpan(ctx, len(s.Bytes))
	defer span.End()

	err := verify(s)
	recordVerifyMetrics(ctx, err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func verify(s *Stream) error {
	if len(s.Bytes) == 0 {
		return corrupt("end", 0, OpEnd, "empty stream")
	}
	if err := checkTables(s); err != nil {
		return err
	}

	c := &Cursor{s: s, track: true}
	count := 0
	for {
		n, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if end := uint64(n.Start) + uint64(n.Length); end > uint64(s.SourceLen) {
			return corrupt("range", n.Offset, fmt.Sprintf("end <= %d", s.SourceLen), end)
		}
		if s.Jump != nil && n.Index < s.Jump.Len() {
			off, start, depth, err := s.Jump.Entry(n.Index)
			if err != nil {
				return corrupt("jump_table", -1, "entry", err)
			}
			if off != n.Offset {
				return corrupt("jump_offset", n.Offset, n.Offset, off)
			}
			if start != n.Start {
				return corrupt("jump_start", n.Offset, n.Start, start)
			}
			if depth != n.Depth {
				return corrupt("jump_depth", n.Offset, n.Depth, depth)
			}
		}
		count++
	}

	if c.off != len(s.Bytes) {
		return corrupt("trailing_bytes", c.off, len(s.Bytes), c.off)
	}
	if count != s.NodeCount {
		return corrupt("node_count", -1, s.NodeCount, count)
	}
	if s.Jump != nil && s.Jump.Len() != s.NodeCount {
		return corrupt("jump_table", -1, s.NodeCount, s.Jump.Len())
	}
	if len(c.seen) != len(s.Checkpoints) {
		return corrupt("checkpoint_count", -1, len(s.Checkpoints), len(c.seen))
	}
	for i, cp := range c.seen {
		if cp != s.Checkpoints[i] {
			return corrupt(fmt.Sprintf("checkpoint[%d]", i), cp.Offset, s.Checkpoints[i], cp)
		}
	}
	return nil
}
