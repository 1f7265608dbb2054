// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package incremental

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// PointAt returns the row/column of byte offset off in text. Offsets past
// the end are clamped.
func PointAt(text []byte, off uint32) syntax.Point {
	if int(off) > len(text) {
		off = uint32(len(text))
	}
	prefix := text[:off]
	row := bytes.Count(prefix, []byte{'\n'})
	col := len(prefix)
	if nl := bytes.LastIndexByte(prefix, '\n'); nl >= 0 {
		col = len(prefix) - nl - 1
	}
	return syntax.Point{Row: uint32(row), Column: uint32(col)}
}

// CalculateEdit describes replacing [changeStart, changeEnd) of oldText so
// that it becomes newText.
//
// Description:
//
//	The suffix oldText[changeEnd:] is assumed unchanged, so the new end is
//	len(newText) - (len(oldText) - changeEnd). Points are computed from
//	the old text for the start and old end, and from the new text for the
//	new end.
//
// Outputs:
//
//	syntax.Edit - The edit.
//	error - ErrInvalidRange when the offsets do not fit either text.
func CalculateEdit(oldText, newText []byte, changeStart, changeEnd uint32) (syntax.Edit, error) {
	if changeStart > changeEnd || int(changeEnd) > len(oldText) {
		return syntax.Edit{}, fmt.Errorf("%w: [%d, %d) in %d bytes", ErrInvalidRange, changeStart, changeEnd, len(oldText))
	}
	suffix := len(oldText) - int(changeEnd)
	newEnd := len(newText) - suffix
	if newEnd < int(changeStart) {
		return syntax.Edit{}, fmt.Errorf("%w: new text of %d bytes cannot hold prefix %d and suffix %d",
			ErrInvalidRange, len(newText), changeStart, suffix)
	}
	return syntax.Edit{
		StartByte:   changeStart,
		OldEndByte:  changeEnd,
		NewEndByte:  uint32(newEnd),
		StartPoint:  PointAt(oldText, changeStart),
		OldEndPoint: PointAt(oldText, changeEnd),
		NewEndPoint: PointAt(newText, uint32(newEnd)),
	}, nil
}

// ApplyEdit returns old with [e.StartByte, e.OldEndByte) replaced by text.
func ApplyEdit(old []byte, e syntax.Edit, text []byte) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if int(e.OldEndByte) > len(old) {
		return nil, fmt.Errorf("%w: old end %d past %d bytes", ErrInvalidRange, e.OldEndByte, len(old))
	}
	if uint32(len(text)) != e.NewEndByte-e.StartByte {
		return nil, fmt.Errorf("%w: %d bytes of text for a %d byte insertion",
			ErrInvalidRange, len(text), e.NewEndByte-e.StartByte)
	}
	out := make([]byte, 0, len(old)-int(e.OldEndByte-e.StartByte)+len(text))
	out = append(out, old[:e.StartByte]...)
	out = append(out, text...)
	out = append(out, old[e.OldEndByte:]...)
	return out, nil
}

// TextEdit is an edit together with the text it inserts.
type TextEdit struct {
	Edit syntax.Edit
	Text []byte
}

// EditsFromUnifiedDiff converts a unified diff against oldText into edits.
//
// Description:
//
//	Accepts either a bare hunk list or a single-file diff with ---/+++
//	headers. Each hunk becomes one edit, trimmed to the bytes that
//	actually differ. Edits are expressed against the text produced by the
//	edits before them, so applying them in order to oldText yields the
//	returned final text.
//
// Outputs:
//
//	[]TextEdit - One edit per hunk that changes bytes.
//	[]byte - The patched text.
//	error - ErrInvalidDiff when the diff cannot be parsed or its context
//	does not match oldText.
func EditsFromUnifiedDiff(oldText, unified []byte) ([]TextEdit, []byte, error) {
	hunks, err := parseHunks(unified)
	if err != nil {
		return nil, nil, err
	}

	starts := lineStarts(oldText)
	lineOffset := func(idx int) int {
		if idx < 0 {
			return 0
		}
		if idx < len(starts) {
			return starts[idx]
		}
		return len(oldText)
	}

	cur := append([]byte(nil), oldText...)
	shift := 0
	prevEnd := 0
	var edits []TextEdit
	for i, h := range hunks {
		oldSeg, newSeg := hunkSegments(h)

		origIdx := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			origIdx = int(h.OrigStartLine)
		}
		at := lineOffset(origIdx)
		if at < prevEnd {
			return nil, nil, fmt.Errorf("%w: hunk %d overlaps the previous hunk", ErrInvalidDiff, i)
		}
		if at+len(oldSeg) > len(oldText) || !bytes.Equal(oldText[at:at+len(oldSeg)], oldSeg) {
			return nil, nil, fmt.Errorf("%w: hunk %d does not match the text at line %d",
				ErrInvalidDiff, i, h.OrigStartLine)
		}
		prevEnd = at + len(oldSeg)

		p := commonPrefix(oldSeg, newSeg)
		s := commonSuffix(oldSeg[p:], newSeg[p:])
		if p+s == len(oldSeg) && p+s == len(newSeg) {
			continue
		}
		start := at + shift + p
		oldEnd := at + shift + len(oldSeg) - s
		text := newSeg[p : len(newSeg)-s]

		next := make([]byte, 0, len(cur)-(oldEnd-start)+len(text))
		next = append(next, cur[:start]...)
		next = append(next, text...)
		next = append(next, cur[oldEnd:]...)

		e, err := CalculateEdit(cur, next, uint32(start), uint32(oldEnd))
		if err != nil {
			return nil, nil, err
		}
		edits = append(edits, TextEdit{Edit: e, Text: append([]byte(nil), text...)})
		cur = next
		shift += len(newSeg) - len(oldSeg)
	}
	return edits, cur, nil
}

func parseHunks(unified []byte) ([]*diff.Hunk, error) {
	trimmed := bytes.TrimLeft(unified, "\n")
	if bytes.HasPrefix(trimmed, []byte("@@")) {
		hunks, err := diff.ParseHunks(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDiff, err)
		}
		return hunks, nil
	}
	fd, err := diff.ParseFileDiff(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDiff, err)
	}
	return fd.Hunks, nil
}

// hunkSegments rebuilds the old and new text covered by a hunk.
func hunkSegments(h *diff.Hunk) (oldSeg, newSeg []byte) {
	body := h.Body
	off := 0
	for off < len(body) {
		end := bytes.IndexByte(body[off:], '\n')
		var line []byte
		if end < 0 {
			line = body[off:]
			off = len(body)
		} else {
			line = body[off : off+end+1]
			off += end + 1
		}

		prefix := byte(' ')
		content := line
		if len(line) > 0 && line[0] != '\n' {
			prefix = line[0]
			content = line[1:]
		}
		oldContent := content
		if h.OrigNoNewlineAt > 0 && off == int(h.OrigNoNewlineAt) {
			oldContent = bytes.TrimSuffix(content, []byte{'\n'})
		}

		switch prefix {
		case '-':
			oldSeg = append(oldSeg, oldContent...)
		case '+':
			newSeg = append(newSeg, content...)
		default:
			oldSeg = append(oldSeg, oldContent...)
			newSeg = append(newSeg, content...)
		}
	}
	return oldSeg, newSeg
}

func lineStarts(text []byte) []int {
	starts := []int{0}
	for i, b := range text {
		if b == '\n' && i+1 < len(text) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func commonPrefix(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
