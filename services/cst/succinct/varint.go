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

import (
	"encoding/binary"
	"fmt"
)

// AppendUvarint appends the LEB128 encoding of v.
func AppendUvarint(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// AppendVarint appends the zigzag LEB128 encoding of v.
func AppendVarint(dst []byte, v int64) []byte {
	return binary.AppendVarint(dst, v)
}

// ReadUvarint decodes an unsigned varint at buf[off:].
//
// Outputs:
//
//	uint64 - The value.
//	int - The offset just past the value.
//	error - ErrTruncated on a short or overlong encoding.
func ReadUvarint(buf []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, fmt.Errorf("%w: offset %d of %d", ErrTruncated, off, len(buf))
	}
	v, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, off, fmt.Errorf("%w: at offset %d", ErrTruncated, off)
	}
	return v, off + n, nil
}

// ReadVarint decodes a zigzag varint at buf[off:].
func ReadVarint(buf []byte, off int) (int64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, fmt.Errorf("%w: offset %d of %d", ErrTruncated, off, len(buf))
	}
	v, n := binary.Varint(buf[off:])
	if n <= 0 {
		return 0, off, fmt.Errorf("%w: at offset %d", ErrTruncated, off)
	}
	return v, off + n, nil
}

// DeltaEncoder writes a non-decreasing sequence as unsigned varint deltas.
type DeltaEncoder struct {
	buf   []byte
	last  uint64
	count int
}

// NewDeltaEncoder creates an encoder with room for sizeHint bytes.
func NewDeltaEncoder(sizeHint int) *DeltaEncoder {
	return &DeltaEncoder{buf: make([]byte, 0, sizeHint)}
}

// Push appends v as a delta from the previous value.
func (e *DeltaEncoder) Push(v uint64) error {
	if v < e.last {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonic, v, e.last)
	}
	e.buf = binary.AppendUvarint(e.buf, v-e.last)
	e.last = v
	e.count++
	return nil
}

// Offset returns the current byte length of the encoded stream.
func (e *DeltaEncoder) Offset() int {
	return len(e.buf)
}

// Last returns the most recently pushed value.
func (e *DeltaEncoder) Last() uint64 {
	return e.last
}

// Len returns the number of values pushed.
func (e *DeltaEncoder) Len() int {
	return e.count
}

// Bytes returns the encoded stream.
func (e *DeltaEncoder) Bytes() []byte {
	return e.buf
}

// SignedDeltaEncoder writes an arbitrary sequence as zigzag varint deltas.
type SignedDeltaEncoder struct {
	buf   []byte
	last  int64
	count int
}

// NewSignedDeltaEncoder creates an encoder with room for sizeHint bytes.
func NewSignedDeltaEncoder(sizeHint int) *SignedDeltaEncoder {
	return &SignedDeltaEncoder{buf: make([]byte, 0, sizeHint)}
}

// Push appends v as a signed delta from the previous value.
func (e *SignedDeltaEncoder) Push(v int64) {
	e.buf = binary.AppendVarint(e.buf, v-e.last)
	e.last = v
	e.count++
}

// Offset returns the current byte length of the encoded stream.
func (e *SignedDeltaEncoder) Offset() int {
	return len(e.buf)
}

// Last returns the most recently pushed value.
func (e *SignedDeltaEncoder) Last() int64 {
	return e.last
}

// Bytes returns the encoded stream.
func (e *SignedDeltaEncoder) Bytes() []byte {
	return e.buf
}

// DeltaDecoder reads a stream produced by DeltaEncoder.
type DeltaDecoder struct {
	buf  []byte
	off  int
	last uint64
}

// NewDeltaDecoder starts decoding buf at off with previous value base.
func NewDeltaDecoder(buf []byte, off int, base uint64) *DeltaDecoder {
	return &DeltaDecoder{buf: buf, off: off, last: base}
}

// Next decodes the next absolute value.
func (d *DeltaDecoder) Next() (uint64, error) {
	delta, off, err := ReadUvarint(d.buf, d.off)
	if err != nil {
		return 0, err
	}
	d.off = off
	d.last += delta
	return d.last, nil
}

// SignedDeltaDecoder reads a stream produced by SignedDeltaEncoder.
type SignedDeltaDecoder struct {
	buf  []byte
	off  int
	last int64
}

// NewSignedDeltaDecoder starts decoding buf at off with previous value base.
func NewSignedDeltaDecoder(buf []byte, off int, base int64) *SignedDeltaDecoder {
	return &SignedDeltaDecoder{buf: buf, off: off, last: base}
}

// Next decodes the next absolute value.
func (d *SignedDeltaDecoder) Next() (int64, error) {
	delta, off, err := ReadVarint(d.buf, d.off)
	if err != nil {
		return 0, err
	}
	d.off = off
	d.last += delta
	return d.last, nil
}
