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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
)

// TablesVersion is the version written into marshalled tables.
const TablesVersion = 1

// BlobVersion is the version byte of a blob header.
const BlobVersion byte = 1

// MaxBlobSize bounds the decompressed size of a blob. Headers declaring
// more are rejected before decoding.
const MaxBlobSize = 1 << 30

var blobMagic = []byte("CSTB")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: cbor enc mode: %v", err))
	}
	cborEncMode = em
}

// Both are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlobSize))
)

type tablesWire struct {
	Version            int          `cbor:"1,keyasint"`
	NodeCount          int          `cbor:"2,keyasint"`
	SourceLen          int          `cbor:"3,keyasint"`
	CheckpointInterval int          `cbor:"4,keyasint"`
	KindNames          []string     `cbor:"5,keyasint"`
	FieldNames         []string     `cbor:"6,keyasint"`
	Checkpoints        []Checkpoint `cbor:"7,keyasint"`
	JumpOffsets        []uint64     `cbor:"8,keyasint,omitempty"`
	JumpStarts         []uint64     `cbor:"9,keyasint,omitempty"`
	JumpDepths         []uint64     `cbor:"10,keyasint,omitempty"`
	HasJump            bool         `cbor:"11,keyasint"`
}

// MarshalTables encodes the side tables of s (everything but Bytes) as
// canonical CBOR.
func MarshalTables(s *Stream) ([]byte, error) {
	w := tablesWire{
		Version:            TablesVersion,
		NodeCount:          s.NodeCount,
		SourceLen:          s.SourceLen,
		CheckpointInterval: s.CheckpointInterval,
		KindNames:          s.KindNames,
		FieldNames:         s.FieldNames,
		Checkpoints:        s.Checkpoints,
	}
	if s.Jump != nil {
		w.HasJump = true
		w.JumpOffsets = s.Jump.offsets.Values()
		w.JumpStarts = s.Jump.starts.Values()
		w.JumpDepths = s.Jump.depths.Values()
	}
	data, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal tables: %w", err)
	}
	return data, nil
}

// UnmarshalTables decodes tables written by MarshalTables and attaches them
// to the opcode bytes.
func UnmarshalTables(data, opcodes []byte) (*Stream, error) {
	var w tablesWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: tables: %w", ErrCorrupt, err)
	}
	if w.Version != TablesVersion {
		return nil, corrupt("tables_version", -1, TablesVersion, w.Version)
	}
	s := &Stream{
		Bytes:              opcodes,
		Checkpoints:        w.Checkpoints,
		NodeCount:          w.NodeCount,
		SourceLen:          w.SourceLen,
		CheckpointInterval: w.CheckpointInterval,
		KindNames:          w.KindNames,
		FieldNames:         w.FieldNames,
	}
	if err := checkTables(s); err != nil {
		return nil, err
	}
	if w.HasJump {
		if len(w.JumpStarts) != len(w.JumpOffsets) || len(w.JumpDepths) != len(w.JumpOffsets) {
			return nil, corrupt("jump_table", -1, len(w.JumpOffsets),
				fmt.Sprintf("%d starts, %d depths", len(w.JumpStarts), len(w.JumpDepths)))
		}
		if len(w.JumpOffsets) != s.NodeCount {
			return nil, corrupt("jump_table", -1, s.NodeCount, len(w.JumpOffsets))
		}
		for i, off := range w.JumpOffsets {
			if off >= uint64(len(opcodes)) {
				return nil, corrupt(fmt.Sprintf("jump_offset[%d]", i), -1, fmt.Sprintf("< %d", len(opcodes)), off)
			}
		}
		s.Jump = newJumpTable(w.JumpOffsets, w.JumpStarts, w.JumpDepths)
	}
	return s, nil
}

// checkTables rejects side tables that cannot describe opcodes. Every
// node costs at least one opcode byte, and checkpoints must point inside
// the opcodes in increasing node order.
func checkTables(s *Stream) error {
	if s.NodeCount < 0 || s.NodeCount > len(s.Bytes) {
		return corrupt("node_count", -1, fmt.Sprintf("0..%d", len(s.Bytes)), s.NodeCount)
	}
	if s.SourceLen < 0 {
		return corrupt("source_len", -1, ">= 0", s.SourceLen)
	}
	if s.CheckpointInterval < 0 {
		return corrupt("checkpoint_interval", -1, ">= 0", s.CheckpointInterval)
	}
	prev := -1
	for i, cp := range s.Checkpoints {
		field := fmt.Sprintf("checkpoint[%d]", i)
		switch {
		case cp.Offset < 0 || cp.Offset >= len(s.Bytes):
			return corrupt(field, -1, fmt.Sprintf("offset in 0..%d", len(s.Bytes)-1), cp.Offset)
		case cp.NodeIndex <= prev || cp.NodeIndex >= s.NodeCount:
			return corrupt(field, cp.Offset, fmt.Sprintf("node index in %d..%d", prev+1, s.NodeCount-1), cp.NodeIndex)
		case cp.Depth < 0:
			return corrupt(field, cp.Offset, "depth >= 0", cp.Depth)
		}
		prev = cp.NodeIndex
	}
	return nil
}

// MarshalBlob wraps opcode bytes in a checksummed, compressed envelope:
//
//	"CSTB" version:byte rawLen:uvarint xxh3:uint64le zstd(payload)
func MarshalBlob(opcodes []byte) []byte {
	out := make([]byte, 0, len(blobMagic)+1+binary.MaxVarintLen64+8+len(opcodes)/2)
	out = append(out, blobMagic...)
	out = append(out, BlobVersion)
	out = succinct.AppendUvarint(out, uint64(len(opcodes)))
	out = binary.LittleEndian.AppendUint64(out, xxh3.Hash(opcodes))
	return zstdEncoder.EncodeAll(opcodes, out)
}

// UnmarshalBlob validates and unwraps a blob written by MarshalBlob.
func UnmarshalBlob(blob []byte) ([]byte, error) {
	if len(blob) < len(blobMagic)+1 || !bytes.Equal(blob[:len(blobMagic)], blobMagic) {
		return nil, corrupt("blob_magic", 0, string(blobMagic), "missing")
	}
	off := len(blobMagic)
	if blob[off] != BlobVersion {
		return nil, corrupt("blob_version", off, BlobVersion, blob[off])
	}
	off++
	rawLen, off, err := succinct.ReadUvarint(blob, off)
	if err != nil {
		return nil, corrupt("blob_length", off, "uvarint", err)
	}
	if len(blob) < off+8 {
		return nil, corrupt("blob_checksum", off, "8 bytes", len(blob)-off)
	}
	sum := binary.LittleEndian.Uint64(blob[off : off+8])
	off += 8

	if rawLen > MaxBlobSize {
		return nil, corrupt("blob_length", off, fmt.Sprintf("<= %d", MaxBlobSize), rawLen)
	}
	out, err := zstdDecoder.DecodeAll(blob[off:], make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
	}
	if uint64(len(out)) != rawLen {
		return nil, corrupt("blob_length", -1, rawLen, len(out))
	}
	if got := xxh3.Hash(out); got != sum {
		return nil, corrupt("blob_checksum", -1, fmt.Sprintf("%016x", sum), fmt.Sprintf("%016x", got))
	}
	return out, nil
}

// Marshal returns the blob and tables for s.
func Marshal(s *Stream) (blob, tables []byte, err error) {
	tables, err = MarshalTables(s)
	if err != nil {
		return nil, nil, err
	}
	return MarshalBlob(s.Bytes), tables, nil
}

// Unmarshal reassembles a stream from Marshal's output and verifies it.
func Unmarshal(blob, tables []byte) (*Stream, error) {
	opcodes, err := UnmarshalBlob(blob)
	if err != nil {
		return nil, err
	}
	s, err := UnmarshalTables(tables, opcodes)
	if err != nil {
		return nil, err
	}
	if err := Verify(s); err != nil {
		return nil, err
	}
	return s, nil
}
