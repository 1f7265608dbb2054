// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianCST/services/cst/bytecode"
	"github.com/AleutianAI/AleutianCST/services/cst/incremental"
	"github.com/AleutianAI/AleutianCST/services/cst/succinct"
)

const (
	journalPrefix   = "journal/"
	basePrefix      = "base/"
	truncatedPrefix = "truncated/"
	sourcePrefix    = "source/"
	streamPrefix    = "stream/"
	tablesPrefix    = "tables/"

	pathSep = 0x00
)

var tracer = otel.Tracer("aleutian.cst.storage")

// Store keeps journals, replay bases and bytecode streams per path.
//
// Description:
//
//	Store implements incremental.JournalStore. A journal on disk holds at
//	most the configured limit of entries; AppendEdit deletes the oldest
//	beyond it in the same transaction and marks the journal truncated.
//	Appending under a new base snapshot id discards the entries and the
//	mark of the previous base.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *DB
	limit  int
	logger *slog.Logger

	// loads collapses concurrent GetStream calls for one path.
	loads singleflight.Group
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithJournalLimit sets how many entries a stored journal keeps.
func WithJournalLimit(n int) StoreOption {
	return func(s *Store) {
		if n >= 1 {
			s.limit = n
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore wraps db.
func NewStore(db *DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		limit:  incremental.DefaultJournalLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "cst_store"))
	return s
}

var _ incremental.JournalStore = (*Store)(nil)

func checkPath(path string) error {
	if path == "" || strings.IndexByte(path, pathSep) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

func journalKeyPrefix(path string) []byte {
	return append([]byte(journalPrefix+path), pathSep)
}

func journalKey(path string, seq uint64) []byte {
	return fmt.Appendf(journalKeyPrefix(path), "%020d", seq)
}

func encodeEntry(e incremental.LoggedEdit) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint64(out, xxh3.Hash(payload))
	return append(out, payload...), nil
}

func decodeEntry(val []byte) (incremental.LoggedEdit, error) {
	var e incremental.LoggedEdit
	if len(val) < 8 {
		return e, fmt.Errorf("%w: %d byte entry", ErrCorruptRecord, len(val))
	}
	payload := val[8:]
	if xxh3.Hash(payload) != binary.LittleEndian.Uint64(val) {
		return e, fmt.Errorf("%w: entry checksum mismatch", ErrCorruptRecord)
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return e, nil
}

// journalKeys lists the entry keys of path in sequence order.
func journalKeys(txn *badger.Txn, path string) [][]byte {
	prefix := journalKeyPrefix(path)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func readBase(txn *badger.Txn, path string) (uint64, bool, error) {
	item, err := txn.Get([]byte(basePrefix + path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var base uint64
	err = item.Value(func(val []byte) error {
		v, _, err := succinct.ReadUvarint(val, 0)
		if err != nil {
			return fmt.Errorf("%w: base snapshot id: %w", ErrCorruptRecord, err)
		}
		base = v
		return nil
	})
	return base, true, err
}

// AppendEdit writes e to the journal of path.
func (s *Store) AppendEdit(ctx context.Context, path string, baseSnapshotID uint64, e incremental.LoggedEdit) error {
	if err := checkPath(path); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "storage.AppendEdit",
		trace.WithAttributes(
			attribute.String("path", path),
			attribute.Int64("sequence_id", int64(e.SequenceID)),
		),
	)
	defer span.End()

	val, err := encodeEntry(e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode entry: %w", err)
	}

	dropped := 0
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		base, ok, err := readBase(txn, path)
		if err != nil {
			return err
		}
		if ok && base != baseSnapshotID {
			for _, k := range journalKeys(txn, path) {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			if err := txn.Delete([]byte(truncatedPrefix + path)); err != nil {
				return err
			}
		}
		if !ok || base != baseSnapshotID {
			if err := txn.Set([]byte(basePrefix+path), succinct.AppendUvarint(nil, baseSnapshotID)); err != nil {
				return err
			}
		}
		if err := txn.Set(journalKey(path, e.SequenceID), val); err != nil {
			return err
		}

		keys := journalKeys(txn, path)
		for len(keys)-dropped > s.limit {
			if err := txn.Delete(keys[dropped]); err != nil {
				return err
			}
			dropped++
		}
		if dropped > 0 {
			return txn.Set([]byte(truncatedPrefix+path), []byte{1})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("append edit %s: %w", path, err)
	}

	span.SetAttributes(attribute.Int("dropped", dropped))
	s.logger.Debug("edit stored",
		slog.String("path", path),
		slog.Uint64("sequence_id", e.SequenceID),
		slog.Int("dropped", dropped))
	return nil
}

// LoadJournal reads the stored journal of path.
//
// Outputs:
//
//	*incremental.EditJournal - Entries in sequence order.
//	error - ErrNotFound when no journal is stored; ErrCorruptRecord when an
//	entry fails its checksum.
func (s *Store) LoadJournal(ctx context.Context, path string) (*incremental.EditJournal, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "storage.LoadJournal",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	var j *incremental.EditJournal
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		base, ok, err := readBase(txn, path)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		j = incremental.NewEditJournal(base, s.limit)
		switch _, err := txn.Get([]byte(truncatedPrefix + path)); {
		case err == nil:
			j.Truncated = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		prefix := journalKeyPrefix(path)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return fmt.Errorf("key %q: %w", key, err)
				}
				j.Append(e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		return nil, fmt.Errorf("load journal %s: %w", path, err)
	}
	span.SetAttributes(attribute.Int("entries", j.Len()))
	return j, nil
}

// DeleteJournal removes the journal of path. Missing journals are not an
// error.
func (s *Store) DeleteJournal(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "storage.DeleteJournal",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		for _, k := range journalKeys(txn, path) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		if err := txn.Delete([]byte(truncatedPrefix + path)); err != nil {
			return err
		}
		return txn.Delete([]byte(basePrefix + path))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("delete journal %s: %w", path, err)
	}
	return nil
}

// PutSource stores the replay base text of path.
func (s *Store) PutSource(ctx context.Context, path string, source []byte) error {
	if err := checkPath(path); err != nil {
		return err
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(sourcePrefix+path), bytes.Clone(source))
	})
}

// GetSource returns the replay base text of path.
func (s *Store) GetSource(ctx context.Context, path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sourcePrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", path, err)
	}
	return out, nil
}

// PutStream stores s under path as a checksummed blob plus CBOR tables.
func (s *Store) PutStream(ctx context.Context, path string, stream *bytecode.Stream) error {
	if err := checkPath(path); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "storage.PutStream",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	blob, tables, err := bytecode.Marshal(stream)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("marshal stream %s: %w", path, err)
	}
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(streamPrefix+path), blob); err != nil {
			return err
		}
		return txn.Set([]byte(tablesPrefix+path), tables)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("put stream %s: %w", path, err)
	}
	span.SetAttributes(
		attribute.Int("blob_bytes", len(blob)),
		attribute.Int("tables_bytes", len(tables)),
	)
	return nil
}

// GetStream loads and verifies the stream stored under path. Concurrent
// calls for the same path share one load and receive the same read-only
// stream.
//
// Outputs:
//
//	*bytecode.Stream - The verified stream.
//	error - ErrNotFound, or a bytecode.ErrCorrupt wrapped error when the
//	stored bytes do not verify.
func (s *Store) GetStream(ctx context.Context, path string) (*bytecode.Stream, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "storage.GetStream",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	v, err, shared := s.loads.Do(path, func() (interface{}, error) {
		return s.loadStream(ctx, path)
	})
	span.SetAttributes(attribute.Bool("shared", shared))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		return nil, fmt.Errorf("get stream %s: %w", path, err)
	}
	return v.(*bytecode.Stream), nil
}

func (s *Store) loadStream(ctx context.Context, path string) (*bytecode.Stream, error) {
	var blob, tables []byte
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(streamPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if blob, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get([]byte(tablesPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: stream without tables", ErrCorruptRecord)
		}
		if err != nil {
			return err
		}
		tables, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	stream, err := bytecode.Unmarshal(blob, tables)
	if err != nil {
		s.logger.Warn("stored stream failed verification",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, err
	}
	return stream, nil
}

// DeleteStream removes the stream stored under path.
func (s *Store) DeleteStream(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(streamPrefix + path)); err != nil {
			return err
		}
		return txn.Delete([]byte(tablesPrefix + path))
	})
}

// ListStreams returns the paths that have a stored stream, in key order.
func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		prefix := []byte(streamPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return paths, err
}
