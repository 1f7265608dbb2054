// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists edit journals, replay bases and encoded
// bytecode streams in an embedded BadgerDB.
//
// Key layout (path is the file path the record belongs to, sep is 0x00):
//
//	journal/{path}{sep}{seq:020d}  one LoggedEdit, [xxh3 LE][json]
//	base/{path}                    journal base snapshot id, uvarint
//	source/{path}                  replay base text
//	stream/{path}                  bytecode blob
//	tables/{path}                  bytecode side tables, CBOR
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds the BadgerDB settings.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string `yaml:"dir" json:"dir"`

	// InMemory keeps everything in RAM. Used by tests and one-shot runs.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`

	// GCDiscardRatio is the garbage share that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`

	// Logger receives BadgerDB's own log lines. Nil silences them.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns durable settings for a database in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for a throwaway database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InMemory && c.Dir == "" {
		return fmt.Errorf("%w: dir is required for a persistent database", ErrInvalidConfig)
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("%w: gc_interval must not be negative", ErrInvalidConfig)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return fmt.Errorf("%w: gc_discard_ratio must be within [0, 1]", ErrInvalidConfig)
	}
	if c.GCInterval > 0 && !c.InMemory && c.GCDiscardRatio == 0 {
		return fmt.Errorf("%w: gc_discard_ratio is required when gc_interval is set", ErrInvalidConfig)
	}
	return nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (l slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an open BadgerDB with an optional background value log GC.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	kv       *badger.DB
	dir      string
	inMemory bool
	logger   *slog.Logger

	gcStop    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates Dir when missing. When GCInterval is set on a persistent
//	database a goroutine runs value log GC until Close.
//
// Outputs:
//
//	*DB - The database. Call Close when done.
//	error - ErrInvalidConfig, or the BadgerDB open error.
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	kv, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{
		kv:       kv,
		dir:      cfg.Dir,
		inMemory: cfg.InMemory,
		logger:   logger.With(slog.String("component", "cst_storage")),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.collectGarbage(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return db, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) collectGarbage(interval time.Duration, ratio float64) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			err := d.kv.RunValueLogGC(ratio)
			switch {
			case err == nil:
				d.logger.Debug("value log GC rewrote a file")
			case errors.Is(err, badger.ErrNoRewrite):
			default:
				d.logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database. Later calls return the first
// result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.gcStop != nil {
			close(d.gcStop)
			<-d.gcDone
		}
		d.closeErr = d.kv.Close()
	})
	return d.closeErr
}

// Dir returns the database directory, empty for in-memory databases.
func (d *DB) Dir() string { return d.dir }

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool { return d.inMemory }

// Sync flushes pending writes. A no-op in memory.
func (d *DB) Sync() error {
	if d.inMemory {
		return nil
	}
	return d.kv.Sync()
}

// Update runs fn in a read-write transaction and commits when it returns
// nil.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.kv.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.kv.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
