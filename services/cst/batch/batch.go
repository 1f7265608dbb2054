// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch turns many in-memory source files into compact trees and
// verified bytecode streams in parallel.
//
// A file that cannot be parsed, built or verified is recorded as skipped
// with its reason; a run only stops early when its context is cancelled.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCST/services/cst/bytecode"
	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/syntax"
)

// ErrParseFailure indicates the parser returned no tree for a file.
var ErrParseFailure = errors.New("parse failure")

// File is one input.
type File struct {
	Path     string
	Language string
	Source   []byte
}

// StreamSink receives each verified stream. storage.Store implements it.
type StreamSink interface {
	PutStream(ctx context.Context, path string, s *bytecode.Stream) error
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path     string `json:"path"`
	Language string `json:"language"`

	// Skipped is set when the file failed; Reason and Err say why.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`

	Nodes          int     `json:"nodes"`
	SourceBytes    int     `json:"source_bytes"`
	CompactBytes   int     `json:"compact_bytes"`
	StreamBytes    int     `json:"stream_bytes"`
	PointerBytes   int     `json:"pointer_bytes"`
	SavingsPercent float64 `json:"savings_percent"`
	DurationMs     int64   `json:"duration_ms"`

	// Tree and Stream are only kept when Options.KeepOutputs is set.
	Tree   *compact.Tree    `json:"-"`
	Stream *bytecode.Stream `json:"-"`
}

// Report summarises a run.
type Report struct {
	RunID      string       `json:"run_id"`
	Files      []FileResult `json:"files"`
	Processed  int          `json:"processed"`
	Skipped    int          `json:"skipped"`
	DurationMs int64        `json:"duration_ms"`

	SourceBytes  int `json:"source_bytes"`
	CompactBytes int `json:"compact_bytes"`
	StreamBytes  int `json:"stream_bytes"`
	PointerBytes int `json:"pointer_bytes"`
}

// Options configures Run.
type Options struct {
	// Concurrency bounds the files processed at once. Zero means
	// GOMAXPROCS.
	Concurrency int

	// Registry resolves File.Language. Nil means syntax.DefaultRegistry.
	Registry *syntax.Registry

	// CheckpointInterval and JumpTable configure the encoder.
	CheckpointInterval int
	JumpTable          bool

	// SampleInterval configures the compact position index. Zero keeps
	// the compact default.
	SampleInterval int

	// KeepOutputs retains each file's tree and stream in its FileResult.
	KeepOutputs bool

	// Sink, when set, receives every verified stream.
	Sink StreamSink

	Logger *slog.Logger
}

// Run processes files with at most Options.Concurrency in flight.
//
// Description:
//
//	Each file is parsed, built into a compact tree, encoded and verified.
//	Kind tables are shared per grammar. Results keep the input order.
//	Per-file failures, sink failures included, mark that file skipped.
//
// Outputs:
//
//	*Report - The run summary. Returned even when ctx is cancelled, with
//	unprocessed files absent.
//	error - ctx.Err() when the run was cancelled, otherwise nil.
//
// Thread Safety: Safe for concurrent use.
func Run(ctx context.Context, files []File, opts Options) (*Report, error) {
	if opts.Registry == nil {
		opts.Registry = syntax.DefaultRegistry()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	runID := uuid.NewString()
	logger := opts.Logger.With(
		slog.String("component", "cst_batch"),
		slog.String("run_id", runID),
	)

	ctx, span := startRunSpan(ctx, runID, len(files))
	defer span.End()
	start := time.Now()

	kinds := compact.NewKindTableCache()
	results := make([]FileResult, len(files))
	done := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = processFile(gctx, files[i], opts, kinds)
			done[i] = true
			r := &results[i]
			if r.Skipped {
				logger.Warn("file skipped",
					slog.String("path", r.Path),
					slog.String("reason", r.Reason))
			}
			recordFileMetrics(gctx, r)
			return nil
		})
	}
	waitErr := g.Wait()

	report := &Report{RunID: runID}
	for i, r := range results {
		if !done[i] {
			continue
		}
		report.Files = append(report.Files, r)
		if r.Skipped {
			report.Skipped++
			continue
		}
		report.Processed++
		report.SourceBytes += r.SourceBytes
		report.CompactBytes += r.CompactBytes
		report.StreamBytes += r.StreamBytes
		report.PointerBytes += r.PointerBytes
	}
	report.DurationMs = time.Since(start).Milliseconds()
	setRunSpanResult(span, report)

	if err := ctx.Err(); err != nil {
		logger.Warn("batch cancelled",
			slog.Int("processed", report.Processed),
			slog.Int("files", len(files)))
		return report, err
	}
	if waitErr != nil {
		return report, waitErr
	}
	logger.Info("batch complete",
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Int64("duration_ms", report.DurationMs))
	return report, nil
}

func skip(r FileResult, reason string, err error) FileResult {
	r.Skipped = true
	r.Reason = reason
	r.Err = err
	return r
}

func processFile(ctx context.Context, f File, opts Options, kinds *compact.KindTableCache) (r FileResult) {
	start := time.Now()
	r = FileResult{Path: f.Path, Language: f.Language, SourceBytes: len(f.Source)}
	defer func() { r.DurationMs = time.Since(start).Milliseconds() }()

	parser, err := opts.Registry.Parser(f.Language)
	if err != nil {
		return skip(r, "unsupported language", err)
	}
	tree, err := parser.Parse(ctx, f.Source, nil)
	if err != nil || tree == nil || tree.Root() == nil {
		if tree != nil {
			tree.Close()
		}
		if err == nil {
			err = ErrParseFailure
		}
		return skip(r, "parse failed", fmt.Errorf("%s: %w", f.Path, err))
	}
	defer tree.Close()

	buildOpts := []compact.Option{compact.WithLogger(opts.Logger)}
	if kt, err := kinds.Get(parser.Grammar()); err == nil {
		buildOpts = append(buildOpts, compact.WithKindTable(kt))
	}
	if opts.SampleInterval > 0 {
		buildOpts = append(buildOpts, compact.WithSampleInterval(opts.SampleInterval))
	}
	ct, err := compact.BuildFromSyntax(ctx, tree.Root(), f.Source, buildOpts...)
	if err != nil {
		return skip(r, "compact build failed", err)
	}

	encOpts := []bytecode.EncoderOption{bytecode.WithEncoderLogger(opts.Logger)}
	if opts.CheckpointInterval > 0 {
		encOpts = append(encOpts, bytecode.WithCheckpointInterval(opts.CheckpointInterval))
	}
	if opts.JumpTable {
		encOpts = append(encOpts, bytecode.WithJumpTable())
	}
	stream, err := bytecode.NewEncoder(encOpts...).EncodeCompact(ctx, ct)
	if err != nil {
		return skip(r, "encode failed", err)
	}
	if err := bytecode.VerifyContext(ctx, stream); err != nil {
		return skip(r, "verify failed", err)
	}
	if opts.Sink != nil {
		if err := opts.Sink.PutStream(ctx, f.Path, stream); err != nil {
			return skip(r, "sink failed", err)
		}
	}

	r.Nodes = ct.NodeCount()
	r.CompactBytes = ct.MemoryUsage().Total
	r.StreamBytes = stream.MemoryBytes()
	r.PointerBytes = compact.EstimatePointerTreeSize(r.Nodes, len(f.Source))
	r.SavingsPercent = ct.MemorySavingsPercent(r.PointerBytes)
	if opts.KeepOutputs {
		r.Tree = ct
		r.Stream = stream
	}
	return r
}
