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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.cst.incremental")
	meter  = otel.Meter("aleutian.cst.incremental")
)

var (
	parseLatency   metric.Float64Histogram
	parseTotal     metric.Int64Counter
	reusedNodes    metric.Int64Counter
	reparsedNodes  metric.Int64Counter
	journalSize    metric.Int64Histogram
	journalDropped metric.Int64Counter
	replayLatency  metric.Float64Histogram
	replayEdits    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"cst_incremental_parse_duration_seconds",
			metric.WithDescription("Duration of incremental parser calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"cst_incremental_parse_total",
			metric.WithDescription("Total incremental parser calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reusedNodes, err = meter.Int64Counter(
			"cst_incremental_reused_nodes_total",
			metric.WithDescription("Estimated nodes reused from the previous tree"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reparsedNodes, err = meter.Int64Counter(
			"cst_incremental_reparsed_nodes_total",
			metric.WithDescription("Estimated nodes reparsed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		journalSize, err = meter.Int64Histogram(
			"cst_incremental_journal_entries",
			metric.WithDescription("Journal length after each append"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		journalDropped, err = meter.Int64Counter(
			"cst_incremental_journal_dropped_total",
			metric.WithDescription("Journal entries dropped by the retention limit"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replayLatency, err = meter.Float64Histogram(
			"cst_incremental_replay_duration_seconds",
			metric.WithDescription("Duration of journal replays"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replayEdits, err = meter.Int64Counter(
			"cst_incremental_replayed_edits_total",
			metric.WithDescription("Edits applied by journal replays"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordParseMetrics(ctx context.Context, incremental bool, duration time.Duration, reused, reparsed int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("incremental", incremental),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)
	if success {
		reusedNodes.Add(ctx, int64(reused))
		reparsedNodes.Add(ctx, int64(reparsed))
	}
}

func recordJournalMetrics(ctx context.Context, size, dropped int) {
	if err := initMetrics(); err != nil {
		return
	}
	journalSize.Record(ctx, int64(size))
	if dropped > 0 {
		journalDropped.Add(ctx, int64(dropped))
	}
}

func recordReplayMetrics(ctx context.Context, duration time.Duration, applied int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	replayLatency.Record(ctx, duration.Seconds(), attrs)
	replayEdits.Add(ctx, int64(applied), attrs)
}

func startParseSpan(ctx context.Context, path string, size int, incremental bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "incremental.ParseIncremental",
		trace.WithAttributes(
			attribute.String("incremental.path", path),
			attribute.Int("incremental.source_size", size),
			attribute.Bool("incremental.incremental", incremental),
		),
	)
}

func setParseSpanResult(span trace.Span, r *ParseResult) {
	span.SetAttributes(
		attribute.Int("incremental.node_count", r.NodeCount),
		attribute.Int("incremental.reused_nodes", r.ReusedNodes),
		attribute.Int("incremental.reparsed_nodes", r.ReparsedNodes),
	)
}

func startReplaySpan(ctx context.Context, path string, edits int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "incremental.ReplayEdits",
		trace.WithAttributes(
			attribute.String("incremental.path", path),
			attribute.Int("incremental.edits", edits),
		),
	)
}
