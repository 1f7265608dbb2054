// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.cst.batch")
	meter  = otel.Meter("aleutian.cst.batch")
)

var (
	filesTotal   metric.Int64Counter
	fileDuration metric.Float64Histogram
	savings      metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesTotal, err = meter.Int64Counter(
			"cst_batch_files_total",
			metric.WithDescription("Files processed by batch runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fileDuration, err = meter.Float64Histogram(
			"cst_batch_file_duration_seconds",
			metric.WithDescription("Per-file parse, build, encode and verify time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		savings, err = meter.Float64Histogram(
			"cst_batch_savings_percent",
			metric.WithDescription("Compact tree savings over the pointer tree estimate"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFileMetrics(ctx context.Context, r *FileResult) {
	if err := initMetrics(); err != nil {
		return
	}
	status := "ok"
	if r.Skipped {
		status = "skipped"
	}
	attrs := metric.WithAttributes(
		attribute.String("language", r.Language),
		attribute.String("status", status),
	)
	filesTotal.Add(ctx, 1, attrs)
	fileDuration.Record(ctx, float64(r.DurationMs)/1000, attrs)
	if !r.Skipped {
		savings.Record(ctx, r.SavingsPercent, metric.WithAttributes(attribute.String("language", r.Language)))
	}
}

func startRunSpan(ctx context.Context, runID string, files int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "batch.Run",
		trace.WithAttributes(
			attribute.String("batch.run_id", runID),
			attribute.Int("batch.files", files),
		),
	)
}

func setRunSpanResult(span trace.Span, r *Report) {
	span.SetAttributes(
		attribute.Int("batch.processed", r.Processed),
		attribute.Int("batch.skipped", r.Skipped),
		attribute.Int("batch.stream_bytes", r.StreamBytes),
	)
}
