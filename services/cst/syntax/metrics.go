// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

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
	tracer = otel.Tracer("aleutian.cst.syntax")
	meter  = otel.Meter("aleutian.cst.syntax")
)

var (
	parseLatency metric.Float64Histogram
	parseTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"cst_syntax_parse_duration_seconds",
			metric.WithDescription("Duration of grammar parses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"cst_syntax_parse_total",
			metric.WithDescription("Total number of grammar parses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records one parse. incremental is true when an old
// tree was supplied as a hint.
func recordParseMetrics(ctx context.Context, language string, duration time.Duration, incremental, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("incremental", incremental),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)
}

func startParseSpan(ctx context.Context, language string, size int, incremental bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "TreeSitterParser.Parse",
		trace.WithAttributes(
			attribute.String("syntax.language", language),
			attribute.Int("syntax.source_size", size),
			attribute.Bool("syntax.incremental", incremental),
		),
	)
}
