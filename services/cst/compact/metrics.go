// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compact

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
	tracer = otel.Tracer("aleutian.cst.compact")
	meter  = otel.Meter("aleutian.cst.compact")
)

var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	nodesBuilt   metric.Int64Counter
	bytesPerNode metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"cst_compact_build_duration_seconds",
			metric.WithDescription("Duration of compact tree builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"cst_compact_build_total",
			metric.WithDescription("Total number of compact tree builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesBuilt, err = meter.Int64Counter(
			"cst_compact_nodes_total",
			metric.WithDescription("Total nodes stored in compact trees"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		bytesPerNode, err = meter.Float64Histogram(
			"cst_compact_bytes_per_node",
			metric.WithDescription("Memory per node of built compact trees"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, duration time.Duration, nodes, memoryBytes int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if success && nodes > 0 {
		nodesBuilt.Add(ctx, int64(nodes))
		bytesPerNode.Record(ctx, float64(memoryBytes)/float64(nodes))
	}
}

func startBuildSpan(ctx context.Context, sourceLen int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "compact.Build",
		trace.WithAttributes(attribute.Int("compact.source_size", sourceLen)),
	)
}

func setBuildSpanResult(span trace.Span, t *Tree) {
	span.SetAttributes(
		attribute.Int("compact.node_count", t.NodeCount()),
		attribute.Int("compact.memory_bytes", t.MemoryUsage().Total),
	)
}
