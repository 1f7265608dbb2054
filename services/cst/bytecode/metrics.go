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
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.cst.bytecode")
	meter  = otel.Meter("aleutian.cst.bytecode")
)

var (
	encodeLatency  metric.Float64Histogram
	encodeTotal    metric.Int64Counter
	streamBytes    metric.Int64Histogram
	verifyTotal    metric.Int64Counter
	verifyFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		encodeLatency, err = meter.Float64Histogram(
			"cst_bytecode_encode_duration_seconds",
			metric.WithDescription("Duration of bytecode encodes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		encodeTotal, err = meter.Int64Counter(
			"cst_bytecode_encode_total",
			metric.WithDescription("Total number of bytecode encodes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		streamBytes, err = meter.Int64Histogram(
			"cst_bytecode_stream_bytes",
			metric.WithDescription("Size of encoded opcode streams"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verifyTotal, err = meter.Int64Counter(
			"cst_bytecode_verify_total",
			metric.WithDescription("Total number of stream verifications"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verifyFailures, err = meter.Int64Counter(
			"cst_bytecode_verify_failures_total",
			metric.WithDescription("Verifications that found corruption, by check"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordEncodeMetrics(ctx context.Context, source string, duration time.Duration, nodes, size int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	)
	encodeLatency.Record(ctx, duration.Seconds(), attrs)
	encodeTotal.Add(ctx, 1, attrs)
	if success {
		streamBytes.Record(ctx, int64(size))
	}
}

func recordVerifyMetrics(ctx context.Context, err error) {
	if initMetrics() != nil {
		return
	}
	verifyTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err == nil {
		return
	}
	check := "unknown"
	var ce *CorruptError
	if errors.As(err, &ce) {
		check = ce.Field
	}
	verifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("check", check)))
}

func startEncodeSpan(ctx context.Context, source string, sourceLen int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bytecode.Encode",
		trace.WithAttributes(
			attribute.String("bytecode.input", source),
			attribute.Int("bytecode.source_size", sourceLen),
		),
	)
}

func setEncodeSpanResult(span trace.Span, s *Stream) {
	span.SetAttributes(
		attribute.Int("bytecode.node_count", s.NodeCount),
		attribute.Int("bytecode.stream_bytes", len(s.Bytes)),
		attribute.Int("bytecode.checkpoints", len(s.Checkpoints)),
	)
}

func startVerifySpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bytecode.Verify",
		trace.WithAttributes(attribute.Int("bytecode.stream_bytes", size)),
	)
}
