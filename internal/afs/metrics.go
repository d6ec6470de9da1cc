// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package afs

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for AFS operations.
var (
	tracer = otel.Tracer("safemutate.afs")
	meter  = otel.Meter("safemutate.afs")
)

var (
	opLatency    metric.Float64Histogram
	opTotal      metric.Int64Counter
	retryTotal   metric.Int64Counter
	checksumFail metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opLatency, err = meter.Float64Histogram(
			"afs_operation_duration_seconds",
			metric.WithDescription("Duration of an AFS move/copy/write/delete call"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opTotal, err = meter.Int64Counter(
			"afs_operation_total",
			metric.WithDescription("Total number of AFS operations, by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retryTotal, err = meter.Int64Counter(
			"afs_retry_total",
			metric.WithDescription("Total number of retried AFS attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checksumFail, err = meter.Int64Counter(
			"afs_checksum_mismatch_total",
			metric.WithDescription("Total number of checksum verification failures"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOpSpan starts a span for a single AFS entry point call.
func startOpSpan(ctx context.Context, op, src, dst string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "afs."+op,
		trace.WithAttributes(
			attribute.String("afs.src", src),
			attribute.String("afs.dst", dst),
		),
	)
}

// setOpSpanResult sets the result attributes on an AFS operation span.
func setOpSpanResult(span trace.Span, opID string, canUndo bool, err error) {
	span.SetAttributes(
		attribute.String("afs.op_id", opID),
		attribute.Bool("afs.can_undo", canUndo),
		attribute.Bool("afs.error", err != nil),
	)
}

// recordOpMetrics records latency and outcome counters for one AFS call.
func recordOpMetrics(ctx context.Context, op string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	)
	opLatency.Record(ctx, duration.Seconds(), attrs)
	opTotal.Add(ctx, 1, attrs)
}

// recordRetry increments the retry counter for one re-attempt of op.
func recordRetry(ctx context.Context, op string) {
	if initMetrics() != nil {
		return
	}
	retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// recordChecksumMismatch increments the checksum-mismatch counter.
func recordChecksumMismatch(ctx context.Context, op string) {
	if initMetrics() != nil {
		return
	}
	checksumFail.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
