// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backupstore

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
	tracer = otel.Tracer("safemutate.backupstore")
	meter  = otel.Meter("safemutate.backupstore")
)

var (
	putLatency   metric.Float64Histogram
	bytesWritten metric.Int64Counter
	sweepRemoved metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		putLatency, err = meter.Float64Histogram(
			"backupstore_put_duration_seconds",
			metric.WithDescription("Time spent writing a backup blob"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		bytesWritten, err = meter.Int64Counter(
			"backupstore_bytes_written_total",
			metric.WithDescription("Bytes written to backup blobs, post-compression"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		sweepRemoved, err = meter.Int64Counter(
			"backupstore_sweep_removed_total",
			metric.WithDescription("Backups removed by Sweep for exceeding retention"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startPutSpan(opID string, compress bool) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), "backupstore.Put", trace.WithAttributes(
		attribute.String("backupstore.op_id", opID),
		attribute.Bool("backupstore.compressed", compress),
	))
}

func recordPut(ctx context.Context, duration time.Duration, size int64) {
	if initMetrics() != nil {
		return
	}
	putLatency.Record(ctx, duration.Seconds())
	bytesWritten.Add(ctx, size)
}

func recordSweepRemoved(ctx context.Context, n int64) {
	if initMetrics() != nil || n == 0 {
		return
	}
	sweepRemoved.Add(ctx, n)
}
