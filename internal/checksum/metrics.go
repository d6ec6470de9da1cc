// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checksum

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
	tracer = otel.Tracer("safemutate.checksum")
	meter  = otel.Meter("safemutate.checksum")
)

var (
	hashLatency metric.Float64Histogram
	hashRetries metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		hashLatency, err = meter.Float64Histogram(
			"checksum_hash_duration_seconds",
			metric.WithDescription("Time spent streaming a file through SHA-256"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		hashRetries, err = meter.Int64Counter(
			"checksum_hash_retry_total",
			metric.WithDescription("HashFileWithRetry attempts that hit a shared-lock contention retry"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startHashSpan(path string) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), "checksum.HashFile", trace.WithAttributes(
		attribute.String("checksum.path", path),
	))
}

func recordHash(ctx context.Context, duration time.Duration) {
	if initMetrics() != nil {
		return
	}
	hashLatency.Record(ctx, duration.Seconds())
}

func recordHashRetry(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	hashRetries.Add(ctx, 1)
}
