// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockprim

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
	tracer = otel.Tracer("safemutate.lockprim")
	meter  = otel.Meter("safemutate.lockprim")
)

var (
	acquireLatency  metric.Float64Histogram
	contentionTotal metric.Int64Counter
	timeoutTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		acquireLatency, err = meter.Float64Histogram(
			"lockprim_acquire_duration_seconds",
			metric.WithDescription("Time spent waiting to acquire an advisory lock"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		contentionTotal, err = meter.Int64Counter(
			"lockprim_contention_total",
			metric.WithDescription("Lock acquisitions that had to retry at least once due to another holder"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		timeoutTotal, err = meter.Int64Counter(
			"lockprim_timeout_total",
			metric.WithDescription("Lock acquisitions that gave up after the configured timeout"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startAcquireSpan(displayPath string, exclusive bool) (context.Context, trace.Span) {
	kind := "shared"
	if exclusive {
		kind = "exclusive"
	}
	return tracer.Start(context.Background(), "lockprim.Acquire", trace.WithAttributes(
		attribute.String("lockprim.path", displayPath),
		attribute.String("lockprim.kind", kind),
	))
}

func recordAcquire(ctx context.Context, duration time.Duration, contended, timedOut bool) {
	if initMetrics() != nil {
		return
	}
	acquireLatency.Record(ctx, duration.Seconds())
	if contended {
		contentionTotal.Add(ctx, 1)
	}
	if timedOut {
		timeoutTotal.Add(ctx, 1)
	}
}
