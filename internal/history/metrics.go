// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

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
	tracer = otel.Tracer("safemutate.history")
	meter  = otel.Meter("safemutate.history")
)

var (
	appendLatency metric.Float64Histogram
	appendTotal   metric.Int64Counter
	undoTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		appendLatency, err = meter.Float64Histogram(
			"history_append_duration_seconds",
			metric.WithDescription("Time spent appending a record to the journal, including lock wait"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		appendTotal, err = meter.Int64Counter(
			"history_append_total",
			metric.WithDescription("Operations recorded to the journal, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		undoTotal, err = meter.Int64Counter(
			"history_undo_total",
			metric.WithDescription("Undo executions against the journal"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRecordSpan(kind Kind, file string) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), "history.Record", trace.WithAttributes(
		attribute.String("history.kind", string(kind)),
		attribute.String("history.file", file),
	))
}

func recordAppend(ctx context.Context, duration time.Duration, kind Kind) {
	if initMetrics() != nil {
		return
	}
	appendLatency.Record(ctx, duration.Seconds())
	appendTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func startUndoSpan(opID string) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), "history.Undo", trace.WithAttributes(
		attribute.String("history.op_id", opID),
	))
}

func recordUndo(ctx context.Context, ok bool) {
	if initMetrics() != nil {
		return
	}
	undoTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
