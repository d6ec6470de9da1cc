// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opm

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the organize planner.
var (
	tracer = otel.Tracer("safemutate.opm")
	meter  = otel.Meter("safemutate.opm")
)

var (
	runLatency metric.Float64Histogram
	movedTotal metric.Int64Counter
	skipTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		runLatency, err = meter.Float64Histogram(
			"opm_organize_duration_seconds",
			metric.WithDescription("Duration of a complete Organize run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		movedTotal, err = meter.Int64Counter(
			"opm_files_moved_total",
			metric.WithDescription("Total files moved by Organize, by rule"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		skipTotal, err = meter.Int64Counter(
			"opm_files_skipped_total",
			metric.WithDescription("Total files skipped by Organize due to a move error, by rule"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startOrganizeSpan(ctx context.Context, root string, rule Rule) (context.Context, trace.Span) {
	return tracer.Start(ctx, "opm.Organize", trace.WithAttributes(
		attribute.String("opm.root", root),
		attribute.String("opm.rule", string(rule)),
	))
}

func recordOrganizeMetrics(ctx context.Context, rule Rule, duration time.Duration, moved, skipped int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("rule", string(rule)))
	runLatency.Record(ctx, duration.Seconds(), attrs)
	movedTotal.Add(ctx, int64(moved), attrs)
	skipTotal.Add(ctx, int64(skipped), attrs)
}
