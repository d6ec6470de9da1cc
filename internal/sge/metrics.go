// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sge

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/safemutate/internal/gitclassify"
)

// Package-level tracer and meter for the git interposer.
var (
	tracer = otel.Tracer("safemutate.sge")
	meter  = otel.Meter("safemutate.sge")
)

var (
	commandTotal metric.Int64Counter
	blockedTotal metric.Int64Counter
	undoTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		commandTotal, err = meter.Int64Counter(
			"sge_command_total",
			metric.WithDescription("Total git commands passed through the interposer, by danger class and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		blockedTotal, err = meter.Int64Counter(
			"sge_blocked_total",
			metric.WithDescription("Total git commands blocked before reaching git"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		undoTotal, err = meter.Int64Counter(
			"sge_undo_total",
			metric.WithDescription("Total undo-stack reversals performed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sge.Run", trace.WithAttributes(
		attribute.String("sge.command", command),
	))
}

func setRunSpanResult(span trace.Span, class gitclassify.DangerClass, blocked bool, err error) {
	span.SetAttributes(
		attribute.String("sge.danger_class", string(class)),
		attribute.Bool("sge.blocked", blocked),
		attribute.Bool("sge.error", err != nil),
	)
}

func recordCommandMetrics(ctx context.Context, command string, class gitclassify.DangerClass, err error) {
	if initMetrics() != nil {
		return
	}
	commandTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("danger_class", string(class)),
		attribute.Bool("success", err == nil),
	))
}

func recordBlocked(ctx context.Context, command, reason string) {
	if initMetrics() != nil {
		return
	}
	blockedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("reason", reason),
	))
}

func recordUndo(ctx context.Context, success bool) {
	if initMetrics() != nil {
		return
	}
	undoTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
