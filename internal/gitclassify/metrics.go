// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitclassify

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("safemutate.gitclassify")
	meter  = otel.Meter("safemutate.gitclassify")
)

var (
	classifyTotal metric.Int64Counter
	blockedTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		classifyTotal, err = meter.Int64Counter(
			"gitclassify_classify_total",
			metric.WithDescription("Git invocations classified, by danger class"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		blockedTotal, err = meter.Int64Counter(
			"gitclassify_blocked_total",
			metric.WithDescription("Git invocations classified as outright blocked"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordClassification emits a short-lived span and counters for one
// Classify call. A span per classification (rather than per git
// invocation end-to-end, which SGE's own span already covers) lets the
// classify/block decision itself show up as an attributed event.
func recordClassification(result Classification) {
	ctx := context.Background()
	_, span := tracer.Start(ctx, "gitclassify.Classify", trace.WithAttributes(
		attribute.String("gitclassify.command", result.Command),
		attribute.String("gitclassify.class", string(result.Class)),
		attribute.Bool("gitclassify.blocked", result.Blocked),
	))
	defer span.End()

	if initMetrics() != nil {
		return
	}
	classifyTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(result.Class))))
	if result.Blocked {
		blockedTotal.Add(ctx, 1)
	}
}
