// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package substrate

import (
	"context"
	"io"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AleutianAI/safemutate/internal/substrateconfig"
)

// OtelProviders holds the global tracer/meter providers every
// component's package-level tracer/meter pair resolves against once
// registered with otel.SetTracerProvider/otel.SetMeterProvider.
type OtelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider

	// PromRegistry is the registry the `substrate stats --prometheus`
	// diagnostic path scrapes via promhttp.HandlerFor.
	PromRegistry *promclient.Registry
}

// setupOtel wires the dev-mode stdout exporters (matching the teacher's
// local-dev OTel setup) plus a Prometheus reader that cmd/substrate's
// diagnostic `stats --prometheus` path exposes over HTTP. The stdout
// exporters always write to io.Discard; a production deployment swaps these for OTLP exporters at
// the call site without changing any instrumented package.
func setupOtel(ctx context.Context, cfg substrateconfig.Config) (*OtelProviders, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("safemutate"),
	))
	if err != nil {
		return nil, err
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
	if err != nil {
		return nil, err
	}

	registry := promclient.NewRegistry()
	promReader, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithReader(promReader),
	)
	otel.SetMeterProvider(mp)

	return &OtelProviders{
		TracerProvider: tp,
		MeterProvider:  mp,
		PromRegistry:   registry,
	}, nil
}

// Shutdown flushes and stops both providers.
func (p *OtelProviders) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := p.TracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
