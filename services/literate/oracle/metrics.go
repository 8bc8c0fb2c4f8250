// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("literate.oracle")

// Instruments are created lazily from the global MeterProvider, so they bind
// to whatever provider telemetry.Init installed before the first request.
var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	notifyTotal    metric.Int64Counter
	spawnTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("literate.oracle")
		var err error

		requestLatency, err = meter.Float64Histogram(
			"literate_oracle_request_duration_seconds",
			metric.WithDescription("Duration of oracle requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"literate_oracle_requests_total",
			metric.WithDescription("Total number of oracle requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		notifyTotal, err = meter.Int64Counter(
			"literate_oracle_notifications_total",
			metric.WithDescription("Total number of notifications received from the oracle"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spawnTotal, err = meter.Int64Counter(
			"literate_oracle_spawns_total",
			metric.WithDescription("Total number of oracle process spawns"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startRequestSpan(ctx context.Context, method string, id int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Oracle."+method,
		trace.WithAttributes(
			attribute.String("oracle.method", method),
			attribute.Int64("oracle.request_id", id),
		),
	)
}

func endRequestSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordRequest(ctx context.Context, method string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", err == nil),
	)
	requestLatency.Record(ctx, d.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

func recordNotification(method string) {
	if initMetrics() != nil {
		return
	}
	notifyTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("method", method)))
}

func recordSpawn(ctx context.Context, command string, success bool) {
	if initMetrics() != nil {
		return
	}
	spawnTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("success", success),
	))
}
