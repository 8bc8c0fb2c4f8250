// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/LiterateLean/services/literate/splitter"
)

var tracer = otel.Tracer("literate.session")

var (
	linesTotal      metric.Int64Counter
	proofStateTotal metric.Int64Counter
	runTotal        metric.Int64Counter
	runDuration     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("literate.session")
		var err error

		linesTotal, err = meter.Int64Counter(
			"literate_lines_total",
			metric.WithDescription("Source lines processed, by mode"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		proofStateTotal, err = meter.Int64Counter(
			"literate_proof_states_total",
			metric.WithDescription("Proof-state records emitted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"literate_runs_total",
			metric.WithDescription("Annotation runs, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"literate_run_duration_seconds",
			metric.WithDescription("Duration of annotation runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordRun(ctx context.Context, stats Stats, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	runTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		return
	}

	for mode, n := range map[splitter.Mode]int{
		splitter.ModeCode:         stats.CodeLines,
		splitter.ModeProse:        stats.ProseLines,
		splitter.ModeBibliography: stats.BibliographyLines,
	} {
		linesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode.String())))
	}
	proofStateTotal.Add(ctx, int64(stats.Records))
}
