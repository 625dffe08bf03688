// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

const meterName = "kernelbench"

// Metrics holds the OpenTelemetry instruments for benchmark runs.
type Metrics struct {
	RunsTotal     metric.Int64Counter
	RunDuration   metric.Float64Histogram
	SizesTotal    metric.Int64Counter
	ActiveRuns    metric.Int64UpDownCounter
	BaselineSaves metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"kernelbench_runs_total",
		metric.WithDescription("Benchmark runs by kernel and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"kernelbench_run_duration_seconds",
		metric.WithDescription("Wall time of benchmark runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	m.SizesTotal, err = meter.Int64Counter(
		"kernelbench_sizes_total",
		metric.WithDescription("Measured sizes by kernel and status"),
		metric.WithUnit("{size}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sizes_total: %w", err)
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"kernelbench_active_runs",
		metric.WithDescription("Benchmark runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_runs: %w", err)
	}

	m.BaselineSaves, err = meter.Int64Counter(
		"kernelbench_baseline_saves_total",
		metric.WithDescription("Baselines saved"),
		metric.WithUnit("{baseline}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create baseline_saves_total: %w", err)
	}

	return m, nil
}

// RunStarted marks a run as active. The returned func records its outcome.
func (m *Metrics) RunStarted(ctx context.Context, kernel string) func(err error) {
	attrs := metric.WithAttributes(attribute.String("kernel", kernel))
	m.ActiveRuns.Add(ctx, 1, attrs)
	start := time.Now()

	return func(err error) {
		outcome := "completed"
		if err != nil {
			outcome = "error"
		}
		m.ActiveRuns.Add(ctx, -1, attrs)
		m.RunDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.RunsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kernel", kernel),
			attribute.String("outcome", outcome),
		))
	}
}

// Observer counts records per kernel and status.
func (m *Metrics) Observer(kernel string) driver.Observer {
	return driver.ObserverFunc(func(ctx context.Context, r driver.Record) {
		status := "ok"
		if !r.OK() {
			status = "failed"
		}
		m.SizesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kernel", kernel),
			attribute.String("status", status),
		))
	})
}
