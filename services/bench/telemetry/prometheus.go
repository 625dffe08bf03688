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
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/throughput"
)

var (
	// ErrInvalidConfig indicates the sink configuration is unusable.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed indicates a collector could not be registered.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// PrometheusConfig configures a PrometheusSink.
type PrometheusConfig struct {
	Namespace string
	Subsystem string

	// Registry receives the collectors. Nil uses the default registerer.
	Registry prometheus.Registerer

	// RepetitionBuckets bucket the repetitions per measured size.
	RepetitionBuckets []float64
}

// DefaultPrometheusConfig returns the default sink configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:         "kernelbench",
		Subsystem:         "driver",
		RepetitionBuckets: prometheus.ExponentialBuckets(1, 10, 9),
	}
}

// Validate checks the required fields.
func (c *PrometheusConfig) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.Subsystem == "" {
		errs = append(errs, errors.New("subsystem is required"))
	}
	return errors.Join(errs...)
}

// PrometheusSink exposes the latest result per kernel and size.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	registry prometheus.Registerer

	avgNanos    *prometheus.GaugeVec
	mbPerSecond *prometheus.GaugeVec
	repetitions *prometheus.HistogramVec
	records     *prometheus.CounterVec

	collectors []prometheus.Collector

	mu     sync.RWMutex
	closed bool
}

// NewPrometheusSink creates and registers the sink's collectors.
//
// Outputs:
//   - *PrometheusSink: The registered sink.
//   - error: Wraps ErrInvalidConfig or ErrRegistrationFailed.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.RepetitionBuckets == nil {
		cfg.RepetitionBuckets = DefaultPrometheusConfig().RepetitionBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	s := &PrometheusSink{registry: registry}

	s.avgNanos = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "size_avg_nanoseconds",
			Help:      "Average kernel time of the latest measurement per size",
		},
		[]string{"kernel", "size"},
	)
	s.mbPerSecond = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "size_throughput_megabytes_per_second",
			Help:      "Derived bandwidth of the latest measurement per size",
		},
		[]string{"kernel", "size"},
	)
	s.repetitions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "size_repetitions",
			Help:      "Timed repetitions needed to reach the time budget",
			Buckets:   cfg.RepetitionBuckets,
		},
		[]string{"kernel"},
	)
	s.records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "records_total",
			Help:      "Records produced by kernel and status",
		},
		[]string{"kernel", "status"},
	)

	s.collectors = []prometheus.Collector{s.avgNanos, s.mbPerSecond, s.repetitions, s.records}
	for i, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			for _, registered := range s.collectors[:i] {
				registry.Unregister(registered)
			}
			return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
	}
	return s, nil
}

// Observe records one result. bytesPerElement of zero skips the bandwidth gauge.
func (s *PrometheusSink) Observe(kernel string, bytesPerElement int, r driver.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	if !r.OK() {
		s.records.WithLabelValues(kernel, "failed").Inc()
		return
	}
	s.records.WithLabelValues(kernel, "ok").Inc()

	size := strconv.Itoa(r.Size)
	s.avgNanos.WithLabelValues(kernel, size).Set(r.Measurement.AverageNanos)
	s.repetitions.WithLabelValues(kernel).Observe(float64(r.Measurement.Repetitions))

	if bytesPerElement > 0 {
		if m, err := throughput.Derive(r, bytesPerElement); err == nil {
			s.mbPerSecond.WithLabelValues(kernel, size).Set(m.MBPerSecond)
		}
	}
}

// Observer adapts the sink to a driver.Observer for one kernel.
func (s *PrometheusSink) Observer(kernel string, bytesPerElement int) driver.Observer {
	return driver.ObserverFunc(func(_ context.Context, r driver.Record) {
		s.Observe(kernel, bytesPerElement, r)
	})
}

// Close unregisters all collectors. Later observations are dropped.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}
