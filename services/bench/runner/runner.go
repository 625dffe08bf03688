// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner resolves a named kernel, runs the driver over it, derives
// throughput and optionally saves the run as a baseline. The CLI and the
// HTTP server both run benchmarks through a Runner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	"github.com/AleutianAI/kernelbench/services/bench/sizes"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
	"github.com/AleutianAI/kernelbench/services/bench/throughput"
)

const tracerName = "kernelbench.bench.runner"

var (
	// ErrBusy indicates another run holds the runner.
	ErrBusy = errors.New("a benchmark run is already in progress")

	// ErrNoStore indicates a baseline operation without a configured store.
	ErrNoStore = errors.New("no baseline store configured")

	// ErrDraining indicates Run was called after Drain.
	ErrDraining = errors.New("runner is draining")
)

// Spec describes one run. Zero fields fall back to the runner defaults.
type Spec struct {
	Kernel  string
	Sizes   []int
	MinTime time.Duration

	// Warmup overrides the default warmup when non-nil.
	Warmup *int

	// BytesPerElement overrides the throughput cost when positive.
	BytesPerElement int

	// SaveAs stores a completed run as a baseline under this name.
	SaveAs string

	// Observers are notified after each size, after the runner's own.
	Observers []driver.Observer
}

// Result is the outcome of a run.
type Result struct {
	ID              string                `json:"id"`
	Kernel          string                `json:"kernel"`
	MinTime         time.Duration         `json:"min_time"`
	Warmup          int                   `json:"warmup"`
	BytesPerElement int                   `json:"bytes_per_element"`
	Records         []driver.Record       `json:"records"`
	Throughput      []*throughput.Metrics `json:"throughput"`
	Elapsed         time.Duration         `json:"elapsed"`
	Saved           *baseline.Entry       `json:"-"`
}

// Entry converts the result into a baseline entry named name.
func (r *Result) Entry(name string) *baseline.Entry {
	return &baseline.Entry{
		ID:              r.ID,
		Name:            name,
		Kernel:          r.Kernel,
		MinTime:         r.MinTime,
		Warmup:          r.Warmup,
		BytesPerElement: r.BytesPerElement,
		Records:         r.Records,
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets the baseline store.
func WithStore(s baseline.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithPrometheusSink exports every record to sink.
func WithPrometheusSink(sink *telemetry.PrometheusSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithMetrics records run and size counters on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracerProvider sets the provider for runner and driver spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.tp = tp
		}
	}
}

// WithExclusive makes Run fail with ErrBusy while another run is active,
// instead of running concurrently.
func WithExclusive() Option {
	return func(r *Runner) { r.exclusive = semaphore.NewWeighted(1) }
}

// Runner runs benchmarks for kernels in a registry.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	registry  *kernel.Registry
	defaults  config.BenchConfig
	store     baseline.Store
	sink      *telemetry.PrometheusSink
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tp        trace.TracerProvider
	exclusive *semaphore.Weighted

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
	stopped  context.Context
	stop     context.CancelFunc
}

// New creates a Runner.
//
// Inputs:
//   - registry: The kernels that may be run. Must not be nil.
//   - defaults: Fallbacks for fields a Spec leaves empty.
func New(registry *kernel.Registry, defaults config.BenchConfig, opts ...Option) (*Runner, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	r := &Runner{
		registry: registry,
		defaults: defaults,
		logger:   slog.Default(),
		tp:       otel.GetTracerProvider(),
	}
	r.stopped, r.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Registry returns the runner's kernel registry.
func (r *Runner) Registry() *kernel.Registry {
	return r.registry
}

// Defaults returns the fallbacks applied to every Spec.
func (r *Runner) Defaults() config.BenchConfig {
	return r.defaults
}

// Store returns the baseline store, or nil.
func (r *Runner) Store() baseline.Store {
	return r.store
}

// Run measures spec.
//
// Outputs:
//   - *Result: The run. On cancellation, the records completed so far.
//   - error: ErrBusy or ErrDraining; wraps kernel.ErrNotFound or driver.ErrInvalidRequest;
//     wraps driver.ErrCancelled together with a partial Result; or a
//     baseline save failure together with the complete Result.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	if r.exclusive != nil {
		if !r.exclusive.TryAcquire(1) {
			return nil, ErrBusy
		}
		defer r.exclusive.Release(1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.stopped, cancel)()

	spec = r.withDefaults(spec)

	ctx, span := r.tp.Tracer(tracerName).Start(ctx, "bench.Runner.Run",
		trace.WithAttributes(
			attribute.String("bench.kernel", spec.Kernel),
			attribute.Int("bench.size_count", len(spec.Sizes)),
		),
	)
	defer span.End()

	k, desc, err := r.registry.New(spec.Kernel, kernel.Params{
		MaxSize: r.defaults.MaxSize,
		Seed:    r.defaults.Seed,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	bytesPerElement := spec.BytesPerElement
	if bytesPerElement <= 0 {
		bytesPerElement = kernel.BytesPerElement(k, desc.BytesPerElement)
	}

	logger := r.logger.With(slog.String("kernel", spec.Kernel))
	logger.Debug("benchmark run starting",
		slog.String("sizes", sizes.Format(spec.Sizes)),
		slog.Duration("min_time", spec.MinTime),
		slog.Int("warmup", *spec.Warmup),
		slog.Int("bytes_per_element", bytesPerElement),
	)
	opts := []driver.Option{
		driver.WithLogger(logger),
		driver.WithWarmup(*spec.Warmup),
		driver.WithMaxRepetitions(r.defaults.MaxRepetitions),
		driver.WithTracerProvider(r.tp),
	}
	if r.sink != nil {
		opts = append(opts, driver.WithObserver(r.sink.Observer(spec.Kernel, bytesPerElement)))
	}
	if r.metrics != nil {
		opts = append(opts, driver.WithObserver(r.metrics.Observer(spec.Kernel)))
	}
	for _, o := range spec.Observers {
		opts = append(opts, driver.WithObserver(o))
	}
	if r.defaults.GCBetweenSizes {
		opts = append(opts, driver.WithYield(func(context.Context) { runtime.GC() }))
	}

	d, err := driver.New(k, opts...)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var done func(error)
	if r.metrics != nil {
		done = r.metrics.RunStarted(ctx, spec.Kernel)
	}

	started := time.Now()
	records, runErr := d.Run(ctx, driver.Request{Sizes: spec.Sizes, MinTime: spec.MinTime})
	if done != nil {
		done(runErr)
	}
	if runErr != nil && !errors.Is(runErr, driver.ErrCancelled) {
		telemetry.RecordError(span, runErr)
		return nil, runErr
	}

	result := &Result{
		ID:              uuid.NewString(),
		Kernel:          spec.Kernel,
		MinTime:         spec.MinTime,
		Warmup:          *spec.Warmup,
		BytesPerElement: bytesPerElement,
		Records:         records,
		Throughput:      derive(records, bytesPerElement),
		Elapsed:         time.Since(started),
	}
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		return result, runErr
	}

	if spec.SaveAs != "" {
		entry, err := r.save(ctx, spec.SaveAs, result)
		if err != nil {
			telemetry.RecordError(span, err)
			return result, err
		}
		result.Saved = entry
	}

	telemetry.SetSpanOK(span)
	return result, nil
}

// Drain refuses new runs, cancels the running ones at their next size
// boundary and waits until they return or ctx is done. Runs started after
// Drain fail with ErrDraining.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining runs: %w", ctx.Err())
	}
}

func (r *Runner) withDefaults(spec Spec) Spec {
	if spec.Kernel == "" {
		spec.Kernel = r.defaults.Kernel
	}
	if spec.MinTime == 0 {
		spec.MinTime = r.defaults.MinTime
	}
	if spec.Warmup == nil {
		w := r.defaults.Warmup
		spec.Warmup = &w
	}
	if spec.BytesPerElement <= 0 {
		spec.BytesPerElement = r.defaults.BytesPerElement
	}
	return spec
}

func (r *Runner) save(ctx context.Context, name string, result *Result) (*baseline.Entry, error) {
	if r.store == nil {
		return nil, ErrNoStore
	}
	entry := result.Entry(name)
	if err := r.store.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("saving baseline %s: %w", name, err)
	}
	if r.metrics != nil {
		r.metrics.BaselineSaves.Add(ctx, 1)
	}
	r.logger.Info("baseline saved",
		slog.String("name", name),
		slog.String("kernel", result.Kernel),
		slog.Int("sizes", len(result.Records)),
	)
	return entry, nil
}

// Compare loads baseline name and compares result against it.
// A non-positive threshold uses the configured regression threshold.
func (r *Runner) Compare(ctx context.Context, name string, result *Result, threshold float64) (*baseline.Report, error) {
	if r.store == nil {
		return nil, ErrNoStore
	}
	base, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if base.Kernel != result.Kernel {
		r.logger.Warn("comparing runs of different kernels",
			slog.String("baseline_kernel", base.Kernel),
			slog.String("kernel", result.Kernel),
		)
	}
	if threshold <= 0 {
		threshold = r.defaults.RegressionThreshold
	}
	return baseline.Compare(base, result.Records, threshold)
}

func derive(records []driver.Record, bytesPerElement int) []*throughput.Metrics {
	out := make([]*throughput.Metrics, len(records))
	for i, rec := range records {
		if m, err := throughput.Derive(rec, bytesPerElement); err == nil {
			out[i] = &m
		}
	}
	return out
}
