// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "kernelbench.bench.driver"

// DefaultMaxRepetitions bounds the timed loop for a single size. A kernel
// that reports zero elapsed time would otherwise never reach the budget.
const DefaultMaxRepetitions = 100_000_000

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option configures a Driver.
//
// Description:
//
//	Options are applied in order by New, so later options override
//	earlier ones. Invalid values are ignored and the default is kept.
type Option func(*Driver)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithWarmup sets the number of untimed invocations before measurement.
//
// Inputs:
//   - n: Warmup invocations per size. Negative values are ignored.
//
// Example:
//
//	d, err := driver.New(k, driver.WithWarmup(1))
func WithWarmup(n int) Option {
	return func(d *Driver) {
		if n >= 0 {
			d.warmup = n
		}
	}
}

// WithMaxRepetitions caps the timed loop for one size. When the cap ends
// the loop the Measurement is marked Capped. Non-positive values are ignored.
func WithMaxRepetitions(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxRepetitions = n
		}
	}
}

// WithObserver adds an observer notified after each size completes.
// Observers run in the order they were added. A nil observer is ignored.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithYield sets a hook that runs between sizes, after the observers.
//
// Description:
//
//	The hook gives the host a chance to do work the measurement loop
//	must not be interrupted by, such as forcing a garbage collection or
//	flushing output. It is never called inside the timed region.
func WithYield(fn func(ctx context.Context)) Option {
	return func(d *Driver) {
		d.yield = fn
	}
}

// WithTracerProvider sets the tracer provider used for run and size spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Driver) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// -----------------------------------------------------------------------------
// Driver
// -----------------------------------------------------------------------------

// Driver measures a Kernel across input sizes.
type Driver struct {
	kernel         Kernel
	logger         *slog.Logger
	tracer         trace.Tracer
	warmup         int
	maxRepetitions int
	observers      []Observer
	yield          func(ctx context.Context)
}

// New creates a Driver for kernel.
//
// Inputs:
//   - kernel: The kernel to measure. Must not be nil.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Driver: The configured driver.
//   - error: ErrNilKernel if kernel is nil.
func New(kernel Kernel, opts ...Option) (*Driver, error) {
	if kernel == nil {
		return nil, ErrNilKernel
	}
	d := &Driver{
		kernel:         kernel,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		maxRepetitions: DefaultMaxRepetitions,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run measures every size in req.
//
// Description:
//
//	Sizes are measured strictly in order, one at a time. For each size
//	the kernel is invoked repeatedly until the cumulative elapsed time
//	reaches req.MinTime, with at least one invocation. A size that fails
//	to allocate or whose kernel call fails yields a failure Record and
//	the run moves on to the next size.
//
// Inputs:
//   - ctx: Checked between sizes. Must not be nil.
//   - req: The sizes and budget. Validated before anything is measured.
//
// Outputs:
//   - []Record: One record per size in request order. On cancellation,
//     the records completed before the context was done.
//   - error: Wraps ErrInvalidRequest when req is invalid (no records), or
//     ErrCancelled and the context error when the run was cut short.
//
// Example:
//
//	records, err := d.Run(ctx, driver.Request{
//	    Sizes:   []int{16, 32, 64},
//	    MinTime: 500 * time.Millisecond,
//	})
//	if err != nil && !errors.Is(err, driver.ErrCancelled) {
//	    return fmt.Errorf("running benchmark: %w", err)
//	}
func (d *Driver) Run(ctx context.Context, req Request) ([]Record, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sizes := slices.Clone(req.Sizes)

	ctx, span := d.tracer.Start(ctx, "bench.Driver.Run",
		trace.WithAttributes(
			attribute.IntSlice("bench.sizes", sizes),
			attribute.Int64("bench.min_time_ns", req.MinTime.Nanoseconds()),
			attribute.Int("bench.warmup", d.warmup),
		),
	)
	defer span.End()

	started := time.Now()
	records := make([]Record, 0, len(sizes))
	failed := 0

	for i, size := range sizes {
		if err := ctx.Err(); err != nil {
			cancelErr := fmt.Errorf("%w after %d of %d sizes: %w", ErrCancelled, i, len(sizes), err)
			span.RecordError(cancelErr)
			span.SetStatus(codes.Error, "run cancelled")
			d.logger.Info("benchmark run cancelled",
				slog.Int("completed", i),
				slog.Int("requested", len(sizes)),
			)
			return records, cancelErr
		}

		// A size that has started always finishes.
		record := d.measure(context.WithoutCancel(ctx), size, req.MinTime)
		if !record.OK() {
			failed++
		}
		records = append(records, record)

		for _, o := range d.observers {
			o.ObserveRecord(ctx, record)
		}
		if d.yield != nil {
			d.yield(ctx)
		}
	}

	span.SetAttributes(
		attribute.Int("bench.result.records", len(records)),
		attribute.Int("bench.result.failed", failed),
	)
	span.SetStatus(codes.Ok, "run completed")

	d.logger.Info("benchmark run completed",
		slog.Int("sizes", len(sizes)),
		slog.Int("failed", failed),
		slog.Duration("min_time", req.MinTime),
		slog.Duration("wall_time", time.Since(started)),
	)

	return records, nil
}

// measure produces the Record for one size under its own span.
func (d *Driver) measure(ctx context.Context, size int, minTime time.Duration) Record {
	ctx, span := d.tracer.Start(ctx, "bench.Driver.measure",
		trace.WithAttributes(attribute.Int("bench.size", size)),
	)
	defer span.End()

	m, err := d.measureSize(ctx, size, minTime)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "size failed")
		d.logger.Warn("benchmark size failed",
			slog.Int("size", size),
			slog.String("error", err.Error()),
		)
		return failureRecord(size, err)
	}

	span.SetAttributes(
		attribute.Int("bench.result.repetitions", m.Repetitions),
		attribute.Float64("bench.result.avg_ns", m.AverageNanos),
		attribute.Bool("bench.result.capped", m.Capped),
	)
	span.SetStatus(codes.Ok, "size measured")

	d.logger.Debug("benchmark size measured",
		slog.Int("size", size),
		slog.Int("repetitions", m.Repetitions),
		slog.Float64("avg_ns", m.AverageNanos),
	)
	return successRecord(size, m)
}

// measureSize runs allocate, warmup and the timed loop for one size.
// The input is released on every path once allocated, including panics.
func (d *Driver) measureSize(ctx context.Context, size int, minTime time.Duration) (m *Measurement, err error) {
	phase := PhaseWarmup
	repetition := 0
	allocated := false

	defer func() {
		if r := recover(); r != nil {
			m = nil
			if !allocated {
				err = &AllocationError{Size: size, Err: fmt.Errorf("%w: %v", ErrKernelPanic, r)}
				return
			}
			err = &KernelExecutionError{
				Size:       size,
				Phase:      phase,
				Repetition: repetition,
				Err:        fmt.Errorf("%w: %v", ErrKernelPanic, r),
			}
		}
	}()

	input, err := d.kernel.AllocateInput(ctx, size)
	if err != nil {
		return nil, &AllocationError{Size: size, Err: err}
	}
	allocated = true
	defer d.kernel.ReleaseInput(input)

	for repetition = 1; repetition <= d.warmup; repetition++ {
		if _, err := d.kernel.Invoke(ctx, size, input); err != nil {
			return nil, &KernelExecutionError{Size: size, Phase: phase, Repetition: repetition, Err: err}
		}
	}

	phase = PhaseMeasure
	var acc accumulator
	for {
		repetition = acc.repetitions + 1

		elapsed, err := d.kernel.Invoke(ctx, size, input)
		if err != nil {
			return nil, &KernelExecutionError{Size: size, Phase: phase, Repetition: repetition, Err: err}
		}
		if elapsed < 0 {
			return nil, &KernelExecutionError{
				Size:       size,
				Phase:      phase,
				Repetition: repetition,
				Err:        fmt.Errorf("%w: %v", ErrNegativeElapsed, elapsed),
			}
		}
		acc.add(elapsed)

		if acc.total >= minTime {
			return acc.measurement(false), nil
		}
		if acc.repetitions >= d.maxRepetitions {
			return acc.measurement(true), nil
		}
	}
}
