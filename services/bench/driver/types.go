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
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidRequest indicates the request cannot be measured.
	ErrInvalidRequest = errors.New("invalid benchmark request")

	// ErrAllocation indicates the kernel could not allocate input for a size.
	ErrAllocation = errors.New("input allocation failed")

	// ErrKernelExecution indicates a kernel invocation failed.
	ErrKernelExecution = errors.New("kernel execution failed")

	// ErrCancelled indicates the run stopped between sizes.
	ErrCancelled = errors.New("benchmark run cancelled")

	// ErrNilKernel indicates New was called without a kernel.
	ErrNilKernel = errors.New("kernel must not be nil")

	// ErrNilContext indicates Run was called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNegativeElapsed indicates a kernel reported a negative duration.
	ErrNegativeElapsed = errors.New("kernel reported negative elapsed time")

	// ErrKernelPanic indicates a kernel panicked during a call.
	ErrKernelPanic = errors.New("kernel panicked")
)

// Phase names the stage of a size measurement in which a kernel call failed.
type Phase string

const (
	// PhaseWarmup is the untimed warmup stage.
	PhaseWarmup Phase = "warmup"

	// PhaseMeasure is the timed measurement loop.
	PhaseMeasure Phase = "measure"
)

// AllocationError reports that AllocateInput failed for a size.
//
// It matches ErrAllocation and the kernel's own error with errors.Is.
type AllocationError struct {
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocating input for size %d: %v", e.Size, e.Err)
}

func (e *AllocationError) Unwrap() []error {
	return []error{ErrAllocation, e.Err}
}

// KernelExecutionError reports that a kernel call failed for a size.
//
// Repetition is 1-based within its Phase. It matches ErrKernelExecution
// and the kernel's own error with errors.Is.
type KernelExecutionError struct {
	Size       int
	Phase      Phase
	Repetition int
	Err        error
}

func (e *KernelExecutionError) Error() string {
	return fmt.Sprintf("invoking kernel for size %d (%s repetition %d): %v",
		e.Size, e.Phase, e.Repetition, e.Err)
}

func (e *KernelExecutionError) Unwrap() []error {
	return []error{ErrKernelExecution, e.Err}
}

// -----------------------------------------------------------------------------
// Kernel
// -----------------------------------------------------------------------------

// Kernel is the capability the Driver measures.
//
// Description:
//
//	A Kernel owns its input memory layout. The Driver only asks it to
//	allocate an input for a size, run once against that input, and free
//	the input again. Invoke reports the elapsed time of the work it did,
//	which lets a kernel exclude its own bookkeeping from the measurement.
//
// Contract:
//   - ReleaseInput is called exactly once for every successful AllocateInput.
//   - Invoke is never called with an input from a different size.
//   - A returned duration must be non-negative.
type Kernel interface {
	AllocateInput(ctx context.Context, size int) (any, error)
	Invoke(ctx context.Context, size int, input any) (time.Duration, error)
	ReleaseInput(input any)
}

// -----------------------------------------------------------------------------
// Request / Record
// -----------------------------------------------------------------------------

// Request describes one benchmark run.
type Request struct {
	// Sizes are measured in order. Duplicates are measured independently.
	Sizes []int `json:"sizes"`

	// MinTime is the cumulative elapsed time each size must reach.
	MinTime time.Duration `json:"min_time"`
}

// Validate reports every problem with the request.
//
// Outputs:
//   - error: nil if valid, otherwise wraps ErrInvalidRequest and each problem.
func (r Request) Validate() error {
	var errs []error
	if len(r.Sizes) == 0 {
		errs = append(errs, errors.New("sizes must not be empty"))
	}
	for i, size := range r.Sizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("sizes[%d] = %d must be positive", i, size))
		}
	}
	if r.MinTime <= 0 {
		errs = append(errs, fmt.Errorf("min time %v must be positive", r.MinTime))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// Measurement is the successful outcome for one size.
type Measurement struct {
	// AverageNanos is Total divided by Repetitions.
	AverageNanos float64 `json:"avg_ns"`

	// Repetitions is the number of timed invocations, always at least 1.
	Repetitions int `json:"iterations"`

	// Total is the cumulative elapsed time of all timed invocations.
	Total time.Duration `json:"total_ns"`

	// Capped is set when the repetition limit ended the loop before the
	// budget was reached.
	Capped bool `json:"capped,omitempty"`
}

// Record is the outcome for one requested size.
//
// Exactly one of Measurement and Error is set. Err holds the typed error
// behind Error for in-process callers and is not serialized.
type Record struct {
	Size        int          `json:"size"`
	Measurement *Measurement `json:"measurement,omitempty"`
	Error       string       `json:"error,omitempty"`
	Err         error        `json:"-"`
}

// OK reports whether the record holds a measurement.
func (r Record) OK() bool {
	return r.Measurement != nil
}

func successRecord(size int, m *Measurement) Record {
	return Record{Size: size, Measurement: m}
}

func failureRecord(size int, err error) Record {
	return Record{Size: size, Error: err.Error(), Err: err}
}

// accumulator collects timed repetitions for one size.
type accumulator struct {
	repetitions int
	total       time.Duration
}

func (a *accumulator) add(elapsed time.Duration) {
	a.repetitions++
	a.total += elapsed
}

func (a *accumulator) measurement(capped bool) *Measurement {
	return &Measurement{
		AverageNanos: float64(a.total) / float64(a.repetitions),
		Repetitions:  a.repetitions,
		Total:        a.total,
		Capped:       capped,
	}
}

// -----------------------------------------------------------------------------
// Observers
// -----------------------------------------------------------------------------

// Observer receives each completed Record, outside the timed region.
type Observer interface {
	ObserveRecord(ctx context.Context, record Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, record Record)

// ObserveRecord calls f.
func (f ObserverFunc) ObserveRecord(ctx context.Context, record Record) {
	f(ctx, record)
}
