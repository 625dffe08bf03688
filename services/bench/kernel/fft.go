// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Mode selects the transform an FFT kernel performs.
type Mode string

const (
	ModeForward   Mode = "forward"
	ModeInverse   Mode = "inverse"
	ModeRoundTrip Mode = "roundtrip"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeForward, ModeInverse, ModeRoundTrip:
		return true
	}
	return false
}

const (
	// DefaultMaxSize is the largest transform an FFT kernel allocates.
	DefaultMaxSize = 1 << 22

	// DefaultSeed fills inputs when no seed is configured.
	DefaultSeed = 1

	// complex128 is 16 bytes; each pass reads the source and writes the
	// destination.
	bytesPerPass = 32
)

// FFTOption configures an FFT kernel.
type FFTOption func(*FFT)

// WithMaxSize sets the largest size AllocateInput accepts.
// Non-positive values are ignored.
func WithMaxSize(n int) FFTOption {
	return func(f *FFT) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithSeed sets the seed used to fill inputs.
func WithSeed(seed uint64) FFTOption {
	return func(f *FFT) {
		f.seed = seed
	}
}

// FFT measures a gonum complex FFT of a given size.
//
// Description:
//
//	A plan is used by one input at a time. The kernel keeps a pool of
//	idle plans per size: AllocateInput checks one out together with
//	freshly seeded buffers and ReleaseInput returns it, so repeated runs
//	over the same sizes reuse plans.
//
// Thread Safety: Safe for concurrent use. Each input is used by one
// caller at a time.
type FFT struct {
	mode    Mode
	maxSize int
	seed    uint64

	mu    sync.Mutex
	plans map[int][]*fourier.CmplxFFT
	built int
}

type fftInput struct {
	size    int
	plan    *fourier.CmplxFFT
	src     []complex128
	dst     []complex128
	scratch []complex128
}

// NewFFT creates an FFT kernel for mode.
//
// Outputs:
//   - *FFT: The kernel.
//   - error: Non-nil if mode is unknown.
func NewFFT(mode Mode, opts ...FFTOption) (*FFT, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown fft mode %q", mode)
	}
	f := &FFT{
		mode:    mode,
		maxSize: DefaultMaxSize,
		seed:    DefaultSeed,
		plans:   make(map[int][]*fourier.CmplxFFT),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Mode returns the transform the kernel performs.
func (f *FFT) Mode() Mode {
	return f.mode
}

// BytesPerElement implements ByteCoster.
func (f *FFT) BytesPerElement() int {
	if f.mode == ModeRoundTrip {
		return 2 * bytesPerPass
	}
	return bytesPerPass
}

// PlansBuilt reports how many plans the kernel has constructed.
func (f *FFT) PlansBuilt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

// AllocateInput checks out a plan for size and fills a seeded source buffer.
func (f *FFT) AllocateInput(_ context.Context, size int) (any, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size %d must be positive", size)
	}
	if size > f.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, size, f.maxSize)
	}

	in := &fftInput{
		size: size,
		plan: f.checkout(size),
		src:  make([]complex128, size),
		dst:  make([]complex128, size),
	}
	if f.mode == ModeRoundTrip {
		in.scratch = make([]complex128, size)
	}

	// Same seed and size always produce the same input.
	rng := rand.New(rand.NewPCG(f.seed, uint64(size)))
	for i := range in.src {
		in.src[i] = complex(rng.Float64()*2-1, rng.Float64()*2-1)
	}
	return in, nil
}

// Invoke runs one transform and reports its duration.
func (f *FFT) Invoke(_ context.Context, size int, input any) (time.Duration, error) {
	in, ok := input.(*fftInput)
	if !ok || in == nil {
		return 0, ErrInvalidInput
	}
	if in.size != size {
		return 0, fmt.Errorf("%w: allocated for size %d, invoked with %d", ErrInvalidInput, in.size, size)
	}

	start := time.Now()
	switch f.mode {
	case ModeForward:
		in.plan.Coefficients(in.dst, in.src)
	case ModeInverse:
		in.plan.Sequence(in.dst, in.src)
	case ModeRoundTrip:
		in.plan.Coefficients(in.scratch, in.src)
		in.plan.Sequence(in.dst, in.scratch)
	}
	return time.Since(start), nil
}

// ReleaseInput returns the input's plan to the pool.
func (f *FFT) ReleaseInput(input any) {
	in, ok := input.(*fftInput)
	if !ok || in == nil || in.plan == nil {
		return
	}
	f.mu.Lock()
	f.plans[in.size] = append(f.plans[in.size], in.plan)
	f.mu.Unlock()
	in.plan = nil
}

func (f *FFT) checkout(size int) *fourier.CmplxFFT {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idle := f.plans[size]; len(idle) > 0 {
		plan := idle[len(idle)-1]
		f.plans[size] = idle[:len(idle)-1]
		return plan
	}
	f.built++
	return fourier.NewCmplxFFT(size)
}
