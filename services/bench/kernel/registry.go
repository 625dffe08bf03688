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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

// Params are the settings a Factory may honor when building a kernel.
type Params struct {
	MaxSize int
	Seed    uint64
}

// Factory builds a kernel instance.
type Factory func(p Params) (driver.Kernel, error)

// Descriptor describes a named kernel.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// BytesPerElement is the kernel's default cost for throughput.
	BytesPerElement int `json:"bytes_per_element"`

	Factory Factory `json:"-"`
}

// Registry holds kernel descriptors by name.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kernels: make(map[string]Descriptor),
	}
}

// DefaultRegistry returns a registry with the FFT kernels and a mock
// kernel registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, mode := range []Mode{ModeForward, ModeInverse, ModeRoundTrip} {
		r.MustRegister(Descriptor{
			Name:            "fft-" + string(mode),
			Description:     fmt.Sprintf("gonum complex128 FFT, %s transform", mode),
			BytesPerElement: (&FFT{mode: mode}).BytesPerElement(),
			Factory:         fftFactory(mode),
		})
	}
	r.MustRegister(Descriptor{
		Name:            "mock",
		Description:     "no-op kernel reporting 1µs per call",
		BytesPerElement: DefaultMockBytesPerElement,
		Factory: func(Params) (driver.Kernel, error) {
			return &Mock{Duration: time.Microsecond}, nil
		},
	})
	return r
}

func fftFactory(mode Mode) Factory {
	return func(p Params) (driver.Kernel, error) {
		opts := []FFTOption{WithMaxSize(p.MaxSize)}
		if p.Seed != 0 {
			opts = append(opts, WithSeed(p.Seed))
		}
		return NewFFT(mode, opts...)
	}
}

// Register adds d.
//
// Outputs:
//   - error: ErrInvalidDescriptor if d has no name or factory,
//     ErrAlreadyRegistered if the name is taken.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" || d.Factory == nil {
		return fmt.Errorf("%w: %q", ErrInvalidDescriptor, d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kernels[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, d.Name)
	}
	r.kernels[d.Name] = d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("kernel: failed to register %s: %v", d.Name, err))
	}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.kernels[name]
	return d, ok
}

// New builds the kernel registered under name.
func (r *Registry) New(name string, p Params) (driver.Kernel, Descriptor, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	k, err := d.Factory(p)
	if err != nil {
		return nil, Descriptor{}, fmt.Errorf("building kernel %s: %w", name, err)
	}
	return k, d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.kernels))
	for _, d := range r.kernels {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered kernels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kernels)
}
