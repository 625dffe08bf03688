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
	"sync"
	"time"
)

// DefaultMockBytesPerElement matches a complex64 element.
const DefaultMockBytesPerElement = 16

// Mock is a kernel that does no work and reports scripted durations.
//
// Zero value reports zero elapsed time for every size. Set the fields
// before the first use; they are read without locking.
type Mock struct {
	// Duration is reported by every invocation unless DurationFor is set.
	Duration time.Duration

	// DurationFor overrides Duration per size.
	DurationFor func(size int) time.Duration

	// AllocErrors fails AllocateInput for the listed sizes.
	AllocErrors map[int]error

	// InvokeErrors fails Invoke for the listed sizes.
	InvokeErrors map[int]error

	// Bytes is reported by BytesPerElement. Defaults to 16.
	Bytes int

	mu          sync.Mutex
	invocations map[int]int
	allocations int
	releases    int
}

type mockInput struct {
	size int
}

// AllocateInput implements driver.Kernel.
func (m *Mock) AllocateInput(_ context.Context, size int) (any, error) {
	if err := m.AllocErrors[size]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.allocations++
	m.mu.Unlock()
	return &mockInput{size: size}, nil
}

// Invoke implements driver.Kernel.
func (m *Mock) Invoke(_ context.Context, size int, input any) (time.Duration, error) {
	in, ok := input.(*mockInput)
	if !ok || in.size != size {
		return 0, ErrInvalidInput
	}

	m.mu.Lock()
	if m.invocations == nil {
		m.invocations = make(map[int]int)
	}
	m.invocations[size]++
	m.mu.Unlock()

	if err := m.InvokeErrors[size]; err != nil {
		return 0, err
	}
	if m.DurationFor != nil {
		return m.DurationFor(size), nil
	}
	return m.Duration, nil
}

// ReleaseInput implements driver.Kernel.
func (m *Mock) ReleaseInput(any) {
	m.mu.Lock()
	m.releases++
	m.mu.Unlock()
}

// BytesPerElement implements ByteCoster.
func (m *Mock) BytesPerElement() int {
	if m.Bytes > 0 {
		return m.Bytes
	}
	return DefaultMockBytesPerElement
}

// Invocations returns how often Invoke ran for size.
func (m *Mock) Invocations(size int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations[size]
}

// Allocations returns the number of successful AllocateInput calls.
func (m *Mock) Allocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations
}

// Releases returns the number of ReleaseInput calls.
func (m *Mock) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}
