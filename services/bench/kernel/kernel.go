// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel provides the compute kernels kernelbench can measure.
//
// Every kernel implements driver.Kernel. A kernel that also implements
// ByteCoster reports the bytes it touches per input element, which the
// throughput package uses to derive bandwidth figures.
//
// The FFT kernels wrap gonum's complex FFT in three modes: forward,
// inverse and a forward plus inverse round trip. Mock is a kernel that
// does no work and reports scripted durations, for tests and dry runs.
package kernel

import (
	"errors"
)

var (
	// ErrSizeTooLarge indicates a size exceeds the kernel's limit.
	ErrSizeTooLarge = errors.New("size exceeds kernel limit")

	// ErrInvalidInput indicates Invoke received an input it did not allocate.
	ErrInvalidInput = errors.New("input was not allocated by this kernel")

	// ErrNotFound indicates no kernel is registered under a name.
	ErrNotFound = errors.New("kernel not found")

	// ErrAlreadyRegistered indicates a kernel name is taken.
	ErrAlreadyRegistered = errors.New("kernel already registered")

	// ErrInvalidDescriptor indicates a descriptor has no name or factory.
	ErrInvalidDescriptor = errors.New("invalid kernel descriptor")
)

// ByteCoster is implemented by kernels that know their per-element cost.
type ByteCoster interface {
	// BytesPerElement is the memory traffic of one invocation divided by
	// the input size.
	BytesPerElement() int
}

// BytesPerElement returns k's per-element cost, or fallback if k does not
// report one.
func BytesPerElement(k any, fallback int) int {
	if bc, ok := k.(ByteCoster); ok {
		if n := bc.BytesPerElement(); n > 0 {
			return n
		}
	}
	return fallback
}
