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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	factory := func(Params) (driver.Kernel, error) { return &Mock{}, nil }

	require.NoError(t, r.Register(Descriptor{Name: "a", Factory: factory}))
	assert.ErrorIs(t, r.Register(Descriptor{Name: "a", Factory: factory}), ErrAlreadyRegistered)
	assert.ErrorIs(t, r.Register(Descriptor{Name: "", Factory: factory}), ErrInvalidDescriptor)
	assert.ErrorIs(t, r.Register(Descriptor{Name: "b"}), ErrInvalidDescriptor)
	assert.Equal(t, 1, r.Count())

	assert.Panics(t, func() {
		r.MustRegister(Descriptor{Name: "a", Factory: factory})
	})
}

func TestRegistry_New(t *testing.T) {
	r := DefaultRegistry()

	_, _, err := r.New("missing", Params{})
	assert.ErrorIs(t, err, ErrNotFound)

	k, d, err := r.New("fft-inverse", Params{MaxSize: 128, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, "fft-inverse", d.Name)

	f, ok := k.(*FFT)
	require.True(t, ok)
	assert.Equal(t, ModeInverse, f.Mode())
	assert.Equal(t, 128, f.maxSize)
	assert.Equal(t, uint64(7), f.seed)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Positive(t, d.BytesPerElement)
	}
	assert.Equal(t, []string{"fft-forward", "fft-inverse", "fft-roundtrip", "mock"}, names)

	d, ok := r.Get("fft-roundtrip")
	require.True(t, ok)
	assert.Equal(t, 64, d.BytesPerElement)
}
