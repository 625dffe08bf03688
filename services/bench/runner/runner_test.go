// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
)

// testRegistry registers "fixed" (1ms per call, fails for size 13) and
// "gated" which signals started and then blocks in Invoke until gate closes.
func testRegistry(started, gate chan struct{}) *kernel.Registry {
	r := kernel.NewRegistry()
	r.MustRegister(kernel.Descriptor{
		Name:            "fixed",
		BytesPerElement: 16,
		Factory: func(kernel.Params) (driver.Kernel, error) {
			return &kernel.Mock{
				Duration:    time.Millisecond,
				AllocErrors: map[int]error{13: errors.New("unlucky")},
			}, nil
		},
	})
	r.MustRegister(kernel.Descriptor{
		Name: "gated",
		Factory: func(kernel.Params) (driver.Kernel, error) {
			return &gatedKernel{started: started, gate: gate}, nil
		},
	})
	return r
}

type gatedKernel struct {
	kernel.Mock
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedKernel) Invoke(context.Context, int, any) (time.Duration, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.gate
	})
	return time.Millisecond, nil
}

func defaults() config.BenchConfig {
	cfg := config.DefaultConfig().Bench
	cfg.Kernel = "fixed"
	cfg.MinTime = 5 * time.Millisecond
	cfg.Warmup = 0
	return cfg
}

func TestNew_NilRegistry(t *testing.T) {
	_, err := New(nil, defaults())
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Spec{Sizes: []int{8, 13, 16}})
	require.NoError(t, err)

	assert.Equal(t, "fixed", res.Kernel)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 16, res.BytesPerElement)
	require.Len(t, res.Records, 3)
	assert.Equal(t, 5, res.Records[0].Measurement.Repetitions)
	assert.False(t, res.Records[1].OK())

	require.Len(t, res.Throughput, 3)
	require.NotNil(t, res.Throughput[0])
	assert.Nil(t, res.Throughput[1])
	assert.InDelta(t, 1000.0, res.Throughput[0].OpsPerSecond, 1e-9)
	assert.Nil(t, res.Saved)
}

func TestRun_Overrides(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)

	warmup := 2
	var seen []int
	res, err := r.Run(context.Background(), Spec{
		Kernel:          "fixed",
		Sizes:           []int{4},
		MinTime:         2 * time.Millisecond,
		Warmup:          &warmup,
		BytesPerElement: 8,
		Observers: []driver.Observer{driver.ObserverFunc(func(_ context.Context, rec driver.Record) {
			seen = append(seen, rec.Size)
		})},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Warmup)
	assert.Equal(t, 8, res.BytesPerElement)
	assert.Equal(t, 2, res.Records[0].Measurement.Repetitions)
	assert.Equal(t, []int{4}, seen)
}

func TestRun_Errors(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Spec{Kernel: "missing", Sizes: []int{1}})
	assert.ErrorIs(t, err, kernel.ErrNotFound)

	_, err = r.Run(context.Background(), Spec{Sizes: nil})
	assert.ErrorIs(t, err, driver.ErrInvalidRequest)

	_, err = r.Run(context.Background(), Spec{Sizes: []int{1}, SaveAs: "x"})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestRun_Cancelled(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := r.Run(ctx, Spec{
		Sizes: []int{1, 2, 3},
		Observers: []driver.Observer{driver.ObserverFunc(func(context.Context, driver.Record) {
			cancel()
		})},
		SaveAs: "never",
	})
	assert.ErrorIs(t, err, driver.ErrCancelled)
	require.NotNil(t, res)
	assert.Len(t, res.Records, 1)
	assert.Nil(t, res.Saved)
}

func TestRun_Exclusive(t *testing.T) {
	started, gate := make(chan struct{}), make(chan struct{})
	r, err := New(testRegistry(started, gate), defaults(), WithExclusive())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), Spec{Kernel: "gated", Sizes: []int{1}, MinTime: time.Millisecond})
		errCh <- err
	}()

	<-started
	_, err = r.Run(context.Background(), Spec{Sizes: []int{1}})
	assert.ErrorIs(t, err, ErrBusy)

	close(gate)
	require.NoError(t, <-errCh)

	_, err = r.Run(context.Background(), Spec{Sizes: []int{1}})
	assert.NoError(t, err)
}

func TestDrain(t *testing.T) {
	started, gate := make(chan struct{}), make(chan struct{})
	r, err := New(testRegistry(started, gate), defaults(), WithExclusive())
	require.NoError(t, err)

	type outcome struct {
		res *Result
		err error
	}
	runCh := make(chan outcome, 1)
	go func() {
		res, err := r.Run(context.Background(), Spec{Kernel: "gated", Sizes: []int{1, 2, 3}, MinTime: time.Millisecond})
		runCh <- outcome{res, err}
	}()
	<-started

	drained := make(chan error, 1)
	go func() { drained <- r.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("Drain returned while a run was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-drained)

	got := <-runCh
	assert.ErrorIs(t, got.err, driver.ErrCancelled)
	require.NotNil(t, got.res)
	assert.Len(t, got.res.Records, 1, "the started size finishes, the rest are cancelled")

	_, err = r.Run(context.Background(), Spec{Sizes: []int{1}})
	assert.ErrorIs(t, err, ErrDraining)
}

func TestDrain_Timeout(t *testing.T) {
	started, gate := make(chan struct{}), make(chan struct{})
	r, err := New(testRegistry(started, gate), defaults())
	require.NoError(t, err)

	go func() {
		_, _ = r.Run(context.Background(), Spec{Kernel: "gated", Sizes: []int{1}, MinTime: time.Millisecond})
	}()
	<-started
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Drain(ctx), context.DeadlineExceeded)
}

func TestDrain_Idle(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)
	require.NoError(t, r.Drain(context.Background()))
	require.NoError(t, r.Drain(context.Background()))
}

func TestRun_SaveAndCompare(t *testing.T) {
	store := baseline.NewMemoryStore()
	reg := prometheus.NewRegistry()
	pcfg := telemetry.DefaultPrometheusConfig()
	pcfg.Registry = reg
	sink, err := telemetry.NewPrometheusSink(pcfg)
	require.NoError(t, err)
	metrics, err := telemetry.NewMetrics(nil)
	require.NoError(t, err)

	r, err := New(testRegistry(nil, nil), defaults(),
		WithStore(store),
		WithPrometheusSink(sink),
		WithMetrics(metrics),
	)
	require.NoError(t, err)
	assert.Same(t, store, r.Store())

	ctx := context.Background()
	res, err := r.Run(ctx, Spec{Sizes: []int{8, 16}, SaveAs: "main"})
	require.NoError(t, err)
	require.NotNil(t, res.Saved)
	assert.Equal(t, res.ID, res.Saved.ID)

	saved, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "fixed", saved.Kernel)
	assert.Len(t, saved.Records, 2)

	again, err := r.Run(ctx, Spec{Sizes: []int{8, 16}})
	require.NoError(t, err)
	report, err := r.Compare(ctx, "main", again, 0)
	require.NoError(t, err)
	assert.False(t, report.HasRegression())
	assert.Equal(t, 0.10, report.Threshold)

	_, err = r.Compare(ctx, "absent", again, 0)
	assert.ErrorIs(t, err, baseline.ErrNotFound)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCompare_NoStore(t *testing.T) {
	r, err := New(testRegistry(nil, nil), defaults())
	require.NoError(t, err)
	_, err = r.Compare(context.Background(), "main", &Result{}, 0)
	assert.ErrorIs(t, err, ErrNoStore)
}
