// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/pkg/logging"
	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	"github.com/AleutianAI/kernelbench/services/bench/server"
	"github.com/AleutianAI/kernelbench/services/bench/sizes"
)

// writeTestConfig writes a config that stores baselines under a temp dir.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
bench:
  kernel: mock
  sizes: "4,8"
  min_time: 1ms
  warmup: 0
storage:
  path: %s
logging:
  level: error
telemetry:
  trace_exporter: none
  metric_exporter: none
`, filepath.Join(dir, "baselines"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKernelsCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "kernels", "--json")
	require.NoError(t, err)
	var ds []kernel.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &ds))
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"fft-forward", "fft-inverse", "fft-roundtrip", "mock"}, names)

	out, err = execute(t, cfg, "kernels")
	require.NoError(t, err)
	assert.Contains(t, out, "Kernel")
	assert.Contains(t, out, "fft-roundtrip")
	assert.NotContains(t, out, "\x1b[", "buffers are not terminals")
}

func TestRunCommand_JSON(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "run", "--sizes", "16,4,16", "--json")
	require.NoError(t, err)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Run)
	assert.Equal(t, "mock", got.Run.Kernel)
	require.Len(t, got.Run.Records, 3)
	for i, want := range []int{16, 4, 16} {
		rec := got.Run.Records[i]
		assert.Equal(t, want, rec.Size)
		require.NotNil(t, rec.Measurement)
		assert.Equal(t, 1000, rec.Measurement.Repetitions)
		assert.Equal(t, 1000.0, rec.Measurement.AverageNanos)
	}
	assert.False(t, got.Cancelled)
	assert.Nil(t, got.Report)
}

func TestRunCommand_Table(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "run", "--min-time", "2us")
	require.NoError(t, err)
	assert.Contains(t, out, "mock  min-time 2µs  warmup 0  16 B/element")
	assert.Contains(t, out, "Iterations")
	assert.Contains(t, out, "1.00 µs")
	assert.Contains(t, out, "2 sizes in")
}

func TestRunCommand_Errors(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "run", "--sizes", "4,x")
	assert.ErrorIs(t, err, sizes.ErrInvalid)

	_, err = execute(t, cfg, "run", "--kernel", "nope")
	assert.ErrorIs(t, err, kernel.ErrNotFound)

	_, err = execute(t, cfg, "run", "--save", "bad name")
	assert.ErrorIs(t, err, baseline.ErrInvalidBaseline)

	_, err = execute(t, cfg, "run", "--compare", "absent")
	assert.ErrorIs(t, err, baseline.ErrNotFound)

	_, err = execute(t, cfg, "run", "extra")
	assert.Error(t, err)
}

func TestBaselineLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "baseline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no baselines stored")

	out, err = execute(t, cfg, "run", "--save", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "saved baseline main")

	out, err = execute(t, cfg, "baseline", "list", "--json")
	require.NoError(t, err)
	var entries []*baseline.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "main", entries[0].Name)
	assert.Equal(t, "mock", entries[0].Kernel)
	assert.Len(t, entries[0].Records, 2)

	out, err = execute(t, cfg, "baseline", "show", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "baseline main")
	assert.Contains(t, out, "Throughput")

	// The mock kernel is deterministic, so nothing regresses.
	out, err = execute(t, cfg, "run", "--compare", "main", "--json")
	require.NoError(t, err)
	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Report)
	assert.Equal(t, "main", got.Report.Baseline)
	assert.False(t, got.Report.HasRegression())
	require.Len(t, got.Report.Deltas, 2)
	assert.Equal(t, baseline.StatusUnchanged, got.Report.Deltas[0].Status)

	out, err = execute(t, cfg, "run", "--compare", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "compared with main")
	assert.Contains(t, out, "0 regressed, 0 improved, 0 failed")

	out, err = execute(t, cfg, "baseline", "delete", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted baseline main")

	_, err = execute(t, cfg, "baseline", "show", "main")
	assert.ErrorIs(t, err, baseline.ErrNotFound)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Bench, loaded.Bench)

	_, err = execute(t, path, "config", "init")
	assert.Error(t, err)

	_, err = execute(t, path, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = execute(t, path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "kernel: fft-forward")
	assert.Contains(t, out, "min_time: 500ms")
}

func TestGlobalFlags(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "--log-level", "loud", "kernels")
	assert.Error(t, err)

	_, err = execute(t, cfg, "--log-level", "debug", "--log-json", "kernels")
	assert.NoError(t, err)

	_, err = execute(t, filepath.Join(t.TempDir(), "missing.yaml"), "kernels")
	assert.NoError(t, err, "a missing config file falls back to defaults")
}

func newServiceCLI(t *testing.T) *cli {
	t.Helper()
	loaded, err := config.Load(writeTestConfig(t))
	require.NoError(t, err)
	loaded.Storage.InMemory = true

	c := &cli{cfg: loaded, registry: kernel.DefaultRegistry()}
	logCfg, err := loaded.Logging.LoggerConfig()
	require.NoError(t, err)
	logCfg.Quiet = true
	c.logger = logging.New(logCfg)
	return c
}

func TestBuildService(t *testing.T) {
	c := newServiceCLI(t)
	svc, err := c.buildService(context.Background())
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.close(context.Background())) }()

	w := httptest.NewRecorder()
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/bench/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	body := bytes.NewBufferString(`{"sizes":[4],"min_time_ms":1}`)
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/bench/run", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `kernelbench_driver_records_total{kernel="mock",status="ok"} 1`)
}

func TestBuildService_CloseDrainsRunner(t *testing.T) {
	c := newServiceCLI(t)
	svc, err := c.buildService(context.Background())
	require.NoError(t, err)
	require.NoError(t, svc.close(context.Background()))

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"sizes":[4],"min_time_ms":1}`)
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/bench/run", body))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), server.CodeShuttingDown)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(fmt.Errorf("%w against baseline main", errRegression)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
