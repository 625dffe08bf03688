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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/throughput"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, isTerminal(nil))
}

func TestPlainTable(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	require.False(t, p.styled)

	p.table([]string{"A", "Long header", "C"}, [][]string{
		{"wide cell", "x", "last"},
		{"y", "z", "µ"},
	}, -1)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A          Long header  C", lines[0])
	assert.Equal(t, "wide cell  x            last", lines[1])
	assert.Equal(t, "y          z            µ", lines[2])
}

func TestPrintRun(t *testing.T) {
	ok := driver.Record{Size: 64, Measurement: &driver.Measurement{
		AverageNanos: 2500, Repetitions: 200, Total: 500 * time.Microsecond,
	}}
	capped := driver.Record{Size: 8, Measurement: &driver.Measurement{
		AverageNanos: 0, Repetitions: 10, Capped: true,
	}}
	failed := driver.Record{Size: 128, Error: "allocating input for size 128: out of memory"}

	m, err := throughput.Derive(ok, 16)
	require.NoError(t, err)

	res := &runner.Result{
		Kernel:          "fft-forward",
		MinTime:         500 * time.Microsecond,
		Warmup:          1,
		BytesPerElement: 16,
		Records:         []driver.Record{ok, capped, failed},
		Throughput:      []*throughput.Metrics{&m, nil, nil},
		Elapsed:         1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	newPrinter(&buf).printRun(res)
	out := buf.String()

	assert.Contains(t, out, "fft-forward  min-time 500µs  warmup 1  16 B/element")
	assert.Contains(t, out, "2.50 µs")
	assert.Contains(t, out, "400.00 k/s")
	assert.Contains(t, out, "409.60 MB/s")
	assert.Contains(t, out, "capped")
	assert.Contains(t, out, "out of memory")
	assert.Contains(t, out, "3 sizes in 1.5s, 1 failed")

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.True(t, strings.HasPrefix(lines[2], "64 "))
	assert.True(t, strings.HasPrefix(lines[3], "8 "))
	assert.True(t, strings.HasPrefix(lines[4], "128 "))
}

func TestPrintReport(t *testing.T) {
	report := &baseline.Report{
		Baseline:  "main",
		Threshold: 0.1,
		Deltas: []baseline.Delta{
			{Size: 16, BaselineNanos: 100, CurrentNanos: 150, Change: 0.5, Status: baseline.StatusRegressed},
			{Size: 32, BaselineNanos: 200, Status: baseline.StatusFailed},
		},
		Regressed: 1,
		Failed:    1,
	}

	var buf bytes.Buffer
	newPrinter(&buf).printReport(report)
	out := buf.String()

	assert.Contains(t, out, "compared with main (threshold 10%)")
	assert.Contains(t, out, "+50.0%")
	assert.Contains(t, out, "regressed")
	assert.Contains(t, out, "1 regressed, 0 improved, 1 failed")
}

func TestPrintBaselines(t *testing.T) {
	var buf bytes.Buffer
	newPrinter(&buf).printBaselines([]*baseline.Entry{{
		Name:      "nightly",
		Kernel:    "fft-inverse",
		MinTime:   time.Second,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Records:   []driver.Record{{Size: 1}, {Size: 2}},
	}})
	out := buf.String()
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "fft-inverse")
	assert.Contains(t, out, "1s")
}
