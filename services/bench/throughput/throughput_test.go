// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package throughput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

func TestDerive(t *testing.T) {
	rec := driver.Record{
		Size: 1024,
		Measurement: &driver.Measurement{
			AverageNanos: 1000,
			Repetitions:  10,
			Total:        10 * time.Microsecond,
		},
	}

	m, err := Derive(rec, 16)
	require.NoError(t, err)
	assert.Equal(t, 1024, m.Size)
	assert.InDelta(t, 1e6, m.OpsPerSecond, 1e-6)
	assert.InDelta(t, 16384e6, m.BytesPerSecond, 1e-3)
	assert.InDelta(t, 16384, m.MBPerSecond, 1e-9)
	assert.InDelta(t, 1000.0/1024, m.NanosPerElement, 1e-12)
}

func TestDerive_Errors(t *testing.T) {
	_, err := Derive(driver.Record{Size: 8, Error: "boom"}, 16)
	assert.ErrorIs(t, err, ErrFailedRecord)

	zero := driver.Record{Size: 8, Measurement: &driver.Measurement{Repetitions: 1}}
	_, err = Derive(zero, 16)
	assert.ErrorIs(t, err, ErrNoTiming)

	_, err = FromAverage(8, 10, -1)
	assert.ErrorIs(t, err, ErrInvalidBytes)
}

func TestDerive_ZeroBytesStillReportsOps(t *testing.T) {
	m, err := FromAverage(8, 500, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2e6, m.OpsPerSecond, 1e-6)
	assert.Zero(t, m.BytesPerSecond)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{FormatNanos(999), "999 ns"},
		{FormatNanos(1500), "1.50 µs"},
		{FormatOps(2.5e6), "2.50 M/s"},
		{FormatOps(1500), "1.50 k/s"},
		{FormatOps(999), "999 /s"},
		{FormatMBps(12.346), "12.35 MB/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}
