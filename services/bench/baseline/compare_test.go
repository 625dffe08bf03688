// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

func TestCompare(t *testing.T) {
	base := &Entry{
		Name: "main",
		Records: []driver.Record{
			ok(16, 100),
			ok(32, 200),
			ok(64, 400),
			ok(128, 800),
			failed(256),
			ok(512, 1000),
		},
	}
	current := []driver.Record{
		ok(16, 105),   // within 10%
		ok(32, 300),   // +50%
		ok(64, 200),   // -50%
		failed(128),   // newly failing
		ok(256, 10),   // baseline failed
		ok(1024, 900), // not in baseline
	}

	report, err := Compare(base, current, 0.1)
	require.NoError(t, err)

	want := []Status{
		StatusUnchanged,
		StatusRegressed,
		StatusImproved,
		StatusFailed,
		StatusMissing,
		StatusMissing,
		StatusMissing, // 512 only in baseline
	}
	require.Len(t, report.Deltas, len(want))
	for i, s := range want {
		assert.Equal(t, s, report.Deltas[i].Status, "delta %d size %d", i, report.Deltas[i].Size)
	}
	assert.Equal(t, 512, report.Deltas[6].Size)
	assert.InDelta(t, 0.5, report.Deltas[1].Change, 1e-12)
	assert.InDelta(t, -0.5, report.Deltas[2].Change, 1e-12)

	assert.Equal(t, 1, report.Regressed)
	assert.Equal(t, 1, report.Improved)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.HasRegression())
	assert.Equal(t, "main", report.Baseline)
}

func TestCompare_DuplicateSizesMatchByOccurrence(t *testing.T) {
	base := &Entry{Name: "b", Records: []driver.Record{ok(8, 100), ok(8, 200)}}
	current := []driver.Record{ok(8, 100), ok(8, 400)}

	report, err := Compare(base, current, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, report.Threshold)
	require.Len(t, report.Deltas, 2)
	assert.Equal(t, StatusUnchanged, report.Deltas[0].Status)
	assert.Equal(t, StatusRegressed, report.Deltas[1].Status)
}

func TestCompare_NoRegression(t *testing.T) {
	base := &Entry{Name: "b", Records: []driver.Record{ok(8, 100)}}
	report, err := Compare(base, []driver.Record{ok(8, 95)}, 0.1)
	require.NoError(t, err)
	assert.False(t, report.HasRegression())
}

func TestCompare_NilBaseline(t *testing.T) {
	_, err := Compare(nil, nil, 0.1)
	assert.ErrorIs(t, err, ErrInvalidBaseline)
}
