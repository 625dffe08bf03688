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
	"fmt"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

// DefaultThreshold is the relative slowdown that counts as a regression.
const DefaultThreshold = 0.10

// Status classifies one size in a comparison.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusImproved  Status = "improved"
	StatusRegressed Status = "regressed"

	// StatusFailed means the current run failed at a size the baseline measured.
	StatusFailed Status = "failed"

	// StatusMissing means either side has no record for the size.
	StatusMissing Status = "missing"
)

// Delta compares one size.
type Delta struct {
	Size          int     `json:"size"`
	BaselineNanos float64 `json:"baseline_avg_ns,omitempty"`
	CurrentNanos  float64 `json:"current_avg_ns,omitempty"`

	// Change is current/baseline - 1. Positive means slower.
	Change float64 `json:"change"`
	Status Status  `json:"status"`
}

// Report is the result of Compare.
type Report struct {
	Baseline  string  `json:"baseline"`
	Threshold float64 `json:"threshold"`
	Deltas    []Delta `json:"deltas"`
	Regressed int     `json:"regressed"`
	Improved  int     `json:"improved"`
	Failed    int     `json:"failed"`
}

// HasRegression reports whether any size regressed or newly failed.
func (r *Report) HasRegression() bool {
	return r.Regressed > 0 || r.Failed > 0
}

// Compare matches current against the baseline size by size.
//
// Description:
//
//	Records are matched by size. When a size appears more than once, the
//	n-th occurrence in current is matched with the n-th in the baseline.
//	Deltas follow the order of current, followed by baseline sizes that
//	current does not have. A size slower than threshold is regressed,
//	faster than threshold is improved. Sizes the baseline itself failed
//	are reported as missing.
//
// Inputs:
//   - base: The stored baseline. Must not be nil.
//   - current: The records of the new run.
//   - threshold: Relative change tolerated, e.g. 0.1. Non-positive uses
//     DefaultThreshold.
func Compare(base *Entry, current []driver.Record, threshold float64) (*Report, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	type key struct{ size, occurrence int }
	index := func(records []driver.Record) ([]key, map[key]driver.Record) {
		seen := make(map[int]int)
		keys := make([]key, 0, len(records))
		byKey := make(map[key]driver.Record, len(records))
		for _, r := range records {
			k := key{r.Size, seen[r.Size]}
			seen[r.Size]++
			keys = append(keys, k)
			byKey[k] = r
		}
		return keys, byKey
	}
	baseKeys, baseByKey := index(base.Records)
	curKeys, curByKey := index(current)

	report := &Report{Baseline: base.Name, Threshold: threshold}
	for _, k := range curKeys {
		b, ok := baseByKey[k]
		d := compareOne(k.size, b, ok, curByKey[k], threshold)
		report.add(d)
	}
	for _, k := range baseKeys {
		if _, ok := curByKey[k]; !ok {
			report.add(Delta{Size: k.size, Status: StatusMissing, BaselineNanos: avg(baseByKey[k])})
		}
	}
	return report, nil
}

func compareOne(size int, base driver.Record, hasBase bool, cur driver.Record, threshold float64) Delta {
	d := Delta{Size: size, BaselineNanos: avg(base), CurrentNanos: avg(cur)}
	switch {
	case !hasBase || !base.OK() || base.Measurement.AverageNanos <= 0:
		d.Status = StatusMissing
	case !cur.OK():
		d.Status = StatusFailed
	default:
		d.Change = cur.Measurement.AverageNanos/base.Measurement.AverageNanos - 1
		switch {
		case d.Change > threshold:
			d.Status = StatusRegressed
		case d.Change < -threshold:
			d.Status = StatusImproved
		default:
			d.Status = StatusUnchanged
		}
	}
	return d
}

func avg(r driver.Record) float64 {
	if r.Measurement == nil {
		return 0
	}
	return r.Measurement.AverageNanos
}

func (r *Report) add(d Delta) {
	switch d.Status {
	case StatusRegressed:
		r.Regressed++
	case StatusImproved:
		r.Improved++
	case StatusFailed:
		r.Failed++
	}
	r.Deltas = append(r.Deltas, d)
}
