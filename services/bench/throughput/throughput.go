// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package throughput derives rate metrics from benchmark records.
//
// The per-element byte cost is supplied by the caller. It depends on the
// kernel's memory layout, which the driver knows nothing about.
package throughput

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

var (
	// ErrFailedRecord indicates the record holds no measurement.
	ErrFailedRecord = errors.New("record has no measurement")

	// ErrNoTiming indicates the measurement averaged zero nanoseconds.
	ErrNoTiming = errors.New("measurement has zero average time")

	// ErrInvalidBytes indicates a negative bytes-per-element cost.
	ErrInvalidBytes = errors.New("bytes per element must not be negative")
)

// Metrics are the rates derived from one size's average time.
type Metrics struct {
	Size            int     `json:"size"`
	AverageNanos    float64 `json:"avg_ns"`
	BytesPerElement int     `json:"bytes_per_element"`
	OpsPerSecond    float64 `json:"ops_per_second"`
	BytesPerSecond  float64 `json:"bytes_per_second"`
	MBPerSecond     float64 `json:"mb_per_second"`
	NanosPerElement float64 `json:"ns_per_element"`
}

// Derive computes the rates for a successful record.
//
// Inputs:
//   - record: A record holding a measurement.
//   - bytesPerElement: Bytes one invocation moves per input element.
//
// Outputs:
//   - Metrics: The derived rates. MB is 1e6 bytes.
//   - error: ErrFailedRecord, ErrNoTiming or ErrInvalidBytes.
func Derive(record driver.Record, bytesPerElement int) (Metrics, error) {
	if !record.OK() {
		return Metrics{}, fmt.Errorf("size %d: %w", record.Size, ErrFailedRecord)
	}
	return FromAverage(record.Size, record.Measurement.AverageNanos, bytesPerElement)
}

// FromAverage computes the rates for a size from its average time.
func FromAverage(size int, avgNanos float64, bytesPerElement int) (Metrics, error) {
	if bytesPerElement < 0 {
		return Metrics{}, ErrInvalidBytes
	}
	if avgNanos <= 0 {
		return Metrics{}, fmt.Errorf("size %d: %w", size, ErrNoTiming)
	}

	ops := 1e9 / avgNanos
	bytesPerOp := float64(size) * float64(bytesPerElement)
	return Metrics{
		Size:            size,
		AverageNanos:    avgNanos,
		BytesPerElement: bytesPerElement,
		OpsPerSecond:    ops,
		BytesPerSecond:  bytesPerOp * ops,
		MBPerSecond:     bytesPerOp * ops / 1e6,
		NanosPerElement: avgNanos / float64(size),
	}, nil
}

// FormatNanos renders a duration in ns below one microsecond, else µs.
func FormatNanos(ns float64) string {
	if ns < 1000 {
		return fmt.Sprintf("%.0f ns", ns)
	}
	return fmt.Sprintf("%.2f µs", ns/1000)
}

// FormatOps renders an operation rate with a k or M suffix.
func FormatOps(ops float64) string {
	switch {
	case ops > 1e6:
		return fmt.Sprintf("%.2f M/s", ops/1e6)
	case ops > 1e3:
		return fmt.Sprintf("%.2f k/s", ops/1e3)
	default:
		return fmt.Sprintf("%.0f /s", ops)
	}
}

// FormatMBps renders a bandwidth in MB/s.
func FormatMBps(mbps float64) string {
	return fmt.Sprintf("%.2f MB/s", mbps)
}
