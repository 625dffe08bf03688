// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
)

// apiValidate validates request bodies.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("baselinename", func(fl validator.FieldLevel) bool {
		return baseline.ValidName(fl.Field().String())
	})
}

// RunRequest is the body of POST /v1/bench/run and the first WebSocket
// message on /v1/bench/stream.
type RunRequest struct {
	Kernel          string  `json:"kernel" validate:"omitempty,max=64"`
	Sizes           []int   `json:"sizes" validate:"dive,gt=0"`
	MinTimeMs       float64 `json:"min_time_ms" validate:"gte=0"`
	Warmup          *int    `json:"warmup,omitempty" validate:"omitempty,gte=0,lte=10000"`
	BytesPerElement int     `json:"bytes_per_element,omitempty" validate:"gte=0"`
	SaveAs          string  `json:"save_as,omitempty" validate:"omitempty,baselinename"`
}

// Validate checks field constraints and the server limits.
func (r *RunRequest) Validate(maxSizes int, maxMinTime time.Duration) error {
	if err := apiValidate.Struct(r); err != nil {
		return err
	}
	if maxSizes > 0 && len(r.Sizes) > maxSizes {
		return fmt.Errorf("at most %d sizes per request, got %d", maxSizes, len(r.Sizes))
	}
	if maxMinTime > 0 && r.minTime() > maxMinTime {
		return fmt.Errorf("min_time_ms %.0f exceeds limit %d", r.MinTimeMs, maxMinTime.Milliseconds())
	}
	return nil
}

func (r *RunRequest) minTime() time.Duration {
	return time.Duration(r.MinTimeMs * float64(time.Millisecond))
}

func (r *RunRequest) spec() runner.Spec {
	return runner.Spec{
		Kernel:          r.Kernel,
		Sizes:           r.Sizes,
		MinTime:         r.minTime(),
		Warmup:          r.Warmup,
		BytesPerElement: r.BytesPerElement,
		SaveAs:          r.SaveAs,
	}
}

// CompareRequest is the body of POST /v1/bench/baselines/:name/compare.
// Empty run fields default to the baseline's kernel, sizes and budget.
type CompareRequest struct {
	RunRequest
	Threshold float64 `json:"threshold" validate:"gte=0,lte=10"`
}

// RecordResponse is one size in a response. Successful sizes carry the
// timing fields, failed sizes only size and error.
type RecordResponse struct {
	Size         int      `json:"size"`
	AvgNs        *float64 `json:"avg_ns,omitempty"`
	Iterations   int      `json:"iterations,omitempty"`
	TotalNs      int64    `json:"total_ns,omitempty"`
	TotalTimeMs  float64  `json:"total_time_ms,omitempty"`
	Capped       bool     `json:"capped,omitempty"`
	OpsPerSecond float64  `json:"ops_per_second,omitempty"`
	MBPerSecond  float64  `json:"mb_per_second,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func newRecordResponse(rec driver.Record, bytesPerElement int) RecordResponse {
	if !rec.OK() {
		return RecordResponse{Size: rec.Size, Error: rec.Error}
	}
	m := rec.Measurement
	avg := m.AverageNanos
	resp := RecordResponse{
		Size:        rec.Size,
		AvgNs:       &avg,
		Iterations:  m.Repetitions,
		TotalNs:     m.Total.Nanoseconds(),
		TotalTimeMs: float64(m.Total) / float64(time.Millisecond),
		Capped:      m.Capped,
	}
	if avg > 0 {
		resp.OpsPerSecond = 1e9 / avg
		resp.MBPerSecond = float64(rec.Size) * float64(bytesPerElement) * resp.OpsPerSecond / 1e6
	}
	return resp
}

// RunResponse is the response of a run.
type RunResponse struct {
	ID              string           `json:"id"`
	Kernel          string           `json:"kernel"`
	MinTimeMs       float64          `json:"min_time_ms"`
	Warmup          int              `json:"warmup"`
	BytesPerElement int              `json:"bytes_per_element"`
	Results         []RecordResponse `json:"results"`
	ElapsedMs       float64          `json:"elapsed_ms"`
	SavedAs         string           `json:"saved_as,omitempty"`
	Cancelled       bool             `json:"cancelled,omitempty"`
}

func newRunResponse(res *runner.Result) RunResponse {
	resp := RunResponse{
		ID:              res.ID,
		Kernel:          res.Kernel,
		MinTimeMs:       float64(res.MinTime) / float64(time.Millisecond),
		Warmup:          res.Warmup,
		BytesPerElement: res.BytesPerElement,
		Results:         make([]RecordResponse, len(res.Records)),
		ElapsedMs:       float64(res.Elapsed) / float64(time.Millisecond),
	}
	for i, rec := range res.Records {
		resp.Results[i] = newRecordResponse(rec, res.BytesPerElement)
	}
	if res.Saved != nil {
		resp.SavedAs = res.Saved.Name
	}
	return resp
}

// BaselineSummary describes a stored baseline in listings.
type BaselineSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kernel    string    `json:"kernel"`
	CreatedAt time.Time `json:"created_at"`
	MinTimeMs float64   `json:"min_time_ms"`
	Sizes     int       `json:"sizes"`
}

// BaselineResponse is a stored baseline with its records.
type BaselineResponse struct {
	BaselineSummary
	BytesPerElement int              `json:"bytes_per_element"`
	Results         []RecordResponse `json:"results"`
}

func newBaselineSummary(e *baseline.Entry) BaselineSummary {
	return BaselineSummary{
		ID:        e.ID,
		Name:      e.Name,
		Kernel:    e.Kernel,
		CreatedAt: e.CreatedAt,
		MinTimeMs: float64(e.MinTime) / float64(time.Millisecond),
		Sizes:     len(e.Records),
	}
}

func newBaselineResponse(e *baseline.Entry) BaselineResponse {
	resp := BaselineResponse{
		BaselineSummary: newBaselineSummary(e),
		BytesPerElement: e.BytesPerElement,
		Results:         make([]RecordResponse, len(e.Records)),
	}
	for i, rec := range e.Records {
		resp.Results[i] = newRecordResponse(rec, e.BytesPerElement)
	}
	return resp
}

// CompareResponse pairs the new run with its comparison.
type CompareResponse struct {
	Run    RunResponse      `json:"run"`
	Report *baseline.Report `json:"report,omitempty"`
}

// KernelInfo describes a registered kernel.
type KernelInfo struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	BytesPerElement int    `json:"bytes_per_element"`
}

// HealthResponse is the body of GET /v1/bench/health.
type HealthResponse struct {
	Status    string  `json:"status"`
	UptimeSec float64 `json:"uptime_sec"`
	Kernels   int     `json:"kernels"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StreamMessage is one server-to-client WebSocket message.
type StreamMessage struct {
	// Type is "record", "done" or "error".
	Type   string          `json:"type"`
	Record *RecordResponse `json:"record,omitempty"`
	Run    *RunResponse    `json:"run,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}
