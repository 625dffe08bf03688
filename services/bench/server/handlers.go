// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the benchmark runner over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeKernelNotFound   = "KERNEL_NOT_FOUND"
	CodeBaselineNotFound = "BASELINE_NOT_FOUND"
	CodeRunInProgress    = "RUN_IN_PROGRESS"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNoStore          = "NO_BASELINE_STORE"
	CodeShuttingDown     = "SHUTTING_DOWN"
	CodeInternal         = "INTERNAL_ERROR"
)

// Handlers serves the /v1/bench API.
type Handlers struct {
	runner   *runner.Runner
	limits   config.ServerConfig
	logger   *slog.Logger
	started  time.Time
	upgrader websocket.Upgrader
}

// NewHandlers creates the API handlers. The runner should be exclusive so
// concurrent run requests are rejected rather than skewing each other.
func NewHandlers(r *runner.Runner, limits config.ServerConfig, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runner:  r,
		limits:  limits,
		logger:  logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleHealth handles GET /v1/bench/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		UptimeSec: time.Since(h.started).Seconds(),
		Kernels:   h.runner.Registry().Count(),
	})
}

// HandleListKernels handles GET /v1/bench/kernels.
func (h *Handlers) HandleListKernels(c *gin.Context) {
	descriptors := h.runner.Registry().List()
	out := make([]KernelInfo, len(descriptors))
	for i, d := range descriptors {
		out[i] = KernelInfo{Name: d.Name, Description: d.Description, BytesPerElement: d.BytesPerElement}
	}
	c.JSON(http.StatusOK, out)
}

// HandleRun handles POST /v1/bench/run.
//
// Description:
//
//	Runs the requested kernel over the sizes and returns one result per
//	size in request order. Failed sizes carry an error instead of timing.
//	The run stops between sizes if the client goes away.
//
// Responses:
//   - 200: RunResponse
//   - 400: INVALID_REQUEST
//   - 404: KERNEL_NOT_FOUND
//   - 409: RUN_IN_PROGRESS
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(
		slog.String("request_id", requestID),
		slog.String("trace_id", telemetry.TraceID(c.Request.Context())),
	)

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Info("invalid run request", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, err, CodeInvalidRequest)
		return
	}
	if err := req.Validate(h.limits.MaxSizes, h.limits.MaxMinTime); err != nil {
		writeError(c, http.StatusBadRequest, err, CodeInvalidRequest)
		return
	}
	if len(req.Sizes) == 0 {
		writeError(c, http.StatusBadRequest, errors.New("sizes must not be empty"), CodeInvalidRequest)
		return
	}

	res, err := h.runner.Run(c.Request.Context(), req.spec())
	if err != nil && !(res != nil && errors.Is(err, driver.ErrCancelled)) {
		h.writeRunError(c, logger, err)
		return
	}

	resp := newRunResponse(res)
	resp.Cancelled = err != nil
	logger.Info("benchmark run served",
		slog.String("kernel", res.Kernel),
		slog.Int("sizes", len(res.Records)),
		slog.Bool("cancelled", resp.Cancelled),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleStream handles GET /v1/bench/stream.
//
// Description:
//
//	After the upgrade the client sends one RunRequest. The server pushes a
//	"record" message per completed size and a final "done" message with
//	the whole run, or an "error" message. Closing the socket cancels the
//	run before its next size.
func (h *Handlers) HandleStream(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	sessionID := uuid.NewString()
	logger := h.logger.With(slog.String("session_id", sessionID))

	var req RunRequest
	if err := ws.ReadJSON(&req); err != nil {
		h.sendStream(ws, logger, StreamMessage{Type: "error", Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	if err := req.Validate(h.limits.MaxSizes, h.limits.MaxMinTime); err != nil {
		h.sendStream(ws, logger, StreamMessage{Type: "error", Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Any read error, including a close frame, means the client is gone.
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	defaults := h.runner.Defaults()
	kernelName := req.Kernel
	if kernelName == "" {
		kernelName = defaults.Kernel
	}
	bytesPerElement := req.BytesPerElement
	if bytesPerElement <= 0 {
		bytesPerElement = defaults.BytesPerElement
	}
	if bytesPerElement <= 0 {
		if d, ok := h.runner.Registry().Get(kernelName); ok {
			bytesPerElement = d.BytesPerElement
		}
	}

	spec := req.spec()
	spec.Observers = []driver.Observer{driver.ObserverFunc(func(_ context.Context, rec driver.Record) {
		r := newRecordResponse(rec, bytesPerElement)
		h.sendStream(ws, logger, StreamMessage{Type: "record", Record: &r})
	})}

	res, err := h.runner.Run(ctx, spec)
	if err != nil && !(res != nil && errors.Is(err, driver.ErrCancelled)) {
		status, code := classify(err)
		logger.Info("stream run failed", slog.Int("status", status), slog.String("error", err.Error()))
		h.sendStream(ws, logger, StreamMessage{Type: "error", Error: err.Error(), Code: code})
		return
	}

	resp := newRunResponse(res)
	resp.Cancelled = err != nil
	h.sendStream(ws, logger, StreamMessage{Type: "done", Run: &resp})
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}

// HandleListBaselines handles GET /v1/bench/baselines.
func (h *Handlers) HandleListBaselines(c *gin.Context) {
	store, ok := h.requireStore(c)
	if !ok {
		return
	}
	entries, err := store.List(c.Request.Context())
	if err != nil {
		h.writeRunError(c, h.logger, err)
		return
	}
	out := make([]BaselineSummary, len(entries))
	for i, e := range entries {
		out[i] = newBaselineSummary(e)
	}
	c.JSON(http.StatusOK, out)
}

// HandleGetBaseline handles GET /v1/bench/baselines/:name.
func (h *Handlers) HandleGetBaseline(c *gin.Context) {
	store, ok := h.requireStore(c)
	if !ok {
		return
	}
	entry, err := store.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeRunError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBaselineResponse(entry))
}

// HandleDeleteBaseline handles DELETE /v1/bench/baselines/:name.
func (h *Handlers) HandleDeleteBaseline(c *gin.Context) {
	store, ok := h.requireStore(c)
	if !ok {
		return
	}
	if err := store.Delete(c.Request.Context(), c.Param("name")); err != nil {
		h.writeRunError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCompareBaseline handles POST /v1/bench/baselines/:name/compare.
//
// Description:
//
//	Runs a benchmark and compares it with the named baseline. Kernel,
//	sizes and budget default to the baseline's so an empty body repeats
//	the baseline run.
func (h *Handlers) HandleCompareBaseline(c *gin.Context) {
	store, ok := h.requireStore(c)
	if !ok {
		return
	}
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID))
	name := c.Param("name")

	var req CompareRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err, CodeInvalidRequest)
			return
		}
	}
	if err := apiValidate.Struct(&req); err != nil {
		writeError(c, http.StatusBadRequest, err, CodeInvalidRequest)
		return
	}
	if err := req.RunRequest.Validate(h.limits.MaxSizes, h.limits.MaxMinTime); err != nil {
		writeError(c, http.StatusBadRequest, err, CodeInvalidRequest)
		return
	}

	base, err := store.Get(c.Request.Context(), name)
	if err != nil {
		h.writeRunError(c, logger, err)
		return
	}

	spec := req.spec()
	if spec.Kernel == "" {
		spec.Kernel = base.Kernel
	}
	if len(spec.Sizes) == 0 {
		for _, rec := range base.Records {
			spec.Sizes = append(spec.Sizes, rec.Size)
		}
	}
	if spec.MinTime == 0 {
		spec.MinTime = base.MinTime
	}
	if spec.Warmup == nil {
		w := base.Warmup
		spec.Warmup = &w
	}

	res, err := h.runner.Run(c.Request.Context(), spec)
	if err != nil && !(res != nil && errors.Is(err, driver.ErrCancelled)) {
		h.writeRunError(c, logger, err)
		return
	}
	if err != nil {
		// A partial run is not compared; missing sizes would read as regressions.
		resp := newRunResponse(res)
		resp.Cancelled = true
		logger.Info("baseline compare cancelled",
			slog.String("baseline", name),
			slog.Int("sizes", len(res.Records)),
		)
		c.JSON(http.StatusOK, CompareResponse{Run: resp})
		return
	}
	report, err := h.runner.Compare(c.Request.Context(), name, res, req.Threshold)
	if err != nil {
		h.writeRunError(c, logger, err)
		return
	}

	logger.Info("baseline compared",
		slog.String("baseline", name),
		slog.Int("regressed", report.Regressed),
		slog.Int("failed", report.Failed),
	)
	c.JSON(http.StatusOK, CompareResponse{Run: newRunResponse(res), Report: report})
}

func (h *Handlers) requireStore(c *gin.Context) (baseline.Store, bool) {
	store := h.runner.Store()
	if store == nil {
		writeError(c, http.StatusServiceUnavailable, runner.ErrNoStore, CodeNoStore)
		return nil, false
	}
	return store, true
}

func (h *Handlers) sendStream(ws *websocket.Conn, logger *slog.Logger, msg StreamMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		logger.Warn("failed to write websocket message", slog.String("error", err.Error()))
	}
}

// classify maps an error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, runner.ErrBusy):
		return http.StatusConflict, CodeRunInProgress
	case errors.Is(err, kernel.ErrNotFound):
		return http.StatusNotFound, CodeKernelNotFound
	case errors.Is(err, baseline.ErrNotFound):
		return http.StatusNotFound, CodeBaselineNotFound
	case errors.Is(err, driver.ErrInvalidRequest), errors.Is(err, baseline.ErrInvalidBaseline):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, runner.ErrNoStore):
		return http.StatusServiceUnavailable, CodeNoStore
	case errors.Is(err, runner.ErrDraining):
		return http.StatusServiceUnavailable, CodeShuttingDown
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (h *Handlers) writeRunError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeError(c, status, err, code)
}

func writeError(c *gin.Context, status int, err error, code string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
