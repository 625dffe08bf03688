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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// RegisterRoutes mounts the bench API under rg.
//
// Endpoints:
//
//	GET    /bench/health
//	GET    /bench/kernels
//	POST   /bench/run                       (rate limited)
//	GET    /bench/stream                    (WebSocket, rate limited)
//	GET    /bench/baselines
//	GET    /bench/baselines/:name
//	DELETE /bench/baselines/:name
//	POST   /bench/baselines/:name/compare   (rate limited)
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, runLimiter gin.HandlerFunc) {
	bench := rg.Group("/bench")
	{
		bench.GET("/health", h.HandleHealth)
		bench.GET("/kernels", h.HandleListKernels)

		runs := bench.Group("")
		if runLimiter != nil {
			runs.Use(runLimiter)
		}
		runs.POST("/run", h.HandleRun)
		runs.GET("/stream", h.HandleStream)
		runs.POST("/baselines/:name/compare", h.HandleCompareBaseline)

		bench.GET("/baselines", h.HandleListBaselines)
		bench.GET("/baselines/:name", h.HandleGetBaseline)
		bench.DELETE("/baselines/:name", h.HandleDeleteBaseline)
	}
}

// RateLimit rejects requests beyond limit per second with 429. A
// non-positive limit disables limiting and returns nil.
func RateLimit(limit float64, burst int) gin.HandlerFunc {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many benchmark requests",
				Code:  CodeRateLimited,
			})
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// NewRouter builds the engine: recovery, tracing, request logging, the
// bench API under /v1 and, when metrics is non-nil, GET /metrics.
func NewRouter(h *Handlers, serviceName string, limiter gin.HandlerFunc, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger(h.logger))

	RegisterRoutes(router.Group("/v1"), h, limiter)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
