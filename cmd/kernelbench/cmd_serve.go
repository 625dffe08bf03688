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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/server"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
)

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the benchmark API over HTTP and WebSocket",
		Long: `Starts the HTTP API:

  GET    /v1/bench/health
  GET    /v1/bench/kernels
  POST   /v1/bench/run
  GET    /v1/bench/stream                  (WebSocket)
  GET    /v1/bench/baselines
  GET    /v1/bench/baselines/:name
  DELETE /v1/bench/baselines/:name
  POST   /v1/bench/baselines/:name/compare
  GET    /metrics

Only one benchmark runs at a time; concurrent run requests get 409.`,
		Example: `  kernelbench serve --addr :9090
  curl -X POST localhost:9090/v1/bench/run -d '{"sizes":[64,128],"min_time_ms":200}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

// service is everything serve starts, in the order it must be stopped.
type service struct {
	handler  http.Handler
	shutdown []func(context.Context) error
}

func (s *service) close(ctx context.Context) error {
	var errs []error
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, s.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}

// buildService wires telemetry, the baseline store, the runner and the
// router. Callers must close the service.
func (c *cli) buildService(ctx context.Context) (*service, error) {
	svc := &service{}
	logger := c.slog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tcfg := c.cfg.Telemetry
	tcfg.Registry = reg
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	svc.shutdown = append(svc.shutdown, shutdownTelemetry)

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	store, db, err := c.openStore(logger.With(slog.String("component", "badger")))
	if err != nil {
		_ = svc.close(ctx)
		return nil, err
	}
	svc.shutdown = append(svc.shutdown, func(context.Context) error { return db.Close() })

	promCfg := telemetry.DefaultPrometheusConfig()
	promCfg.Registry = reg
	sink, err := telemetry.NewPrometheusSink(promCfg)
	if err != nil {
		_ = svc.close(ctx)
		return nil, err
	}
	svc.shutdown = append(svc.shutdown, func(context.Context) error { return sink.Close() })

	metrics, err := telemetry.NewMetrics(otel.Meter("kernelbench"))
	if err != nil {
		_ = svc.close(ctx)
		return nil, err
	}

	r, err := runner.New(c.registry, c.cfg.Bench,
		runner.WithStore(store),
		runner.WithPrometheusSink(sink),
		runner.WithMetrics(metrics),
		runner.WithLogger(logger),
		runner.WithExclusive(),
	)
	if err != nil {
		_ = svc.close(ctx)
		return nil, err
	}
	// Stopped first: runs, including hijacked /stream ones, end before the store closes.
	svc.shutdown = append(svc.shutdown, r.Drain)

	if c.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := server.NewHandlers(r, c.cfg.Server, logger)
	limiter := server.RateLimit(c.cfg.Server.RateLimit, c.cfg.Server.RateBurst)
	svc.handler = server.NewRouter(handlers, tcfg.ServiceName, limiter, metricsHandler)
	return svc, nil
}

func (c *cli) serve(ctx context.Context) error {
	svc, err := c.buildService(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.cfg.Server.Addr,
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("kernelbench server listening",
			slog.String("addr", srv.Addr),
			slog.Int("kernels", c.registry.Count()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down kernelbench server")
		sctx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), svc.close(sctx))
	})
	return g.Wait()
}
