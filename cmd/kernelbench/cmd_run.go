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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/sizes"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
)

type runFlags struct {
	kernel          string
	sizes           string
	minTime         time.Duration
	warmup          int
	bytesPerElement int
	maxSize         int
	seed            uint64
	gc              bool
	json            bool
	save            string
	compare         string
	threshold       float64
}

// runOutput is the --json document of the run command.
type runOutput struct {
	Run       *runner.Result   `json:"run"`
	Report    *baseline.Report `json:"report,omitempty"`
	Cancelled bool             `json:"cancelled,omitempty"`
}

func (c *cli) newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark a kernel over a list of sizes",
		Long: `Runs the kernel once per size, repeating each size until the cumulative
time reaches --min-time. A size that fails is reported and the run goes on.
Ctrl-C stops the run after the current size and prints what was measured.

Sizes accept a comma separated list of integers, pow2:A..B ranges of powers
of two, and A..B:STEP linear ranges, e.g. "16,pow2:64..1024,1000..5000:1000".`,
		Example: `  kernelbench run --kernel fft-forward --sizes 16,32,64 --min-time 500ms
  kernelbench run --sizes pow2:16..65536 --save main
  kernelbench run --sizes pow2:16..65536 --compare main --threshold 0.05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runBenchmark(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.kernel, "kernel", "k", "", "kernel to run (see 'kernelbench kernels')")
	fl.StringVarP(&f.sizes, "sizes", "s", "", "input sizes, e.g. 16,32,64 or pow2:16..8192")
	fl.DurationVarP(&f.minTime, "min-time", "t", 0, "minimum measured time per size")
	fl.IntVar(&f.warmup, "warmup", 0, "untimed calls per size before measuring")
	fl.IntVar(&f.bytesPerElement, "bytes-per-element", 0, "bytes moved per element, for throughput")
	fl.IntVar(&f.maxSize, "max-size", 0, "largest size the kernel accepts")
	fl.Uint64Var(&f.seed, "seed", 0, "input RNG seed")
	fl.BoolVar(&f.gc, "gc", false, "run the garbage collector between sizes")
	fl.BoolVar(&f.json, "json", false, "print results as JSON")
	fl.StringVar(&f.save, "save", "", "save the run as a named baseline")
	fl.StringVar(&f.compare, "compare", "", "compare the run with a named baseline")
	fl.Float64Var(&f.threshold, "threshold", 0, "relative slowdown counted as a regression")
	return cmd
}

// benchConfig applies the changed flags over the configured defaults.
func (f *runFlags) benchConfig(cmd *cobra.Command, base config.BenchConfig) config.BenchConfig {
	changed := cmd.Flags().Changed
	if changed("kernel") {
		base.Kernel = f.kernel
	}
	if changed("sizes") {
		base.Sizes = f.sizes
	}
	if changed("min-time") {
		base.MinTime = f.minTime
	}
	if changed("warmup") {
		base.Warmup = f.warmup
	}
	if changed("bytes-per-element") {
		base.BytesPerElement = f.bytesPerElement
	}
	if changed("max-size") {
		base.MaxSize = f.maxSize
	}
	if changed("seed") {
		base.Seed = f.seed
	}
	if changed("gc") {
		base.GCBetweenSizes = f.gc
	}
	if changed("threshold") {
		base.RegressionThreshold = f.threshold
	}
	return base
}

func (c *cli) runBenchmark(cmd *cobra.Command, f *runFlags) error {
	bench := f.benchConfig(cmd, c.cfg.Bench)
	list, err := sizes.Parse(bench.Sizes)
	if err != nil {
		return err
	}
	if f.save != "" && !baseline.ValidName(f.save) {
		return fmt.Errorf("%w: invalid name %q", baseline.ErrInvalidBaseline, f.save)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Nothing scrapes a one-shot run, so only traces and stdout metrics apply.
	tcfg := c.cfg.Telemetry
	if tcfg.MetricExporter == "prometheus" {
		tcfg.MetricExporter = "none"
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			c.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	opts := []runner.Option{runner.WithLogger(c.slog())}
	if f.save != "" || f.compare != "" {
		store, closer, err := c.openStore(nil)
		if err != nil {
			return err
		}
		defer closer.Close()
		opts = append(opts, runner.WithStore(store))
	}
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return err
	}
	opts = append(opts, runner.WithMetrics(metrics))

	r, err := runner.New(c.registry, bench, opts...)
	if err != nil {
		return err
	}

	res, runErr := r.Run(ctx, runner.Spec{Sizes: list, SaveAs: f.save})
	if res == nil {
		return runErr
	}
	out := runOutput{Run: res, Cancelled: errors.Is(runErr, driver.ErrCancelled)}

	if f.compare != "" && runErr == nil {
		report, err := r.Compare(cmd.Context(), f.compare, res, bench.RegressionThreshold)
		if err != nil {
			return err
		}
		out.Report = report
	}

	if err := c.printRun(cmd, f.json, out); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if out.Report != nil && out.Report.HasRegression() {
		return fmt.Errorf("%w against baseline %s", errRegression, f.compare)
	}
	return nil
}

func (c *cli) printRun(cmd *cobra.Command, asJSON bool, out runOutput) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}
	p := newPrinter(cmd.OutOrStdout())
	p.printRun(out.Run)
	if out.Cancelled {
		fmt.Fprintln(cmd.OutOrStdout(), p.render(p.warn, "interrupted: remaining sizes were not measured"))
	}
	if out.Run.Saved != nil {
		fmt.Fprintln(cmd.OutOrStdout(), p.render(p.good, "saved baseline "+out.Run.Saved.Name))
	}
	if out.Report != nil {
		fmt.Fprintln(cmd.OutOrStdout())
		p.printReport(out.Report)
	}
	return nil
}
