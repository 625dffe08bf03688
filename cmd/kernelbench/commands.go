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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kernelbench/pkg/logging"
	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	bdb "github.com/AleutianAI/kernelbench/services/bench/storage/badger"
)

// errRegression is returned by run --compare when a size regressed, so the
// command exits non-zero in CI.
var errRegression = errors.New("performance regression detected")

func exitCode(err error) int {
	if errors.Is(err, errRegression) {
		return 2
	}
	return 1
}

// cli holds the state shared by all commands of one invocation.
type cli struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg      *config.Config
	logger   *logging.Logger
	registry *kernel.Registry
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	c := &cli{registry: kernel.DefaultRegistry()}

	root := &cobra.Command{
		Use:   "kernelbench",
		Short: "Adaptive micro-benchmarks for compute kernels",
		Long: `kernelbench runs a kernel over a list of input sizes, repeating each
size until a minimum-time budget is met, and reports mean time per call,
operations per second and memory throughput.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ~/.kernelbench/config.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&c.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		c.newRunCmd(),
		c.newServeCmd(),
		c.newBaselineCmd(),
		c.newKernelsCmd(),
		c.newConfigCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = c.logJSON
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return err
	}
	logCfg.Output = cmd.ErrOrStderr()
	c.logger = logging.New(logCfg)
	c.logger.SetDefault()
	c.cfg = cfg
	return nil
}

func (c *cli) slog() *slog.Logger {
	return c.logger.Slog()
}

// openStore opens the configured baseline store. The caller closes it.
// dbLogger receives badger's own logs; nil silences them.
func (c *cli) openStore(dbLogger *slog.Logger) (*baseline.BadgerStore, io.Closer, error) {
	var dbCfg bdb.Config
	if c.cfg.Storage.InMemory {
		dbCfg = bdb.InMemoryConfig()
	} else {
		dbCfg = bdb.DefaultConfig(c.cfg.Storage.Path)
	}
	dbCfg.Logger = dbLogger

	db, err := bdb.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening baseline store: %w", err)
	}
	store, err := baseline.NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
