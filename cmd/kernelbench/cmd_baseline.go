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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kernelbench/services/bench/config"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/throughput"
)

func (c *cli) newBaselineCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "baseline",
		Aliases: []string{"baselines", "bl"},
		Short:   "Manage saved baselines",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print as JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closer, err := c.openStore(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			newPrinter(cmd.OutOrStdout()).printBaselines(entries)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show the records of a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := c.openStore(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entry)
			}

			// Render through the run table so saved and live runs look alike.
			res := &runner.Result{
				ID:              entry.ID,
				Kernel:          entry.Kernel,
				MinTime:         entry.MinTime,
				Warmup:          entry.Warmup,
				BytesPerElement: entry.BytesPerElement,
				Records:         entry.Records,
				Throughput:      make([]*throughput.Metrics, len(entry.Records)),
			}
			for i, rec := range entry.Records {
				if m, err := throughput.Derive(rec, entry.BytesPerElement); err == nil {
					res.Throughput[i] = &m
				}
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), p.render(p.muted,
				fmt.Sprintf("baseline %s, saved %s", entry.Name, entry.CreatedAt.Local().Format("2006-01-02 15:04:05"))))
			p.printRun(res)
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a baseline",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := c.openStore(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted baseline %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (c *cli) newKernelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "List the available kernels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds := c.registry.List()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ds)
			}
			newPrinter(cmd.OutOrStdout()).printKernels(ds)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Encode(cmd.OutOrStdout(), *c.cfg)
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}
