// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/fleetsim/internal/daemon"
	"github.com/ManuGH/fleetsim/internal/jobs"
	"github.com/ManuGH/fleetsim/internal/persistence/sqlite"
	"github.com/ManuGH/fleetsim/internal/version"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	store  string
	out    string
	verify string
}

func newReportCmd(configPath *string) *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the recorded trip and event history",
		Long: `Reads the history database and prints per-vehicle totals (trips, distance,
time, reroutes, triggered accidents and closures) plus event counts per kind
as JSON. With --out the report is written atomically to a file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, *configPath, opts)
		},
	}
	cmd.Flags().StringVar(&opts.store, "store", "", "history database path (overrides store.path)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the report to this file")
	cmd.Flags().StringVar(&opts.verify, "verify", "", "run an integrity check first: quick or full")
	return cmd
}

func runReport(cmd *cobra.Command, configPath string, opts reportOptions) error {
	ctx := cmd.Context()
	path := opts.store
	cfg, _, err := daemon.LoadConfig(configPath, version.Version)
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		return errors.New("no history database: set store.path or --store")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("history database: %w", err)
	}

	switch opts.verify {
	case "":
	case "quick", "full":
		issues, err := sqlite.VerifyIntegrity(ctx, path, opts.verify)
		if err != nil {
			return err
		}
		if len(issues) > 0 {
			return fmt.Errorf("history database %s failed %s check: %v", path, opts.verify, issues)
		}
	default:
		return fmt.Errorf("unknown --verify mode %q (want quick or full)", opts.verify)
	}

	storeCfg := cfg.Store
	storeCfg.Path = path
	store, err := sqlite.New(storeCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	report, err := store.Report(ctx)
	if err != nil {
		return err
	}

	if opts.out != "" {
		if err := jobs.WriteJSON(ctx, opts.out, report); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", opts.out)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
