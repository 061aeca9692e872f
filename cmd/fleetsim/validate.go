// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/version"
	"github.com/spf13/cobra"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if *configPath == "" {
				return errors.New("--config is required")
			}
			cfg, err := config.NewLoader(*configPath, version.Version).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d vehicles, routing %s, cache %s)\n",
				*configPath, cfg.Simulation.Vehicles, cfg.Routing.Kind, cfg.Cache.Kind)
			return nil
		},
	}
}
