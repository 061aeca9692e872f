// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command fleetsim runs the traffic disruption simulator and inspects its
// recorded history.
package main

import (
	"fmt"
	"os"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "fleetsim",
		Short:         "Fleet traffic disruption simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.ParseString("FLEETSIM_CONFIG", ""), "path to config file (YAML)")

	root.AddCommand(
		newRunCmd(&configPath),
		newValidateCmd(&configPath),
		newReportCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
