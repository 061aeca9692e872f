// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/ManuGH/fleetsim/internal/daemon"
	"github.com/ManuGH/fleetsim/internal/version"
	"github.com/spf13/cobra"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the simulation until interrupted",
		Long: `Starts the simulation loop, the route workers, the configured sinks and
the HTTP API. SIGHUP reloads the event tables and time windows from the
config file; SIGINT or SIGTERM shuts down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := daemon.WaitForShutdown()
			defer stop()

			app, err := daemon.Bootstrap(ctx, *configPath, version.Version)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
}
