// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon provides the core daemon bootstrapping and lifecycle management.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/health"
	"github.com/ManuGH/fleetsim/internal/log"
)

// LoadConfig loads and validates the configuration at path. A missing file
// is tolerated with a warning; the defaults plus environment overrides are
// used instead.
func LoadConfig(path, version string) (config.Config, *config.Loader, error) {
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		if !errors.Is(err, config.ErrConfigMissing) {
			return config.Config{}, nil, err
		}
		log.WithComponent("daemon").Warn().
			Err(err).
			Str(log.FieldEvent, "config.missing").
			Str("path", path).
			Msg("config file not found, using defaults")
	}
	return cfg, loader, nil
}

// Bootstrap loads the configuration, configures the global logger, runs the
// startup checks and builds the App with hot reload enabled.
func Bootstrap(ctx context.Context, configPath, version string) (*App, error) {
	log.Configure(log.Config{Level: "info", Output: os.Stdout, Service: "fleetsim", Version: version})

	cfg, loader, err := LoadConfig(configPath, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Reconfigure(log.Config{Level: cfg.Log.Level, Output: os.Stdout, Service: cfg.Log.Service, Version: version})

	if err := health.PerformStartupChecks(cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	var holder *config.ConfigHolder
	if configPath != "" {
		holder = config.NewConfigHolder(cfg, loader, configPath)
	}
	return New(ctx, cfg, Options{Version: version, Holder: holder})
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
