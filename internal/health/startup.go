// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts
// any component.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup-check")

	if cfg.Store.Path != "" {
		if err := checkWritableDir(logger, filepath.Dir(cfg.Store.Path)); err != nil {
			return fmt.Errorf("store directory check failed: %w", err)
		}
	}
	if cfg.API.Enabled {
		if err := checkListenAddr(logger, cfg.API.Listen); err != nil {
			return err
		}
	}
	if cfg.Routing.Kind == config.RoutingHTTP {
		for _, raw := range []string{cfg.Routing.URL, cfg.Routing.DestinationsURL} {
			if raw == "" {
				continue
			}
			if err := checkHTTPURL(raw); err != nil {
				return err
			}
		}
	}

	logger.Info().Str(log.FieldEvent, "startup.checked").Msg("✓ startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(probe)

	logger.Debug().Str("path", path).Msg("store directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Debug().Str(log.FieldAddr, addr).Msg("API listen address is valid")
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid routing URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("routing URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("routing URL %q has no host", raw)
	}
	return nil
}
