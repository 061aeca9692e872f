// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"fmt"

	"github.com/ManuGH/fleetsim/internal/cache"
	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// New builds the configured provider wrapped in the route cache.
func New(cfg config.RoutingConfig, c cache.Cache, logger zerolog.Logger) (Provider, error) {
	var inner Provider
	switch cfg.Kind {
	case config.RoutingStraight, "":
		inner = NewStraightProvider(cfg.StepM, cfg.SpeedKPH)
	case config.RoutingHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("routing.url is required for kind %q", cfg.Kind)
		}
		inner = NewHTTPProvider(cfg.URL, HTTPOptions{
			Timeout:          cfg.Timeout,
			RateLimit:        cfg.RateLimit,
			Burst:            cfg.Burst,
			BreakerThreshold: cfg.BreakerThreshold,
			BreakerReset:     cfg.BreakerReset,
		})
	default:
		return nil, fmt.Errorf("unknown routing kind %q", cfg.Kind)
	}
	logger.Info().Str("provider", inner.Name()).Dur("cache_ttl", cfg.CacheTTL).Msg("route provider ready")
	return NewCachedProvider(inner, c, cfg.CacheTTL, logger), nil
}

// NewDestinationSource returns the HTTP source when a destinations URL is
// configured and random sampling inside bound otherwise.
func NewDestinationSource(cfg config.RoutingConfig, rng geo.Float64er, bound orb.Bound) DestinationSource {
	if cfg.DestinationsURL != "" {
		return NewHTTPDestinations(cfg.DestinationsURL, cfg.Timeout, nil)
	}
	return NewRandomDestinations(rng, bound)
}
