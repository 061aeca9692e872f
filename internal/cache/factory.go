// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backend kinds accepted by New.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
	KindBadger = "badger"
	KindNone   = "none"
)

// Options selects and configures a cache backend.
type Options struct {
	Kind            string
	CleanupInterval time.Duration
	Redis           RedisConfig
	BadgerPath      string
}

// New builds the configured backend.
func New(opts Options, logger zerolog.Logger) (Cache, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryCache(opts.CleanupInterval), nil
	case KindRedis:
		c, err := NewRedisCache(opts.Redis, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindBadger:
		c, err := OpenBadgerCache(opts.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindNone:
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache kind %q", opts.Kind)
	}
}
