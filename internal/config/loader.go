// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/fleetsim/internal/resilience"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
//
// When the file cannot be read the returned config still carries defaults
// plus environment overrides and the error wraps ErrConfigMissing, so a
// caller that tolerates a missing file can keep going.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	var missing error
	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			if !errors.Is(err, ErrConfigMissing) {
				return cfg, fmt.Errorf("load config file: %w", err)
			}
			missing = err
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, missing
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfigMissing, path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies FLEETSIM_* overrides. Only operational knobs are exposed;
// per-kind event tables live in the file.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)

	cfg.API.Enabled = l.envBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.Listen = l.envString("API_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)

	if seed := l.envInt("SEED", int(cfg.Simulation.Seed)); seed >= 0 {
		cfg.Simulation.Seed = uint64(seed)
	}
	cfg.Simulation.SpeedMultiplier = l.envFloat("SPEED_MULTIPLIER", cfg.Simulation.SpeedMultiplier)
	cfg.Simulation.StartHour = l.envFloat("START_HOUR", cfg.Simulation.StartHour)
	cfg.Simulation.Vehicles = l.envInt("VEHICLES", cfg.Simulation.Vehicles)
	cfg.Simulation.EventTick = l.envDuration("EVENT_TICK", cfg.Simulation.EventTick)

	cfg.Events.GlobalProbability = l.envFloat("EVENTS_GLOBAL_PROBABILITY", cfg.Events.GlobalProbability)
	cfg.Events.MaxActiveEvents = l.envInt("EVENTS_MAX_ACTIVE", cfg.Events.MaxActiveEvents)

	cfg.Routing.Kind = l.envString("ROUTING_KIND", cfg.Routing.Kind)
	cfg.Routing.URL = l.envString("ROUTING_URL", cfg.Routing.URL)
	cfg.Routing.DestinationsURL = l.envString("ROUTING_DESTINATIONS_URL", cfg.Routing.DestinationsURL)
	cfg.Routing.Timeout = l.envDuration("ROUTING_TIMEOUT", cfg.Routing.Timeout)
	cfg.Routing.Retry.MaxAttempts = l.envInt("REROUTE_MAX_ATTEMPTS", cfg.Routing.Retry.MaxAttempts)
	cfg.Routing.Retry.OnExhausted = resilience.ExhaustedAction(
		l.envString("REROUTE_ON_EXHAUSTED", string(cfg.Routing.Retry.OnExhausted)))

	cfg.Cache.Kind = l.envString("CACHE_KIND", cfg.Cache.Kind)
	cfg.Cache.Redis.Addr = l.envString("REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Cache.Redis.Password)
	cfg.Cache.BadgerPath = l.envString("BADGER_PATH", cfg.Cache.BadgerPath)

	cfg.Store.Path = l.envString("STORE_PATH", cfg.Store.Path)

	cfg.Sinks.MQTT.Enabled = l.envBool("MQTT_ENABLED", cfg.Sinks.MQTT.Enabled)
	cfg.Sinks.MQTT.Broker = l.envString("MQTT_BROKER", cfg.Sinks.MQTT.Broker)
	cfg.Sinks.MQTT.Username = l.envString("MQTT_USERNAME", cfg.Sinks.MQTT.Username)
	cfg.Sinks.MQTT.Password = l.envString("MQTT_PASSWORD", cfg.Sinks.MQTT.Password)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Protocol = l.envString("TELEMETRY_PROTOCOL", cfg.Telemetry.Protocol)
}
