// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"testing"

	"github.com/ManuGH/fleetsim/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Fields()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"http routing needs url", func(c *Config) { c.Routing.Kind = RoutingHTTP }, "routing.url"},
		{"unknown cache kind", func(c *Config) { c.Cache.Kind = "disk" }, "cache.kind"},
		{"inverted bounds", func(c *Config) { c.Simulation.Bounds.MinLat = 50 }, "simulation.bounds"},
		{"global probability above one", func(c *Config) { c.Events.GlobalProbability = 1.5 }, "events.global_probability"},
		{"unknown weather type", func(c *Config) { c.Events.Weather.TypesAllowed = []string{"hail"} }, "events.weather.types_allowed"},
		{"jam path too short", func(c *Config) { c.Events.TrafficJam.MinPathPoints = 10 }, "events.traffic_jam.min_path_points"},
		{"closure length zero", func(c *Config) { c.Events.RoadClosure.Lengths.Low = 0 }, "events.road_closure.lengths"},
		{"wrapping morning peak", func(c *Config) {
			c.Simulation.Windows.MorningPeak.Start = 10
			c.Simulation.Windows.MorningPeak.End = 8
		}, "simulation.windows.morning_peak"},
		{"mqtt without broker", func(c *Config) { c.Sinks.MQTT.Enabled = true }, "sinks.mqtt.broker"},
		{"bad retry policy", func(c *Config) { c.Routing.Retry.OnExhausted = "explode" }, "routing.retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, fieldsOf(t, err), tt.field)
		})
	}
}

func TestValidateEvents_AccumulatesErrors(t *testing.T) {
	e := DefaultEvents()
	e.Accident.Probability = -1
	e.RoadClosure.TriggerRange = FloatRange{Min: 0.6, Max: 0.2}

	fields := fieldsOf(t, ValidateEvents(e))
	assert.Contains(t, fields, "events.accident.probability")
	assert.Contains(t, fields, "events.road_closure.trigger_range")
}
