// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/validate"
)

// Validate validates a Config using the centralized validation package.
// All field errors are accumulated into a single validate.ValidationError.
func Validate(cfg Config) error {
	v := validate.New()

	v.OneOf("log.level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})

	if cfg.API.Enabled {
		v.NotEmpty("api.listen", cfg.API.Listen)
		v.Positive("api.max_conns", cfg.API.MaxConns)
		v.NonNegative("api.rate_limit", cfg.API.RateLimit)
	}

	validateSimulation(v, cfg.Simulation)
	validateEvents(v, cfg.Events)

	r := cfg.Routing
	v.OneOf("routing.kind", r.Kind, []string{RoutingStraight, RoutingHTTP})
	if r.Kind == RoutingHTTP {
		v.URL("routing.url", r.URL, []string{"http", "https"})
	}
	if r.DestinationsURL != "" {
		v.URL("routing.destinations_url", r.DestinationsURL, []string{"http", "https"})
	}
	v.PositiveDuration("routing.timeout", r.Timeout)
	v.FloatRange("routing.rate_limit", r.RateLimit, 0, 1000)
	v.Positive("routing.burst", r.Burst)
	v.Positive("routing.breaker_threshold", r.BreakerThreshold)
	v.PositiveDuration("routing.breaker_reset", r.BreakerReset)
	v.Range("routing.workers", r.Workers, 1, 64)
	v.Positive("routing.queue_size", r.QueueSize)
	v.FloatRange("routing.step_m", r.StepM, 1, 10000)
	v.FloatRange("routing.speed_kph", r.SpeedKPH, 1, 300)
	if err := r.Retry.Validate(); err != nil {
		v.AddError("routing.retry", err.Error(), r.Retry)
	}

	v.OneOf("cache.kind", cfg.Cache.Kind, []string{"memory", "redis", "badger", "none"})
	if cfg.Cache.Kind == "redis" {
		v.NotEmpty("cache.redis.addr", cfg.Cache.Redis.Addr)
	}

	if cfg.Store.Path != "" {
		v.PositiveDuration("store.busy_timeout", cfg.Store.BusyTimeout)
		v.Positive("store.queue_size", cfg.Store.QueueSize)
		v.PositiveDuration("store.flush_interval", cfg.Store.FlushInterval)
	}

	if cfg.Sinks.WebSocket.Enabled {
		v.NotEmpty("sinks.websocket.path", cfg.Sinks.WebSocket.Path)
		v.Positive("sinks.websocket.buffer_size", cfg.Sinks.WebSocket.BufferSize)
	}
	if m := cfg.Sinks.MQTT; m.Enabled {
		v.URL("sinks.mqtt.broker", m.Broker, []string{"tcp", "ssl", "tls", "ws", "wss", "mqtt"})
		v.NotEmpty("sinks.mqtt.client_id", m.ClientID)
		v.Range("sinks.mqtt.qos", m.QoS, 0, 2)
	}

	if t := cfg.Telemetry; t.Enabled {
		v.NotEmpty("telemetry.endpoint", t.Endpoint)
		v.OneOf("telemetry.protocol", t.Protocol, []string{"grpc", "http"})
		v.Probability("telemetry.sampling_rate", t.SamplingRate)
	}

	return v.Err()
}

func validateSimulation(v *validate.Validator, s SimulationConfig) {
	v.FloatRange("simulation.speed_multiplier", s.SpeedMultiplier, 0.001, 100000)
	v.FloatRange("simulation.start_hour", s.StartHour, 0, 24)
	v.PositiveDuration("simulation.clock_interval", s.ClockInterval)
	v.PositiveDuration("simulation.loop_interval", s.LoopInterval)
	v.PositiveDuration("simulation.animation_tick", s.AnimationTick)
	v.PositiveDuration("simulation.event_tick", s.EventTick)
	v.NonNegative("simulation.vehicles", s.Vehicles)
	v.PositiveDuration("simulation.dispatch_backoff", s.DispatchBackoff)

	validateWindows(v, "simulation.windows", s.Windows)

	v.FloatRange("simulation.time_speed_factors.peak", s.SpeedFactors.Peak, 0.01, 1)
	v.FloatRange("simulation.time_speed_factors.night", s.SpeedFactors.Night, 0.01, 1)
	v.FloatRange("simulation.time_speed_factors.day", s.SpeedFactors.Day, 0.01, 1)

	b := s.Bounds
	v.FloatRange("simulation.bounds.min_lon", b.MinLon, -180, 180)
	v.FloatRange("simulation.bounds.max_lon", b.MaxLon, -180, 180)
	v.FloatRange("simulation.bounds.min_lat", b.MinLat, -90, 90)
	v.FloatRange("simulation.bounds.max_lat", b.MaxLat, -90, 90)
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		v.AddError("simulation.bounds", "min corner must be south-west of max corner", b)
	}
}

func validateWindows(v *validate.Validator, field string, w clock.Windows) {
	check := func(name string, win clock.Window) {
		v.FloatRange(field+"."+name+".start", win.Start, 0, 24)
		v.FloatRange(field+"."+name+".end", win.End, 0, 24)
	}
	check("night", w.Night)
	check("morning_peak", w.MorningPeak)
	check("evening_peak", w.EveningPeak)
	if w.MorningPeak.Start > w.MorningPeak.End {
		v.AddError(field+".morning_peak", "window must not wrap midnight", w.MorningPeak)
	}
	if w.EveningPeak.Start > w.EveningPeak.End {
		v.AddError(field+".evening_peak", "window must not wrap midnight", w.EveningPeak)
	}
}

// ValidateEvents checks only the event tables; the engine uses it before
// accepting a hot-reloaded table.
func ValidateEvents(e EventsConfig) error {
	v := validate.New()
	validateEvents(v, e)
	return v.Err()
}

func validateEvents(v *validate.Validator, e EventsConfig) {
	v.Probability("events.global_probability", e.GlobalProbability)
	v.NonNegative("events.max_active_events", e.MaxActiveEvents)
	v.Range("events.placement_attempts", e.PlacementAttempts, 1, 1000)
	v.FloatRange("events.trigger_distance_m", e.TriggerDistanceM, 0.1, 10000)
	v.FloatRange("events.segment_proximity_m", e.SegmentProximityM, 0, 10000)
	v.FloatRange("events.stop_time_scale", e.StopTimeScale, 0, 1000)

	w := e.Weather
	v.Probability("events.weather.probability", w.Probability)
	v.NonNegative("events.weather.max_count", w.MaxCount)
	v.FloatRange("events.weather.min_distance_m", w.MinDistanceM, 0, 1e7)
	for _, t := range w.TypesAllowed {
		v.OneOf("events.weather.types_allowed", t, AllWeatherTypes)
	}
	v.Distribution("events.weather.type_probabilities", w.TypeProbabilities.AsMap())
	v.Distribution("events.weather.severity_distribution", w.SeverityDistribution.AsMap())
	v.DurationRange("events.weather.duration", w.Duration.Min, w.Duration.Max)
	floatRange(v, "events.weather.radius_m", w.RadiusM, 1, 1e6)

	a := e.Accident
	v.Probability("events.accident.probability", a.Probability)
	v.NonNegative("events.accident.max_count", a.MaxCount)
	v.Distribution("events.accident.severity_distribution", a.SeverityDistribution.AsMap())
	speedTable(v, "events.accident.speed_factors", a.SpeedFactors)
	for i, d := range a.StopDurations.Values() {
		if d < 0 {
			v.AddError("events.accident.stop_durations", "stop duration cannot be negative", i)
		}
	}
	v.DurationRange("events.accident.duration", a.Duration.Min, a.Duration.Max)
	v.FloatRange("events.accident.radius_m", a.RadiusM, 0, 1e6)
	v.Range("events.accident.min_path_points", a.MinPathPoints, 2, 100000)
	floatRange(v, "events.accident.trigger_range", a.TriggerRange, 0, 1)

	j := e.TrafficJam
	v.Probability("events.traffic_jam.probability", j.Probability)
	v.NonNegative("events.traffic_jam.max_count", j.MaxCount)
	v.Distribution("events.traffic_jam.severity_distribution", j.SeverityDistribution.AsMap())
	speedTable(v, "events.traffic_jam.speed_factors", j.SpeedFactors)
	v.DurationRange("events.traffic_jam.duration", j.Duration.Min, j.Duration.Max)
	v.Range("events.traffic_jam.min_path_points", j.MinPathPoints, 16, 100000)

	c := e.RoadClosure
	v.Probability("events.road_closure.probability", c.Probability)
	v.NonNegative("events.road_closure.max_count", c.MaxCount)
	v.Distribution("events.road_closure.severity_distribution", c.SeverityDistribution.AsMap())
	v.Distribution("events.road_closure.closure_types", map[string]float64{"full": c.ClosureTypes.Full, "partial": c.ClosureTypes.Partial})
	for _, n := range c.Lengths.Values() {
		if n < 1 {
			v.AddError("events.road_closure.lengths", "closure length must be at least one point", n)
			break
		}
	}
	v.DurationRange("events.road_closure.duration", c.Duration.Min, c.Duration.Max)
	v.DurationRange("events.road_closure.settle", c.Settle.Min, c.Settle.Max)
	v.Range("events.road_closure.min_path_points", c.MinPathPoints, 2, 100000)
	floatRange(v, "events.road_closure.trigger_range", c.TriggerRange, 0, 1)
	v.FloatRange("events.road_closure.avoid_margin_m", c.AvoidMarginM, 0, 10000)

	sp := e.Special
	v.Probability("events.special.probability", sp.Probability)
	v.NonNegative("events.special.max_count", sp.MaxCount)
	v.Distribution("events.special.severity_distribution", sp.SeverityDistribution.AsMap())
	v.DurationRange("events.special.duration", sp.Duration.Min, sp.Duration.Max)
	floatRange(v, "events.special.radius_m", sp.RadiusM, 1, 1e6)
}

func floatRange(v *validate.Validator, field string, r FloatRange, lo, hi float64) {
	v.FloatRange(field+".min", r.Min, lo, hi)
	v.FloatRange(field+".max", r.Max, lo, hi)
	if r.Min > r.Max {
		v.AddError(field, "range min exceeds max", r)
	}
}

func speedTable(v *validate.Validator, field string, t SeverityTable) {
	for k, f := range t.AsMap() {
		v.FloatRange(field+"."+k, f, 0, 1)
	}
}
