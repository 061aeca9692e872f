// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
)

// AllWeatherTypes is the default types_allowed list.
var AllWeatherTypes = []string{"rain", "snow", "storm", "sandstorm", "fog"}

// Default returns the documented fallback for every key. Absent keys in the
// file or environment keep these values.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:   "info",
			Service: "fleetsim",
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    ":8088",
			MaxConns:  256,
			RateLimit: 600,
		},
		Simulation: SimulationConfig{
			SpeedMultiplier: 360,
			StartHour:       8,
			ClockInterval:   time.Second,
			LoopInterval:    50 * time.Millisecond,
			AnimationTick:   20 * time.Millisecond,
			EventTick:       2 * time.Second,
			Windows:         clock.DefaultWindows(),
			SpeedFactors:    clock.DefaultSpeedFactors(),
			Bounds: Bounds{
				MinLon: 116.20, MinLat: 39.80,
				MaxLon: 116.60, MaxLat: 40.05,
			},
			Vehicles:        10,
			DispatchBackoff: 5 * time.Second,
		},
		Events: DefaultEvents(),
		Routing: RoutingConfig{
			Kind:             RoutingStraight,
			Timeout:          10 * time.Second,
			RateLimit:        5,
			Burst:            5,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			Workers:          3,
			QueueSize:        32,
			CacheTTL:         10 * time.Minute,
			StepM:            50,
			SpeedKPH:         40,
			Retry:            resilience.DefaultRetryPolicy(),
		},
		Cache: CacheConfig{
			Kind:            "memory",
			CleanupInterval: time.Minute,
		},
		Store: StoreConfig{
			BusyTimeout:   5 * time.Second,
			QueueSize:     256,
			FlushInterval: time.Second,
		},
		Sinks: SinksConfig{
			WebSocket: WebSocketConfig{
				Enabled:    true,
				Path:       "/ws",
				BufferSize: 256,
			},
			MQTT: MQTTConfig{
				ClientID:    "fleetsim",
				TopicPrefix: "fleetsim",
				MinInterval: time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "fleetsim",
			Protocol:     "grpc",
			SamplingRate: 1.0,
		},
	}
}

// DefaultEvents returns the per-kind event defaults table.
func DefaultEvents() EventsConfig {
	return EventsConfig{
		GlobalProbability: 0.6,
		MaxActiveEvents:   8,
		PlacementAttempts: 10,
		TriggerDistanceM:  10,
		SegmentProximityM: 50,
		StopTimeScale:     1.0,

		Weather: WeatherConfig{
			Enabled:           true,
			Probability:       1.0,
			MaxCount:          3,
			MinDistanceM:      5000,
			TypesAllowed:      append([]string(nil), AllWeatherTypes...),
			TypeProbabilities: WeatherTypeTable{Rain: 0.4, Snow: 0.2, Storm: 0.1, Sandstorm: 0.1, Fog: 0.2},
			SeverityDistribution: SeverityTable{
				Low: 0.5, Medium: 0.3, High: 0.15, Critical: 0.05,
			},
			Duration: DurationRange{Min: 60 * time.Minute, Max: 180 * time.Minute},
			RadiusM:  FloatRange{Min: 2000, Max: 5000},
		},
		Accident: AccidentConfig{
			Enabled:     true,
			Probability: 0.02,
			MaxCount:    3,
			SeverityDistribution: SeverityTable{
				Low: 0.6, Medium: 0.3, High: 0.08, Critical: 0.02,
			},
			StopDurations: SeverityDurations{
				Low: 0, Medium: 2 * time.Minute, High: 5 * time.Minute, Critical: 10 * time.Minute,
			},
			SpeedFactors:  SeverityTable{Low: 0.8, Medium: 0.6, High: 0.4, Critical: 0.2},
			Duration:      DurationRange{Min: 10 * time.Minute, Max: 45 * time.Minute},
			RadiusM:       200,
			MinPathPoints: 5,
			TriggerRange:  FloatRange{Min: 0.3, Max: 0.7},
		},
		TrafficJam: TrafficJamConfig{
			Enabled:     true,
			Probability: 0.05,
			MaxCount:    3,
			SeverityDistribution: SeverityTable{
				Low: 0.4, Medium: 0.4, High: 0.15, Critical: 0.05,
			},
			SpeedFactors:  SeverityTable{Low: 0.7, Medium: 0.4, High: 0.2, Critical: 0.1},
			Duration:      DurationRange{Min: 10 * time.Minute, Max: 60 * time.Minute},
			MinPathPoints: 20,
		},
		RoadClosure: RoadClosureConfig{
			Enabled:     true,
			Probability: 0.03,
			MaxCount:    2,
			SeverityDistribution: SeverityTable{
				Low: 0.3, Medium: 0.4, High: 0.25, Critical: 0.05,
			},
			ClosureTypes:  ClosureTypes{Full: 0.3, Partial: 0.7},
			Lengths:       SeverityCounts{Low: 5, Medium: 10, High: 15, Critical: 20},
			Duration:      DurationRange{Min: 15 * time.Minute, Max: 90 * time.Minute},
			Settle:        DurationRange{Min: 2 * time.Second, Max: 7 * time.Second},
			MinPathPoints: 15,
			TriggerRange:  FloatRange{Min: 0.2, Max: 0.5},
			AvoidMarginM:  30,
		},
		Special: SpecialConfig{
			Enabled:     false,
			Probability: 0.01,
			MaxCount:    1,
			SeverityDistribution: SeverityTable{
				Low: 0.4, Medium: 0.3, High: 0.2, Critical: 0.1,
			},
			Duration: DurationRange{Min: 5 * time.Minute, Max: 30 * time.Minute},
			RadiusM:  FloatRange{Min: 500, Max: 1500},
		},
	}
}
