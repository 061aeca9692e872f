// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for fleetsim.
package config

import (
	"time"

	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/paulmach/orb"
)

// Config is the complete runtime configuration.
type Config struct {
	Version string `yaml:"-" json:"version"`

	Log        LogConfig        `yaml:"log" json:"log"`
	API        APIConfig        `yaml:"api" json:"api"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Sinks      SinksConfig      `yaml:"sinks" json:"sinks"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

type LogConfig struct {
	Level   string `yaml:"level" json:"level"`
	Service string `yaml:"service" json:"service"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Listen    string `yaml:"listen" json:"listen"`
	MaxConns  int    `yaml:"max_conns" json:"max_conns"`
	RateLimit int    `yaml:"rate_limit" json:"rate_limit"` // requests per minute per client IP

	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Bounds is the rectangular service area vehicles and area events live in.
type Bounds struct {
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
}

// Bound converts b to an orb bound (lon/lat order).
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

type SimulationConfig struct {
	Seed            uint64             `yaml:"seed" json:"seed"` // 0 seeds from the wall clock
	SpeedMultiplier float64            `yaml:"speed_multiplier" json:"speed_multiplier"`
	StartHour       float64            `yaml:"start_hour" json:"start_hour"`
	ClockInterval   time.Duration      `yaml:"clock_interval" json:"clock_interval"`
	LoopInterval    time.Duration      `yaml:"loop_interval" json:"loop_interval"`
	AnimationTick   time.Duration      `yaml:"animation_tick" json:"animation_tick"`
	EventTick       time.Duration      `yaml:"event_tick" json:"event_tick"`
	Windows         clock.Windows      `yaml:"windows" json:"windows"`
	SpeedFactors    clock.SpeedFactors `yaml:"time_speed_factors" json:"time_speed_factors"`
	Bounds          Bounds             `yaml:"bounds" json:"bounds"`
	Vehicles        int                `yaml:"vehicles" json:"vehicles"`
	DispatchBackoff time.Duration      `yaml:"dispatch_backoff" json:"dispatch_backoff"`
}

// SeverityTable holds one value per severity in the fixed declared order
// low, medium, high, critical.
type SeverityTable struct {
	Low      float64 `yaml:"low" json:"low"`
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Values returns the table in declared order.
func (t SeverityTable) Values() [4]float64 {
	return [4]float64{t.Low, t.Medium, t.High, t.Critical}
}

// AsMap is used for validation error reporting.
func (t SeverityTable) AsMap() map[string]float64 {
	return map[string]float64{"low": t.Low, "medium": t.Medium, "high": t.High, "critical": t.Critical}
}

type SeverityDurations struct {
	Low      time.Duration `yaml:"low" json:"low"`
	Medium   time.Duration `yaml:"medium" json:"medium"`
	High     time.Duration `yaml:"high" json:"high"`
	Critical time.Duration `yaml:"critical" json:"critical"`
}

func (t SeverityDurations) Values() [4]time.Duration {
	return [4]time.Duration{t.Low, t.Medium, t.High, t.Critical}
}

type SeverityCounts struct {
	Low      int `yaml:"low" json:"low"`
	Medium   int `yaml:"medium" json:"medium"`
	High     int `yaml:"high" json:"high"`
	Critical int `yaml:"critical" json:"critical"`
}

func (t SeverityCounts) Values() [4]int {
	return [4]int{t.Low, t.Medium, t.High, t.Critical}
}

type DurationRange struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

type FloatRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// WeatherTypeTable is the weather sub-type distribution in declared order
// rain, snow, storm, sandstorm, fog.
type WeatherTypeTable struct {
	Rain      float64 `yaml:"rain" json:"rain"`
	Snow      float64 `yaml:"snow" json:"snow"`
	Storm     float64 `yaml:"storm" json:"storm"`
	Sandstorm float64 `yaml:"sandstorm" json:"sandstorm"`
	Fog       float64 `yaml:"fog" json:"fog"`
}

func (t WeatherTypeTable) AsMap() map[string]float64 {
	return map[string]float64{"rain": t.Rain, "snow": t.Snow, "storm": t.Storm, "sandstorm": t.Sandstorm, "fog": t.Fog}
}

type WeatherConfig struct {
	Enabled              bool             `yaml:"enabled" json:"enabled"`
	Probability          float64          `yaml:"probability" json:"probability"`
	MaxCount             int              `yaml:"max_count" json:"max_count"`
	MinDistanceM         float64          `yaml:"min_distance_m" json:"min_distance_m"`
	TypesAllowed         []string         `yaml:"types_allowed" json:"types_allowed"`
	TypeProbabilities    WeatherTypeTable `yaml:"type_probabilities" json:"type_probabilities"`
	SeverityDistribution SeverityTable    `yaml:"severity_distribution" json:"severity_distribution"`
	Duration             DurationRange    `yaml:"duration" json:"duration"`
	RadiusM              FloatRange       `yaml:"radius_m" json:"radius_m"`
}

type AccidentConfig struct {
	Enabled              bool              `yaml:"enabled" json:"enabled"`
	Probability          float64           `yaml:"probability" json:"probability"`
	MaxCount             int               `yaml:"max_count" json:"max_count"`
	SeverityDistribution SeverityTable     `yaml:"severity_distribution" json:"severity_distribution"`
	StopDurations        SeverityDurations `yaml:"stop_durations" json:"stop_durations"`
	SpeedFactors         SeverityTable     `yaml:"speed_factors" json:"speed_factors"`
	Duration             DurationRange     `yaml:"duration" json:"duration"`
	RadiusM              float64           `yaml:"radius_m" json:"radius_m"`
	MinPathPoints        int               `yaml:"min_path_points" json:"min_path_points"`
	TriggerRange         FloatRange        `yaml:"trigger_range" json:"trigger_range"`
}

type TrafficJamConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	Probability          float64       `yaml:"probability" json:"probability"`
	MaxCount             int           `yaml:"max_count" json:"max_count"`
	SeverityDistribution SeverityTable `yaml:"severity_distribution" json:"severity_distribution"`
	SpeedFactors         SeverityTable `yaml:"speed_factors" json:"speed_factors"`
	Duration             DurationRange `yaml:"duration" json:"duration"`
	MinPathPoints        int           `yaml:"min_path_points" json:"min_path_points"`
}

type ClosureTypes struct {
	Full    float64 `yaml:"full" json:"full"`
	Partial float64 `yaml:"partial" json:"partial"`
}

type RoadClosureConfig struct {
	Enabled              bool           `yaml:"enabled" json:"enabled"`
	Probability          float64        `yaml:"probability" json:"probability"`
	MaxCount             int            `yaml:"max_count" json:"max_count"`
	SeverityDistribution SeverityTable  `yaml:"severity_distribution" json:"severity_distribution"`
	ClosureTypes         ClosureTypes   `yaml:"closure_types" json:"closure_types"`
	Lengths              SeverityCounts `yaml:"lengths" json:"lengths"` // closed path points per severity
	Duration             DurationRange  `yaml:"duration" json:"duration"`
	Settle               DurationRange  `yaml:"settle" json:"settle"`
	MinPathPoints        int            `yaml:"min_path_points" json:"min_path_points"`
	TriggerRange         FloatRange     `yaml:"trigger_range" json:"trigger_range"`
	AvoidMarginM         float64        `yaml:"avoid_margin_m" json:"avoid_margin_m"`
}

type SpecialConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	Probability          float64       `yaml:"probability" json:"probability"`
	MaxCount             int           `yaml:"max_count" json:"max_count"`
	SeverityDistribution SeverityTable `yaml:"severity_distribution" json:"severity_distribution"`
	Duration             DurationRange `yaml:"duration" json:"duration"`
	RadiusM              FloatRange    `yaml:"radius_m" json:"radius_m"`
}

// EventsConfig is the probability/config table consumed by the event factory.
type EventsConfig struct {
	GlobalProbability float64 `yaml:"global_probability" json:"global_probability"`
	MaxActiveEvents   int     `yaml:"max_active_events" json:"max_active_events"`
	PlacementAttempts int     `yaml:"placement_attempts" json:"placement_attempts"`
	TriggerDistanceM  float64 `yaml:"trigger_distance_m" json:"trigger_distance_m"`
	SegmentProximityM float64 `yaml:"segment_proximity_m" json:"segment_proximity_m"`
	StopTimeScale     float64 `yaml:"stop_time_scale" json:"stop_time_scale"`

	Weather     WeatherConfig     `yaml:"weather" json:"weather"`
	Accident    AccidentConfig    `yaml:"accident" json:"accident"`
	TrafficJam  TrafficJamConfig  `yaml:"traffic_jam" json:"traffic_jam"`
	RoadClosure RoadClosureConfig `yaml:"road_closure" json:"road_closure"`
	Special     SpecialConfig     `yaml:"special" json:"special"`
}

// Route provider kinds.
const (
	RoutingStraight = "straight"
	RoutingHTTP     = "http"
)

type RoutingConfig struct {
	Kind             string                 `yaml:"kind" json:"kind"`
	URL              string                 `yaml:"url" json:"url"`
	DestinationsURL  string                 `yaml:"destinations_url" json:"destinations_url"`
	Timeout          time.Duration          `yaml:"timeout" json:"timeout"`
	RateLimit        float64                `yaml:"rate_limit" json:"rate_limit"` // requests per second
	Burst            int                    `yaml:"burst" json:"burst"`
	BreakerThreshold int                    `yaml:"breaker_threshold" json:"breaker_threshold"`
	BreakerReset     time.Duration          `yaml:"breaker_reset" json:"breaker_reset"`
	Workers          int                    `yaml:"workers" json:"workers"`
	QueueSize        int                    `yaml:"queue_size" json:"queue_size"`
	CacheTTL         time.Duration          `yaml:"cache_ttl" json:"cache_ttl"`
	StepM            float64                `yaml:"step_m" json:"step_m"`
	SpeedKPH         float64                `yaml:"speed_kph" json:"speed_kph"`
	Retry            resilience.RetryPolicy `yaml:"retry" json:"retry"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

type CacheConfig struct {
	Kind            string        `yaml:"kind" json:"kind"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis" json:"redis"`
	BadgerPath      string        `yaml:"badger_path" json:"badger_path"`
}

type StoreConfig struct {
	Path          string        `yaml:"path" json:"path"` // empty disables history
	BusyTimeout   time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	QueueSize     int           `yaml:"queue_size" json:"queue_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

type WebSocketConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size"`
}

type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Broker      string        `yaml:"broker" json:"broker"`
	ClientID    string        `yaml:"client_id" json:"client_id"`
	Username    string        `yaml:"username" json:"username"`
	Password    string        `yaml:"password" json:"-"`
	TopicPrefix string        `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         int           `yaml:"qos" json:"qos"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

type SinksConfig struct {
	Log       bool            `yaml:"log" json:"log"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	Protocol     string  `yaml:"protocol" json:"protocol"` // grpc or http
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}
