// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

// WeatherType is the sub-type of a Weather event.
type WeatherType string

const (
	Rain      WeatherType = "rain"
	Snow      WeatherType = "snow"
	Storm     WeatherType = "storm"
	Sandstorm WeatherType = "sandstorm"
	Fog       WeatherType = "fog"
)

// WeatherTypes lists every sub-type in declared order.
func WeatherTypes() []WeatherType {
	return []WeatherType{Rain, Snow, Storm, Sandstorm, Fog}
}

var weatherSpeed = map[WeatherType][4]float64{
	Rain:      {0.8, 0.6, 0.4, 0.2},
	Snow:      {0.7, 0.5, 0.3, 0.1},
	Storm:     {0.6, 0.4, 0.2, 0.1},
	Sandstorm: {0.5, 0.3, 0.15, 0.05},
	Fog:       {0.9, 0.7, 0.5, 0.3},
}

// WeatherSpeedFactor returns the speed factor for a weather type at a
// severity. Unknown types do not slow vehicles.
func WeatherSpeedFactor(t WeatherType, s Severity) float64 {
	row, ok := weatherSpeed[t]
	if !ok || s < Low || s > Critical {
		return 1.0
	}
	return row[s]
}

// WeatherConsumptionFactor returns the energy consumption multiplier for a
// weather type at the given intensity.
func WeatherConsumptionFactor(t WeatherType, intensity float64) float64 {
	switch t {
	case Rain:
		return 1.0 + intensity*0.3
	case Snow:
		return 1.0 + intensity*0.5
	case Fog:
		return 1.0 + intensity*0.2
	case Storm:
		return 1.5
	case Sandstorm:
		return 1.8
	default:
		return 1.0
	}
}

// ClosureType distinguishes full and partial road closures.
type ClosureType string

const (
	ClosureFull    ClosureType = "full"
	ClosurePartial ClosureType = "partial"
)

// SpecialVariant is the effect a Special event applies, fixed at creation.
type SpecialVariant string

const (
	SpecialSpeedBoost           SpecialVariant = "speed_boost"
	SpecialConsumptionReduction SpecialVariant = "consumption_reduction"
	SpecialReroute              SpecialVariant = "reroute"
)

// Special variant effect values. SpecialBoostFactor is informational: it
// is reported on the per-event effect, but the combined speed is a minimum
// that starts at 1, so a boost never raises a vehicle's speed.
const (
	SpecialBoostFactor       = 1.3
	SpecialConsumptionFactor = 0.8
)
