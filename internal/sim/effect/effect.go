// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package effect turns the events touching a vehicle into one combined
// speed, consumption and reroute effect.
package effect

import (
	"fmt"
	"math"
	"sort"

	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
)

// Type groups effects that compete with each other. Only the
// highest-priority effect of each type survives.
type Type string

const (
	TypeWeather              Type = "weather"
	TypeAccident             Type = "accident"
	TypeTrafficJam           Type = "traffic_jam"
	TypeRoadClosure          Type = "road_closure"
	TypeSpeedBoost           Type = "special_speed_boost"
	TypeConsumptionReduction Type = "special_consumption_reduction"
	TypeSpecialReroute       Type = "special_reroute"
)

// Effect is what one event does to one vehicle.
type Effect struct {
	Type              Type    `json:"type"`
	EventID           string  `json:"event_id"`
	Priority          int     `json:"priority"`
	SpeedFactor       float64 `json:"speed_factor"`
	ConsumptionFactor float64 `json:"consumption_factor"`
	RequiresReroute   bool    `json:"requires_reroute"`
	Message           string  `json:"message"`
}

// CombinedEffect is the composition of every surviving Effect.
type CombinedEffect struct {
	SpeedFactor       float64  `json:"speed_factor"`
	ConsumptionFactor float64  `json:"consumption_factor"`
	RequiresReroute   bool     `json:"requires_reroute"`
	Stopped           bool     `json:"stopped"`
	Messages          []string `json:"messages"`
	Effects           []Effect `json:"effects"`
}

// Neutral is the effect of no events at all.
func Neutral() CombinedEffect {
	return CombinedEffect{SpeedFactor: 1, ConsumptionFactor: 1, Messages: []string{}, Effects: []Effect{}}
}

// Source lists the events currently touching a vehicle.
type Source interface {
	TouchingVehicle(v *vehicle.Vehicle) []*event.SimEvent
}

// Resolver is stateless; the zero value is ready to use.
type Resolver struct{}

// Resolve composes the effects on v. It does no I/O and is called once per
// vehicle per animation tick.
func (Resolver) Resolve(v *vehicle.Vehicle, src Source) CombinedEffect {
	if v == nil || src == nil {
		return Neutral()
	}
	return Combine(v, src.TouchingVehicle(v))
}

// Combine is Resolve over an already gathered event list.
func Combine(v *vehicle.Vehicle, events []*event.SimEvent) CombinedEffect {
	out := Neutral()

	kept := make(map[Type]Effect)
	for _, e := range events {
		eff := For(e)
		cur, ok := kept[eff.Type]
		if !ok || wins(eff, cur) {
			kept[eff.Type] = eff
		}
	}

	effects := make([]Effect, 0, len(kept))
	for _, eff := range kept {
		effects = append(effects, eff)
	}
	sort.Slice(effects, func(i, j int) bool {
		if effects[i].Priority != effects[j].Priority {
			return effects[i].Priority > effects[j].Priority
		}
		return effects[i].Type < effects[j].Type
	})

	for _, eff := range effects {
		out.SpeedFactor = math.Min(out.SpeedFactor, eff.SpeedFactor)
		out.ConsumptionFactor = math.Max(out.ConsumptionFactor, eff.ConsumptionFactor)
		out.RequiresReroute = out.RequiresReroute || eff.RequiresReroute
		if eff.Message != "" {
			out.Messages = append(out.Messages, eff.Message)
		}
	}
	out.Effects = effects

	// A triggered closure on its own vehicle is a full stop, whatever else applies.
	if v != nil {
		for _, e := range events {
			if e.Kind == event.RoadClosure && e.Triggered && v.Refs.Closure == e.ID {
				out.SpeedFactor = 0
				out.Stopped = true
				break
			}
		}
	}
	return out
}

// wins reports whether a should replace b within one effect type: higher
// priority first, then the lower speed factor, then the lower event id.
func wins(a, b Effect) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.SpeedFactor != b.SpeedFactor {
		return a.SpeedFactor < b.SpeedFactor
	}
	return a.EventID < b.EventID
}

// For maps one event to its effect.
func For(e *event.SimEvent) Effect {
	eff := Effect{
		EventID:           e.ID,
		Priority:          e.Priority(),
		SpeedFactor:       1,
		ConsumptionFactor: 1,
	}
	switch e.Kind {
	case event.Weather:
		eff.Type = TypeWeather
		eff.SpeedFactor = e.SpeedFactor
		eff.ConsumptionFactor = e.ConsumptionFactor
		eff.Message = fmt.Sprintf("%s in the area, speed reduced", e.Weather)
	case event.Accident:
		eff.Type = TypeAccident
		eff.SpeedFactor = e.SpeedFactor
		eff.RequiresReroute = e.Severity >= event.High
		if eff.RequiresReroute {
			eff.Message = fmt.Sprintf("accident ahead (%s), detour advised", e.Severity)
		} else {
			eff.Message = fmt.Sprintf("accident ahead (%s), slow down", e.Severity)
		}
	case event.TrafficJam:
		eff.Type = TypeTrafficJam
		eff.SpeedFactor = e.SpeedFactor
		eff.Message = fmt.Sprintf("traffic jam (%s), expect delays", e.Severity)
	case event.RoadClosure:
		eff.Type = TypeRoadClosure
		eff.RequiresReroute = true
		eff.Message = "road closed ahead, route must be replanned"
	case event.Special:
		switch e.Special {
		case event.SpecialSpeedBoost:
			eff.Type = TypeSpeedBoost
			// Display only; Combine never lets it exceed 1.
			eff.SpeedFactor = event.SpecialBoostFactor
			eff.Message = "special event: clear road, speed up"
		case event.SpecialConsumptionReduction:
			eff.Type = TypeConsumptionReduction
			eff.ConsumptionFactor = event.SpecialConsumptionFactor
			eff.Message = "special event: reduced consumption"
		default:
			eff.Type = TypeSpecialReroute
			eff.RequiresReroute = true
			eff.Message = "special event: alternative route suggested"
		}
	}
	if eff.SpeedFactor < 0 {
		eff.SpeedFactor = 0
	}
	return eff
}
