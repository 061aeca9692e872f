// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package event defines the disruption events the simulation generates and
// the fixed lookup tables derived from their kind and severity.
package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// ErrPlacementFailure is returned when no valid spatial slot was found
// within the placement budget. Callers skip generation for that tick.
var ErrPlacementFailure = errors.New("event placement failed")

// Geometry is either a point with a radius or a path segment.
type Geometry struct {
	Center orb.Point      `json:"center"`
	Radius float64        `json:"radius_m,omitempty"`
	Path   orb.LineString `json:"path,omitempty"`
}

// IsSegment reports whether the geometry is a path segment.
func (g Geometry) IsSegment() bool { return len(g.Path) > 0 }

// Bound returns the area of effect as a lon/lat rectangle.
func (g Geometry) Bound() orb.Bound {
	if g.IsSegment() {
		return g.Path.Bound()
	}
	return geo.CircleBound(g.Center, g.Radius)
}

// SimEvent is one disruption instance. Kind-specific fields are zero for
// kinds that do not use them.
type SimEvent struct {
	ID       string
	Kind     Kind
	Severity Severity
	Geometry Geometry

	Start    time.Time
	Duration time.Duration

	SpeedFactor       float64
	ConsumptionFactor float64
	Intensity         float64

	Weather WeatherType
	Closure ClosureType
	Special SpecialVariant

	// Anchored kinds only.
	VehicleID    string
	LegSeq       uint64
	TriggerPoint orb.Point
	TriggerIndex int
	StartIndex   int
	EndIndex     int
	StopDuration time.Duration
	Triggered    bool

	affected map[string]struct{}
}

// NewID returns "<kind>_<unix millis>_<random suffix>".
func NewID(k Kind, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", k, now.UnixMilli(), suffix)
}

// IsExpired reports now - Start > Duration.
func (e *SimEvent) IsExpired(now time.Time) bool {
	return now.Sub(e.Start) > e.Duration
}

// ExpiresAt returns the first instant at which IsExpired may hold.
func (e *SimEvent) ExpiresAt() time.Time { return e.Start.Add(e.Duration) }

// Priority is the kind priority.
func (e *SimEvent) Priority() int { return e.Kind.Priority() }

// MarkTriggered sets Triggered and reports whether this call flipped it.
// It returns false on every call after the first.
func (e *SimEvent) MarkTriggered() bool {
	if e.Triggered {
		return false
	}
	e.Triggered = true
	return true
}

// Enter records that a vehicle reached the area of effect. Membership is
// sticky until the event expires. Reports whether the vehicle is new.
func (e *SimEvent) Enter(vehicleID string) bool {
	if e.affected == nil {
		e.affected = make(map[string]struct{})
	}
	if _, ok := e.affected[vehicleID]; ok {
		return false
	}
	e.affected[vehicleID] = struct{}{}
	return true
}

// Affects reports whether the vehicle has entered the event.
func (e *SimEvent) Affects(vehicleID string) bool {
	_, ok := e.affected[vehicleID]
	return ok
}

// Release drops a vehicle from the affected set.
func (e *SimEvent) Release(vehicleID string) {
	delete(e.affected, vehicleID)
}

// Affected returns the sorted ids of entered vehicles.
func (e *SimEvent) Affected() []string {
	out := make([]string, 0, len(e.affected))
	for id := range e.affected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// View is the read-only representation handed to sinks, the API and the store.
type View struct {
	ID                string         `json:"id"`
	Kind              Kind           `json:"kind"`
	Severity          Severity       `json:"severity"`
	Geometry          Geometry       `json:"geometry"`
	Start             time.Time      `json:"start"`
	ExpiresAt         time.Time      `json:"expires_at"`
	SpeedFactor       float64        `json:"speed_factor"`
	ConsumptionFactor float64        `json:"consumption_factor"`
	Intensity         float64        `json:"intensity"`
	Weather           WeatherType    `json:"weather_type,omitempty"`
	Closure           ClosureType    `json:"closure_type,omitempty"`
	Special           SpecialVariant `json:"special_variant,omitempty"`
	VehicleID         string         `json:"vehicle_id,omitempty"`
	TriggerIndex      int            `json:"trigger_index,omitempty"`
	Triggered         bool           `json:"triggered"`
	Affected          []string       `json:"affected_vehicles,omitempty"`
}

// View copies the event into a View. Slices are cloned so the caller may
// hold the result outside the engine lock.
func (e *SimEvent) View() View {
	g := e.Geometry
	if g.Path != nil {
		g.Path = g.Path.Clone()
	}
	return View{
		ID:                e.ID,
		Kind:              e.Kind,
		Severity:          e.Severity,
		Geometry:          g,
		Start:             e.Start,
		ExpiresAt:         e.ExpiresAt(),
		SpeedFactor:       e.SpeedFactor,
		ConsumptionFactor: e.ConsumptionFactor,
		Intensity:         e.Intensity,
		Weather:           e.Weather,
		Closure:           e.Closure,
		Special:           e.Special,
		VehicleID:         e.VehicleID,
		TriggerIndex:      e.TriggerIndex,
		Triggered:         e.Triggered,
		Affected:          e.Affected(),
	}
}
