// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"fmt"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/effect"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
)

// AddVehicle registers v with the fleet.
func (e *Engine) AddVehicle(v *vehicle.Vehicle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fleet.Add(v)
}

// SpawnVehicles adds n idle vehicles at random positions inside the
// service area. They are dispatched on the next tick.
func (e *Engine) SpawnVehicles(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("spawn count must be positive, got %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bound := e.cfg.Simulation.Bounds.Bound()
	ids := make([]string, 0, n)
	for range n {
		v := vehicle.New(geo.RandomPoint(e.rng, bound))
		if err := e.fleet.Add(v); err != nil {
			return ids, err
		}
		ids = append(ids, v.ID)
	}
	e.logger.Info().
		Str(log.FieldEvent, "vehicles.spawned").
		Int("count", n).
		Int("fleet", e.fleet.Len()).
		Msg("vehicles spawned")
	return ids, nil
}

// VehicleCount returns the fleet size.
func (e *Engine) VehicleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fleet.Len()
}

// Vehicles returns a snapshot of every vehicle, sorted by id.
func (e *Engine) Vehicles() []vehicle.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.fleet.All()
	out := make([]vehicle.View, 0, len(all))
	for _, v := range all {
		out = append(out, v.View())
	}
	return out
}

// Vehicle returns a snapshot of one vehicle.
func (e *Engine) Vehicle(id string) (vehicle.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.fleet.Get(id)
	if !ok {
		return vehicle.View{}, ErrVehicleNotFound
	}
	return v.View(), nil
}

// Effect resolves the combined effect on a vehicle right now.
func (e *Engine) Effect(id string) (effect.CombinedEffect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.fleet.Get(id)
	if !ok {
		return effect.CombinedEffect{}, ErrVehicleNotFound
	}
	return e.resolver.Resolve(v, e.registry), nil
}

// Events returns every active event, optionally filtered by kind.
func (e *Engine) Events(kinds ...event.Kind) []event.View {
	e.mu.Lock()
	defer e.mu.Unlock()

	var list []*event.SimEvent
	if len(kinds) == 0 {
		list = e.registry.All()
	} else {
		for _, k := range kinds {
			list = append(list, e.registry.ByKind(k)...)
		}
	}
	out := make([]event.View, 0, len(list))
	for _, ev := range list {
		out = append(out, ev.View())
	}
	return out
}

// Event returns one active event.
func (e *Engine) Event(id string) (event.View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, ok := e.registry.Get(id)
	if !ok {
		return event.View{}, false
	}
	return ev.View(), true
}

// TimeInfo returns the simulated clock.
func (e *Engine) TimeInfo() clock.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Info()
}

// Summary aggregates fleet and event counts.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		Time:        e.sim.Info(),
		Vehicles:    make(map[string]int),
		Events:      make(map[string]int),
		Interacting: e.anim.Interacting(),
	}
	for status, n := range e.fleet.CountByStatus() {
		s.Vehicles[status.String()] = n
	}
	for _, k := range event.Kinds() {
		s.Events[k.String()] = e.registry.CountKind(k)
	}
	return s
}

// LastTick returns the time passed to the most recent Tick, or the zero
// time before the first one.
func (e *Engine) LastTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Config returns the configuration currently in effect.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// PauseAll pauses every running animation and reports how many paused.
func (e *Engine) PauseAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.anim.PauseAll()
	e.logger.Info().Str(log.FieldEvent, "animation.paused").Int("count", n).Msg("animations paused")
	return n
}

// ResumeAll resumes animations paused by PauseAll.
func (e *Engine) ResumeAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.anim.ResumeAll(e.clock.Now())
	e.logger.Info().Str(log.FieldEvent, "animation.resumed").Int("count", n).Msg("animations resumed")
	return n
}

// SetInteracting toggles interaction mode. While on, sink position writes are
// buffered; switching off flushes the latest position per vehicle.
func (e *Engine) SetInteracting(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anim.SetInteracting(on)
}
