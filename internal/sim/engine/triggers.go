// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
)

// speedOf is the animation speed callback: the combined effect of every
// touching event times the time-of-day factor. Non-transporting vehicles
// get 0, which pauses their animation.
func (e *Engine) speedOf(id string) float64 {
	v, ok := e.fleet.Get(id)
	if !ok || v.Status != vehicle.Transporting {
		return 0
	}
	eff := e.resolver.Resolve(v, e.registry)
	if eff.Stopped {
		return 0
	}
	return eff.SpeedFactor * e.cfg.Simulation.SpeedFactors.For(e.sim.CurrentState())
}

// crossed runs for every path index a vehicle passes within a tick.
func (e *Engine) crossed(id string, index int, p orb.Point) bool {
	v, ok := e.fleet.Get(id)
	if !ok || v.Status != vehicle.Transporting {
		return false
	}
	return e.checkTriggers(v, index, p, e.now)
}

// moved keeps the vehicle state in step with the animation on every
// committed index, including while sink writes are batched.
func (e *Engine) moved(id string, index int, p orb.Point) {
	v, ok := e.fleet.Get(id)
	if !ok {
		return
	}
	v.Position = p
	if v.HasRoute() {
		v.PathIndex = index
	}
}

func (e *Engine) publishPosition(id string, _ int, p orb.Point) {
	if e.positions != nil {
		e.notify("positions", func() { e.positions.SetVehiclePosition(id, p) })
	}
}

// CheckTriggers evaluates the triggers at the vehicle's current position.
// It reports whether the vehicle was halted.
func (e *Engine) CheckTriggers(vehicleID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.fleet.Get(vehicleID)
	if !ok {
		return false, ErrVehicleNotFound
	}
	if !v.HasRoute() {
		return false, ErrInvalidVehicleState
	}
	if v.Status != vehicle.Transporting {
		return false, nil
	}
	return e.checkTriggers(v, v.PathIndex, v.Position, e.clock.Now()), nil
}

// checkTriggers handles jam entry and the anchored accident and closure of
// v at (index, p). It reports whether the vehicle must halt at index.
func (e *Engine) checkTriggers(v *vehicle.Vehicle, index int, p orb.Point, now time.Time) bool {
	e.enterJams(v, p)

	if ev := e.armed(v, v.Refs.Accident, index, p); ev != nil {
		if e.triggerAccident(v, ev, index, p, now) {
			return true
		}
	}
	if ev := e.armed(v, v.Refs.Closure, index, p); ev != nil {
		return e.triggerClosure(v, ev, index, p, now)
	}
	return false
}

// armed returns the referenced event when it belongs to the current leg,
// has not fired yet and (index, p) reaches its trigger.
func (e *Engine) armed(v *vehicle.Vehicle, id string, index int, p orb.Point) *event.SimEvent {
	if id == "" {
		return nil
	}
	ev, ok := e.registry.Get(id)
	if !ok || ev.Triggered || ev.LegSeq != v.LegSeq() {
		return nil
	}
	if index == ev.TriggerIndex || geo.Distance(p, ev.TriggerPoint) <= e.cfg.Events.TriggerDistanceM {
		return ev
	}
	return nil
}

func (e *Engine) enterJams(v *vehicle.Vehicle, p orb.Point) {
	for _, ev := range e.registry.EventsNear(p, e.cfg.Events.SegmentProximityM) {
		if ev.Kind != event.TrafficJam || !ev.Enter(v.ID) {
			continue
		}
		if ev.MarkTriggered() {
			metrics.IncTrigger(event.TrafficJam.String())
		}
		e.logger.Debug().
			Str(log.FieldEvent, "jam.entered").
			Str(log.FieldVehicleID, v.ID).
			Str(log.FieldEventID, ev.ID).
			Msg("vehicle entered traffic jam")
	}
}

func (e *Engine) triggerAccident(v *vehicle.Vehicle, ev *event.SimEvent, index int, p orb.Point, now time.Time) bool {
	if !ev.MarkTriggered() {
		return false
	}
	metrics.IncTrigger(event.Accident.String())
	v.Stats.Accidents++

	stop := time.Duration(float64(ev.StopDuration) * e.cfg.Events.StopTimeScale)
	logEvt := e.logger.Info().
		Str(log.FieldEvent, "accident.triggered").
		Str(log.FieldVehicleID, v.ID).
		Str(log.FieldEventID, ev.ID).
		Str(log.FieldSeverity, ev.Severity.String()).
		Int(log.FieldPathIndex, index).
		Dur("stop", stop)
	if stop <= 0 {
		v.Refs.Accident = ""
		logEvt.Msg("accident triggered, no stop")
		return false
	}
	v.Stop(vehicle.StopAccident, now.Add(stop))
	v.Position = p
	v.PathIndex = index
	logEvt.Msg("accident triggered, vehicle stopped")
	return true
}

func (e *Engine) triggerClosure(v *vehicle.Vehicle, ev *event.SimEvent, index int, p orb.Point, now time.Time) bool {
	if !ev.MarkTriggered() {
		return false
	}
	metrics.IncTrigger(event.RoadClosure.String())
	v.Stats.Closures++

	settle := e.between(e.cfg.Events.RoadClosure.Settle.Min, e.cfg.Events.RoadClosure.Settle.Max)
	v.Stop(vehicle.StopClosure, now.Add(settle))
	v.Position = p
	v.PathIndex = index
	v.RerouteEvent = ev.ID
	v.RerouteAttempt = 0
	v.NextRerouteAt = time.Time{}

	e.logger.Info().
		Str(log.FieldEvent, "closure.triggered").
		Str(log.FieldVehicleID, v.ID).
		Str(log.FieldEventID, ev.ID).
		Str("closure_type", string(ev.Closure)).
		Int(log.FieldPathIndex, index).
		Dur("settle", settle).
		Msg("road closed ahead, vehicle stopped for reroute")
	return true
}

// handleStopped releases expired accident stops and submits closure
// reroutes once the settle time has passed.
func (e *Engine) handleStopped(v *vehicle.Vehicle, now time.Time) {
	switch v.StopReason {
	case vehicle.StopAccident:
		if now.Before(v.StoppedUntil) {
			return
		}
		v.Refs.Accident = ""
		v.ResumeTransport()
		e.logger.Info().
			Str(log.FieldEvent, "vehicle.resumed").
			Str(log.FieldVehicleID, v.ID).
			Str("reason", "accident_cleared").
			Msg("vehicle resumed")
	case vehicle.StopClosure:
		if now.Before(v.StoppedUntil) || v.ReroutePending {
			return
		}
		if !v.NextRerouteAt.IsZero() && now.Before(v.NextRerouteAt) {
			return
		}
		if v.RerouteAttempt >= e.retry.MaxAttempts {
			return
		}
		e.submitReroute(v, now)
	default:
		v.ResumeTransport()
	}
}

func (e *Engine) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.rng.Float64()*float64(hi-lo))
}
