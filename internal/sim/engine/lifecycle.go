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

// eventTick expires old events, generates new ones and refreshes jam
// membership for moving vehicles.
func (e *Engine) eventTick(now time.Time) {
	e.sweep(now)

	vehicles := e.fleet.All()
	created := e.factory.MaybeGenerate(now, e.registry.CountActive(), e.cfg.Events, e.sim.CurrentState(), e.registry, vehicles)
	for _, ev := range created {
		e.insert(ev)
	}

	for _, v := range vehicles {
		if v.Status == vehicle.Transporting {
			e.enterJams(v, v.Position)
		}
	}
}

// InsertEvent adds an externally built event, wiring anchored references
// exactly like generated ones.
func (e *Engine) InsertEvent(ev *event.SimEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insert(ev)
}

func (e *Engine) insert(ev *event.SimEvent) error {
	if err := e.registry.Insert(ev); err != nil {
		e.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "event.rejected").
			Str(log.FieldEventID, ev.ID).
			Msg("event not inserted")
		return err
	}
	if ev.Kind.Anchored() {
		if v, ok := e.fleet.Get(ev.VehicleID); ok {
			switch ev.Kind {
			case event.Accident:
				v.Refs.Accident = ev.ID
			case event.TrafficJam:
				v.Refs.Jam = ev.ID
			case event.RoadClosure:
				v.Refs.Closure = ev.ID
			}
		}
	}

	metrics.IncEventGenerated(ev.Kind.String(), ev.Severity.String())
	e.logger.Info().
		Str(log.FieldEvent, "event.created").
		Str(log.FieldEventID, ev.ID).
		Str(log.FieldKind, ev.Kind.String()).
		Str(log.FieldSeverity, ev.Severity.String()).
		Str(log.FieldVehicleID, ev.VehicleID).
		Dur("duration", ev.Duration).
		Msg("event created")
	if e.events != nil {
		view := ev.View()
		e.notify("events", func() { e.events.OnEventCreated(view) })
	}
	return nil
}

func (e *Engine) sweep(now time.Time) {
	expired := e.registry.SweepExpired(now)
	if len(expired) == 0 {
		return
	}
	vehicles := e.fleet.All()
	for _, ev := range expired {
		for _, v := range vehicles {
			e.release(v, ev)
		}

		metrics.IncEventExpired(ev.Kind.String())
		e.logger.Info().
			Str(log.FieldEvent, "event.expired").
			Str(log.FieldEventID, ev.ID).
			Str(log.FieldKind, ev.Kind.String()).
			Int("affected", len(ev.Affected())).
			Msg("event expired")
		if e.events != nil {
			view := ev.View()
			e.notify("events", func() { e.events.OnEventExpired(view) })
		}
	}
}

// release drops every reference v holds to ev. A vehicle stopped by ev
// resumes its current path.
func (e *Engine) release(v *vehicle.Vehicle, ev *event.SimEvent) {
	stoppedBy := false
	if v.Status == vehicle.EmergencyStopped {
		switch v.StopReason {
		case vehicle.StopAccident:
			stoppedBy = v.Refs.Accident == ev.ID
		case vehicle.StopClosure:
			stoppedBy = v.Refs.Closure == ev.ID || v.RerouteEvent == ev.ID
		}
	}
	v.ClearRef(ev.ID)

	if stoppedBy {
		v.ResumeTransport()
		e.logger.Info().
			Str(log.FieldEvent, "vehicle.resumed").
			Str(log.FieldVehicleID, v.ID).
			Str(log.FieldEventID, ev.ID).
			Str("reason", "event_expired").
			Msg("vehicle resumed")
		return
	}
	if v.RerouteEvent == ev.ID {
		e.abandonReroute(v)
	}
}

func circleArea(center orb.Point, radius float64) orb.Polygon {
	return geo.CircleBound(center, radius).ToPolygon()
}
