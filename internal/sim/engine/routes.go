// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/fleetsim/internal/jobs"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/ManuGH/fleetsim/internal/sim/animation"
	"github.com/ManuGH/fleetsim/internal/sim/reroute"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// AssignRoute starts a new leg for an idle vehicle.
func (e *Engine) AssignRoute(vehicleID string, dest orb.Point, r *routing.Route) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.fleet.Get(vehicleID)
	if !ok {
		return ErrVehicleNotFound
	}
	if v.Status != vehicle.Idle {
		return fmt.Errorf("%w: vehicle is %s", ErrInvalidVehicleState, v.Status)
	}
	return e.startLeg(v, dest, r, e.clock.Now())
}

func (e *Engine) startLeg(v *vehicle.Vehicle, dest orb.Point, r *routing.Route, now time.Time) error {
	if err := r.Validate(); err != nil {
		return err
	}
	path := routing.RouteToPath(r)
	v.Leg = &vehicle.Leg{
		Seq:         e.nextSeq(),
		Path:        path,
		Destination: dest,
		Distance:    r.Distance,
		Duration:    r.Duration,
		Started:     now,
	}
	v.PathIndex = 0
	v.Position = path[0]
	v.Refs = vehicle.Refs{}
	v.ResumeTransport()

	err := e.anim.Start(v.ID, path, now)
	if errors.Is(err, animation.ErrBusy) {
		err = e.anim.Replace(v.ID, path, now)
	}
	if err != nil {
		return err
	}
	e.logger.Info().
		Str(log.FieldEvent, "leg.started").
		Str(log.FieldVehicleID, v.ID).
		Uint64("leg_seq", v.Leg.Seq).
		Int("points", len(path)).
		Float64("distance_m", r.Distance).
		Msg("vehicle dispatched")
	return nil
}

func (e *Engine) maybeDispatch(v *vehicle.Vehicle, now time.Time) {
	if e.dispatcher == nil || v.Dispatching || now.Before(v.NextDispatchAt) {
		return
	}
	trip := e.lastTrip[v.ID]
	trip.VehicleID = v.ID
	err := e.dispatcher.Dispatch(jobs.RouteJob{
		VehicleID: v.ID,
		From:      v.Position,
		Trip:      trip,
		Avoid:     e.avoidAreas(),
	})
	switch {
	case err == nil, errors.Is(err, jobs.ErrInFlight):
		v.Dispatching = true
	default:
		v.NextDispatchAt = now.Add(e.cfg.Simulation.DispatchBackoff)
		e.logger.Debug().
			Err(err).
			Str(log.FieldEvent, "dispatch.rejected").
			Str(log.FieldVehicleID, v.ID).
			Msg("dispatch deferred")
	}
}

func (e *Engine) applyDispatches(now time.Time) {
	if e.dispatcher == nil {
		return
	}
	for _, res := range e.dispatcher.Drain() {
		v, ok := e.fleet.Get(res.VehicleID)
		if !ok {
			continue
		}
		v.Dispatching = false
		if v.Status != vehicle.Idle {
			continue
		}
		err := res.Err
		if err == nil {
			err = e.startLeg(v, res.Destination, res.Route, now)
		}
		if err != nil {
			v.NextDispatchAt = now.Add(e.cfg.Simulation.DispatchBackoff)
			lvl := e.logger.Warn()
			if errors.Is(err, routing.ErrNoDestination) || errors.Is(err, routing.ErrRouteUnavailable) {
				lvl = e.logger.Debug()
			}
			lvl.Err(err).
				Str(log.FieldEvent, "dispatch.failed").
				Str(log.FieldVehicleID, v.ID).
				Dur("backoff", e.cfg.Simulation.DispatchBackoff).
				Msg("vehicle stays idle")
		}
	}
}

func (e *Engine) maybeDeferredReroute(v *vehicle.Vehicle, now time.Time) {
	if v.NextRerouteAt.IsZero() || now.Before(v.NextRerouteAt) || v.ReroutePending {
		return
	}
	if v.RerouteAttempt >= e.retry.MaxAttempts {
		e.abandonReroute(v)
		return
	}
	e.submitReroute(v, now)
}

func (e *Engine) submitReroute(v *vehicle.Vehicle, now time.Time) {
	if e.rerouter == nil {
		return
	}
	req := reroute.Request{
		VehicleID: v.ID,
		LegSeq:    v.LegSeq(),
		EventID:   v.RerouteEvent,
		From:      v.Position,
		To:        v.Leg.Destination,
		Avoid:     e.avoidAreas(),
		Attempt:   v.RerouteAttempt + 1,
	}
	err := e.rerouter.Submit(req)
	switch {
	case err == nil:
		v.RerouteAttempt = req.Attempt
		v.ReroutePending = true
		v.NextRerouteAt = time.Time{}
		metrics.IncReroute("submitted")
		e.logger.Info().
			Str(log.FieldEvent, "reroute.submitted").
			Str(log.FieldVehicleID, v.ID).
			Str(log.FieldEventID, req.EventID).
			Int(log.FieldAttempt, req.Attempt).
			Int("avoid_areas", len(req.Avoid)).
			Msg("reroute requested")
	case errors.Is(err, reroute.ErrInFlight):
		v.ReroutePending = true
	default:
		v.NextRerouteAt = now.Add(e.retry.Backoff(req.Attempt))
		e.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "reroute.rejected").
			Str(log.FieldVehicleID, v.ID).
			Msg("reroute submit failed")
	}
}

func (e *Engine) applyReroutes(now time.Time) {
	if e.rerouter == nil {
		return
	}
	for _, res := range e.rerouter.Drain() {
		e.applyReroute(res, now)
	}
}

// applyReroute installs or rejects one planner result. Results for a leg
// that has since changed, or for a vehicle no longer waiting on a
// reroute, are discarded.
func (e *Engine) applyReroute(res reroute.Result, now time.Time) {
	req := res.Request
	v, ok := e.fleet.Get(req.VehicleID)
	if !ok {
		metrics.IncReroute("stale")
		return
	}
	if v.LegSeq() == req.LegSeq {
		v.ReroutePending = false
	}

	waiting := v.Status == vehicle.EmergencyStopped && v.StopReason == vehicle.StopClosure
	deferred := v.Status == vehicle.Transporting && v.RerouteEvent != ""
	if v.LegSeq() != req.LegSeq || !(waiting || deferred) {
		metrics.IncReroute("stale")
		e.logger.Debug().
			Str(log.FieldEvent, "reroute.stale").
			Str(log.FieldVehicleID, v.ID).
			Uint64("leg_seq", req.LegSeq).
			Uint64("current_leg_seq", v.LegSeq()).
			Msg("discarding reroute result")
		return
	}

	if res.Err == nil {
		err := e.installReroute(v, res.Route, now)
		if err == nil {
			return
		}
		res.Err = err
	}
	e.rerouteFailed(v, req.Attempt, res.Err, waiting, now)
}

func (e *Engine) rerouteFailed(v *vehicle.Vehicle, attempt int, err error, waiting bool, now time.Time) {
	backoff, retry := e.retry.Next(attempt)
	logEvt := e.logger.Warn().
		Err(err).
		Str(log.FieldVehicleID, v.ID).
		Str(log.FieldEventID, v.RerouteEvent).
		Int(log.FieldAttempt, attempt)

	if errors.Is(err, reroute.ErrTimeout) {
		metrics.IncReroute("timeout")
		if waiting {
			e.resumeOriginal(v)
		}
		if retry {
			v.NextRerouteAt = now.Add(backoff)
		} else {
			e.abandonReroute(v)
		}
		logEvt.Str(log.FieldEvent, "reroute.timeout").Bool("deferred", retry).Msg("reroute timed out, continuing on original path")
		return
	}

	if retry {
		v.NextRerouteAt = now.Add(backoff)
		metrics.IncReroute("retry")
		logEvt.Str(log.FieldEvent, "reroute.retry").Dur("backoff", backoff).Msg("reroute failed, retrying")
		return
	}

	metrics.IncReroute("exhausted")
	if waiting && e.retry.OnExhausted == resilience.ExhaustedStay {
		logEvt.Str(log.FieldEvent, "reroute.exhausted").Msg("reroute attempts exhausted, waiting for closure to clear")
		return
	}
	if waiting {
		e.resumeOriginal(v)
	}
	e.abandonReroute(v)
	logEvt.Str(log.FieldEvent, "reroute.exhausted").Msg("reroute attempts exhausted, continuing on original path")
}

// resumeOriginal lets a closure-stopped vehicle continue on its current
// path. The reroute bookkeeping is kept so a deferred attempt can follow.
func (e *Engine) resumeOriginal(v *vehicle.Vehicle) {
	v.Refs.Closure = ""
	v.Status = vehicle.Transporting
	v.StopReason = vehicle.StopNone
	v.StoppedUntil = time.Time{}
}

func (e *Engine) abandonReroute(v *vehicle.Vehicle) {
	v.RerouteAttempt = 0
	v.NextRerouteAt = time.Time{}
	v.RerouteEvent = ""
}

// installReroute replaces the current leg with r. Distance and duration
// keep the prorated part of the replaced leg already driven.
func (e *Engine) installReroute(v *vehicle.Vehicle, r *routing.Route, now time.Time) error {
	if err := r.Validate(); err != nil {
		return err
	}
	path := routing.RouteToPath(r)
	old := v.Leg
	frac := float64(v.PathIndex) / float64(len(old.Path))
	traveled := old.Traveled + (old.Distance-old.Traveled)*frac
	traveledTime := old.TraveledTime + time.Duration(float64(old.Duration-old.TraveledTime)*frac)

	v.Leg = &vehicle.Leg{
		Seq:          e.nextSeq(),
		Path:         path,
		Destination:  old.Destination,
		Distance:     traveled + r.Distance,
		Duration:     traveledTime + r.Duration,
		Started:      old.Started,
		Traveled:     traveled,
		TraveledTime: traveledTime,
		Reroutes:     old.Reroutes + 1,
	}
	eventID := v.RerouteEvent
	v.PathIndex = 0
	v.Position = path[0]
	v.Refs = vehicle.Refs{}
	v.ResumeTransport()
	v.Stats.Reroutes++

	if err := e.anim.Replace(v.ID, path, now); err != nil {
		return err
	}
	metrics.IncReroute("applied")
	e.logger.Info().
		Str(log.FieldEvent, "reroute.applied").
		Str(log.FieldVehicleID, v.ID).
		Str(log.FieldEventID, eventID).
		Uint64("leg_seq", v.Leg.Seq).
		Int("points", len(path)).
		Float64("distance_m", v.Leg.Distance).
		Msg("vehicle rerouted")
	return nil
}

// completed is the animation completion callback.
func (e *Engine) completed(id string) {
	v, ok := e.fleet.Get(id)
	if !ok || v.Leg == nil {
		return
	}
	now := e.now
	leg := v.Leg
	trip := Trip{
		ID:              uuid.NewString(),
		VehicleID:       v.ID,
		Destination:     leg.Destination,
		Started:         leg.Started,
		Finished:        now,
		Distance:        leg.Distance,
		Duration:        now.Sub(leg.Started),
		PlannedDuration: leg.Duration,
		Reroutes:        leg.Reroutes,
	}

	v.Stats.Trips++
	v.Stats.Distance += trip.Distance
	v.Stats.Duration += trip.Duration
	e.lastTrip[v.ID] = routing.TripInfo{VehicleID: v.ID, Distance: leg.Distance, Duration: leg.Duration}
	v.Position = leg.Path[len(leg.Path)-1]
	v.Finish()
	v.NextDispatchAt = now

	metrics.IncTripCompleted()
	e.logger.Info().
		Str(log.FieldEvent, "trip.completed").
		Str(log.FieldVehicleID, v.ID).
		Str(log.FieldTripID, trip.ID).
		Float64("distance_m", trip.Distance).
		Int("reroutes", trip.Reroutes).
		Msg("trip completed")
	if e.trips != nil {
		e.notify("trips", func() { e.trips.RecordTrip(trip) })
	}
}
