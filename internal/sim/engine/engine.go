// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine owns the simulation state and advances it one tick at a
// time. All mutable state (fleet, registry, animation, clocks) is touched
// only from Tick; other goroutines read snapshots through the accessor
// methods, which take the same lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/jobs"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/ManuGH/fleetsim/internal/sim/animation"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/effect"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/factory"
	"github.com/ManuGH/fleetsim/internal/sim/registry"
	"github.com/ManuGH/fleetsim/internal/sim/reroute"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

var (
	// ErrVehicleNotFound is returned for unknown vehicle ids.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrInvalidVehicleState marks a vehicle whose fields contradict its
	// status, for example Transporting without a route.
	ErrInvalidVehicleState = errors.New("invalid vehicle state")
)

// Rerouter plans detours off the tick goroutine.
type Rerouter interface {
	Submit(req reroute.Request) error
	Drain() []reroute.Result
}

// Dispatcher plans new legs for idle vehicles off the tick goroutine.
type Dispatcher interface {
	Dispatch(job jobs.RouteJob) error
	Drain() []jobs.RouteResult
}

// PositionSink receives every position write. Calls happen on the tick
// goroutine and must not block.
type PositionSink interface {
	SetVehiclePosition(id string, p orb.Point)
}

// EventSink is told about event creation and expiry.
type EventSink interface {
	OnEventCreated(ev event.View)
	OnEventExpired(ev event.View)
}

// TripRecorder stores completed trips.
type TripRecorder interface {
	RecordTrip(t Trip)
}

// Trip is one completed leg including its reroutes.
type Trip struct {
	ID              string        `json:"id"`
	VehicleID       string        `json:"vehicle_id"`
	Destination     orb.Point     `json:"destination"`
	Started         time.Time     `json:"started"`
	Finished        time.Time     `json:"finished"`
	Distance        float64       `json:"distance_m"`
	Duration        time.Duration `json:"duration"`
	PlannedDuration time.Duration `json:"planned_duration"`
	Reroutes        int           `json:"reroutes"`
}

// Deps are the collaborators of an Engine. Every field is optional except
// Clock and Rand, which default to the wall clock and a time-seeded source.
type Deps struct {
	Clock      clock.Clock
	Rand       *rand.Rand
	Rerouter   Rerouter
	Dispatcher Dispatcher
	Positions  PositionSink
	Events     EventSink
	Trips      TripRecorder
}

// Summary is the aggregate view served by the stats endpoint.
type Summary struct {
	Time        clock.Info     `json:"time"`
	Vehicles    map[string]int `json:"vehicles"`
	Events      map[string]int `json:"events"`
	Interacting bool           `json:"interacting"`
}

// Engine runs the simulation loop.
type Engine struct {
	mu sync.Mutex

	cfg   config.Config
	retry resilience.RetryPolicy

	clock      clock.Clock
	rng        *rand.Rand
	sim        *clock.SimClock
	fleet      *vehicle.Fleet
	registry   *registry.Registry
	factory    *factory.Factory
	resolver   effect.Resolver
	anim       *animation.Scheduler
	rerouter   Rerouter
	dispatcher Dispatcher
	positions  PositionSink
	events     EventSink
	trips      TripRecorder
	logger     zerolog.Logger

	now           time.Time
	nextEventTick time.Time
	legSeq        uint64
	lastTrip      map[string]routing.TripInfo

	pendingMu sync.Mutex
	pending   *config.Config
}

// New builds an engine from cfg. The fleet starts empty; see SpawnVehicles.
func New(cfg config.Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Rand == nil {
		seed := cfg.Simulation.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		deps.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}

	sc := cfg.Simulation
	e := &Engine{
		cfg:        cfg,
		retry:      cfg.Routing.Retry,
		clock:      deps.Clock,
		rng:        deps.Rand,
		sim:        clock.NewSimClock(sc.SpeedMultiplier, sc.StartHour, sc.Windows, sc.ClockInterval),
		fleet:      vehicle.NewFleet(),
		registry:   registry.New(cfg.Events.SegmentProximityM),
		rerouter:   deps.Rerouter,
		dispatcher: deps.Dispatcher,
		positions:  deps.Positions,
		events:     deps.Events,
		trips:      deps.Trips,
		logger:     log.WithComponent("engine"),
		lastTrip:   make(map[string]routing.TripInfo),
	}
	e.factory = factory.New(e.rng, factory.BoundsSampler{Rand: e.rng, Bound: sc.Bounds.Bound()})
	e.anim = animation.New(sc.AnimationTick, animation.Callbacks{
		Speed:    e.speedOf,
		Cross:    e.crossed,
		Moved:    e.moved,
		Position: e.publishPosition,
		Complete: e.completed,
	})
	return e
}

// Run ticks the engine every loop interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Simulation.LoopInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().
		Str(log.FieldEvent, "engine.start").
		Dur("interval", interval).
		Int("vehicles", e.VehicleCount()).
		Msg("simulation loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Str(log.FieldEvent, "engine.stop").Msg("simulation loop stopped")
			return nil
		case <-ticker.C:
			e.Tick(e.clock.Now())
		}
	}
}

// ListenConfig applies every config pushed on ch at the next tick until
// ctx is cancelled or ch is closed.
func (e *Engine) ListenConfig(ctx context.Context, ch <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			e.ApplyConfig(cfg)
		}
	}
}

// ApplyConfig queues cfg; it takes effect at the start of the next tick.
// Only the event table, time windows, speed factors, animation tick,
// dispatch backoff and retry policy are reloadable.
func (e *Engine) ApplyConfig(cfg config.Config) {
	e.pendingMu.Lock()
	e.pending = &cfg
	e.pendingMu.Unlock()
}

func (e *Engine) applyPending() {
	e.pendingMu.Lock()
	next := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if next == nil {
		return
	}

	e.cfg.Events = next.Events
	e.cfg.Simulation.Windows = next.Simulation.Windows
	e.cfg.Simulation.SpeedFactors = next.Simulation.SpeedFactors
	e.cfg.Simulation.AnimationTick = next.Simulation.AnimationTick
	e.cfg.Simulation.EventTick = next.Simulation.EventTick
	e.cfg.Simulation.DispatchBackoff = next.Simulation.DispatchBackoff
	e.cfg.Routing.Retry = next.Routing.Retry
	e.retry = next.Routing.Retry

	e.registry.SetSegmentProximity(next.Events.SegmentProximityM)
	e.sim.SetWindows(next.Simulation.Windows)
	e.anim.SetBase(next.Simulation.AnimationTick)

	e.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Float64("global_probability", next.Events.GlobalProbability).
		Int("max_active_events", next.Events.MaxActiveEvents).
		Msg("configuration applied")
}

// Tick advances the simulation to now. Reroute and dispatch results are
// applied first, then the event pass (on its own cadence), then every
// vehicle in id order. A failing vehicle is logged and skipped.
func (e *Engine) Tick(now time.Time) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.now = now
	e.applyPending()
	e.sim.Update(now)

	e.applyReroutes(now)
	e.applyDispatches(now)

	if !now.Before(e.nextEventTick) {
		e.eventTick(now)
		e.nextEventTick = now.Add(e.cfg.Simulation.EventTick)
	}

	for _, v := range e.fleet.All() {
		_ = e.safeVehicle(v, now)
	}

	e.publishGauges()
	metrics.ObserveTick(time.Since(start))
}

// safeVehicle isolates one vehicle step: errors and panics are counted and
// logged, never propagated.
func (e *Engine) safeVehicle(v *vehicle.Vehicle, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vehicle %s: panic: %v", v.ID, r)
		}
		if err != nil {
			metrics.IncVehicleStepFailure()
			e.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "vehicle.step_failed").
				Str(log.FieldVehicleID, v.ID).
				Str("status", v.Status.String()).
				Msg("vehicle step failed")
		}
	}()
	return e.stepVehicle(v, now)
}

func (e *Engine) stepVehicle(v *vehicle.Vehicle, now time.Time) error {
	switch v.Status {
	case vehicle.Idle:
		e.maybeDispatch(v, now)
		return nil
	case vehicle.EmergencyStopped:
		if !v.HasRoute() {
			return fmt.Errorf("%w: stopped without a route", ErrInvalidVehicleState)
		}
		e.handleStopped(v, now)
	case vehicle.Transporting:
		if !v.HasRoute() {
			return fmt.Errorf("%w: transporting without a route", ErrInvalidVehicleState)
		}
		e.maybeDeferredReroute(v, now)
	default:
		return fmt.Errorf("%w: unknown status %d", ErrInvalidVehicleState, v.Status)
	}
	e.anim.TickOne(v.ID, now)
	return nil
}

func (e *Engine) nextSeq() uint64 {
	e.legSeq++
	return e.legSeq
}

// notify calls a sink with panics contained.
func (e *Engine) notify(sink string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncSinkError(sink)
			e.logger.Warn().
				Str(log.FieldEvent, "sink.panic").
				Str(log.FieldSink, sink).
				Interface("panic", r).
				Msg("sink failed")
		}
	}()
	fn()
}

func (e *Engine) publishGauges() {
	for status, n := range e.fleet.CountByStatus() {
		metrics.SetVehicles(status.String(), n)
	}
	for _, k := range event.Kinds() {
		metrics.SetEventsActive(k.String(), e.registry.CountKind(k))
	}
}

// avoidAreas lists every closure plus critical accidents, padded by the
// closure avoid margin.
func (e *Engine) avoidAreas() []orb.Polygon {
	margin := e.cfg.Events.RoadClosure.AvoidMarginM
	areas := e.registry.ClosureAreas(margin)
	for _, ev := range e.registry.ByKind(event.Accident) {
		if ev.Severity != event.Critical {
			continue
		}
		areas = append(areas, circleArea(ev.Geometry.Center, ev.Geometry.Radius+margin))
	}
	return areas
}
