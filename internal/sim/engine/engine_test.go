// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/jobs"
	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/reroute"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 25 * time.Millisecond

type fakeRerouter struct {
	requests []reroute.Request
	results  []reroute.Result
	err      error
}

func (f *fakeRerouter) Submit(req reroute.Request) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeRerouter) Drain() []reroute.Result {
	out := f.results
	f.results = nil
	return out
}

type fakeDispatcher struct {
	jobs    []jobs.RouteJob
	results []jobs.RouteResult
}

func (f *fakeDispatcher) Dispatch(job jobs.RouteJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeDispatcher) Drain() []jobs.RouteResult {
	out := f.results
	f.results = nil
	return out
}

type recorder struct {
	trips   []Trip
	created []event.View
	expired []event.View
}

func (r *recorder) RecordTrip(t Trip)            { r.trips = append(r.trips, t) }
func (r *recorder) OnEventCreated(ev event.View) { r.created = append(r.created, ev) }
func (r *recorder) OnEventExpired(ev event.View) { r.expired = append(r.expired, ev) }

type panickingSink struct{}

func (panickingSink) SetVehiclePosition(string, orb.Point) { panic("sink down") }

type harness struct {
	e    *Engine
	clk  *clock.Manual
	rr   *fakeRerouter
	disp *fakeDispatcher
	rec  *recorder
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Simulation.Seed = 7
	ev := config.DefaultEvents()
	ev.GlobalProbability = 1
	ev.MaxActiveEvents = 1
	ev.Weather.Enabled = false
	ev.Accident.Enabled = false
	ev.TrafficJam.Enabled = false
	ev.RoadClosure.Enabled = false
	ev.Special.Enabled = false
	cfg.Events = ev
	return cfg
}

func newHarness(t *testing.T, cfg config.Config, positions PositionSink) *harness {
	t.Helper()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{
		clk:  clock.NewManual(start),
		rr:   &fakeRerouter{},
		disp: &fakeDispatcher{},
		rec:  &recorder{},
	}
	h.e = New(cfg, Deps{
		Clock:      h.clk,
		Rand:       rand.New(rand.NewPCG(1, 2)),
		Rerouter:   h.rr,
		Dispatcher: h.disp,
		Positions:  positions,
		Events:     h.rec,
		Trips:      h.rec,
	})
	return h
}

func (h *harness) tick(d time.Duration) {
	h.e.Tick(h.clk.Advance(d))
}

// linePath returns n points roughly 85 m apart heading east.
func linePath(n int) orb.LineString {
	path := make(orb.LineString, n)
	for i := range path {
		path[i] = orb.Point{116.30 + float64(i)*0.001, 39.90}
	}
	return path
}

func routeOf(path orb.LineString) *routing.Route {
	d := geo.Length(path)
	return &routing.Route{
		Steps:    []routing.Step{{Path: path, Distance: d, Duration: time.Minute}},
		Distance: d,
		Duration: time.Minute,
	}
}

func (h *harness) addTransporting(t *testing.T, n int) *vehicle.Vehicle {
	t.Helper()
	path := linePath(n)
	v := vehicle.New(path[0])
	require.NoError(t, h.e.AddVehicle(v))
	require.NoError(t, h.e.AssignRoute(v.ID, path[n-1], routeOf(path)))
	return v
}

func (h *harness) tickUntil(t *testing.T, step time.Duration, max int, done func() bool) {
	t.Helper()
	for i := 0; i < max && !done(); i++ {
		h.tick(step)
	}
	require.True(t, done(), "condition not reached after %d ticks", max)
}

func TestEngine_AccidentStopsAndResumes(t *testing.T) {
	cfg := quietConfig()
	cfg.Events.Accident.Enabled = true
	cfg.Events.Accident.Probability = 1
	cfg.Events.Accident.MaxCount = 1
	cfg.Events.Accident.StopDurations = config.SeverityDurations{
		Low: time.Minute, Medium: time.Minute, High: time.Minute, Critical: time.Minute,
	}
	h := newHarness(t, cfg, nil)
	v := h.addTransporting(t, 20)

	h.tick(0)
	accidents := h.e.Events(event.Accident)
	require.Len(t, accidents, 1)
	ev := accidents[0]
	assert.Equal(t, v.ID, ev.VehicleID)
	assert.GreaterOrEqual(t, ev.TriggerIndex, 6)
	assert.LessOrEqual(t, ev.TriggerIndex, 14)
	assert.Equal(t, ev.ID, v.Refs.Accident)
	require.Len(t, h.rec.created, 1)

	h.tickUntil(t, frame, 100, func() bool { return v.Status != vehicle.Transporting })
	assert.Equal(t, vehicle.EmergencyStopped, v.Status)
	assert.Equal(t, vehicle.StopAccident, v.StopReason)
	assert.Equal(t, ev.TriggerIndex, v.PathIndex)
	assert.Equal(t, 1, v.Stats.Accidents)

	// Still stopped before the stop duration has passed.
	h.tick(30 * time.Second)
	assert.Equal(t, vehicle.EmergencyStopped, v.Status)

	h.tick(31 * time.Second)
	assert.Equal(t, vehicle.Transporting, v.Status)
	assert.Empty(t, v.Refs.Accident)

	h.tickUntil(t, 100*time.Millisecond, 400, func() bool { return v.Status == vehicle.Idle })
	assert.Equal(t, 1, v.Stats.Trips)
	require.Len(t, h.rec.trips, 1)
	assert.Equal(t, v.ID, h.rec.trips[0].VehicleID)
	assert.Equal(t, 1, v.Stats.Accidents, "the accident fires once")
}

func TestEngine_TriggerIsOneShot(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := h.addTransporting(t, 20)
	path := v.Leg.Path

	ev := &event.SimEvent{
		ID:                "accident-1",
		Kind:              event.Accident,
		Severity:          event.Medium,
		Start:             h.clk.Now(),
		Duration:          time.Hour,
		Geometry:          event.Geometry{Center: path[0], Radius: 50},
		SpeedFactor:       0.6,
		ConsumptionFactor: 1,
		VehicleID:         v.ID,
		LegSeq:            v.LegSeq(),
		TriggerPoint:      path[0],
		StopDuration:      time.Minute,
	}
	require.NoError(t, h.e.InsertEvent(ev))
	assert.Equal(t, ev.ID, v.Refs.Accident)

	halted, err := h.e.CheckTriggers(v.ID)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.True(t, ev.Triggered)

	v.ResumeTransport()
	v.Refs.Accident = ev.ID
	halted, err = h.e.CheckTriggers(v.ID)
	require.NoError(t, err)
	assert.False(t, halted)
	assert.Equal(t, vehicle.Transporting, v.Status)
	assert.Equal(t, 1, v.Stats.Accidents)
}

func TestEngine_CheckTriggersErrors(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	_, err := h.e.CheckTriggers("missing")
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	v := vehicle.New(orb.Point{116.3, 39.9})
	require.NoError(t, h.e.AddVehicle(v))
	_, err = h.e.CheckTriggers(v.ID)
	assert.ErrorIs(t, err, ErrInvalidVehicleState)
}

func TestEngine_AccidentWithoutStopClearsReference(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := h.addTransporting(t, 20)
	path := v.Leg.Path

	require.NoError(t, h.e.InsertEvent(&event.SimEvent{
		ID:           "accident-low",
		Kind:         event.Accident,
		Severity:     event.Low,
		Start:        h.clk.Now(),
		Duration:     time.Hour,
		Geometry:     event.Geometry{Center: path[0], Radius: 50},
		SpeedFactor:  0.8,
		VehicleID:    v.ID,
		LegSeq:       v.LegSeq(),
		TriggerPoint: path[0],
	}))

	halted, err := h.e.CheckTriggers(v.ID)
	require.NoError(t, err)
	assert.False(t, halted)
	assert.Equal(t, vehicle.Transporting, v.Status)
	assert.Empty(t, v.Refs.Accident)
	assert.Equal(t, 1, v.Stats.Accidents)
}

func TestEngine_ExpiryResumesStoppedVehicle(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := h.addTransporting(t, 20)
	path := v.Leg.Path

	require.NoError(t, h.e.InsertEvent(&event.SimEvent{
		ID:           "accident-short",
		Kind:         event.Accident,
		Severity:     event.High,
		Start:        h.clk.Now(),
		Duration:     time.Second,
		Geometry:     event.Geometry{Center: path[0], Radius: 50},
		SpeedFactor:  0.4,
		VehicleID:    v.ID,
		LegSeq:       v.LegSeq(),
		TriggerPoint: path[0],
		StopDuration: 10 * time.Minute,
	}))
	halted, err := h.e.CheckTriggers(v.ID)
	require.NoError(t, err)
	require.True(t, halted)

	h.tick(2 * time.Second)
	assert.NotEqual(t, vehicle.EmergencyStopped, v.Status)
	assert.Equal(t, vehicle.StopNone, v.StopReason)
	assert.Empty(t, v.Refs.Accident)
	assert.Empty(t, h.e.Events())
	require.Len(t, h.rec.expired, 1)
	assert.Equal(t, "accident-short", h.rec.expired[0].ID)
}

func closureConfig() config.Config {
	cfg := quietConfig()
	cfg.Events.RoadClosure.Enabled = true
	cfg.Events.RoadClosure.Probability = 1
	cfg.Events.RoadClosure.MaxCount = 1
	return cfg
}

// closureStopped drives a single vehicle into a road closure and past the
// settle time, returning the submitted reroute request.
func closureStopped(t *testing.T, h *harness) (*vehicle.Vehicle, reroute.Request) {
	t.Helper()
	v := h.addTransporting(t, 20)
	h.tick(0)
	closures := h.e.Events(event.RoadClosure)
	require.Len(t, closures, 1)
	require.Equal(t, closures[0].ID, v.Refs.Closure)

	h.tickUntil(t, frame, 100, func() bool { return v.Status != vehicle.Transporting })
	require.Equal(t, vehicle.EmergencyStopped, v.Status)
	require.Equal(t, vehicle.StopClosure, v.StopReason)
	assert.Equal(t, closures[0].ID, v.RerouteEvent)
	assert.Equal(t, closures[0].TriggerIndex, v.PathIndex)
	assert.Equal(t, 1, v.Stats.Closures)
	assert.Empty(t, h.rr.requests, "no reroute before the settle time")

	h.tick(8 * time.Second)
	require.Len(t, h.rr.requests, 1)
	req := h.rr.requests[0]
	assert.Equal(t, v.ID, req.VehicleID)
	assert.Equal(t, v.LegSeq(), req.LegSeq)
	assert.Equal(t, closures[0].ID, req.EventID)
	assert.Equal(t, 1, req.Attempt)
	assert.Len(t, req.Avoid, 1)
	assert.Equal(t, v.Leg.Destination, req.To)
	assert.True(t, v.ReroutePending)
	return v, req
}

func detour(from, to orb.Point) orb.LineString {
	mid := geo.Offset(geo.Interpolate(from, to, 0.5), 0, 500)
	return orb.LineString{from, mid, to}
}

func TestEngine_ClosureRerouteApplied(t *testing.T) {
	h := newHarness(t, closureConfig(), nil)
	v, req := closureStopped(t, h)
	oldSeq := v.LegSeq()
	oldDistance := v.Leg.Distance

	h.rr.results = append(h.rr.results, reroute.Result{Request: req, Route: routeOf(detour(req.From, req.To))})
	h.tick(frame)

	assert.Equal(t, vehicle.Transporting, v.Status)
	assert.Greater(t, v.LegSeq(), oldSeq)
	assert.Equal(t, 0, v.PathIndex)
	assert.Len(t, v.Leg.Path, 3)
	assert.Equal(t, 1, v.Leg.Reroutes)
	assert.Equal(t, 1, v.Stats.Reroutes)
	assert.Empty(t, v.Refs.Closure)
	assert.Empty(t, v.RerouteEvent)
	assert.False(t, v.ReroutePending)
	assert.Greater(t, v.Leg.Traveled, 0.0)
	assert.Less(t, v.Leg.Traveled, oldDistance)
	assert.Greater(t, v.Leg.Distance, v.Leg.Traveled)
}

func TestEngine_StaleRerouteDiscarded(t *testing.T) {
	h := newHarness(t, closureConfig(), nil)
	v, req := closureStopped(t, h)
	seq := v.LegSeq()

	stale := req
	stale.LegSeq = req.LegSeq + 100
	ghost := req
	ghost.VehicleID = "gone"
	h.rr.results = append(h.rr.results,
		reroute.Result{Request: stale, Route: routeOf(detour(req.From, req.To))},
		reroute.Result{Request: ghost, Route: routeOf(detour(req.From, req.To))},
	)
	h.tick(frame)

	assert.Equal(t, vehicle.EmergencyStopped, v.Status)
	assert.Equal(t, seq, v.LegSeq())
	assert.True(t, v.ReroutePending, "the real request is still in flight")

	h.tick(frame)
	assert.Len(t, h.rr.requests, 1, "no resubmit while a request is pending")
}

func TestEngine_RerouteTimeoutResumesAndDefers(t *testing.T) {
	h := newHarness(t, closureConfig(), nil)
	v, req := closureStopped(t, h)
	seq := v.LegSeq()

	h.rr.results = append(h.rr.results, reroute.Result{
		Request: req,
		Err:     fmt.Errorf("%w after 10s", reroute.ErrTimeout),
	})
	h.tick(frame)

	assert.Equal(t, vehicle.Transporting, v.Status)
	assert.Equal(t, seq, v.LegSeq(), "original path kept")
	assert.Empty(t, v.Refs.Closure)
	assert.Equal(t, req.EventID, v.RerouteEvent)
	assert.True(t, v.NextRerouteAt.After(h.clk.Now()))

	h.tick(resilience.DefaultRetryPolicy().InitialBackoff + frame)
	require.Len(t, h.rr.requests, 2)
	assert.Equal(t, 2, h.rr.requests[1].Attempt)
	assert.Equal(t, req.EventID, h.rr.requests[1].EventID)
}

func TestEngine_RerouteRetryExhausted(t *testing.T) {
	policy := resilience.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		OnExhausted:    resilience.ExhaustedResume,
	}

	t.Run("resume", func(t *testing.T) {
		cfg := closureConfig()
		cfg.Routing.Retry = policy
		h := newHarness(t, cfg, nil)
		v, req := closureStopped(t, h)

		h.rr.results = append(h.rr.results, reroute.Result{Request: req, Err: routing.ErrRouteUnavailable})
		h.tick(frame)
		assert.Equal(t, vehicle.EmergencyStopped, v.Status)
		assert.False(t, v.NextRerouteAt.IsZero())

		h.tick(time.Second + frame)
		require.Len(t, h.rr.requests, 2)
		second := h.rr.requests[1]
		assert.Equal(t, 2, second.Attempt)

		h.rr.results = append(h.rr.results, reroute.Result{Request: second, Err: routing.ErrRouteUnavailable})
		h.tick(frame)
		assert.Equal(t, vehicle.Transporting, v.Status)
		assert.Empty(t, v.RerouteEvent)
		assert.Empty(t, v.Refs.Closure)
	})

	t.Run("stay", func(t *testing.T) {
		cfg := closureConfig()
		stay := policy
		stay.MaxAttempts = 1
		stay.OnExhausted = resilience.ExhaustedStay
		cfg.Routing.Retry = stay
		h := newHarness(t, cfg, nil)
		v, req := closureStopped(t, h)

		h.rr.results = append(h.rr.results, reroute.Result{Request: req, Err: routing.ErrRouteUnavailable})
		h.tick(frame)
		h.tick(5 * time.Second)
		assert.Equal(t, vehicle.EmergencyStopped, v.Status)
		assert.Len(t, h.rr.requests, 1)
	})
}

func TestEngine_FailingVehicleIsIsolated(t *testing.T) {
	h := newHarness(t, quietConfig(), panickingSink{})

	broken := vehicle.New(orb.Point{116.3, 39.9})
	broken.ID = "a-broken"
	broken.Status = vehicle.Transporting
	require.NoError(t, h.e.AddVehicle(broken))
	healthy := h.addTransporting(t, 20)

	for range 5 {
		h.tick(frame)
	}
	assert.Greater(t, healthy.PathIndex, 0)
	assert.Equal(t, vehicle.Transporting, broken.Status)
}

func TestEngine_DispatchAndTripCompletion(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	path := linePath(10)
	v := vehicle.New(path[0])
	require.NoError(t, h.e.AddVehicle(v))

	h.tick(0)
	require.Len(t, h.disp.jobs, 1)
	assert.Equal(t, v.ID, h.disp.jobs[0].VehicleID)
	assert.True(t, v.Dispatching)

	h.tick(frame)
	assert.Len(t, h.disp.jobs, 1, "no second dispatch while one is pending")

	h.disp.results = append(h.disp.results, jobs.RouteResult{VehicleID: v.ID, Destination: path[9], Route: routeOf(path)})
	h.tick(frame)
	require.Equal(t, vehicle.Transporting, v.Status)
	assert.False(t, v.Dispatching)

	h.tickUntil(t, frame, 100, func() bool { return v.Status == vehicle.Idle })
	assert.Equal(t, 1, v.Stats.Trips)
	assert.Equal(t, path[9], v.Position)
	require.Len(t, h.rec.trips, 1)
	assert.InDelta(t, geo.Length(path), h.rec.trips[0].Distance, 1e-6)

	h.tick(frame)
	require.Len(t, h.disp.jobs, 2)
	assert.InDelta(t, geo.Length(path), h.disp.jobs[1].Trip.Distance, 1e-6)
}

func TestEngine_DispatchFailureBacksOff(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := vehicle.New(orb.Point{116.3, 39.9})
	require.NoError(t, h.e.AddVehicle(v))

	h.tick(0)
	require.Len(t, h.disp.jobs, 1)
	h.disp.results = append(h.disp.results, jobs.RouteResult{VehicleID: v.ID, Err: routing.ErrNoDestination})
	h.tick(frame)
	assert.Equal(t, vehicle.Idle, v.Status)
	assert.False(t, v.Dispatching)
	assert.Len(t, h.disp.jobs, 1)

	h.tick(quietConfig().Simulation.DispatchBackoff)
	assert.Len(t, h.disp.jobs, 2)
}

func TestEngine_ApplyConfigAtNextTick(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	next := quietConfig()
	next.Events.SegmentProximityM = 80
	next.Events.Accident.Enabled = true

	h.e.ApplyConfig(next)
	assert.InDelta(t, 50.0, h.e.Config().Events.SegmentProximityM, 1e-9)

	h.tick(frame)
	got := h.e.Config()
	assert.InDelta(t, 80.0, got.Events.SegmentProximityM, 1e-9)
	assert.True(t, got.Events.Accident.Enabled)
}

func TestEngine_SpawnAndSummary(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ids, err := h.e.SpawnVehicles(3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	_, err = h.e.SpawnVehicles(0)
	assert.Error(t, err)

	bound := quietConfig().Simulation.Bounds.Bound()
	for _, view := range h.e.Vehicles() {
		assert.True(t, bound.Contains(view.Position))
		assert.Equal(t, vehicle.Idle, view.Status)
	}

	s := h.e.Summary()
	assert.Equal(t, 3, s.Vehicles[vehicle.Idle.String()])
	assert.Equal(t, 0, s.Events[event.Weather.String()])
}

func TestEngine_EffectLookup(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	_, err := h.e.Effect("missing")
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	v := h.addTransporting(t, 5)
	eff, err := h.e.Effect(v.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, eff.SpeedFactor, 1e-9)
	assert.False(t, eff.Stopped)
}

func TestEngine_PauseAllStopsMovement(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := h.addTransporting(t, 20)

	assert.Equal(t, 1, h.e.PauseAll())
	for range 4 {
		h.tick(frame)
	}
	assert.Equal(t, 0, v.PathIndex)

	assert.Equal(t, 1, h.e.ResumeAll())
	for range 4 {
		h.tick(frame)
	}
	assert.Greater(t, v.PathIndex, 0)
}

type positionLog struct {
	last map[string]orb.Point
}

func (p *positionLog) SetVehiclePosition(id string, pt orb.Point) {
	if p.last == nil {
		p.last = make(map[string]orb.Point)
	}
	p.last[id] = pt
}

func TestEngine_InteractionKeepsVehicleStateCurrent(t *testing.T) {
	sink := &positionLog{}
	h := newHarness(t, quietConfig(), sink)
	v := h.addTransporting(t, 40)
	sink.last = nil

	h.e.SetInteracting(true)
	for range 10 {
		h.tick(frame)
	}

	assert.Greater(t, v.PathIndex, 0)
	assert.Equal(t, h.e.anim.Index(v.ID), v.PathIndex)
	assert.Equal(t, v.Leg.Path[v.PathIndex], v.Position)
	assert.Empty(t, sink.last, "sink writes are held while interacting")

	h.e.SetInteracting(false)
	assert.Equal(t, v.Position, sink.last[v.ID])
}

func TestEngine_PauseAllHoldsStoppedVehicle(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	v := h.addTransporting(t, 20)
	path := v.Leg.Path

	require.NoError(t, h.e.InsertEvent(&event.SimEvent{
		ID:                "accident-hold",
		Kind:              event.Accident,
		Severity:          event.Medium,
		Start:             h.clk.Now(),
		Duration:          time.Hour,
		Geometry:          event.Geometry{Center: path[0], Radius: 50},
		SpeedFactor:       0.6,
		ConsumptionFactor: 1,
		VehicleID:         v.ID,
		LegSeq:            v.LegSeq(),
		TriggerPoint:      path[0],
		StopDuration:      time.Minute,
	}))
	halted, err := h.e.CheckTriggers(v.ID)
	require.NoError(t, err)
	require.True(t, halted)
	h.tick(frame)

	assert.Equal(t, 1, h.e.PauseAll(), "a speed-paused vehicle can still be held")

	h.tick(61 * time.Second)
	require.Equal(t, vehicle.Transporting, v.Status)
	for range 8 {
		h.tick(frame)
	}
	assert.Equal(t, 0, v.PathIndex)

	assert.Equal(t, 1, h.e.ResumeAll())
	for range 8 {
		h.tick(frame)
	}
	assert.Greater(t, v.PathIndex, 0)
}
