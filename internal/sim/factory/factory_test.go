// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package factory

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/registry"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	origin = orb.Point{116.40, 39.90}
	now    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// scripted replays a fixed sequence of draws, cycling when exhausted.
type scripted struct {
	vals []float64
	i    int
}

func (s *scripted) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

type fixedSampler struct {
	pts []orb.Point
	i   int
}

func (s *fixedSampler) Sample() orb.Point {
	p := s.pts[s.i%len(s.pts)]
	s.i++
	return p
}

func straightPath(n int) orb.LineString {
	path := make(orb.LineString, n)
	for i := range path {
		path[i] = geo.Offset(origin, float64(i)*100, 0)
	}
	return path
}

func transporting(id string, n int) *vehicle.Vehicle {
	return &vehicle.Vehicle{
		ID:       id,
		Status:   vehicle.Transporting,
		Position: origin,
		Leg:      &vehicle.Leg{Seq: 1, Path: straightPath(n)},
	}
}

func onlyAccidents() config.EventsConfig {
	cfg := config.DefaultEvents()
	cfg.GlobalProbability = 1.0
	cfg.Weather.Enabled = false
	cfg.TrafficJam.Enabled = false
	cfg.RoadClosure.Enabled = false
	cfg.Accident.Probability = 1.0
	return cfg
}

func TestSelectByProbability(t *testing.T) {
	table := config.SeverityTable{Low: 0.5, Medium: 0.3, High: 0.15, Critical: 0.05}
	assert.Equal(t, event.Low, SelectByProbability(table, 0))
	assert.Equal(t, event.Low, SelectByProbability(table, 0.5))
	assert.Equal(t, event.Medium, SelectByProbability(table, 0.6))
	assert.Equal(t, event.High, SelectByProbability(table, 0.9))
	assert.Equal(t, event.Critical, SelectByProbability(table, 0.99))

	short := config.SeverityTable{Low: 0.1, Medium: 0.1, High: 0.1, Critical: 0.1}
	assert.Equal(t, event.Low, SelectByProbability(short, 0.9), "draw past the total falls back to the first category")
}

func TestSelectWeatherType(t *testing.T) {
	table := config.DefaultEvents().Weather.TypeProbabilities

	got, ok := SelectWeatherType(table, []string{"snow"}, 0.1)
	require.True(t, ok)
	assert.Equal(t, event.Snow, got)

	_, ok = SelectWeatherType(table, []string{"rain"}, 0.95)
	assert.False(t, ok)

	got, ok = SelectWeatherType(table, config.AllWeatherTypes, 0.95)
	require.True(t, ok)
	assert.Equal(t, event.Fog, got)
}

func TestAdjustedProbability(t *testing.T) {
	assert.InDelta(t, 0.075, AdjustedProbability(event.TrafficJam, 0.05, clock.MorningPeak), 1e-12)
	assert.InDelta(t, 0.026, AdjustedProbability(event.Accident, 0.02, clock.EveningPeak), 1e-12)
	assert.InDelta(t, 0.028, AdjustedProbability(event.Accident, 0.02, clock.Night), 1e-12)
	assert.InDelta(t, 0.039, AdjustedProbability(event.RoadClosure, 0.03, clock.Night), 1e-12)
	assert.Equal(t, 0.05, AdjustedProbability(event.TrafficJam, 0.05, clock.Night))
	assert.Equal(t, 0.9, AdjustedProbability(event.Accident, 0.9, clock.Day))
	assert.Greater(t, AdjustedProbability(event.Accident, 0.9, clock.Night), 1.0, "never re-normalized")
}

func TestGenerateWeather_PlacementRejection(t *testing.T) {
	reg := registry.New(0)
	a := origin
	b := geo.Offset(origin, 4000, 0)
	for i, c := range []orb.Point{a, b} {
		require.NoError(t, reg.Insert(&event.SimEvent{
			ID: []string{"w_a", "w_b"}[i], Kind: event.Weather, Duration: time.Hour, Start: now,
			Geometry: event.Geometry{Center: c, Radius: 2000}, SpeedFactor: 0.8,
		}))
	}

	cfg := config.DefaultEvents()
	cfg.Weather.MaxCount = 5
	sampler := &fixedSampler{pts: []orb.Point{geo.Offset(a, 100, 100), geo.Offset(b, -200, 0)}}
	f := New(rand.New(rand.NewPCG(1, 2)), sampler)

	e, err := f.GenerateWeather(now, cfg, reg, nil)
	assert.Nil(t, e)
	assert.True(t, errors.Is(err, event.ErrPlacementFailure))
	assert.Equal(t, cfg.PlacementAttempts, sampler.i, "every attempt of the budget is used")

	cfg.GlobalProbability = 1
	cfg.Weather.Probability = 1
	cfg.TrafficJam.Enabled, cfg.Accident.Enabled, cfg.RoadClosure.Enabled = false, false, false
	assert.Empty(t, f.MaybeGenerate(now, reg.CountActive(), cfg, clock.Day, reg, nil))
	assert.Equal(t, 2, reg.CountKind(event.Weather))
}

func TestGenerateWeather_Fields(t *testing.T) {
	reg := registry.New(0)
	cfg := config.DefaultEvents()
	f := New(rand.New(rand.NewPCG(7, 7)), &fixedSampler{pts: []orb.Point{origin}})

	e, err := f.GenerateWeather(now, cfg, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, event.Weather, e.Kind)
	assert.Equal(t, origin, e.Geometry.Center)
	assert.GreaterOrEqual(t, e.Geometry.Radius, 2000.0)
	assert.LessOrEqual(t, e.Geometry.Radius, 5000.0)
	assert.Equal(t, event.WeatherSpeedFactor(e.Weather, e.Severity), e.SpeedFactor)
	assert.Equal(t, event.SeverityFactor(e.Severity), e.Intensity)
	assert.GreaterOrEqual(t, e.Duration, 60*time.Minute)
	assert.LessOrEqual(t, e.Duration, 180*time.Minute)
}

func TestGenerateAccident_TriggerRange(t *testing.T) {
	cfg := onlyAccidents()
	for seed := uint64(0); seed < 200; seed++ {
		f := New(rand.New(rand.NewPCG(seed, seed+1)), &fixedSampler{pts: []orb.Point{origin}})
		v := transporting("v1", 20)
		e, err := f.GenerateAccident(now, cfg, v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, e.TriggerIndex, 6)
		assert.LessOrEqual(t, e.TriggerIndex, 14)
		assert.Equal(t, v.Leg.Path[e.TriggerIndex], e.TriggerPoint)
		assert.Equal(t, "v1", e.VehicleID)
		assert.Equal(t, cfg.Accident.StopDurations.Values()[e.Severity], e.StopDuration)
	}
}

func TestGenerateAccident_Eligibility(t *testing.T) {
	cfg := onlyAccidents()
	f := New(rand.New(rand.NewPCG(1, 1)), &fixedSampler{pts: []orb.Point{origin}})

	short := transporting("short", 4)
	_, err := f.GenerateAccident(now, cfg, short)
	assert.ErrorIs(t, err, ErrNotEligible)

	busy := transporting("busy", 20)
	busy.Refs.Accident = "accident_x"
	_, err = f.GenerateAccident(now, cfg, busy)
	assert.ErrorIs(t, err, ErrNotEligible)

	idle := transporting("idle", 20)
	idle.Status = vehicle.Idle
	_, err = f.GenerateAccident(now, cfg, idle)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestGenerateTrafficJam_Segment(t *testing.T) {
	cfg := config.DefaultEvents()
	for seed := uint64(0); seed < 100; seed++ {
		f := New(rand.New(rand.NewPCG(seed, 3)), &fixedSampler{pts: []orb.Point{origin}})
		v := transporting("v", 30)
		e, err := f.GenerateTrafficJam(now, cfg, v)
		require.NoError(t, err)
		n := len(e.Geometry.Path)
		assert.GreaterOrEqual(t, n, 10)
		assert.LessOrEqual(t, n, 19)
		assert.Equal(t, v.Leg.Path[e.StartIndex], e.Geometry.Path[0])
		assert.Less(t, e.StartIndex, 15)
	}

	_, err := New(&scripted{vals: []float64{0.5}}, nil).GenerateTrafficJam(now, cfg, transporting("v", 19))
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestGenerateRoadClosure_LengthBySeverity(t *testing.T) {
	cfg := config.DefaultEvents()
	cfg.RoadClosure.SeverityDistribution = config.SeverityTable{High: 1}
	// draws: closure type, severity, trigger offset
	f := New(&scripted{vals: []float64{0.1, 0.5, 0.0}}, nil)
	v := transporting("v", 60)

	e, err := f.GenerateRoadClosure(now, cfg, v)
	require.NoError(t, err)
	assert.Equal(t, event.ClosureFull, e.Closure)
	assert.Equal(t, event.High, e.Severity)
	assert.Equal(t, 12, e.TriggerIndex) // floor(60*0.2)
	assert.Len(t, e.Geometry.Path, 15)
	assert.Equal(t, v.Leg.Path[12], e.TriggerPoint)
}

func TestMaybeGenerate_Caps(t *testing.T) {
	cfg := onlyAccidents()
	cfg.MaxActiveEvents = 1
	reg := registry.New(0)
	f := New(rand.New(rand.NewPCG(5, 5)), &fixedSampler{pts: []orb.Point{origin}})
	vs := []*vehicle.Vehicle{transporting("a", 20), transporting("b", 20)}

	out := f.MaybeGenerate(now, 0, cfg, clock.Day, reg, vs)
	require.Len(t, out, 1, "cap is rechecked before each candidate")
	assert.Equal(t, "a", out[0].VehicleID)

	assert.Empty(t, f.MaybeGenerate(now, 1, cfg, clock.Day, reg, vs), "fails closed at the cap")

	cfg.MaxActiveEvents = 10
	cfg.GlobalProbability = 0
	assert.Empty(t, New(&scripted{vals: []float64{0.5}}, nil).MaybeGenerate(now, 0, cfg, clock.Day, reg, vs))
}

func TestMaybeGenerate_PerKindMaxCount(t *testing.T) {
	cfg := onlyAccidents()
	cfg.Accident.MaxCount = 1
	reg := registry.New(0)
	f := New(rand.New(rand.NewPCG(9, 9)), &fixedSampler{pts: []orb.Point{origin}})
	vs := []*vehicle.Vehicle{transporting("a", 20), transporting("b", 20), transporting("c", 20)}

	out := f.MaybeGenerate(now, 0, cfg, clock.Night, reg, vs)
	assert.Len(t, out, 1)
}
