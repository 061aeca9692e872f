// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package factory decides when to spawn disruption events and builds them.
package factory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// ErrNotEligible means the target vehicle cannot anchor an event of the
// requested kind right now.
var ErrNotEligible = errors.New("vehicle not eligible for event")

// PointSampler yields candidate positions for free-standing events.
type PointSampler interface {
	Sample() orb.Point
}

// BoundsSampler draws uniform points inside a rectangle.
type BoundsSampler struct {
	Rand  geo.Float64er
	Bound orb.Bound
}

func (s BoundsSampler) Sample() orb.Point { return geo.RandomPoint(s.Rand, s.Bound) }

// View is the read side of the registry the factory consults.
type View interface {
	CountKind(k event.Kind) int
	ByKind(k event.Kind) []*event.SimEvent
}

// Factory is not safe for concurrent use.
type Factory struct {
	rng     geo.Float64er
	sampler PointSampler
	newID   func(event.Kind, time.Time) string
	logger  zerolog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithIDFunc overrides event id generation.
func WithIDFunc(fn func(event.Kind, time.Time) string) Option {
	return func(f *Factory) { f.newID = fn }
}

// New returns a factory drawing from rng and placing free-standing events
// with sampler.
func New(rng geo.Float64er, sampler PointSampler, opts ...Option) *Factory {
	f := &Factory{
		rng:     rng,
		sampler: sampler,
		newID:   event.NewID,
		logger:  log.WithComponent("factory"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AdjustedProbability applies the time-of-day multipliers. The result is
// not clamped; a value above 1 always passes the draw.
func AdjustedProbability(k event.Kind, base float64, state clock.TimeState) float64 {
	switch {
	case state.IsPeak():
		switch k {
		case event.TrafficJam:
			return base * 1.5
		case event.Accident:
			return base * 1.3
		}
	case state == clock.Night:
		switch k {
		case event.Accident:
			return base * 1.4
		case event.RoadClosure:
			return base * 1.3
		}
	}
	return base
}

// SelectByProbability walks the table in declared order and returns the
// first severity whose cumulative weight reaches draw. When the draw is
// past the total weight the first severity is returned.
func SelectByProbability(table config.SeverityTable, draw float64) event.Severity {
	cumulative := 0.0
	for i, w := range table.Values() {
		cumulative += w
		if draw <= cumulative {
			return event.Severity(i)
		}
	}
	return event.Low
}

// SelectWeatherType walks the type table in declared order, accumulating
// every weight, and returns the first allowed type whose cumulative weight
// reaches draw. ok is false when no type qualifies.
func SelectWeatherType(table config.WeatherTypeTable, allowed []string, draw float64) (event.WeatherType, bool) {
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	weights := []float64{table.Rain, table.Snow, table.Storm, table.Sandstorm, table.Fog}
	cumulative := 0.0
	for i, t := range event.WeatherTypes() {
		cumulative += weights[i]
		if draw <= cumulative && allow[string(t)] {
			return t, true
		}
	}
	return "", false
}

func (f *Factory) between(lo, hi float64) float64 {
	return lo + f.rng.Float64()*(hi-lo)
}

func (f *Factory) duration(r config.DurationRange) time.Duration {
	return r.Min + time.Duration(f.rng.Float64()*float64(r.Max-r.Min))
}

// MaybeGenerate runs one generation pass. It produces nothing when the
// active count is at the cap or the global roll fails. The cap is checked
// again before every candidate, counting events produced earlier in the
// same pass. Returned events are not yet inserted.
func (f *Factory) MaybeGenerate(now time.Time, activeCount int, cfg config.EventsConfig, state clock.TimeState, view View, vehicles []*vehicle.Vehicle) []*event.SimEvent {
	if activeCount >= cfg.MaxActiveEvents {
		return nil
	}
	if f.rng.Float64() > cfg.GlobalProbability {
		return nil
	}

	var out []*event.SimEvent
	full := func() bool { return activeCount+len(out) >= cfg.MaxActiveEvents }
	add := func(e *event.SimEvent, err error) {
		switch {
		case err == nil && e != nil:
			out = append(out, e)
			f.logger.Debug().
				Str("event", "event.generated").
				Str(log.FieldEventID, e.ID).
				Str(log.FieldKind, e.Kind.String()).
				Str(log.FieldSeverity, e.Severity.String()).
				Str(log.FieldVehicleID, e.VehicleID).
				Msg("event generated")
		case errors.Is(err, event.ErrPlacementFailure):
			f.logger.Debug().Err(err).Str("event", "event.placement_failed").Msg("generation skipped")
		}
	}

	if cfg.Weather.Enabled && !full() && f.rng.Float64() < cfg.Weather.Probability {
		add(f.GenerateWeather(now, cfg, view, out))
	}
	if cfg.Special.Enabled && !full() && f.rng.Float64() < cfg.Special.Probability {
		add(f.GenerateSpecial(now, cfg, view, out))
	}

	for _, v := range vehicles {
		if v.Status != vehicle.Transporting || !v.HasRoute() {
			continue
		}
		if cfg.Accident.Enabled && !full() && countKind(view, out, event.Accident) < cfg.Accident.MaxCount {
			if f.rng.Float64() < AdjustedProbability(event.Accident, cfg.Accident.Probability, state) {
				add(f.GenerateAccident(now, cfg, v))
			}
		}
		if cfg.TrafficJam.Enabled && !full() && countKind(view, out, event.TrafficJam) < cfg.TrafficJam.MaxCount {
			if f.rng.Float64() < AdjustedProbability(event.TrafficJam, cfg.TrafficJam.Probability, state) {
				add(f.GenerateTrafficJam(now, cfg, v))
			}
		}
		if cfg.RoadClosure.Enabled && !full() && countKind(view, out, event.RoadClosure) < cfg.RoadClosure.MaxCount {
			if f.rng.Float64() < AdjustedProbability(event.RoadClosure, cfg.RoadClosure.Probability, state) {
				add(f.GenerateRoadClosure(now, cfg, v))
			}
		}
	}
	return out
}

func countKind(view View, pending []*event.SimEvent, k event.Kind) int {
	n := view.CountKind(k)
	for _, e := range pending {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// place samples up to attempts candidate points and returns the first one
// at least minDistance meters from every center in others.
func (f *Factory) place(attempts int, minDistance float64, others []orb.Point) (orb.Point, error) {
	for i := 0; i < attempts; i++ {
		p := f.sampler.Sample()
		ok := true
		for _, o := range others {
			if geo.Distance(p, o) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			return p, nil
		}
	}
	return orb.Point{}, fmt.Errorf("%w after %d attempts", event.ErrPlacementFailure, attempts)
}

func centers(view View, pending []*event.SimEvent, k event.Kind) []orb.Point {
	var out []orb.Point
	for _, e := range view.ByKind(k) {
		out = append(out, e.Geometry.Center)
	}
	for _, e := range pending {
		if e.Kind == k {
			out = append(out, e.Geometry.Center)
		}
	}
	return out
}

// GenerateWeather builds a weather event away from other weather events.
// pending holds events produced earlier in the same pass.
func (f *Factory) GenerateWeather(now time.Time, cfg config.EventsConfig, view View, pending []*event.SimEvent) (*event.SimEvent, error) {
	wc := cfg.Weather
	if countKind(view, pending, event.Weather) >= wc.MaxCount {
		return nil, ErrNotEligible
	}
	wt, ok := SelectWeatherType(wc.TypeProbabilities, wc.TypesAllowed, f.rng.Float64())
	if !ok {
		return nil, ErrNotEligible
	}
	pos, err := f.place(cfg.PlacementAttempts, wc.MinDistanceM, centers(view, pending, event.Weather))
	if err != nil {
		metrics.IncPlacementFailure(event.Weather.String())
		return nil, fmt.Errorf("weather: %w", err)
	}
	sev := SelectByProbability(wc.SeverityDistribution, f.rng.Float64())
	intensity := event.SeverityFactor(sev)
	return &event.SimEvent{
		ID:                f.newID(event.Weather, now),
		Kind:              event.Weather,
		Severity:          sev,
		Geometry:          event.Geometry{Center: pos, Radius: f.between(wc.RadiusM.Min, wc.RadiusM.Max)},
		Start:             now,
		Duration:          f.duration(wc.Duration),
		SpeedFactor:       event.WeatherSpeedFactor(wt, sev),
		ConsumptionFactor: event.WeatherConsumptionFactor(wt, intensity),
		Intensity:         intensity,
		Weather:           wt,
	}, nil
}

// GenerateSpecial builds a special event. Its variant is drawn here so that
// effect resolution stays a pure function of the event.
func (f *Factory) GenerateSpecial(now time.Time, cfg config.EventsConfig, view View, pending []*event.SimEvent) (*event.SimEvent, error) {
	sc := cfg.Special
	if countKind(view, pending, event.Special) >= sc.MaxCount {
		return nil, ErrNotEligible
	}
	pos, err := f.place(cfg.PlacementAttempts, 0, nil)
	if err != nil {
		metrics.IncPlacementFailure(event.Special.String())
		return nil, fmt.Errorf("special: %w", err)
	}
	sev := SelectByProbability(sc.SeverityDistribution, f.rng.Float64())

	variant := event.SpecialReroute
	consumption := 1.0
	switch r := f.rng.Float64(); {
	case r < 0.3:
		variant = event.SpecialSpeedBoost
	case r < 0.6:
		variant = event.SpecialConsumptionReduction
		consumption = event.SpecialConsumptionFactor
	}
	return &event.SimEvent{
		ID:                f.newID(event.Special, now),
		Kind:              event.Special,
		Severity:          sev,
		Geometry:          event.Geometry{Center: pos, Radius: f.between(sc.RadiusM.Min, sc.RadiusM.Max)},
		Start:             now,
		Duration:          f.duration(sc.Duration),
		SpeedFactor:       1.0,
		ConsumptionFactor: consumption,
		Intensity:         event.SeverityFactor(sev),
		Special:           variant,
	}, nil
}

// offsetIndex returns base + floor(n*lo) + floor(r*n*(hi-lo)).
func (f *Factory) offsetIndex(base, n int, r config.FloatRange) int {
	return base + int(math.Floor(float64(n)*r.Min)) + int(math.Floor(f.rng.Float64()*float64(n)*(r.Max-r.Min)))
}

func anchored(k event.Kind, now time.Time, v *vehicle.Vehicle, sev event.Severity, dur time.Duration) *event.SimEvent {
	return &event.SimEvent{
		Kind:              k,
		Severity:          sev,
		Start:             now,
		Duration:          dur,
		ConsumptionFactor: 1.0,
		Intensity:         event.SeverityFactor(sev),
		VehicleID:         v.ID,
		LegSeq:            v.LegSeq(),
	}
}

// GenerateAccident anchors an accident on the remaining path of v with its
// trigger inside the configured fraction range.
func (f *Factory) GenerateAccident(now time.Time, cfg config.EventsConfig, v *vehicle.Vehicle) (*event.SimEvent, error) {
	ac := cfg.Accident
	if v.Status != vehicle.Transporting || !v.HasRoute() || v.Refs.Accident != "" {
		return nil, ErrNotEligible
	}
	path := v.Leg.Path
	rem := len(path) - v.PathIndex
	if rem < ac.MinPathPoints || rem < 2 {
		return nil, ErrNotEligible
	}
	sev := SelectByProbability(ac.SeverityDistribution, f.rng.Float64())
	idx := clampIndex(f.offsetIndex(v.PathIndex, rem, ac.TriggerRange), v.PathIndex+1, len(path)-1)

	e := anchored(event.Accident, now, v, sev, f.duration(ac.Duration))
	e.ID = f.newID(event.Accident, now)
	e.Geometry = event.Geometry{Center: path[idx], Radius: ac.RadiusM}
	e.TriggerPoint = path[idx]
	e.TriggerIndex = idx
	e.SpeedFactor = ac.SpeedFactors.Values()[sev]
	e.StopDuration = ac.StopDurations.Values()[sev]
	return e, nil
}

// GenerateTrafficJam picks a 10 to 19 point stretch of the remaining path.
func (f *Factory) GenerateTrafficJam(now time.Time, cfg config.EventsConfig, v *vehicle.Vehicle) (*event.SimEvent, error) {
	jc := cfg.TrafficJam
	if v.Status != vehicle.Transporting || !v.HasRoute() || v.Refs.Jam != "" {
		return nil, ErrNotEligible
	}
	path := v.Leg.Path
	rem := len(path) - v.PathIndex
	if rem < jc.MinPathPoints || rem <= 15 {
		return nil, ErrNotEligible
	}
	sev := SelectByProbability(jc.SeverityDistribution, f.rng.Float64())
	start := v.PathIndex + int(math.Floor(f.rng.Float64()*float64(rem-15)))
	end := start + 10 + int(math.Floor(f.rng.Float64()*10))
	if end > len(path) {
		end = len(path)
	}
	seg := path[start:end].Clone()

	e := anchored(event.TrafficJam, now, v, sev, f.duration(jc.Duration))
	e.ID = f.newID(event.TrafficJam, now)
	e.Geometry = event.Geometry{Center: seg[0], Path: seg}
	e.TriggerPoint = seg[0]
	e.TriggerIndex = start
	e.StartIndex = start
	e.EndIndex = end
	e.SpeedFactor = jc.SpeedFactors.Values()[sev]
	return e, nil
}

// GenerateRoadClosure closes a severity-sized stretch of the remaining path
// starting at the trigger index.
func (f *Factory) GenerateRoadClosure(now time.Time, cfg config.EventsConfig, v *vehicle.Vehicle) (*event.SimEvent, error) {
	cc := cfg.RoadClosure
	if v.Status != vehicle.Transporting || !v.HasRoute() || v.Refs.Closure != "" {
		return nil, ErrNotEligible
	}
	path := v.Leg.Path
	rem := len(path) - v.PathIndex
	if rem < cc.MinPathPoints || rem < 3 {
		return nil, ErrNotEligible
	}
	closure := event.ClosurePartial
	if f.rng.Float64() < cc.ClosureTypes.Full {
		closure = event.ClosureFull
	}
	sev := SelectByProbability(cc.SeverityDistribution, f.rng.Float64())
	trigger := clampIndex(f.offsetIndex(v.PathIndex, rem, cc.TriggerRange), v.PathIndex+1, len(path)-2)
	end := trigger + cc.Lengths.Values()[sev]
	if end > len(path)-1 {
		end = len(path) - 1
	}
	if end-trigger < 2 {
		end = trigger + 2
	}
	seg := path[trigger:end].Clone()

	e := anchored(event.RoadClosure, now, v, sev, f.duration(cc.Duration))
	e.ID = f.newID(event.RoadClosure, now)
	e.Geometry = event.Geometry{Center: seg[0], Path: seg}
	e.TriggerPoint = path[trigger]
	e.TriggerIndex = trigger
	e.StartIndex = trigger
	e.EndIndex = end
	e.Closure = closure
	e.SpeedFactor = 1.0
	return e, nil
}

func clampIndex(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}
