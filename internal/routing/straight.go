// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/paulmach/orb"
)

// detourOffsets are the lateral offsets in meters tried, on both sides, when
// the direct line crosses an avoid area.
var detourOffsets = []float64{500, 1000, 2000, 4000}

// StraightProvider plans routes locally as densified straight lines. When
// the direct line enters an avoid area it tries a single midpoint detour.
type StraightProvider struct {
	step  float64
	speed float64 // m/s
}

// NewStraightProvider returns a provider spacing points stepM meters apart
// and timing legs at speedKPH.
func NewStraightProvider(stepM, speedKPH float64) *StraightProvider {
	if stepM <= 0 {
		stepM = 50
	}
	if speedKPH <= 0 {
		speedKPH = 40
	}
	return &StraightProvider{step: stepM, speed: speedKPH / 3.6}
}

func (p *StraightProvider) Name() string { return "straight" }

// PlanRoute implements Provider.
func (p *StraightProvider) PlanRoute(ctx context.Context, req Request) (*Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.From == req.To {
		metrics.IncRouteRequest(p.Name(), "invalid")
		return nil, fmt.Errorf("%w: origin equals destination", ErrRouteUnavailable)
	}

	direct := geo.Densify(req.From, req.To, p.step)
	if !crosses(direct, req.Avoid) {
		metrics.IncRouteRequest(p.Name(), "ok")
		return p.route(direct), nil
	}

	mid := geo.Interpolate(req.From, req.To, 0.5)
	// Unit normal to the direct line in local meters.
	dx := geo.Distance(req.From, orb.Point{req.To[0], req.From[1]})
	if req.To[0] < req.From[0] {
		dx = -dx
	}
	dy := geo.Distance(req.From, orb.Point{req.From[0], req.To[1]})
	if req.To[1] < req.From[1] {
		dy = -dy
	}
	norm := geo.Distance(req.From, req.To)
	nx, ny := -dy/norm, dx/norm

	for _, off := range detourOffsets {
		for _, side := range []float64{1, -1} {
			via := geo.Offset(mid, nx*off*side, ny*off*side)
			first := geo.Densify(req.From, via, p.step)
			second := geo.Densify(via, req.To, p.step)
			if crosses(first, req.Avoid) || crosses(second, req.Avoid) {
				continue
			}
			metrics.IncRouteRequest(p.Name(), "detour")
			return p.route(first, second), nil
		}
	}

	metrics.IncRouteRequest(p.Name(), "blocked")
	return nil, fmt.Errorf("%w: no detour around %d avoid areas", ErrRouteUnavailable, len(req.Avoid))
}

func (p *StraightProvider) route(parts ...orb.LineString) *Route {
	r := &Route{Steps: make([]Step, 0, len(parts))}
	for _, part := range parts {
		d := geo.Length(part)
		dur := time.Duration(d / p.speed * float64(time.Second))
		r.Steps = append(r.Steps, Step{Path: part, Distance: d, Duration: dur})
		r.Distance += d
		r.Duration += dur
	}
	return r
}

func crosses(line orb.LineString, areas []orb.Polygon) bool {
	if len(areas) == 0 {
		return false
	}
	for _, pt := range line {
		if geo.Inside(pt, areas) {
			return true
		}
	}
	return false
}
