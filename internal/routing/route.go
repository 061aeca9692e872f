// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package routing plans vehicle routes. Providers return step-structured
// routes which RouteToPath flattens into the point sequence the animation
// scheduler walks.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// ErrRouteUnavailable reports that the planner produced no usable route.
var ErrRouteUnavailable = errors.New("route unavailable")

// Request asks for a route between two points avoiding the given areas.
type Request struct {
	From  orb.Point
	To    orb.Point
	Avoid []orb.Polygon
}

// Step is one leg of a planned route.
type Step struct {
	Path     orb.LineString `json:"path"`
	Distance float64        `json:"distance"`
	Duration time.Duration  `json:"duration"`
}

// Route is a planned route. Distance is in meters.
type Route struct {
	Steps    []Step        `json:"steps"`
	Distance float64       `json:"distance"`
	Duration time.Duration `json:"duration"`
}

// Provider plans routes.
type Provider interface {
	PlanRoute(ctx context.Context, req Request) (*Route, error)
	Name() string
}

// Validate rejects routes that cannot be animated: no steps, no points or a
// non-finite distance. The error wraps ErrRouteUnavailable.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil route", ErrRouteUnavailable)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: route has no steps", ErrRouteUnavailable)
	}
	if math.IsNaN(r.Distance) || math.IsInf(r.Distance, 0) || r.Distance < 0 {
		return fmt.Errorf("%w: invalid distance %v", ErrRouteUnavailable, r.Distance)
	}
	points := 0
	for _, s := range r.Steps {
		points += len(s.Path)
	}
	if points < 2 {
		return fmt.Errorf("%w: route has %d points", ErrRouteUnavailable, points)
	}
	return nil
}

// RouteToPath concatenates every step's points in order.
func RouteToPath(r *Route) orb.LineString {
	if r == nil {
		return nil
	}
	n := 0
	for _, s := range r.Steps {
		n += len(s.Path)
	}
	path := make(orb.LineString, 0, n)
	for _, s := range r.Steps {
		path = append(path, s.Path...)
	}
	return path
}
