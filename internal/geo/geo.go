// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package geo holds the distance and proximity primitives used for area-of-effect
// checks. Points are orb.Point values in (longitude, latitude) order; every
// distance is in meters.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// project maps p onto a local tangent plane centred on origin, in meters.
// Accurate enough for the sub-kilometre proximity thresholds used here.
func project(origin, p orb.Point) orb.Point {
	rad := math.Pi / 180
	x := (p[0] - origin[0]) * rad * orb.EarthRadius * math.Cos(origin[1]*rad)
	y := (p[1] - origin[1]) * rad * orb.EarthRadius
	return orb.Point{x, y}
}

// DistanceToSegment returns the distance in meters from p to the segment a-b.
func DistanceToSegment(p, a, b orb.Point) float64 {
	return planar.DistanceFromSegment(project(p, a), project(p, b), orb.Point{0, 0})
}

// DistanceToLine returns the minimum distance in meters from p to any segment
// of line. A single-point line degenerates to a point distance; an empty line
// is infinitely far away.
func DistanceToLine(p orb.Point, line orb.LineString) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, line[0])
	}
	best := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		if d := DistanceToSegment(p, line[i], line[i+1]); d < best {
			best = d
		}
	}
	return best
}

// Length returns the haversine length of line in meters.
func Length(line orb.LineString) float64 {
	return geo.LengthHaversine(line)
}

// Pad grows b by meters in every direction.
func Pad(b orb.Bound, meters float64) orb.Bound {
	if meters <= 0 {
		return b
	}
	return geo.BoundPad(b, meters)
}

// CircleBound returns the bounding box of the circle at center with radius meters.
func CircleBound(center orb.Point, radius float64) orb.Bound {
	return Pad(center.Bound(), radius)
}

// AvoidArea turns a closed stretch of road into a rectangular polygon padded
// by margin meters, in the shape route services accept as an avoid area.
func AvoidArea(path orb.LineString, margin float64) orb.Polygon {
	if len(path) == 0 {
		return nil
	}
	return Pad(path.Bound(), margin).ToPolygon()
}

// Inside reports whether p lies inside any polygon of areas.
func Inside(p orb.Point, areas []orb.Polygon) bool {
	for _, poly := range areas {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// Interpolate returns the point at fraction t (0..1) along the straight line a-b.
func Interpolate(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

// Densify returns a line from a to b with points spaced no more than step
// meters apart, including both endpoints.
func Densify(a, b orb.Point, step float64) orb.LineString {
	if step <= 0 {
		return orb.LineString{a, b}
	}
	n := int(math.Ceil(Distance(a, b) / step))
	if n < 1 {
		n = 1
	}
	line := make(orb.LineString, 0, n+1)
	for i := 0; i <= n; i++ {
		line = append(line, Interpolate(a, b, float64(i)/float64(n)))
	}
	return line
}

// Offset moves p by east/north meters.
func Offset(p orb.Point, east, north float64) orb.Point {
	rad := math.Pi / 180
	dLat := north / orb.EarthRadius / rad
	dLon := east / (orb.EarthRadius * math.Cos(p[1]*rad)) / rad
	return orb.Point{p[0] + dLon, p[1] + dLat}
}

// Float64er is the minimal random source needed for sampling.
type Float64er interface {
	Float64() float64
}

// RandomPoint draws a uniformly distributed point inside b.
func RandomPoint(r Float64er, b orb.Bound) orb.Point {
	return orb.Point{
		b.Min[0] + r.Float64()*(b.Max[0]-b.Min[0]),
		b.Min[1] + r.Float64()*(b.Max[1]-b.Min[1]),
	}
}
