// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry owns the active event set of one simulation context and
// answers spatial membership queries against it.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// DefaultSegmentProximity is the distance in meters within which a vehicle
// counts as touching a path-segment event.
const DefaultSegmentProximity = 50.0

// rectEpsilon keeps degenerate rectangles legal for the R-tree.
const rectEpsilon = 1e-9

type indexed struct {
	ev   *event.SimEvent
	rect rtreego.Rect
}

func (i *indexed) Bounds() rtreego.Rect { return i.rect }

// Registry is not safe for concurrent use; the engine serializes access.
type Registry struct {
	byID             map[string]*indexed
	byKind           map[event.Kind]map[string]*event.SimEvent
	tree             *rtreego.Rtree
	segmentProximity float64
}

// New returns an empty registry. A non-positive proximity selects
// DefaultSegmentProximity.
func New(segmentProximity float64) *Registry {
	if segmentProximity <= 0 {
		segmentProximity = DefaultSegmentProximity
	}
	r := &Registry{
		byID:             make(map[string]*indexed),
		byKind:           make(map[event.Kind]map[string]*event.SimEvent),
		tree:             rtreego.NewTree(2, 25, 50),
		segmentProximity: segmentProximity,
	}
	for _, k := range event.Kinds() {
		r.byKind[k] = make(map[string]*event.SimEvent)
	}
	return r
}

// SetSegmentProximity changes the segment threshold for later queries.
func (r *Registry) SetSegmentProximity(m float64) {
	if m > 0 {
		r.segmentProximity = m
	}
}

func toRect(b orb.Bound) (rtreego.Rect, error) {
	dx := b.Max[0] - b.Min[0]
	dy := b.Max[1] - b.Min[1]
	if dx < rectEpsilon {
		dx = rectEpsilon
	}
	if dy < rectEpsilon {
		dy = rectEpsilon
	}
	return rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{dx, dy})
}

// Insert adds e. Duplicate ids and events with a non-positive duration are
// rejected.
func (r *Registry) Insert(e *event.SimEvent) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("insert event: missing id")
	}
	if _, ok := r.byID[e.ID]; ok {
		return fmt.Errorf("insert event %s: duplicate id", e.ID)
	}
	if e.Duration <= 0 {
		return fmt.Errorf("insert event %s: duration must be positive", e.ID)
	}
	rect, err := toRect(e.Geometry.Bound())
	if err != nil {
		return fmt.Errorf("insert event %s: index: %w", e.ID, err)
	}
	it := &indexed{ev: e, rect: rect}
	r.byID[e.ID] = it
	r.byKind[e.Kind][e.ID] = e
	r.tree.Insert(it)
	return nil
}

// Remove deletes one event and reports whether it was present.
func (r *Registry) Remove(id string) (*event.SimEvent, bool) {
	it, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	r.tree.Delete(it)
	delete(r.byID, id)
	delete(r.byKind[it.ev.Kind], id)
	return it.ev, true
}

// SweepExpired removes every expired event and returns them sorted by id.
// It has no side effect on vehicles; a second call at the same instant
// returns nothing.
func (r *Registry) SweepExpired(now time.Time) []*event.SimEvent {
	var expired []*event.SimEvent
	for _, it := range r.byID {
		if it.ev.IsExpired(now) {
			expired = append(expired, it.ev)
		}
	}
	sortByID(expired)
	for _, e := range expired {
		r.Remove(e.ID)
	}
	return expired
}

func (r *Registry) Get(id string) (*event.SimEvent, bool) {
	it, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return it.ev, true
}

func (r *Registry) CountActive() int { return len(r.byID) }

func (r *Registry) CountKind(k event.Kind) int { return len(r.byKind[k]) }

// ByKind returns the events of one kind sorted by id.
func (r *Registry) ByKind(k event.Kind) []*event.SimEvent {
	out := make([]*event.SimEvent, 0, len(r.byKind[k]))
	for _, e := range r.byKind[k] {
		out = append(out, e)
	}
	sortByID(out)
	return out
}

// All returns every active event sorted by id.
func (r *Registry) All() []*event.SimEvent {
	out := make([]*event.SimEvent, 0, len(r.byID))
	for _, it := range r.byID {
		out = append(out, it.ev)
	}
	sortByID(out)
	return out
}

// EventsNear returns events whose anchor geometry lies within maxDistance
// meters of p: the center for point events, the nearest segment for paths.
func (r *Registry) EventsNear(p orb.Point, maxDistance float64) []*event.SimEvent {
	var out []*event.SimEvent
	for _, e := range r.candidates(p, maxDistance) {
		if anchorDistance(e, p) <= maxDistance {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out
}

func (r *Registry) candidates(p orb.Point, pad float64) []*event.SimEvent {
	rect, err := toRect(geo.Pad(orb.Bound{Min: p, Max: p}, pad))
	if err != nil {
		return nil
	}
	hits := r.tree.SearchIntersect(rect)
	out := make([]*event.SimEvent, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexed).ev)
	}
	return out
}

func anchorDistance(e *event.SimEvent, p orb.Point) float64 {
	if e.Geometry.IsSegment() {
		return geo.DistanceToLine(p, e.Geometry.Path)
	}
	return geo.Distance(p, e.Geometry.Center)
}

// Touches reports whether e currently acts on v.
//
//   - Weather, Special: v is inside the radius.
//   - Accident: the event has triggered and v is either the anchored vehicle
//     or inside the radius.
//   - TrafficJam: v has entered the jam (sticky until expiry).
//   - RoadClosure: v is the anchored vehicle of a triggered closure, or v is
//     within the segment proximity of the closed path.
func (r *Registry) Touches(e *event.SimEvent, v *vehicle.Vehicle) bool {
	if e == nil || v == nil {
		return false
	}
	switch e.Kind {
	case event.Weather, event.Special:
		return geo.Distance(v.Position, e.Geometry.Center) <= e.Geometry.Radius
	case event.Accident:
		if !e.Triggered {
			return false
		}
		return v.Refs.Accident == e.ID || geo.Distance(v.Position, e.Geometry.Center) <= e.Geometry.Radius
	case event.TrafficJam:
		return e.Affects(v.ID)
	case event.RoadClosure:
		if e.Triggered && v.Refs.Closure == e.ID {
			return true
		}
		return geo.DistanceToLine(v.Position, e.Geometry.Path) <= r.segmentProximity
	default:
		return false
	}
}

// TouchingVehicle returns every event that touches v, sorted by id.
func (r *Registry) TouchingVehicle(v *vehicle.Vehicle) []*event.SimEvent {
	seen := make(map[string]*event.SimEvent)
	for _, e := range r.candidates(v.Position, r.segmentProximity) {
		seen[e.ID] = e
	}
	// Anchored and sticky memberships hold regardless of position.
	for _, id := range []string{v.Refs.Accident, v.Refs.Jam, v.Refs.Closure} {
		if e, ok := r.Get(id); ok && id != "" {
			seen[id] = e
		}
	}
	for _, e := range r.byKind[event.TrafficJam] {
		if e.Affects(v.ID) {
			seen[e.ID] = e
		}
	}

	out := make([]*event.SimEvent, 0, len(seen))
	for _, e := range seen {
		if r.Touches(e, v) {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out
}

// ClosureAreas returns an avoid polygon per active closure, padded by margin.
func (r *Registry) ClosureAreas(margin float64) []orb.Polygon {
	closures := r.ByKind(event.RoadClosure)
	out := make([]orb.Polygon, 0, len(closures))
	for _, e := range closures {
		if len(e.Geometry.Path) == 0 {
			continue
		}
		out = append(out, geo.AvoidArea(e.Geometry.Path, margin))
	}
	return out
}

func sortByID(events []*event.SimEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}
