// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vehicle models simulated agents and the fleet that owns them.
package vehicle

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Status is the vehicle lifecycle state.
type Status int

const (
	Idle Status = iota
	Transporting
	EmergencyStopped
)

var statusNames = [...]string{"idle", "transporting", "emergency_stopped"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown vehicle status %q", b)
}

// StopReason records why a vehicle is EmergencyStopped.
type StopReason string

const (
	StopNone     StopReason = ""
	StopAccident StopReason = "accident"
	StopClosure  StopReason = "road_closure"
)

// Leg is one assigned route. Path is read-only once assigned.
type Leg struct {
	Seq         uint64
	Path        orb.LineString
	Destination orb.Point
	Distance    float64 // meters
	Duration    time.Duration
	Started     time.Time
	// Traveled and TraveledTime are the prorated parts of legs replaced by
	// reroutes; Distance and Duration include them.
	Traveled     float64
	TraveledTime time.Duration
	Reroutes     int
}

// Refs are lookups into the event registry, never ownership.
type Refs struct {
	Accident string
	Jam      string
	Closure  string
}

// Stats are running per-vehicle totals.
type Stats struct {
	Trips     int           `json:"trips"`
	Distance  float64       `json:"distance_m"`
	Duration  time.Duration `json:"duration"`
	Accidents int           `json:"accidents"`
	Closures  int           `json:"closures"`
	Reroutes  int           `json:"reroutes"`
}

// Vehicle is one simulated agent. The engine owns every field; other
// goroutines only see Views.
type Vehicle struct {
	ID        string
	Position  orb.Point
	PathIndex int // index into Leg.Path of Position
	Status    Status
	Leg       *Leg
	Refs      Refs

	StopReason   StopReason
	StoppedUntil time.Time // accident stop expiry or closure settle end

	// Reroute bookkeeping for the closure/timeout paths.
	RerouteAttempt int
	NextRerouteAt  time.Time
	RerouteEvent   string
	ReroutePending bool

	// NextDispatchAt backs off dispatch after RouteUnavailable.
	NextDispatchAt time.Time
	Dispatching    bool

	Stats Stats
}

// New returns an Idle vehicle at pos with a fresh id.
func New(pos orb.Point) *Vehicle {
	return &Vehicle{ID: uuid.NewString(), Position: pos, Status: Idle}
}

// HasRoute reports whether a leg with at least two points is assigned.
func (v *Vehicle) HasRoute() bool {
	return v.Leg != nil && len(v.Leg.Path) >= 2
}

// Remaining returns the unvisited part of the path starting at PathIndex.
func (v *Vehicle) Remaining() orb.LineString {
	if v.Leg == nil || v.PathIndex >= len(v.Leg.Path) {
		return nil
	}
	return v.Leg.Path[v.PathIndex:]
}

// LegSeq returns the current leg sequence or 0 without a leg.
func (v *Vehicle) LegSeq() uint64 {
	if v.Leg == nil {
		return 0
	}
	return v.Leg.Seq
}

// ClearRef drops any reference to eventID and reports whether one existed.
func (v *Vehicle) ClearRef(eventID string) bool {
	cleared := false
	if v.Refs.Accident == eventID {
		v.Refs.Accident = ""
		cleared = true
	}
	if v.Refs.Jam == eventID {
		v.Refs.Jam = ""
		cleared = true
	}
	if v.Refs.Closure == eventID {
		v.Refs.Closure = ""
		cleared = true
	}
	return cleared
}

// Stop moves the vehicle to EmergencyStopped until the given instant.
func (v *Vehicle) Stop(reason StopReason, until time.Time) {
	v.Status = EmergencyStopped
	v.StopReason = reason
	v.StoppedUntil = until
}

// ResumeTransport returns a stopped vehicle to Transporting.
func (v *Vehicle) ResumeTransport() {
	v.Status = Transporting
	v.StopReason = StopNone
	v.StoppedUntil = time.Time{}
	v.RerouteAttempt = 0
	v.NextRerouteAt = time.Time{}
	v.RerouteEvent = ""
}

// Finish ends the current leg and returns the vehicle to Idle.
func (v *Vehicle) Finish() {
	v.Status = Idle
	v.Leg = nil
	v.PathIndex = 0
	v.Refs = Refs{}
	v.StopReason = StopNone
	v.StoppedUntil = time.Time{}
	v.RerouteAttempt = 0
	v.NextRerouteAt = time.Time{}
	v.RerouteEvent = ""
	v.ReroutePending = false
}

// View is the read-only vehicle representation for the API and sinks.
type View struct {
	ID          string     `json:"id"`
	Position    orb.Point  `json:"position"`
	Status      Status     `json:"status"`
	StopReason  StopReason `json:"stop_reason,omitempty"`
	Destination *orb.Point `json:"destination,omitempty"`
	PathPoints  int        `json:"path_points"`
	PathIndex   int        `json:"path_index"`
	Refs        Refs       `json:"refs"`
	Stats       Stats      `json:"stats"`
}

func (v *Vehicle) View() View {
	out := View{
		ID:         v.ID,
		Position:   v.Position,
		Status:     v.Status,
		StopReason: v.StopReason,
		Refs:       v.Refs,
		Stats:      v.Stats,
	}
	if v.Leg != nil {
		d := v.Leg.Destination
		out.Destination = &d
		out.PathPoints = len(v.Leg.Path)
		out.PathIndex = v.PathIndex
	}
	return out
}

// Fleet owns the vehicles of one simulation context.
type Fleet struct {
	byID map[string]*Vehicle
}

func NewFleet() *Fleet {
	return &Fleet{byID: make(map[string]*Vehicle)}
}

// Add inserts v; a duplicate id is an error.
func (f *Fleet) Add(v *Vehicle) error {
	if _, ok := f.byID[v.ID]; ok {
		return fmt.Errorf("vehicle %s already exists", v.ID)
	}
	f.byID[v.ID] = v
	return nil
}

func (f *Fleet) Get(id string) (*Vehicle, bool) {
	v, ok := f.byID[id]
	return v, ok
}

// Remove deletes the vehicle and reports whether it existed.
func (f *Fleet) Remove(id string) bool {
	if _, ok := f.byID[id]; !ok {
		return false
	}
	delete(f.byID, id)
	return true
}

func (f *Fleet) Len() int { return len(f.byID) }

// All returns the vehicles sorted by id so iteration is deterministic.
func (f *Fleet) All() []*Vehicle {
	out := make([]*Vehicle, 0, len(f.byID))
	for _, v := range f.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountByStatus returns the number of vehicles per status.
func (f *Fleet) CountByStatus() map[Status]int {
	out := map[Status]int{Idle: 0, Transporting: 0, EmergencyStopped: 0}
	for _, v := range f.byID {
		out[v.Status]++
	}
	return out
}
