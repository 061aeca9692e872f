// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/ManuGH/fleetsim/internal/sim/engine"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/paulmach/orb"
)

const defaultLimit = 100

// EventRecord is one persisted event row.
type EventRecord struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Severity    string     `json:"severity"`
	VehicleID   string     `json:"vehicle_id,omitempty"`
	Location    orb.Point  `json:"location"`
	RadiusM     float64    `json:"radius_m,omitempty"`
	PathPoints  int        `json:"path_points,omitempty"`
	SpeedFactor float64    `json:"speed_factor"`
	Start       time.Time  `json:"start"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	Triggered   bool       `json:"triggered"`
	Affected    int        `json:"affected"`
}

// EventFilter narrows Events. Zero values match everything.
type EventFilter struct {
	Kind      string
	VehicleID string
	Limit     int
}

// VehicleStats are per-vehicle totals over the recorded history.
type VehicleStats struct {
	VehicleID string        `json:"vehicle_id"`
	Trips     int           `json:"trips"`
	Distance  float64       `json:"distance_m"`
	Duration  time.Duration `json:"duration"`
	Reroutes  int           `json:"reroutes"`
	Accidents int           `json:"accidents"`
	Closures  int           `json:"closures"`
}

// Report summarises the whole history.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Vehicles    []VehicleStats `json:"vehicles"`
	Events      map[string]int `json:"events"`
	Trips       int            `json:"trips"`
	Distance    float64        `json:"distance_m"`
}

// Events returns the most recent events first.
func (s *Store) Events(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, kind, severity, vehicle_id, lon, lat, radius_m, path_points, speed_factor,
		started_at_ms, expires_at_ms, expired_at_ms, triggered, affected
	FROM events
	WHERE (? = '' OR kind = ?) AND (? = '' OR vehicle_id = ?)
	ORDER BY started_at_ms DESC, id
	LIMIT ?`, f.Kind, f.Kind, f.VehicleID, f.VehicleID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r                EventRecord
			lon, lat         float64
			started, expires int64
			expired          sql.NullInt64
			triggered        int
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Severity, &r.VehicleID, &lon, &lat, &r.RadiusM, &r.PathPoints,
			&r.SpeedFactor, &started, &expires, &expired, &triggered, &r.Affected); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Location = orb.Point{lon, lat}
		r.Start = time.UnixMilli(started).UTC()
		r.ExpiresAt = time.UnixMilli(expires).UTC()
		if expired.Valid {
			t := time.UnixMilli(expired.Int64).UTC()
			r.ExpiredAt = &t
		}
		r.Triggered = triggered != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trips returns the most recent trips of one vehicle, or of all vehicles
// when vehicleID is empty.
func (s *Store) Trips(ctx context.Context, vehicleID string, limit int) ([]engine.Trip, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, vehicle_id, dest_lon, dest_lat, started_at_ms, finished_at_ms, distance_m, duration_ms, planned_ms, reroutes
	FROM trips
	WHERE ? = '' OR vehicle_id = ?
	ORDER BY finished_at_ms DESC, id
	LIMIT ?`, vehicleID, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []engine.Trip
	for rows.Next() {
		var (
			t                     engine.Trip
			lon, lat              float64
			started, finished     int64
			durationMS, plannedMS int64
		)
		if err := rows.Scan(&t.ID, &t.VehicleID, &lon, &lat, &started, &finished, &t.Distance,
			&durationMS, &plannedMS, &t.Reroutes); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t.Destination = orb.Point{lon, lat}
		t.Started = time.UnixMilli(started).UTC()
		t.Finished = time.UnixMilli(finished).UTC()
		t.Duration = time.Duration(durationMS) * time.Millisecond
		t.PlannedDuration = time.Duration(plannedMS) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}

// VehicleStats aggregates trips and triggered disruptions per vehicle,
// ordered by vehicle id.
func (s *Store) VehicleStats(ctx context.Context) ([]VehicleStats, error) {
	byID := make(map[string]*VehicleStats)
	get := func(id string) *VehicleStats {
		st, ok := byID[id]
		if !ok {
			st = &VehicleStats{VehicleID: id}
			byID[id] = st
		}
		return st
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT vehicle_id, COUNT(*), SUM(distance_m), SUM(duration_ms), SUM(reroutes)
	FROM trips GROUP BY vehicle_id`)
	if err != nil {
		return nil, fmt.Errorf("aggregate trips: %w", err)
	}
	for rows.Next() {
		var (
			id         string
			n          int
			dist       float64
			durationMS int64
			reroutes   int
		)
		if err := rows.Scan(&id, &n, &dist, &durationMS, &reroutes); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan trip aggregate: %w", err)
		}
		st := get(id)
		st.Trips = n
		st.Distance = dist
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Reroutes = reroutes
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
	SELECT vehicle_id, kind, COUNT(*)
	FROM events
	WHERE triggered = 1 AND vehicle_id <> '' AND kind IN (?, ?)
	GROUP BY vehicle_id, kind`, event.Accident.String(), event.RoadClosure.String())
	if err != nil {
		return nil, fmt.Errorf("aggregate triggers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, kind string
			n        int
		)
		if err := rows.Scan(&id, &kind, &n); err != nil {
			return nil, fmt.Errorf("scan trigger aggregate: %w", err)
		}
		if kind == event.Accident.String() {
			get(id).Accidents = n
		} else {
			get(id).Closures = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]VehicleStats, 0, len(byID))
	for _, st := range byID {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out, nil
}

// EventCounts returns the number of recorded events per kind.
func (s *Store) EventCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Report builds the history summary written by the report command.
func (s *Store) Report(ctx context.Context) (Report, error) {
	vehicles, err := s.VehicleStats(ctx)
	if err != nil {
		return Report{}, err
	}
	counts, err := s.EventCounts(ctx)
	if err != nil {
		return Report{}, err
	}
	r := Report{GeneratedAt: s.now().UTC(), Vehicles: vehicles, Events: counts}
	for _, v := range vehicles {
		r.Trips += v.Trips
		r.Distance += v.Distance
	}
	return r, nil
}
