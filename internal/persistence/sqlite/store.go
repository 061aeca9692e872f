// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite persists event and trip history for reporting.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/engine"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

const (
	schemaVersion = 1
	maxBatch      = 128
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("sqlite: store closed")

// Store records event and trip history. Writes are queued and committed in
// batches on a background goroutine so the tick never waits on disk.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time

	ops   chan op
	flush time.Duration
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type op struct {
	created *event.View
	expired *event.View
	trip    *engine.Trip
	at      time.Time
	ack     chan error
}

// New opens the database at cfg.Path, applies the schema and starts the
// writer.
func New(cfg config.StoreConfig) (*Store, error) {
	db, err := Open(cfg.Path, Config{BusyTimeout: cfg.BusyTimeout, MaxOpenConns: DefaultConfig().MaxOpenConns})
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		logger: log.WithComponent("store"),
		now:    time.Now,
		ops:    make(chan op, max(cfg.QueueSize, 1)),
		flush:  cfg.FlushInterval,
		done:   make(chan struct{}),
	}
	if s.flush <= 0 {
		s.flush = time.Second
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}

	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		vehicle_id TEXT NOT NULL DEFAULT '',
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		radius_m REAL NOT NULL DEFAULT 0,
		path_points INTEGER NOT NULL DEFAULT 0,
		speed_factor REAL NOT NULL,
		started_at_ms INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL,
		expired_at_ms INTEGER,
		triggered INTEGER NOT NULL DEFAULT 0,
		affected INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_vehicle ON events(vehicle_id);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		dest_lon REAL NOT NULL,
		dest_lat REAL NOT NULL,
		started_at_ms INTEGER NOT NULL,
		finished_at_ms INTEGER NOT NULL,
		distance_m REAL NOT NULL,
		duration_ms INTEGER NOT NULL,
		planned_ms INTEGER NOT NULL,
		reroutes INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trips_vehicle ON trips(vehicle_id, finished_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Name() string { return "sqlite" }

// SetVehiclePosition is a no-op; positions are not persisted.
func (s *Store) SetVehiclePosition(string, orb.Point) {}

func (s *Store) OnEventCreated(ev event.View) { s.enqueue(op{created: &ev, at: s.now()}) }

func (s *Store) OnEventExpired(ev event.View) { s.enqueue(op{expired: &ev, at: s.now()}) }

func (s *Store) RecordTrip(t engine.Trip) { s.enqueue(op{trip: &t, at: s.now()}) }

func (s *Store) enqueue(o op) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ops <- o:
	default:
		metrics.IncSinkError(s.Name())
		s.logger.Warn().Str(log.FieldEvent, "store.queue_full").Msg("history queue full, record dropped")
	}
}

// Flush blocks until every record queued before the call is committed.
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan error, 1)
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ops <- op{ack: ack}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close commits queued records and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) writer() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flush)
	defer ticker.Stop()

	var batch []op
	commit := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.write(batch)
		if err != nil {
			metrics.IncSinkError(s.Name())
			s.logger.Error().Err(err).Str(log.FieldEvent, "store.write_failed").Int("records", len(batch)).Msg("history write failed")
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case o := <-s.ops:
			if o.ack != nil {
				o.ack <- commit()
				continue
			}
			batch = append(batch, o)
			if len(batch) >= maxBatch {
				_ = commit()
			}
		case <-ticker.C:
			_ = commit()
		case <-s.done:
			for {
				select {
				case o := <-s.ops:
					if o.ack != nil {
						o.ack <- ErrClosed
						continue
					}
					batch = append(batch, o)
				default:
					_ = commit()
					return
				}
			}
		}
	}
}

func (s *Store) write(batch []op) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range batch {
		switch {
		case o.created != nil:
			err = insertEvent(ctx, tx, *o.created)
		case o.expired != nil:
			err = expireEvent(ctx, tx, *o.expired, o.at)
		case o.trip != nil:
			err = insertTrip(ctx, tx, *o.trip)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev event.View) error {
	c := anchor(ev.Geometry)
	_, err := tx.ExecContext(ctx, `
	INSERT INTO events (id, kind, severity, vehicle_id, lon, lat, radius_m, path_points, speed_factor, started_at_ms, expires_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Kind.String(), ev.Severity.String(), ev.VehicleID, c.Lon(), c.Lat(),
		ev.Geometry.Radius, len(ev.Geometry.Path), ev.SpeedFactor,
		ev.Start.UnixMilli(), ev.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func expireEvent(ctx context.Context, tx *sql.Tx, ev event.View, at time.Time) error {
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE events SET expired_at_ms = ?, triggered = ?, affected = ? WHERE id = ?`,
		at.UnixMilli(), boolInt(ev.Triggered), len(ev.Affected), ev.ID)
	if err != nil {
		return fmt.Errorf("expire event %s: %w", ev.ID, err)
	}
	return nil
}

func insertTrip(ctx context.Context, tx *sql.Tx, t engine.Trip) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO trips (id, vehicle_id, dest_lon, dest_lat, started_at_ms, finished_at_ms, distance_m, duration_ms, planned_ms, reroutes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		t.ID, t.VehicleID, t.Destination.Lon(), t.Destination.Lat(),
		t.Started.UnixMilli(), t.Finished.UnixMilli(), t.Distance,
		t.Duration.Milliseconds(), t.PlannedDuration.Milliseconds(), t.Reroutes)
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", t.ID, err)
	}
	return nil
}

// anchor is the stored location of an event: the center of a circle or the
// first point of a segment.
func anchor(g event.Geometry) orb.Point {
	if g.IsSegment() {
		return g.Path[0]
	}
	return g.Center
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
