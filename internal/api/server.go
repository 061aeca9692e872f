// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the read and control HTTP API of the simulator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/health"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/persistence/sqlite"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/effect"
	"github.com/ManuGH/fleetsim/internal/sim/engine"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Simulation is the engine surface the API reads and controls.
type Simulation interface {
	Events(kinds ...event.Kind) []event.View
	Event(id string) (event.View, bool)
	Vehicles() []vehicle.View
	Vehicle(id string) (vehicle.View, error)
	Effect(id string) (effect.CombinedEffect, error)
	CheckTriggers(id string) (bool, error)
	TimeInfo() clock.Info
	Summary() engine.Summary
	PauseAll() int
	ResumeAll() int
	SetInteracting(on bool)
	SpawnVehicles(n int) ([]string, error)
}

// History is the persisted event and trip record.
type History interface {
	Events(ctx context.Context, f sqlite.EventFilter) ([]sqlite.EventRecord, error)
	Trips(ctx context.Context, vehicleID string, limit int) ([]engine.Trip, error)
	VehicleStats(ctx context.Context) ([]sqlite.VehicleStats, error)
}

// Deps are the collaborators of a Server. Sim is required.
type Deps struct {
	Sim     Simulation
	History History
	// Stream is mounted at the configured WebSocket path when set.
	Stream     http.Handler
	StreamPath string
	Health     *health.Manager
	Metrics    http.Handler
	// TracingService enables request spans when non-empty.
	TracingService string
}

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxSpawn          = 100
)

// Server owns the HTTP listener.
type Server struct {
	cfg     config.APIConfig
	deps    Deps
	handler http.Handler
	logger  zerolog.Logger
}

func New(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Sim == nil {
		return nil, errors.New("api: simulation is required")
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	s := &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// At most cfg.MaxConns connections are accepted concurrently.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str(log.FieldAddr, ln.Addr().String()).
			Int("max_conns", s.cfg.MaxConns).
			Msg("API server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("API server stopped")
	return nil
}
