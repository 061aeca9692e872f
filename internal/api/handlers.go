// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/persistence/sqlite"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/version"
	"github.com/go-chi/chi/v5"
)

type countResponse struct {
	Count int `json:"count"`
}

type spawnRequest struct {
	Count int `json:"count"`
}

type spawnResponse struct {
	IDs []string `json:"ids"`
}

type triggerResponse struct {
	VehicleID string `json:"vehicle_id"`
	Triggered bool   `json:"triggered"`
}

type interactionResponse struct {
	Interacting bool `json:"interacting"`
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}

func (s *Server) handleTime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sim.TimeInfo())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sim.Summary())
}

// handleListEvents accepts ?kind=a,b to filter by kind.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kind"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sim.Events(kinds...))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, ok := s.deps.Sim.Event(id)
	if !ok {
		writeNotFound(w, fmt.Sprintf("event %s", id))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListVehicles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sim.Vehicles())
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Sim.Vehicle(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVehicleEffect(w http.ResponseWriter, r *http.Request) {
	eff, err := s.deps.Sim.Effect(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (s *Server) handleCheckTriggers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	triggered, err := s.deps.Sim.CheckTriggers(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{VehicleID: id, Triggered: triggered})
}

func (s *Server) handleSpawnVehicles(w http.ResponseWriter, r *http.Request) {
	req := spawnRequest{Count: 1}
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeBadRequest(w, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	if req.Count < 1 || req.Count > maxSpawn {
		writeBadRequest(w, fmt.Errorf("count must be between 1 and %d", maxSpawn))
		return
	}
	ids, err := s.deps.Sim.SpawnVehicles(req.Count)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	log.WithComponentFromContext(r.Context(), "api").Info().
		Str(log.FieldEvent, "api.spawn").
		Int("count", len(ids)).
		Msg("vehicles spawned via API")
	writeJSON(w, http.StatusCreated, spawnResponse{IDs: ids})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, countResponse{Count: s.deps.Sim.PauseAll()})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, countResponse{Count: s.deps.Sim.ResumeAll()})
}

func (s *Server) handleInteraction(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.deps.Sim.SetInteracting(on)
		writeJSON(w, http.StatusOK, interactionResponse{Interacting: on})
	}
}

func (s *Server) handleVehicleTrips(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeServiceUnavailable(w, "history store disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	trips, err := s.deps.History.Trips(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeServiceUnavailable(w, "history store disabled")
		return
	}
	q := r.URL.Query()
	f := sqlite.EventFilter{VehicleID: q.Get("vehicle")}
	if k := q.Get("kind"); k != "" {
		kind, err := event.ParseKind(k)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		f.Kind = kind.String()
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	f.Limit = limit

	records, err := s.deps.History.Events(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryVehicles(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeServiceUnavailable(w, "history store disabled")
		return
	}
	stats, err := s.deps.History.VehicleStats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseKinds(raw string) ([]event.Kind, error) {
	if raw == "" {
		return nil, nil
	}
	var kinds []event.Kind
	for _, part := range strings.Split(raw, ",") {
		k, err := event.ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("limit must be between 1 and 1000")
	}
	return n, nil
}
