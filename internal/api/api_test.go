// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/health"
	"github.com/ManuGH/fleetsim/internal/persistence/sqlite"
	"github.com/ManuGH/fleetsim/internal/sim/clock"
	"github.com/ManuGH/fleetsim/internal/sim/effect"
	"github.com/ManuGH/fleetsim/internal/sim/engine"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/ManuGH/fleetsim/internal/sim/vehicle"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSim struct {
	mu          sync.Mutex
	events      []event.View
	vehicles    map[string]vehicle.View
	paused      int
	interacting bool
	spawned     int
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		events: []event.View{
			{ID: "accident-1", Kind: event.Accident, Severity: event.High, VehicleID: "v1"},
			{ID: "weather-1", Kind: event.Weather, Severity: event.Low},
		},
		vehicles: map[string]vehicle.View{
			"v1": {ID: "v1", Status: vehicle.Transporting, Position: orb.Point{116.4, 39.9}},
			"v2": {ID: "v2", Status: vehicle.EmergencyStopped},
		},
	}
}

func (f *fakeSim) Events(kinds ...event.Kind) []event.View {
	if len(kinds) == 0 {
		return f.events
	}
	var out []event.View
	for _, ev := range f.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (f *fakeSim) Event(id string) (event.View, bool) {
	for _, ev := range f.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return event.View{}, false
}

func (f *fakeSim) Vehicles() []vehicle.View {
	return []vehicle.View{f.vehicles["v1"], f.vehicles["v2"]}
}

func (f *fakeSim) Vehicle(id string) (vehicle.View, error) {
	v, ok := f.vehicles[id]
	if !ok {
		return vehicle.View{}, engine.ErrVehicleNotFound
	}
	return v, nil
}

func (f *fakeSim) Effect(id string) (effect.CombinedEffect, error) {
	if _, ok := f.vehicles[id]; !ok {
		return effect.CombinedEffect{}, engine.ErrVehicleNotFound
	}
	eff := effect.Neutral()
	eff.SpeedFactor = 0.4
	return eff, nil
}

func (f *fakeSim) CheckTriggers(id string) (bool, error) {
	switch id {
	case "v1":
		return true, nil
	case "v2":
		return false, fmt.Errorf("%w: stopped without a route", engine.ErrInvalidVehicleState)
	}
	return false, engine.ErrVehicleNotFound
}

func (f *fakeSim) TimeInfo() clock.Info {
	return clock.Info{Formatted: "08:30", Hour: 8.5, State: clock.MorningPeak, Multiplier: 360}
}

func (f *fakeSim) Summary() engine.Summary {
	return engine.Summary{Vehicles: map[string]int{"transporting": 1}, Events: map[string]int{"accident": 1}}
}

func (f *fakeSim) PauseAll() int  { f.paused = 2; return 2 }
func (f *fakeSim) ResumeAll() int { f.paused = 0; return 2 }

func (f *fakeSim) SetInteracting(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interacting = on
}

func (f *fakeSim) SpawnVehicles(n int) ([]string, error) {
	f.spawned += n
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("new-%d", i)
	}
	return ids, nil
}

type fakeHistory struct{ err error }

func (h fakeHistory) Events(_ context.Context, f sqlite.EventFilter) ([]sqlite.EventRecord, error) {
	if h.err != nil {
		return nil, h.err
	}
	return []sqlite.EventRecord{{ID: "accident-1", Kind: f.Kind, VehicleID: f.VehicleID}}, nil
}

func (h fakeHistory) Trips(_ context.Context, vehicleID string, limit int) ([]engine.Trip, error) {
	return []engine.Trip{{ID: "t1", VehicleID: vehicleID, Reroutes: limit}}, nil
}

func (h fakeHistory) VehicleStats(context.Context) ([]sqlite.VehicleStats, error) {
	return []sqlite.VehicleStats{{VehicleID: "v1", Trips: 3}}, nil
}

func newServer(t *testing.T, sim *fakeSim, history History) *Server {
	t.Helper()
	s, err := New(config.APIConfig{Listen: "127.0.0.1:0", RateLimit: 1000}, Deps{
		Sim:     sim,
		History: history,
		Health:  health.NewManager("test"),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresSimulation(t *testing.T) {
	_, err := New(config.APIConfig{}, Deps{})
	assert.Error(t, err)
}

func TestEvents(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]event.View](t, w), 2)

	w = do(t, h, http.MethodGet, "/api/v1/events?kind=accident", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]event.View](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, event.Accident, got[0].Kind)
	assert.Equal(t, event.High, got[0].Severity)

	w = do(t, h, http.MethodGet, "/api/v1/events?kind=meteor", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/events/weather-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "weather-1", decode[event.View](t, w).ID)

	w = do(t, h, http.MethodGet, "/api/v1/events/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVehicles(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/vehicles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]vehicle.View](t, w), 2)

	w = do(t, h, http.MethodGet, "/api/v1/vehicles/v1", "")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[vehicle.View](t, w)
	assert.Equal(t, vehicle.Transporting, v.Status)

	w = do(t, h, http.MethodGet, "/api/v1/vehicles/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/vehicles/v1/effect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.4, decode[effect.CombinedEffect](t, w).SpeedFactor, 1e-9)
}

func TestCheckTriggers(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/vehicles/v1/triggers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[triggerResponse](t, w).Triggered)

	w = do(t, h, http.MethodPost, "/api/v1/vehicles/v2/triggers", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_vehicle_state", decode[errorResponse](t, w).Error)

	w = do(t, h, http.MethodPost, "/api/v1/vehicles/ghost/triggers", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControl(t *testing.T) {
	sim := newFakeSim()
	h := newServer(t, sim, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/animation/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[countResponse](t, w).Count)
	assert.Equal(t, 2, sim.paused)

	w = do(t, h, http.MethodPost, "/api/v1/animation/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, sim.paused)

	w = do(t, h, http.MethodPost, "/api/v1/interaction/begin", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sim.interacting)
	do(t, h, http.MethodPost, "/api/v1/interaction/end", "")
	assert.False(t, sim.interacting)

	w = do(t, h, http.MethodPost, "/api/v1/vehicles", `{"count":3}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, decode[spawnResponse](t, w).IDs, 3)

	w = do(t, h, http.MethodPost, "/api/v1/vehicles", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 4, sim.spawned)

	w = do(t, h, http.MethodPost, "/api/v1/vehicles", `{"count":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodPost, "/api/v1/vehicles", `{"count":1,"color":"red"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/animation/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTimeAndStats(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/time", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[clock.Info](t, w)
	assert.Equal(t, clock.MorningPeak, info.State)
	assert.Equal(t, "08:30", info.Formatted)

	w = do(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[engine.Summary](t, w).Events["accident"])

	w = do(t, h, http.MethodGet, "/api/v1/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w), "version")
}

func TestHistory(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/history/vehicles", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h = newServer(t, newFakeSim(), fakeHistory{}).Handler()
	w = do(t, h, http.MethodGet, "/api/v1/history/events?kind=accident&vehicle=v1", "")
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]sqlite.EventRecord](t, w)
	require.Len(t, records, 1)
	assert.Equal(t, "accident", records[0].Kind)
	assert.Equal(t, "v1", records[0].VehicleID)

	w = do(t, h, http.MethodGet, "/api/v1/history/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/vehicles/v1/trips?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	trips := decode[[]engine.Trip](t, w)
	require.Len(t, trips, 1)
	assert.Equal(t, 5, trips[0].Reroutes)

	w = do(t, h, http.MethodGet, "/api/v1/history/vehicles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[[]sqlite.VehicleStats](t, w)[0].Trips)

	h = newServer(t, newFakeSim(), fakeHistory{err: errors.New("disk gone")}).Handler()
	w = do(t, h, http.MethodGet, "/api/v1/history/events", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestProbesAndMetrics(t *testing.T) {
	h := newServer(t, newFakeSim(), nil).Handler()

	w := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestRateLimit(t *testing.T) {
	s, err := New(config.APIConfig{RateLimit: 2}, Deps{Sim: newFakeSim()})
	require.NoError(t, err)
	h := s.Handler()

	var last *httptest.ResponseRecorder
	for range 3 {
		last = do(t, h, http.MethodGet, "/api/v1/time", "")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), "rate_limit_exceeded")

	// probes are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newServer(t, newFakeSim(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/v1/time"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
