// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{"routes":[{"distance":1200,"duration":120,"steps":[
 {"path":[[116.30,39.90],[116.31,39.90]],"distance":850,"duration":85},
 {"path":[[116.31,39.90],[116.31,39.91]],"distance":350,"duration":35}]}]}`

func testOptions() HTTPOptions {
	return HTTPOptions{Timeout: time.Second, RateLimit: 1000, Burst: 100, BreakerThreshold: 2, BreakerReset: time.Minute}
}

func TestHTTPProvider_PlansRoute(t *testing.T) {
	var got planRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testOptions())
	r, err := p.PlanRoute(context.Background(), Request{
		From:  west,
		To:    east,
		Avoid: []orb.Polygon{box(east, 0.001)},
	})
	require.NoError(t, err)

	assert.Equal(t, west, got.Origin)
	assert.Equal(t, east, got.Destination)
	require.NotNil(t, got.AvoidAreas)
	assert.Len(t, got.AvoidAreas.Features, 1)

	assert.Equal(t, 1200.0, r.Distance)
	assert.Equal(t, 2*time.Minute, r.Duration)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, 35*time.Second, r.Steps[1].Duration)
	assert.Len(t, RouteToPath(r), 4)
}

func TestHTTPProvider_EmptyRoutesIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testOptions())
	for i := 0; i < 3; i++ {
		_, err := p.PlanRoute(context.Background(), Request{From: west, To: east})
		require.ErrorIs(t, err, ErrRouteUnavailable)
	}
	assert.Equal(t, resilience.StateClosed, p.Breaker().State(), "empty answers do not trip the breaker")
}

func TestHTTPProvider_ServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testOptions())
	for i := 0; i < 2; i++ {
		_, err := p.PlanRoute(context.Background(), Request{From: west, To: east})
		require.ErrorIs(t, err, ErrRouteUnavailable)
	}
	assert.Equal(t, resilience.StateOpen, p.Breaker().State())

	_, err := p.PlanRoute(context.Background(), Request{From: west, To: east})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPProvider_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewHTTPProvider(srv.URL, testOptions())
	_, err := p.PlanRoute(ctx, Request{From: west, To: east})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, resilience.StateClosed, p.Breaker().State())
}
