// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/geo"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoDestination means the source has no work for the vehicle right now.
var ErrNoDestination = errors.New("no destination available")

// TripInfo describes the trip a vehicle just finished, reported to the
// destination source when asking for the next one.
type TripInfo struct {
	VehicleID string
	Distance  float64
	Duration  time.Duration
}

// DestinationSource hands out the next destination for an idle vehicle.
type DestinationSource interface {
	NextDestination(ctx context.Context, trip TripInfo) (orb.Point, error)
}

// RandomDestinations draws destinations uniformly inside a bound.
type RandomDestinations struct {
	mu    sync.Mutex
	rng   geo.Float64er
	bound orb.Bound
}

// NewRandomDestinations returns a source sampling bound with rng.
func NewRandomDestinations(rng geo.Float64er, bound orb.Bound) *RandomDestinations {
	return &RandomDestinations{rng: rng, bound: bound}
}

// NextDestination implements DestinationSource.
func (d *RandomDestinations) NextDestination(ctx context.Context, _ TripInfo) (orb.Point, error) {
	if err := ctx.Err(); err != nil {
		return orb.Point{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return geo.RandomPoint(d.rng, d.bound), nil
}

// HTTPDestinations asks a backend for the next destination. The request
// carries the vehicle id and the finished trip's distance and time as
// query parameters; the answer is {"lat":..,"lon":..} or null.
type HTTPDestinations struct {
	url    string
	client *http.Client
}

// NewHTTPDestinations returns a source querying rawURL.
func NewHTTPDestinations(rawURL string, timeout time.Duration, transport http.RoundTripper) *HTTPDestinations {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPDestinations{
		url:    rawURL,
		client: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(transport)},
	}
}

// NextDestination implements DestinationSource.
func (d *HTTPDestinations) NextDestination(ctx context.Context, trip TripInfo) (orb.Point, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid destinations URL: %w", err)
	}
	q := u.Query()
	q.Set("UUID", trip.VehicleID)
	q.Set("Distance", strconv.FormatFloat(trip.Distance, 'f', 0, 64))
	q.Set("Time", strconv.FormatInt(trip.Duration.Milliseconds(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return orb.Point{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return orb.Point{}, fmt.Errorf("destination request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return orb.Point{}, fmt.Errorf("destination request: status %d", resp.StatusCode)
	}

	var body *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return orb.Point{}, fmt.Errorf("decode destination: %w", err)
	}
	if body == nil || body.Lat == nil || body.Lon == nil {
		return orb.Point{}, ErrNoDestination
	}
	return orb.Point{*body.Lon, *body.Lat}, nil
}
