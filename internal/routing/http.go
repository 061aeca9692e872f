// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/telemetry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// errUpstream marks failures that count against the circuit breaker.
var errUpstream = errors.New("route service failure")

const maxResponseBytes = 8 << 20

// HTTPOptions configures HTTPProvider.
type HTTPOptions struct {
	Timeout          time.Duration
	RateLimit        float64
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// HTTPProvider calls an external route service. The service receives a JSON
// body with origin, destination and a GeoJSON FeatureCollection of avoid
// polygons and answers with a list of step-structured routes.
type HTTPProvider struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

type planRequest struct {
	Origin      orb.Point                  `json:"origin"`
	Destination orb.Point                  `json:"destination"`
	AvoidAreas  *geojson.FeatureCollection `json:"avoid_areas,omitempty"`
}

type planResponse struct {
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Steps    []struct {
			Path     orb.LineString `json:"path"`
			Distance float64        `json:"distance"`
			Duration float64        `json:"duration"`
		} `json:"steps"`
	} `json:"routes"`
}

// NewHTTPProvider returns a provider posting to url.
func NewHTTPProvider(url string, opts HTTPOptions) *HTTPProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
			TLSHandshakeTimeout:   5 * time.Second,
		}
	}

	return &HTTPProvider{
		url: strings.TrimRight(strings.TrimSpace(url), "/"),
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		breaker: resilience.NewCircuitBreaker("route_service", opts.BreakerThreshold, opts.BreakerReset,
			resilience.WithFailurePredicate(func(err error) bool { return errors.Is(err, errUpstream) }),
		),
	}
}

func (p *HTTPProvider) Name() string { return "http" }

// Breaker exposes the circuit breaker guarding the service.
func (p *HTTPProvider) Breaker() *resilience.CircuitBreaker { return p.breaker }

// PlanRoute implements Provider.
func (p *HTTPProvider) PlanRoute(ctx context.Context, req Request) (*Route, error) {
	ctx, span := telemetry.Tracer("fleetsim.routing").Start(ctx, "fleetsim.route.plan")
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.RouteProviderKey, p.Name()),
		attribute.Int(telemetry.RouteAvoidKey, len(req.Avoid)),
	)

	if err := p.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.IncRouteRequest(p.Name(), "rate_limited")
		return nil, err
	}

	var route *Route
	err := p.breaker.Execute(func() error {
		var err error
		route, err = p.do(ctx, req)
		return err
	})
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			result = "circuit_open"
			err = fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
		case errors.Is(err, errUpstream):
			err = fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
		case errors.Is(err, ErrRouteUnavailable):
			result = "empty"
		}
		metrics.IncRouteRequest(p.Name(), result)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return nil, err
	}

	metrics.IncRouteRequest(p.Name(), "ok")
	span.SetAttributes(attribute.Int(telemetry.RoutePointsKey, len(RouteToPath(route))))
	span.SetStatus(codes.Ok, "")
	return route, nil
}

func (p *HTTPProvider) do(ctx context.Context, req Request) (*Route, error) {
	body := planRequest{Origin: req.From, Destination: req.To}
	if len(req.Avoid) > 0 {
		fc := geojson.NewFeatureCollection()
		for _, poly := range req.Avoid {
			fc.Append(geojson.NewFeature(poly))
		}
		body.AvoidAreas = fc
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode route request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build route request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", errUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrRouteUnavailable, resp.StatusCode)
	}

	var pr planResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRouteUnavailable, err)
	}
	if len(pr.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes returned", ErrRouteUnavailable)
	}

	src := pr.Routes[0]
	route := &Route{
		Distance: src.Distance,
		Duration: seconds(src.Duration),
		Steps:    make([]Step, 0, len(src.Steps)),
	}
	for _, s := range src.Steps {
		route.Steps = append(route.Steps, Step{Path: s.Path, Distance: s.Distance, Duration: seconds(s.Duration)})
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	return route, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
