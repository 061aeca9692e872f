// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reroute plans replacement routes off the simulation loop. Each
// request runs in its own goroutine bounded by a semaphore and a timeout;
// results are handed back through a channel the engine drains at the start
// of every tick, so route installation stays on the loop goroutine.
package reroute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/resilience"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/ManuGH/fleetsim/internal/telemetry"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeout reports a planning call that exceeded the configured timeout.
	ErrTimeout = errors.New("reroute timed out")
	// ErrInFlight rejects a second request for a vehicle already being planned.
	ErrInFlight = errors.New("reroute already in flight")
	// ErrClosed rejects submissions after Close.
	ErrClosed = errors.New("reroute planner closed")
)

// Request identifies the vehicle leg a reroute was planned for so that a
// late result can be checked against the vehicle's current state.
type Request struct {
	VehicleID string
	LegSeq    uint64
	EventID   string
	From      orb.Point
	To        orb.Point
	Avoid     []orb.Polygon
	Attempt   int
}

// Result is the outcome of one request.
type Result struct {
	Request Request
	Route   *routing.Route
	Err     error
	Latency time.Duration
}

// Options configures a Planner.
type Options struct {
	Timeout     time.Duration
	MaxInFlight int
	Buffer      int
	// BreakerThreshold consecutive timeouts open the planner's breaker.
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Planner is safe for concurrent use.
type Planner struct {
	provider routing.Provider
	timeout  time.Duration
	sem      *semaphore.Weighted
	breaker  *resilience.CircuitBreaker
	results  chan Result
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// New returns a running planner.
func New(provider routing.Provider, opts Options, logger zerolog.Logger) *Planner {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 3
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Planner{
		provider: provider,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		breaker: resilience.NewCircuitBreaker("reroute", opts.BreakerThreshold, opts.BreakerReset,
			resilience.WithPanicRecovery(true),
			resilience.WithFailurePredicate(func(err error) bool { return errors.Is(err, ErrTimeout) }),
		),
		results:  make(chan Result, opts.Buffer),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Breaker exposes the timeout breaker for health reporting.
func (p *Planner) Breaker() *resilience.CircuitBreaker { return p.breaker }

// Submit starts planning req in the background.
func (p *Planner) Submit(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.inflight[req.VehicleID]; ok {
		return fmt.Errorf("vehicle %s: %w", req.VehicleID, ErrInFlight)
	}
	p.inflight[req.VehicleID] = struct{}{}
	p.wg.Add(1)
	go p.run(req)
	return nil
}

// InFlight reports whether a request for vehicleID is pending.
func (p *Planner) InFlight(vehicleID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[vehicleID]
	return ok
}

// Results exposes the result channel.
func (p *Planner) Results() <-chan Result { return p.results }

// Drain returns every result currently buffered without blocking.
func (p *Planner) Drain() []Result {
	var out []Result
	for {
		select {
		case r := <-p.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

// Close cancels pending requests and waits for their goroutines. Results
// not yet delivered are dropped.
func (p *Planner) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Planner) run(req Request) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, req.VehicleID)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	start := time.Now()
	route, err := p.plan(req)
	p.sem.Release(1)

	res := Result{Request: req, Route: route, Err: err, Latency: time.Since(start)}
	metrics.ObserveReroute(res.Latency)

	// Removing the in-flight mark before delivery lets the engine resubmit
	// as soon as it has seen the result.
	p.mu.Lock()
	delete(p.inflight, req.VehicleID)
	p.mu.Unlock()

	select {
	case p.results <- res:
	case <-p.ctx.Done():
	}
}

func (p *Planner) plan(req Request) (*routing.Route, error) {
	ctx, span := telemetry.Tracer("fleetsim.reroute").Start(p.ctx, "fleetsim.reroute.plan")
	defer span.End()
	span.SetAttributes(telemetry.RerouteAttributes(req.VehicleID, req.EventID, int(req.LegSeq), req.Attempt, len(req.Avoid))...)

	var route *routing.Route
	err := p.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		r, err := p.provider.PlanRoute(callCtx, routing.Request{From: req.From, To: req.To, Avoid: req.Avoid})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && p.ctx.Err() == nil {
				return fmt.Errorf("%w after %s: %w", ErrTimeout, p.timeout, err)
			}
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Debug().Err(err).
			Str("vehicle_id", req.VehicleID).
			Int("attempt", req.Attempt).
			Msg("reroute planning failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return route, nil
}
