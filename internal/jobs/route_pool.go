// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs runs background work for the simulation: route planning for
// idle vehicles and atomic report writes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/paulmach/orb"
)

var (
	// ErrInFlight rejects a job for a vehicle that already has one queued or running.
	ErrInFlight = errors.New("route job already in flight")
	// ErrQueueFull rejects a job when the queue has no room.
	ErrQueueFull = errors.New("route job queue full")
	// ErrStopped rejects jobs after Stop.
	ErrStopped = errors.New("route pool stopped")
)

// RouteJob asks for the next destination of an idle vehicle and a route to it.
type RouteJob struct {
	VehicleID string
	From      orb.Point
	Trip      routing.TripInfo
	Avoid     []orb.Polygon
}

// RouteResult is the outcome of a RouteJob.
type RouteResult struct {
	VehicleID   string
	Destination orb.Point
	Route       *routing.Route
	Err         error
}

// RoutePoolConfig defines configuration for the RoutePool.
type RoutePoolConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// RoutePool plans routes for idle vehicles on a fixed set of workers.
type RoutePool struct {
	provider     routing.Provider
	destinations routing.DestinationSource
	timeout      time.Duration

	jobs    chan RouteJob
	results chan RouteResult
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once

	inflightMu sync.Mutex
	inflight   map[string]struct{}
	stopped    bool
}

// NewRoutePool returns a pool; call Start to launch the workers.
func NewRoutePool(provider routing.Provider, destinations routing.DestinationSource, cfg RoutePoolConfig) *RoutePool {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RoutePool{
		provider:     provider,
		destinations: destinations,
		timeout:      cfg.Timeout,
		jobs:         make(chan RouteJob, cfg.QueueSize),
		results:      make(chan RouteResult, cfg.QueueSize+cfg.Workers),
		workers:      cfg.Workers,
		ctx:          ctx,
		cancel:       cancel,
		inflight:     make(map[string]struct{}),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *RoutePool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for job := range p.jobs {
					p.handle(job)
				}
			}()
		}
	})
}

// Stop cancels running jobs and waits for the workers to exit.
func (p *RoutePool) Stop() {
	p.stopOnce.Do(func() {
		p.inflightMu.Lock()
		p.stopped = true
		p.inflightMu.Unlock()

		p.cancel()
		close(p.jobs)
		p.wg.Wait()
	})
}

// Dispatch queues job without blocking.
func (p *RoutePool) Dispatch(job RouteJob) error {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.inflight[job.VehicleID]; ok {
		metrics.IncRoutePoolDropped("inflight")
		return fmt.Errorf("vehicle %s: %w", job.VehicleID, ErrInFlight)
	}

	select {
	case p.jobs <- job:
		p.inflight[job.VehicleID] = struct{}{}
		return nil
	default:
		metrics.IncRoutePoolDropped("queue_full")
		return ErrQueueFull
	}
}

// InFlight reports whether vehicleID has a queued or running job.
func (p *RoutePool) InFlight(vehicleID string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	_, ok := p.inflight[vehicleID]
	return ok
}

// Results exposes the result channel.
func (p *RoutePool) Results() <-chan RouteResult { return p.results }

// Drain returns every buffered result without blocking.
func (p *RoutePool) Drain() []RouteResult {
	var out []RouteResult
	for {
		select {
		case r := <-p.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

func (p *RoutePool) handle(job RouteJob) {
	res := RouteResult{VehicleID: job.VehicleID}
	if p.ctx.Err() == nil {
		res.Destination, res.Route, res.Err = p.plan(job)
	} else {
		res.Err = p.ctx.Err()
	}
	p.clearInflight(job.VehicleID)

	if errors.Is(res.Err, context.Canceled) && p.ctx.Err() != nil {
		return
	}
	select {
	case p.results <- res:
	case <-p.ctx.Done():
	}
}

func (p *RoutePool) plan(job RouteJob) (orb.Point, *routing.Route, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	ctx = xglog.ContextWithVehicleID(ctx, job.VehicleID)

	dest, err := p.destinations.NextDestination(ctx, job.Trip)
	if err != nil {
		return orb.Point{}, nil, err
	}
	route, err := p.provider.PlanRoute(ctx, routing.Request{From: job.From, To: dest, Avoid: job.Avoid})
	if err != nil {
		logger := xglog.WithComponentFromContext(ctx, "route_pool")
		logger.Debug().Err(err).Msg("dispatch route planning failed")
		return dest, nil, err
	}
	if err := route.Validate(); err != nil {
		return dest, nil, err
	}
	return dest, route, nil
}

func (p *RoutePool) clearInflight(vehicleID string) {
	p.inflightMu.Lock()
	delete(p.inflight, vehicleID)
	p.inflightMu.Unlock()
}
