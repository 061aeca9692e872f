// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/fleetsim/internal/api"
	"github.com/ManuGH/fleetsim/internal/cache"
	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/health"
	"github.com/ManuGH/fleetsim/internal/jobs"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/persistence/sqlite"
	"github.com/ManuGH/fleetsim/internal/routing"
	"github.com/ManuGH/fleetsim/internal/sim/engine"
	"github.com/ManuGH/fleetsim/internal/sim/reroute"
	"github.com/ManuGH/fleetsim/internal/sink"
	"github.com/ManuGH/fleetsim/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Options are the inputs to New besides the configuration itself.
type Options struct {
	Version string
	// Holder enables hot reload of the event table and time windows. Nil
	// runs with a fixed configuration.
	Holder *config.ConfigHolder
}

// App owns every long-lived component of the simulator and their lifecycle.
type App struct {
	cfg          config.Config
	version      string
	logger       zerolog.Logger
	hooks        *hooks
	holder       *config.ConfigHolder
	reloadSignal os.Signal

	engine  *engine.Engine
	planner *reroute.Planner
	pool    *jobs.RoutePool
	store   *sqlite.Store
	hub     *sink.Hub
	fanout  *sink.Fanout
	health  *health.Manager
	api     *api.Server

	mu      sync.Mutex
	started bool
}

// New builds the component graph for cfg and spawns the initial fleet.
// Nothing runs until Run is called. On error every component built so far
// is released.
func New(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	logger := log.WithComponent("daemon")
	a := &App{
		cfg:          cfg,
		version:      opts.Version,
		logger:       logger,
		hooks:        &hooks{logger: logger},
		holder:       opts.Holder,
		reloadSignal: syscall.SIGHUP,
	}
	defer func() {
		if err != nil {
			_ = a.hooks.run(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, opts.Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.hooks.RegisterShutdownHook("telemetry", tp.Shutdown)

	routeCache, err := cache.New(cache.Options{
		Kind:            cfg.Cache.Kind,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
		BadgerPath: cfg.Cache.BadgerPath,
	}, log.WithComponent("cache"))
	if err != nil {
		return nil, fmt.Errorf("route cache: %w", err)
	}
	a.hooks.RegisterShutdownHook("route_cache", closer(routeCache.Close))

	provider, err := routing.New(cfg.Routing, routeCache, log.WithComponent("routing"))
	if err != nil {
		return nil, err
	}

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	destRand := rand.New(rand.NewPCG(seed+1, seed))
	destinations := routing.NewDestinationSource(cfg.Routing, destRand, cfg.Simulation.Bounds.Bound())

	a.pool = jobs.NewRoutePool(provider, destinations, jobs.RoutePoolConfig{
		Workers:   cfg.Routing.Workers,
		QueueSize: cfg.Routing.QueueSize,
		Timeout:   cfg.Routing.Timeout,
	})
	a.pool.Start()
	a.hooks.RegisterShutdownHook("route_pool", stopper(a.pool.Stop))

	a.planner = reroute.New(provider, reroute.Options{
		Timeout:          cfg.Routing.Timeout,
		MaxInFlight:      cfg.Routing.Workers,
		Buffer:           cfg.Routing.QueueSize,
		BreakerThreshold: cfg.Routing.BreakerThreshold,
		BreakerReset:     cfg.Routing.BreakerReset,
	}, log.WithComponent("reroute"))
	a.hooks.RegisterShutdownHook("reroute_planner", stopper(a.planner.Close))

	if err := a.buildSinks(); err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Rerouter:   a.planner,
		Dispatcher: a.pool,
		Positions:  a.fanout,
		Events:     a.fanout,
	}
	if a.store != nil {
		deps.Trips = a.store
	}
	a.engine = engine.New(cfg, deps)

	ids, err := a.engine.SpawnVehicles(cfg.Simulation.Vehicles)
	if err != nil {
		return nil, fmt.Errorf("spawn vehicles: %w", err)
	}
	logger.Info().Str(log.FieldEvent, "fleet.spawned").Int("vehicles", len(ids)).Msg("fleet ready")

	a.health = health.NewManager(opts.Version)
	a.health.RegisterChecker(health.NewTickChecker(a.engine.LastTick, cfg.Simulation.LoopInterval))
	a.health.RegisterChecker(health.NewBreakerChecker("reroute_planner", a.planner.Breaker()))
	if cp, ok := provider.(*routing.CachedProvider); ok {
		if hp, ok := cp.Inner().(*routing.HTTPProvider); ok {
			a.health.RegisterChecker(health.NewBreakerChecker("routing_backend", hp.Breaker()))
		}
	}

	if cfg.API.Enabled {
		if a.api, err = a.buildAPI(); err != nil {
			return nil, err
		}
	}

	if a.holder != nil {
		a.hooks.RegisterShutdownHook("config_watcher", stopper(a.holder.Stop))
	}
	return a, nil
}

// buildSinks assembles the fanout every position and event transition is
// pushed through. The history store is part of the fanout when enabled.
func (a *App) buildSinks() error {
	sc := a.cfg.Sinks
	a.fanout = sink.NewFanout()
	var names []string
	add := func(s sink.Sink) {
		a.fanout.Add(s)
		names = append(names, s.Name())
	}
	if sc.Log {
		add(sink.NewLog(log.WithComponent("sink")))
	}

	if a.cfg.Store.Path != "" {
		store, err := sqlite.New(a.cfg.Store)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		a.store = store
		add(store)
		a.hooks.RegisterShutdownHook("history_store", closer(store.Close))
	}

	if sc.MQTT.Enabled {
		m, err := sink.NewMQTT(sc.MQTT)
		if err != nil {
			// The simulation is still useful without a broker.
			a.logger.Warn().Err(err).Str(log.FieldEvent, "mqtt.unavailable").Msg("mqtt sink disabled")
		} else {
			add(m)
			a.hooks.RegisterShutdownHook("mqtt", stopper(m.Close))
		}
	}

	if sc.WebSocket.Enabled {
		a.hub = sink.NewHub(sc.WebSocket.BufferSize)
		add(a.hub)
		a.hooks.RegisterShutdownHook("websocket_hub", stopper(a.hub.Close))
	}

	a.logger.Info().Str(log.FieldEvent, "sinks.ready").Strs("sinks", names).Msg("output sinks ready")
	return nil
}

func (a *App) buildAPI() (*api.Server, error) {
	deps := api.Deps{
		Sim:     a.engine,
		Health:  a.health,
		Metrics: promhttp.Handler(),
	}
	if a.store != nil {
		deps.History = a.store
	}
	if a.hub != nil {
		deps.Stream = a.hub
		deps.StreamPath = a.cfg.Sinks.WebSocket.Path
	}
	if a.cfg.Telemetry.Enabled {
		deps.TracingService = a.cfg.Telemetry.ServiceName
	}
	return api.New(a.cfg.API, deps)
}

// Engine returns the simulation engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the API handler, or nil when the API is disabled.
func (a *App) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// RegisterShutdownHook adds a cleanup function run after the App stops.
// Hooks run in reverse registration order.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.hooks.RegisterShutdownHook(name, hook)
}

// Run starts the simulation loop, the API server, the config watcher and
// the reload signal handler, and blocks until ctx is cancelled or one of
// them fails. Every component is released before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	a.logger.Info().
		Str(log.FieldEvent, "daemon.start").
		Str("version", a.version).
		Bool("api", a.api != nil).
		Bool("history", a.store != nil).
		Msg("starting fleetsim")

	g, gctx := errgroup.WithContext(ctx)

	if a.holder != nil {
		a.watchConfig(gctx, g)
	}

	g.Go(func() error { return a.engine.Run(gctx) })

	if a.api != nil {
		g.Go(func() error { return a.api.ListenAndServe(gctx) })
	}

	err := g.Wait()
	if err != nil {
		a.logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("component failed, shutting down")
	}

	// Detached but bounded so cleanup completes after the parent is cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if herr := a.Close(shutdownCtx); herr != nil {
		err = errors.Join(err, herr)
	}
	a.logger.Info().Str(log.FieldEvent, "daemon.stop").Msg("fleetsim stopped")
	return err
}

// Close releases every component. It is called by Run and only needs to be
// called directly for an App that was never run.
func (a *App) Close(ctx context.Context) error {
	return a.hooks.run(ctx)
}

// watchConfig wires file changes and the reload signal to the engine and
// the logger. A watcher that cannot start is logged and skipped.
func (a *App) watchConfig(ctx context.Context, g *errgroup.Group) {
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	engineCh := make(chan config.Config, 1)
	logCh := make(chan config.Config, 1)
	a.holder.RegisterListener(engineCh)
	a.holder.RegisterListener(logCh)

	g.Go(func() error {
		a.engine.ListenConfig(ctx, engineCh)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-logCh:
				log.Reconfigure(log.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: a.version})
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.logger.Info().
					Str(log.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")

				if err := a.holder.Reload(ctx); err != nil {
					a.logger.Warn().
						Err(err).
						Str(log.FieldEvent, "config.reload_failed").
						Msg("config reload failed")
				}
			}
		}
	})
}
