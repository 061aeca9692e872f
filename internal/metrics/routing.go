// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_route_requests_total",
		Help: "Route planning requests by provider and result",
	}, []string{"provider", "result"})

	routeCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_route_cache_total",
		Help: "Route cache lookups by result (hit, miss)",
	}, []string{"result"})

	routePoolDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_route_pool_dropped_total",
		Help: "Dispatch jobs rejected by the route worker pool",
	}, []string{"reason"})

	reroutes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_reroutes_total",
		Help: "Reroute outcomes (applied, stale, retry, timeout, exhausted)",
	}, []string{"result"})

	rerouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetsim_reroute_duration_seconds",
		Help:    "Latency of reroute planning requests",
		Buckets: prometheus.DefBuckets,
	})
)

// IncRouteRequest counts a route planning call.
func IncRouteRequest(provider, result string) { routeRequests.WithLabelValues(provider, result).Inc() }

// IncRouteCache counts a route cache lookup.
func IncRouteCache(result string) { routeCache.WithLabelValues(result).Inc() }

// IncRoutePoolDropped counts a rejected dispatch job.
func IncRoutePoolDropped(reason string) { routePoolDropped.WithLabelValues(reason).Inc() }

// IncReroute counts a reroute outcome.
func IncReroute(result string) { reroutes.WithLabelValues(result).Inc() }

// ObserveReroute records reroute latency.
func ObserveReroute(d time.Duration) { rerouteDuration.Observe(d.Seconds()) }
