// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker names in use: "reroute" guards detour planning, "route_service"
// guards the HTTP routing backend.
var (
	routeBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_route_breaker_state",
		Help: "Route breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	routeBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_route_breaker_trips_total",
		Help: "Route breaker transitions to open, by cause",
	}, []string{"breaker", "cause"})

	routeBreakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_route_breaker_rejected_total",
		Help: "Route plans refused without calling the backend because the breaker was open",
	}, []string{"breaker"})
)

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetRouteBreakerState records the state of a route breaker.
func SetRouteBreakerState(breaker, state string) {
	routeBreakerState.WithLabelValues(breaker).Set(breakerStateValue(state))
}

// IncRouteBreakerTrip counts a route breaker opening.
func IncRouteBreakerTrip(breaker, cause string) {
	routeBreakerTrips.WithLabelValues(breaker, cause).Inc()
}

// IncRouteBreakerRejected counts a route plan refused by an open breaker.
func IncRouteBreakerRejected(breaker string) {
	routeBreakerRejected.WithLabelValues(breaker).Inc()
}
