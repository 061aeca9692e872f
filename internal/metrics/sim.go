// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics owns the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_events_active",
		Help: "Currently active disruption events by kind",
	}, []string{"kind"})

	eventsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_events_generated_total",
		Help: "Disruption events created by the event factory",
	}, []string{"kind", "severity"})

	eventsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_events_expired_total",
		Help: "Disruption events removed by the expiry sweep",
	}, []string{"kind"})

	placementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_placement_failures_total",
		Help: "Event generations skipped because no valid placement was found",
	}, []string{"kind"})

	triggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_triggers_total",
		Help: "Trigger points reached by vehicles",
	}, []string{"kind"})

	vehicles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_vehicles",
		Help: "Vehicles by status",
	}, []string{"status"})

	vehicleStepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetsim_vehicle_step_failures_total",
		Help: "Per-vehicle tick steps that failed and were isolated",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetsim_tick_duration_seconds",
		Help:    "Wall time spent in one unified simulation tick",
		Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	tripsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetsim_trips_completed_total",
		Help: "Vehicle trips that reached their destination",
	})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_sink_errors_total",
		Help: "Notification sink failures (isolated from the simulation)",
	}, []string{"sink"})
)

// SetEventsActive records the active event count for a kind.
func SetEventsActive(kind string, n int) { eventsActive.WithLabelValues(kind).Set(float64(n)) }

// IncEventGenerated counts a newly created event.
func IncEventGenerated(kind, severity string) { eventsGenerated.WithLabelValues(kind, severity).Inc() }

// IncEventExpired counts an event removed by the sweep.
func IncEventExpired(kind string) { eventsExpired.WithLabelValues(kind).Inc() }

// IncPlacementFailure counts a skipped generation.
func IncPlacementFailure(kind string) { placementFailures.WithLabelValues(kind).Inc() }

// IncTrigger counts a trigger point firing.
func IncTrigger(kind string) { triggers.WithLabelValues(kind).Inc() }

// SetVehicles records the vehicle count for a status.
func SetVehicles(status string, n int) { vehicles.WithLabelValues(status).Set(float64(n)) }

// IncVehicleStepFailure counts an isolated per-vehicle failure.
func IncVehicleStepFailure() { vehicleStepFailures.Inc() }

// ObserveTick records the duration of a simulation tick.
func ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

// IncTripCompleted counts a finished trip.
func IncTripCompleted() { tripsCompleted.Inc() }

// IncSinkError counts a failed notification.
func IncSinkError(sink string) { sinkErrors.WithLabelValues(sink).Inc() }
