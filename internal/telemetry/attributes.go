// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the simulator.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	VehicleIDKey = "vehicle.id"
	LegSeqKey    = "vehicle.leg_seq"

	EventIDKey       = "event.id"
	EventKindKey     = "event.kind"
	EventSeverityKey = "event.severity"

	RouteProviderKey = "route.provider"
	RoutePointsKey   = "route.points"
	RouteAvoidKey    = "route.avoid_areas"
	RouteAttemptKey  = "route.attempt"
	RouteOutcomeKey  = "route.outcome"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// RerouteAttributes describes a reroute request. Empty ids are omitted.
func RerouteAttributes(vehicleID, eventID string, legSeq, attempt, avoid int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if vehicleID != "" {
		attrs = append(attrs, attribute.String(VehicleIDKey, vehicleID))
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String(EventIDKey, eventID))
	}
	return append(attrs,
		attribute.Int(LegSeqKey, legSeq),
		attribute.Int(RouteAttemptKey, attempt),
		attribute.Int(RouteAvoidKey, avoid),
	)
}

// EventAttributes creates event-related span attributes.
func EventAttributes(id, kind, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventIDKey, id),
		attribute.String(EventKindKey, kind),
		attribute.String(EventSeverityKey, severity),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
