// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldVehicleID = "vehicle_id"
	FieldEventID   = "event_id"
	FieldTripID    = "trip_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Simulation fields
	FieldKind        = "kind"
	FieldSeverity    = "severity"
	FieldTimeState   = "time_state"
	FieldSpeedFactor = "speed_factor"
	FieldPathIndex   = "path_index"
	FieldAttempt     = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transport fields
	FieldProvider = "provider"
	FieldSink     = "sink"
	FieldAddr     = "addr"
)
