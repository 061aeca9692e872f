// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// Log writes positions at trace level and event lifecycle at info.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) SetVehiclePosition(id string, p orb.Point) {
	l.logger.Trace().
		Str(log.FieldEvent, "vehicle.position").
		Str(log.FieldVehicleID, id).
		Float64("lon", p.Lon()).
		Float64("lat", p.Lat()).
		Msg("position")
}

func (l *Log) OnEventCreated(ev event.View) { l.event("event.created", ev) }

func (l *Log) OnEventExpired(ev event.View) { l.event("event.expired", ev) }

func (l *Log) event(name string, ev event.View) {
	l.logger.Info().
		Str(log.FieldEvent, name).
		Str(log.FieldEventID, ev.ID).
		Str(log.FieldKind, ev.Kind.String()).
		Str(log.FieldSeverity, ev.Severity.String()).
		Str(log.FieldVehicleID, ev.VehicleID).
		Time("expires_at", ev.ExpiresAt).
		Msg(name)
}
