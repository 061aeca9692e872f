// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sink delivers vehicle positions and event lifecycle
// notifications to external consumers (logs, WebSocket clients, MQTT).
package sink

import (
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// Sink receives simulation output. Implementations are called on the tick
// goroutine and must not block.
type Sink interface {
	Name() string
	SetVehiclePosition(id string, p orb.Point)
	OnEventCreated(ev event.View)
	OnEventExpired(ev event.View)
}

// Fanout forwards every call to each sink in order. A panicking sink is
// counted and skipped; the others still receive the call.
type Fanout struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: log.WithComponent("sink")}
}

// Add appends s.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) SetVehiclePosition(id string, p orb.Point) {
	for _, s := range f.sinks {
		f.call(s, func() { s.SetVehiclePosition(id, p) })
	}
}

func (f *Fanout) OnEventCreated(ev event.View) {
	for _, s := range f.sinks {
		f.call(s, func() { s.OnEventCreated(ev) })
	}
}

func (f *Fanout) OnEventExpired(ev event.View) {
	for _, s := range f.sinks {
		f.call(s, func() { s.OnEventExpired(ev) })
	}
}

func (f *Fanout) call(s Sink, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncSinkError(s.Name())
			f.logger.Error().
				Str(log.FieldEvent, "sink.panic").
				Str(log.FieldSink, s.Name()).
				Interface("panic", r).
				Msg("sink panicked")
		}
	}()
	fn()
}
