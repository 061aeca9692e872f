// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package animation advances vehicles along their paths at a rate scaled by
// their resolved speed factor.
package animation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
)

// State is the per-vehicle animation state.
type State int

const (
	Idle State = iota
	Animating
	Paused
	Completed
)

var stateNames = [...]string{"idle", "animating", "paused", "completed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrBusy is returned by Start for a vehicle that is still animating or paused.
var ErrBusy = errors.New("animation already running")

// ErrEmptyPath is returned when a path has no points.
var ErrEmptyPath = errors.New("animation path is empty")

// Callbacks connect the scheduler to the simulation. They run synchronously
// inside Tick and must not call back into the Scheduler.
type Callbacks struct {
	// Speed returns the current speed factor for a vehicle; <= 0 pauses it.
	Speed func(id string) float64
	// Cross is invoked for every index passed in a tick, in order, before
	// the position is written. Returning true halts the vehicle at index.
	Cross func(id string, index int, p orb.Point) bool
	// Moved is invoked for every committed index and is never batched.
	Moved func(id string, index int, p orb.Point)
	// Position receives position writes. These are batched while
	// interacting.
	Position func(id string, index int, p orb.Point)
	// Complete is invoked once when the final index is reached.
	Complete func(id string)
}

type track struct {
	path       orb.LineString
	index      int
	state      State
	last       time.Time
	autoPaused bool
	// paused is an explicit pause. It holds regardless of speed.
	paused bool
}

type pendingWrite struct {
	index int
	p     orb.Point
}

// Scheduler is not safe for concurrent use.
type Scheduler struct {
	base        time.Duration
	cb          Callbacks
	tracks      map[string]*track
	interacting bool
	pending     map[string]pendingWrite
}

// New returns a scheduler that advances one path index per base duration
// at speed factor 1.
func New(base time.Duration, cb Callbacks) *Scheduler {
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	if cb.Speed == nil {
		cb.Speed = func(string) float64 { return 1 }
	}
	if cb.Cross == nil {
		cb.Cross = func(string, int, orb.Point) bool { return false }
	}
	if cb.Moved == nil {
		cb.Moved = func(string, int, orb.Point) {}
	}
	if cb.Position == nil {
		cb.Position = func(string, int, orb.Point) {}
	}
	if cb.Complete == nil {
		cb.Complete = func(string) {}
	}
	return &Scheduler{
		base:    base,
		cb:      cb,
		tracks:  make(map[string]*track),
		pending: make(map[string]pendingWrite),
	}
}

// SetBase changes the base tick duration for subsequent ticks.
func (s *Scheduler) SetBase(base time.Duration) {
	if base > 0 {
		s.base = base
	}
}

// Start begins animating id along path from index 0. Only an unknown, Idle
// or Completed vehicle can be started.
func (s *Scheduler) Start(id string, path orb.LineString, now time.Time) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	if t, ok := s.tracks[id]; ok && (t.state == Animating || t.state == Paused) {
		return fmt.Errorf("start %s: %w", id, ErrBusy)
	}
	s.tracks[id] = &track{path: path, state: Animating, last: now}
	s.write(id, 0, path[0])
	return nil
}

// Replace swaps in a new path for a running or paused vehicle, typically
// after a reroute, and resumes animation from its first point.
func (s *Scheduler) Replace(id string, path orb.LineString, now time.Time) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	t, ok := s.tracks[id]
	if !ok || t.state == Completed || t.state == Idle {
		return s.Start(id, path, now)
	}
	t.path = path
	t.index = 0
	t.state = Animating
	if t.paused {
		t.state = Paused
	}
	t.autoPaused = false
	t.last = now
	s.write(id, 0, path[0])
	return nil
}

// Stop discards the animation state of id. Calling it twice is a no-op.
func (s *Scheduler) Stop(id string) {
	delete(s.tracks, id)
	delete(s.pending, id)
}

// Pause suspends id regardless of its speed factor. A vehicle already
// paused by a zero speed factor is held until Resume even if its speed
// recovers.
func (s *Scheduler) Pause(id string) bool {
	t, ok := s.tracks[id]
	if !ok || t.paused {
		return false
	}
	if t.state != Animating && !(t.state == Paused && t.autoPaused) {
		return false
	}
	t.state = Paused
	t.paused = true
	return true
}

// Resume lifts an explicit pause. The elapsed-time baseline is reset so
// the pause does not turn into a burst of movement. A vehicle whose speed
// is still zero stays auto-paused.
func (s *Scheduler) Resume(id string, now time.Time) bool {
	t, ok := s.tracks[id]
	if !ok || !t.paused {
		return false
	}
	t.paused = false
	t.last = now
	if !t.autoPaused {
		t.state = Animating
	}
	return true
}

// PauseAll pauses every animating vehicle and returns how many were paused.
func (s *Scheduler) PauseAll() int {
	n := 0
	for id := range s.tracks {
		if s.Pause(id) {
			n++
		}
	}
	return n
}

// ResumeAll resumes every paused vehicle.
func (s *Scheduler) ResumeAll(now time.Time) int {
	n := 0
	for id := range s.tracks {
		if s.Resume(id, now) {
			n++
		}
	}
	return n
}

// SetInteracting toggles write batching. While on, only the latest position
// per vehicle is kept; turning it off flushes those in id order.
func (s *Scheduler) SetInteracting(on bool) {
	if s.interacting == on {
		return
	}
	s.interacting = on
	if on {
		return
	}
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		w := s.pending[id]
		s.cb.Position(id, w.index, w.p)
	}
	clear(s.pending)
}

// Interacting reports whether writes are being batched.
func (s *Scheduler) Interacting() bool { return s.interacting }

// State returns the animation state of id.
func (s *Scheduler) State(id string) (State, bool) {
	t, ok := s.tracks[id]
	if !ok {
		return Idle, false
	}
	return t.state, true
}

// Index returns the current path index of id, or -1.
func (s *Scheduler) Index(id string) int {
	t, ok := s.tracks[id]
	if !ok {
		return -1
	}
	return t.index
}

func (s *Scheduler) write(id string, index int, p orb.Point) {
	s.cb.Moved(id, index, p)
	if s.interacting {
		s.pending[id] = pendingWrite{index: index, p: p}
		return
	}
	s.cb.Position(id, index, p)
}

// Tick advances every animating vehicle by the frames elapsed since its
// last update. Vehicles are visited in id order.
func (s *Scheduler) Tick(now time.Time) {
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var done []string
	for _, id := range ids {
		t := s.tracks[id]
		if s.step(id, t, now) {
			done = append(done, id)
		}
	}
	for _, id := range done {
		s.cb.Complete(id)
	}
}

// TickOne advances a single vehicle. It reports whether the vehicle
// completed its path in this call.
func (s *Scheduler) TickOne(id string, now time.Time) bool {
	t, ok := s.tracks[id]
	if !ok {
		return false
	}
	if s.step(id, t, now) {
		s.cb.Complete(id)
		return true
	}
	return false
}

func (s *Scheduler) step(id string, t *track, now time.Time) bool {
	if t.paused {
		return false
	}
	switch {
	case t.state == Animating:
	case t.state == Paused && t.autoPaused:
	default:
		return false
	}

	last := len(t.path) - 1
	if t.index >= last {
		t.state = Completed
		return true
	}

	sf := s.cb.Speed(id)
	if sf <= 0 {
		t.state = Paused
		t.autoPaused = true
		return false
	}
	if t.autoPaused {
		t.state = Animating
		t.autoPaused = false
		t.last = now
		return false
	}

	interval := time.Duration(float64(s.base) / sf)
	if interval <= 0 {
		interval = 1
	}
	elapsed := now.Sub(t.last)
	frames := int(elapsed / interval)
	if frames <= 0 {
		return false
	}

	target := t.index + frames
	if target > last {
		target = last
	}
	halted := false
	for i := t.index + 1; i <= target; i++ {
		if s.cb.Cross(id, i, t.path[i]) {
			target = i
			halted = true
			break
		}
	}

	t.index = target
	if halted {
		t.last = now
	} else {
		t.last = t.last.Add(time.Duration(frames) * interval)
	}
	s.write(id, t.index, t.path[t.index])

	if t.index >= last {
		t.state = Completed
		return true
	}
	return false
}
