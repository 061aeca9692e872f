// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package animation

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func line(n int) orb.LineString {
	ls := make(orb.LineString, n)
	for i := range ls {
		ls[i] = orb.Point{116.3 + float64(i)*0.0001, 39.9}
	}
	return ls
}

type recorder struct {
	speed     float64
	haltAt    int
	crossed   []int
	positions []int
	moved     []int
	completed []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Speed: func(string) float64 { return r.speed },
		Cross: func(_ string, idx int, _ orb.Point) bool {
			r.crossed = append(r.crossed, idx)
			return idx == r.haltAt
		},
		Moved: func(_ string, idx int, _ orb.Point) {
			r.moved = append(r.moved, idx)
		},
		Position: func(_ string, idx int, _ orb.Point) {
			r.positions = append(r.positions, idx)
		},
		Complete: func(id string) { r.completed = append(r.completed, id) },
	}
}

func TestScheduler_FramesScaleWithSpeed(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))

	s.Tick(t0.Add(100 * time.Millisecond))
	assert.Equal(t, 5, s.Index("v1"))

	r.speed = 0.5
	s.Tick(t0.Add(180 * time.Millisecond))
	assert.Equal(t, 7, s.Index("v1"), "half speed advances one index per 40ms")
}

func TestScheduler_FrameSkipStillChecksEveryIndex(t *testing.T) {
	r := &recorder{speed: 1, haltAt: 7}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))

	// A long stall would jump 25 indices; the trigger at 7 must still fire.
	s.Tick(t0.Add(500 * time.Millisecond))

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, r.crossed)
	assert.Equal(t, 7, s.Index("v1"))
	assert.Equal(t, []int{0, 7}, r.positions, "no position past the trigger is written")
}

func TestScheduler_AutoPauseAtZeroSpeed(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))

	r.speed = 0
	s.Tick(t0.Add(time.Second))
	st, _ := s.State("v1")
	assert.Equal(t, Paused, st)
	assert.Equal(t, 0, s.Index("v1"))

	r.speed = 1
	resumeAt := t0.Add(10 * time.Second)
	s.Tick(resumeAt)
	st, _ = s.State("v1")
	assert.Equal(t, Animating, st)
	assert.Equal(t, 0, s.Index("v1"), "resume resets the baseline without moving")

	s.Tick(resumeAt.Add(40 * time.Millisecond))
	assert.Equal(t, 2, s.Index("v1"))
}

func TestScheduler_CompletesOnce(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(5), t0))

	s.Tick(t0.Add(time.Second))
	s.Tick(t0.Add(2 * time.Second))

	assert.Equal(t, []string{"v1"}, r.completed)
	st, ok := s.State("v1")
	require.True(t, ok)
	assert.Equal(t, Completed, st)
	assert.Equal(t, 4, s.Index("v1"))
}

func TestScheduler_StartTransitions(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())

	assert.ErrorIs(t, s.Start("v1", nil, t0), ErrEmptyPath)
	require.NoError(t, s.Start("v1", line(3), t0))
	assert.ErrorIs(t, s.Start("v1", line(3), t0), ErrBusy)

	s.Tick(t0.Add(time.Second))
	require.NoError(t, s.Start("v1", line(3), t0.Add(time.Second)), "completed vehicles can start again")
}

func TestScheduler_ReplaceRestartsPath(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(50), t0))
	s.Tick(t0.Add(200 * time.Millisecond))
	require.Equal(t, 10, s.Index("v1"))

	require.NoError(t, s.Replace("v1", line(30), t0.Add(200*time.Millisecond)))
	assert.Equal(t, 0, s.Index("v1"))
	s.Tick(t0.Add(240 * time.Millisecond))
	assert.Equal(t, 2, s.Index("v1"))
}

func TestScheduler_PauseResumeResetsBaseline(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))
	require.NoError(t, s.Start("v2", line(100), t0))

	assert.Equal(t, 2, s.PauseAll())
	s.Tick(t0.Add(time.Second))
	assert.Equal(t, 0, s.Index("v1"))

	assert.Equal(t, 2, s.ResumeAll(t0.Add(time.Minute)))
	s.Tick(t0.Add(time.Minute + 20*time.Millisecond))
	assert.Equal(t, 1, s.Index("v1"))
	assert.Equal(t, 1, s.Index("v2"))

	assert.False(t, s.Resume("v1", t0), "not paused")
}

func TestScheduler_InteractionBatchesWrites(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))
	r.positions = nil

	s.SetInteracting(true)
	s.Tick(t0.Add(20 * time.Millisecond))
	s.Tick(t0.Add(60 * time.Millisecond))
	assert.Empty(t, r.positions)

	s.SetInteracting(false)
	assert.Equal(t, []int{3}, r.positions)
}

func TestScheduler_InteractionKeepsStateCurrent(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(100), t0))
	r.moved = nil

	s.SetInteracting(true)
	s.Tick(t0.Add(20 * time.Millisecond))
	s.Tick(t0.Add(60 * time.Millisecond))

	assert.Equal(t, []int{1, 3}, r.moved)
	assert.Equal(t, []int{0}, r.positions, "only the start write reached the sink")
}

func TestScheduler_PauseHoldsAutoPausedVehicle(t *testing.T) {
	r := &recorder{speed: 0, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(5), t0))

	s.Tick(t0.Add(20 * time.Millisecond))
	st, _ := s.State("v1")
	require.Equal(t, Paused, st)

	assert.True(t, s.Pause("v1"))
	assert.False(t, s.Pause("v1"), "already paused")

	r.speed = 1
	for i := 2; i <= 6; i++ {
		s.Tick(t0.Add(time.Duration(i) * 20 * time.Millisecond))
	}
	st, _ = s.State("v1")
	assert.Equal(t, Paused, st)
	assert.Equal(t, 0, s.Index("v1"))
	assert.Empty(t, r.completed)

	resumeAt := t0.Add(time.Second)
	assert.True(t, s.Resume("v1", resumeAt))
	s.Tick(resumeAt)
	s.Tick(resumeAt.Add(40 * time.Millisecond))
	assert.Equal(t, 2, s.Index("v1"))
}

func TestScheduler_ResumeAtZeroSpeedStaysAutoPaused(t *testing.T) {
	r := &recorder{speed: 1, haltAt: -1}
	s := New(20*time.Millisecond, r.callbacks())
	require.NoError(t, s.Start("v1", line(50), t0))
	require.True(t, s.Pause("v1"))

	r.speed = 0
	s.Tick(t0.Add(time.Second))
	require.True(t, s.Resume("v1", t0.Add(time.Second)))
	s.Tick(t0.Add(2 * time.Second))

	st, _ := s.State("v1")
	assert.Equal(t, Paused, st)
	assert.Equal(t, 0, s.Index("v1"))
	assert.False(t, s.Resume("v1", t0.Add(2*time.Second)), "no explicit pause left to lift")
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := New(20*time.Millisecond, Callbacks{})
	require.NoError(t, s.Start("v1", line(10), t0))
	s.Stop("v1")
	s.Stop("v1")
	_, ok := s.State("v1")
	assert.False(t, ok)
	assert.Equal(t, -1, s.Index("v1"))
	s.Tick(t0.Add(time.Second))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "animating", Animating.String())
	assert.Equal(t, "state(9)", State(9).String())
}
