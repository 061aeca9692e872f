// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"fmt"
	"math"
	"time"
)

// TimeState is the discrete time-of-day bucket used to bias event generation.
type TimeState uint8

const (
	Day TimeState = iota
	Night
	MorningPeak
	EveningPeak
)

var timeStateNames = [...]string{
	Day:         "day",
	Night:       "night",
	MorningPeak: "morning_peak",
	EveningPeak: "evening_peak",
}

func (s TimeState) String() string {
	if int(s) < len(timeStateNames) {
		return timeStateNames[s]
	}
	return fmt.Sprintf("TimeState(%d)", uint8(s))
}

// MarshalText renders the state name in JSON payloads.
func (s TimeState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TimeState) UnmarshalText(b []byte) error {
	for i, name := range timeStateNames {
		if name == string(b) {
			*s = TimeState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown time state %q", b)
}

// IsPeak reports whether s is one of the rush-hour windows.
func (s TimeState) IsPeak() bool { return s == MorningPeak || s == EveningPeak }

// Window is a half-open interval of decimal hours [Start, End).
type Window struct {
	Start float64 `yaml:"start" json:"start"`
	End   float64 `yaml:"end" json:"end"`
}

func (w Window) contains(hour float64) bool { return hour >= w.Start && hour < w.End }

// Windows configures the time-of-day buckets. Night wraps past midnight.
type Windows struct {
	Night       Window `yaml:"night" json:"night"`
	MorningPeak Window `yaml:"morning_peak" json:"morning_peak"`
	EveningPeak Window `yaml:"evening_peak" json:"evening_peak"`
}

// DefaultWindows returns night 19-6, morning peak 8-9.5, evening peak 17.5-19.
func DefaultWindows() Windows {
	return Windows{
		Night:       Window{Start: 19, End: 6},
		MorningPeak: Window{Start: 8, End: 9.5},
		EveningPeak: Window{Start: 17.5, End: 19},
	}
}

// StateAt maps a decimal hour in [0,24) to exactly one state. Night is checked
// first, then the morning peak, then the evening peak.
func StateAt(hour float64, w Windows) TimeState {
	hour = math.Mod(hour, 24)
	if hour < 0 {
		hour += 24
	}
	if hour >= w.Night.Start || hour < w.Night.End {
		return Night
	}
	if w.MorningPeak.contains(hour) {
		return MorningPeak
	}
	if w.EveningPeak.contains(hour) {
		return EveningPeak
	}
	return Day
}

// SpeedFactors scale every vehicle's nominal rate by time of day.
type SpeedFactors struct {
	Peak  float64 `yaml:"peak" json:"peak"`
	Night float64 `yaml:"night" json:"night"`
	Day   float64 `yaml:"day" json:"day"`
}

// DefaultSpeedFactors returns peak 0.9, night 0.8, day 1.0.
func DefaultSpeedFactors() SpeedFactors {
	return SpeedFactors{Peak: 0.9, Night: 0.8, Day: 1.0}
}

// For returns the factor for state s.
func (f SpeedFactors) For(s TimeState) float64 {
	switch {
	case s.IsPeak():
		return f.Peak
	case s == Night:
		return f.Night
	default:
		return f.Day
	}
}

// Info is a read-only view of the simulated clock.
type Info struct {
	Formatted        string    `json:"formatted"`
	Hour             float64   `json:"hour"`
	State            TimeState `json:"state"`
	ElapsedSimulated string    `json:"elapsed_simulated"`
	Multiplier       float64   `json:"multiplier"`
}

// SimClock integrates wall time into accelerated simulated time. It is owned
// by the engine tick and is not safe for concurrent use.
type SimClock struct {
	multiplier float64
	startHour  float64
	windows    Windows
	interval   time.Duration

	elapsed    time.Duration
	lastUpdate time.Time
	state      TimeState
}

// NewSimClock returns a clock that runs multiplier times faster than wall
// time, starting at startHour. Update calls closer together than interval
// are ignored.
func NewSimClock(multiplier, startHour float64, windows Windows, interval time.Duration) *SimClock {
	if multiplier <= 0 {
		multiplier = 1
	}
	c := &SimClock{
		multiplier: multiplier,
		startHour:  startHour,
		windows:    windows,
		interval:   interval,
	}
	c.state = StateAt(c.Hour(), windows)
	return c
}

// Advance integrates wallDelta of real time and recomputes the state.
func (c *SimClock) Advance(wallDelta time.Duration) {
	if wallDelta <= 0 {
		return
	}
	c.elapsed += time.Duration(float64(wallDelta) * c.multiplier)
	c.state = StateAt(c.Hour(), c.windows)
}

// Update advances by the wall time since the previous accepted update. The
// first call only records the baseline. It reports whether time moved.
func (c *SimClock) Update(now time.Time) bool {
	if c.lastUpdate.IsZero() {
		c.lastUpdate = now
		return false
	}
	delta := now.Sub(c.lastUpdate)
	if delta < c.interval {
		return false
	}
	c.lastUpdate = now
	c.Advance(delta)
	return true
}

// Hour returns the simulated hour of day as a decimal in [0,24).
func (c *SimClock) Hour() float64 {
	return math.Mod(c.startHour+c.elapsed.Hours(), 24)
}

// CurrentState returns the state derived at the last advance.
func (c *SimClock) CurrentState() TimeState { return c.state }

// Elapsed returns the total simulated time.
func (c *SimClock) Elapsed() time.Duration { return c.elapsed }

// SetWindows swaps the window configuration (config reload).
func (c *SimClock) SetWindows(w Windows) {
	c.windows = w
	c.state = StateAt(c.Hour(), w)
}

// Formatted renders the simulated time as HH:MM.
func (c *SimClock) Formatted() string {
	total := int(c.Hour()*60+1e-6) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Info returns a snapshot for API consumers.
func (c *SimClock) Info() Info {
	return Info{
		Formatted:        c.Formatted(),
		Hour:             c.Hour(),
		State:            c.state,
		ElapsedSimulated: c.elapsed.Truncate(time.Second).String(),
		Multiplier:       c.multiplier,
	}
}
