// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

import "fmt"

// Kind tags the variant a SimEvent carries.
type Kind int

const (
	Weather Kind = iota
	Accident
	TrafficJam
	RoadClosure
	Special
)

var kindNames = [...]string{"weather", "accident", "traffic_jam", "road_closure", "special"}

// kindPriority is the fixed precedence used when effects compete.
var kindPriority = [...]int{
	Weather:     1,
	TrafficJam:  2,
	Special:     3,
	RoadClosure: 4,
	Accident:    5,
}

// Kinds lists every kind in declared order.
func Kinds() []Kind {
	return []Kind{Weather, Accident, TrafficJam, RoadClosure, Special}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Priority returns the composition priority: Accident 5, RoadClosure 4,
// Special 3, TrafficJam 2, Weather 1.
func (k Kind) Priority() int {
	if k < 0 || int(k) >= len(kindPriority) {
		return 0
	}
	return kindPriority[k]
}

// Anchored reports whether events of this kind are tied to one vehicle's path.
func (k Kind) Anchored() bool {
	return k == Accident || k == TrafficJam || k == RoadClosure
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Severity is an ordinal disruption level.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

var severityNames = [...]string{"low", "medium", "high", "critical"}

// severityFactors is the intensity table; it never changes at runtime.
var severityFactors = [...]float64{0.5, 0.7, 0.85, 1.0}

// Severities lists every severity in declared order.
func Severities() []Severity { return []Severity{Low, Medium, High, Critical} }

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(str string) (Severity, error) {
	for i, n := range severityNames {
		if n == str {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", str)
}

// SeverityFactor maps a severity to its intensity: 0.5, 0.7, 0.85, 1.0.
// Out-of-range values fall back to the Low factor.
func SeverityFactor(s Severity) float64 {
	if s < 0 || int(s) >= len(severityFactors) {
		return severityFactors[Low]
	}
	return severityFactors[s]
}
