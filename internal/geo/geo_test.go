// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = orb.Point{116.397, 39.908}

func TestDistanceOffsetRoundTrip(t *testing.T) {
	p := Offset(origin, 0, 1000)
	assert.InDelta(t, 1000, Distance(origin, p), 5)

	q := Offset(origin, 3000, 4000)
	assert.InDelta(t, 5000, Distance(origin, q), 20)
}

func TestDistanceToSegment(t *testing.T) {
	a := Offset(origin, -500, 0)
	b := Offset(origin, 500, 0)

	above := Offset(origin, 0, 40)
	assert.InDelta(t, 40, DistanceToSegment(above, a, b), 1)

	beyond := Offset(origin, 800, 0)
	assert.InDelta(t, 300, DistanceToSegment(beyond, a, b), 2)
}

func TestDistanceToLine(t *testing.T) {
	line := orb.LineString{Offset(origin, 0, 0), Offset(origin, 100, 0), Offset(origin, 100, 100)}
	p := Offset(origin, 130, 50)
	assert.InDelta(t, 30, DistanceToLine(p, line), 1)

	assert.True(t, math.IsInf(DistanceToLine(p, nil), 1))
	assert.InDelta(t, Distance(p, origin), DistanceToLine(p, orb.LineString{origin}), 1e-9)
}

func TestDensifySpacing(t *testing.T) {
	end := Offset(origin, 0, 1000)
	line := Densify(origin, end, 99.9)
	require.Len(t, line, 11)
	assert.Equal(t, origin, line[0])
	assert.Equal(t, end, line[len(line)-1])
	for i := 1; i < len(line); i++ {
		assert.LessOrEqual(t, Distance(line[i-1], line[i]), 101.0)
	}
	assert.InDelta(t, 1000, Length(line), 5)
}

func TestAvoidAreaContainsPath(t *testing.T) {
	path := orb.LineString{origin, Offset(origin, 200, 50)}
	area := AvoidArea(path, 20)
	require.NotNil(t, area)

	assert.True(t, Inside(Offset(origin, 100, 25), []orb.Polygon{area}))
	assert.False(t, Inside(Offset(origin, 1000, 1000), []orb.Polygon{area}))
	assert.Nil(t, AvoidArea(nil, 10))
}

func TestRandomPointWithinBound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{116.2, 39.8}, Max: orb.Point{116.6, 40.0}}
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		p := RandomPoint(r, b)
		assert.True(t, b.Contains(p))
	}
}

func TestCircleBound(t *testing.T) {
	b := CircleBound(origin, 1000)
	assert.True(t, b.Contains(Offset(origin, 900, 0)))
	assert.True(t, b.Contains(Offset(origin, 0, -900)))
	assert.False(t, b.Contains(Offset(origin, 0, 1500)))
}
