// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestRouteToPath_FlattensStepsInOrder(t *testing.T) {
	r := &Route{Steps: []Step{
		{Path: orb.LineString{{1, 1}, {2, 2}}},
		{Path: orb.LineString{{2, 2}, {3, 3}, {4, 4}}},
	}}
	assert.Equal(t, orb.LineString{{1, 1}, {2, 2}, {2, 2}, {3, 3}, {4, 4}}, RouteToPath(r))
	assert.Nil(t, RouteToPath(nil))
}

func TestRoute_Validate(t *testing.T) {
	ok := &Route{Distance: 10, Steps: []Step{{Path: orb.LineString{{1, 1}, {2, 2}}}}}
	assert.NoError(t, ok.Validate())

	cases := map[string]*Route{
		"nil":          nil,
		"no steps":     {Distance: 10},
		"nan distance": {Distance: math.NaN(), Steps: ok.Steps},
		"single point": {Distance: 0, Steps: []Step{{Path: orb.LineString{{1, 1}}}}},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, r.Validate(), ErrRouteUnavailable)
		})
	}
}
