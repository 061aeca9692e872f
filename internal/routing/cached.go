// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/fleetsim/internal/cache"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CachedProvider memoises routes of an inner provider and collapses
// concurrent identical requests into one call.
type CachedProvider struct {
	inner  Provider
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachedProvider wraps inner. A non-positive ttl disables caching but
// keeps request collapsing.
func NewCachedProvider(inner Provider, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &CachedProvider{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (p *CachedProvider) Name() string { return p.inner.Name() }

// Inner returns the wrapped provider.
func (p *CachedProvider) Inner() Provider { return p.inner }

// PlanRoute implements Provider.
func (p *CachedProvider) PlanRoute(ctx context.Context, req Request) (*Route, error) {
	key := CacheKey(req)
	if p.ttl > 0 {
		if raw, ok := p.cache.Get(ctx, key); ok {
			var r Route
			if err := json.Unmarshal(raw, &r); err == nil {
				metrics.IncRouteCache("hit")
				return &r, nil
			}
			p.logger.Warn().Str("key", key).Msg("discarding undecodable cached route")
			p.cache.Delete(ctx, key)
		}
		metrics.IncRouteCache("miss")
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		r, err := p.inner.PlanRoute(ctx, req)
		if err != nil {
			return nil, err
		}
		if p.ttl > 0 {
			if raw, err := json.Marshal(r); err == nil {
				p.cache.Set(ctx, key, raw, p.ttl)
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRoute(v.(*Route)), nil
}

// CacheKey derives a stable key from the request, rounding coordinates to
// about a meter.
func CacheKey(req Request) string {
	h := sha256.New()
	writePoint := func(pt orb.Point) {
		h.Write([]byte(strconv.FormatFloat(pt[0], 'f', 5, 64)))
		h.Write([]byte{','})
		h.Write([]byte(strconv.FormatFloat(pt[1], 'f', 5, 64)))
		h.Write([]byte{';'})
	}
	writePoint(req.From)
	writePoint(req.To)
	for _, poly := range req.Avoid {
		for _, ring := range poly {
			for _, pt := range ring {
				writePoint(pt)
			}
			h.Write([]byte{'|'})
		}
	}
	return fmt.Sprintf("route:%s", hex.EncodeToString(h.Sum(nil))[:32])
}

func cloneRoute(r *Route) *Route {
	out := &Route{Distance: r.Distance, Duration: r.Duration, Steps: make([]Step, len(r.Steps))}
	for i, s := range r.Steps {
		out.Steps[i] = Step{Path: s.Path.Clone(), Distance: s.Distance, Duration: s.Duration}
	}
	return out
}
