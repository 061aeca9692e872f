// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set(ctx, "route:a", []byte("payload"), 5*time.Minute)

	val, ok := c.Get(ctx, "route:a")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), val)

	_, ok = c.Get(ctx, "route:missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	clk := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := newMemoryCache(0, clk.Now)

	c.Set(ctx, "short", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "short")
	require.True(t, ok)

	clk.Advance(2 * time.Minute)
	_, ok = c.Get(ctx, "short")
	assert.False(t, ok)

	assert.Equal(t, 1, c.deleteExpired())
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_JanitorStopsOnClose(t *testing.T) {
	c := NewMemoryCache(time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestNoOpCache(t *testing.T) {
	ctx := context.Background()
	c := NewNoOpCache()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(Options{Kind: KindNone}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, noOpCache{}, c)

	c, err = New(Options{Kind: ""}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &memoryCache{}, c)

	_, err = New(Options{Kind: "disk"}, zerolog.Nop())
	assert.Error(t, err)
}
