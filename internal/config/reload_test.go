// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "events:\n  max_active_events: 2\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader, path)
	ch := make(chan Config, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("events:\n  max_active_events: 6\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 6, h.Get().Events.MaxActiveEvents)
	select {
	case got := <-ch:
		assert.Equal(t, 6, got.Events.MaxActiveEvents)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestConfigHolder_InvalidReloadKeepsOld(t *testing.T) {
	path := writeConfig(t, "events:\n  max_active_events: 2\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewConfigHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("events:\n  global_probability: 7\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 2, h.Get().Events.MaxActiveEvents)
	assert.Equal(t, 0.6, h.Get().Events.GlobalProbability)
}

func TestConfigHolder_FullListenerDoesNotBlock(t *testing.T) {
	path := writeConfig(t, "")
	loader := NewLoader(path, "")
	h := NewConfigHolder(Default(), loader, path)
	ch := make(chan Config) // unbuffered, nobody reading
	h.RegisterListener(ch)

	done := make(chan struct{})
	go func() {
		_ = h.Reload(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reload blocked on listener")
	}
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "events:\n  max_active_events: 2\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader, path)
	h.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("events:\n  max_active_events: 5\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Get().Events.MaxActiveEvents == 5
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigHolder_WatcherDisabledWithoutPath(t *testing.T) {
	h := NewConfigHolder(Default(), NewLoader("", ""), "")
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
