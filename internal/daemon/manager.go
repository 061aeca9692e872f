// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// namedHook represents a shutdown hook with a name for logging
type namedHook struct {
	name string
	hook ShutdownHook
}

// hooks collects cleanup functions as components are built so that each
// one is torn down after everything that depends on it.
type hooks struct {
	mu     sync.Mutex
	list   []namedHook
	ran    bool
	logger zerolog.Logger
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
func (h *hooks) RegisterShutdownHook(name string, hook ShutdownHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.list = append(h.list, namedHook{name: name, hook: hook})
	h.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}

// run executes every hook once, newest first, and joins their errors.
// Later calls are no-ops.
func (h *hooks) run(ctx context.Context) error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	list := h.list
	h.mu.Unlock()

	var errs []error
	h.logger.Debug().Int("hooks", len(list)).Msg("Executing shutdown hooks")
	for i := len(list) - 1; i >= 0; i-- {
		hook := list[i]
		hookStart := time.Now()
		if err := hook.hook(ctx); err != nil {
			h.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		h.logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Msg("Shutdown hook completed")
	}

	if len(errs) > 0 {
		h.logger.Error().Int("error_count", len(errs)).Msg("Shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// closer adapts a plain Close method to a hook.
func closer(fn func() error) ShutdownHook {
	return func(context.Context) error { return fn() }
}

// stopper adapts a Stop/Close method without a result.
func stopper(fn func()) ShutdownHook {
	return func(context.Context) error {
		fn()
		return nil
	}
}
