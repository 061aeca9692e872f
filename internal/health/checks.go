// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/fleetsim/internal/resilience"
)

// TickChecker watches the simulation loop. A loop that has not ticked for
// more than five intervals is degraded, more than thirty is unhealthy.
type TickChecker struct {
	lastTick func() time.Time
	interval time.Duration
	now      func() time.Time
}

func NewTickChecker(lastTick func() time.Time, interval time.Duration) *TickChecker {
	return &TickChecker{lastTick: lastTick, interval: interval, now: time.Now}
}

func (c *TickChecker) Name() string { return "simulation_loop" }

func (c *TickChecker) Check(context.Context) CheckResult {
	last := c.lastTick()
	if last.IsZero() {
		return CheckResult{Status: StatusUnhealthy, Message: "no tick yet"}
	}
	age := c.now().Sub(last)
	switch {
	case age > 30*c.interval:
		return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("last tick %s ago", age.Round(time.Millisecond))}
	case age > 5*c.interval:
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("last tick %s ago", age.Round(time.Millisecond))}
	}
	return CheckResult{Status: StatusHealthy}
}

// BreakerChecker reports an open circuit breaker as degraded: the
// simulation keeps running, only routing is impaired.
type BreakerChecker struct {
	name    string
	breaker *resilience.CircuitBreaker
}

func NewBreakerChecker(name string, cb *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: cb}
}

func (c *BreakerChecker) Name() string { return c.name }

func (c *BreakerChecker) Check(context.Context) CheckResult {
	state := c.breaker.State()
	if state == resilience.StateOpen {
		return CheckResult{Status: StatusDegraded, Message: "circuit open"}
	}
	return CheckResult{Status: StatusHealthy, Message: string(state)}
}
