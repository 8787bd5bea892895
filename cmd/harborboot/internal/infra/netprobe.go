// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package infra contains host-level readiness primitives: waiting for a
// network condition to hold and installing apt packages under lock
// contention. Both primitives report outcomes; neither aborts the process.
package infra

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Default polling parameters for network readiness.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeMaxWait  = 60 * time.Second
)

// CheckFunc reports whether the awaited condition currently holds.
// It must be cheap and side-effect free; it is called once per poll.
type CheckFunc func(ctx context.Context) bool

// NetworkProbe polls a boolean condition until it holds or a deadline passes.
type NetworkProbe struct {
	sleep func(time.Duration)
	now   func() time.Time
}

// NewNetworkProbe creates a probe using the real clock.
func NewNetworkProbe() *NetworkProbe {
	return &NetworkProbe{sleep: time.Sleep, now: time.Now}
}

// NewNetworkProbeWithClock creates a probe with an injected clock for tests.
func NewNetworkProbeWithClock(sleep func(time.Duration), now func() time.Time) *NetworkProbe {
	return &NetworkProbe{sleep: sleep, now: now}
}

// WaitReady polls check until it returns true or maxWait elapses.
//
// # Description
//
// The check runs immediately, then once per interval. A true result returns
// true at once; a deadline or context cancellation returns false. WaitReady
// never returns an error - an unreachable endpoint is an expected outcome
// the caller maps to a degraded state, not a fault.
//
// # Inputs
//
//   - ctx: Cancels the wait early
//   - check: The condition to await
//   - maxWait: Total wait budget (<=0 means DefaultProbeMaxWait)
//   - interval: Poll spacing (<=0 means DefaultProbeInterval)
//
// # Outputs
//
//   - bool: true iff the condition held within the budget
func (p *NetworkProbe) WaitReady(ctx context.Context, check CheckFunc, maxWait, interval time.Duration) bool {
	if maxWait <= 0 {
		maxWait = DefaultProbeMaxWait
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	start := p.now()
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if check(ctx) {
			return true
		}
		// A poll landing exactly on the deadline is already over budget:
		// maxWait/interval polls, never one more.
		if p.now().Sub(start)+interval >= maxWait {
			slog.Debug("readiness wait exhausted", "attempts", attempt, "max_wait", maxWait)
			return false
		}
		p.sleep(interval)
	}
}

// HTTPCheck returns a CheckFunc that succeeds when a HEAD request to url
// gets any HTTP response. Connection-level failures mean not ready; status
// codes do not matter - a 403 from a CDN still proves the network is up.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}
