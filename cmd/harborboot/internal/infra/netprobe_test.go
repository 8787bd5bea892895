// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances its notion of now by every sleep, so polling loops can
// be driven through their full schedule instantly.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestWaitReadyImmediateSuccess(t *testing.T) {
	clock := &fakeClock{}
	probe := NewNetworkProbeWithClock(clock.sleep, clock.now)

	ok := probe.WaitReady(context.Background(), func(ctx context.Context) bool {
		return true
	}, 60*time.Second, 5*time.Second)

	assert.True(t, ok)
	assert.Empty(t, clock.slept, "no sleep when the first check passes")
}

func TestWaitReadySucceedsAfterPolls(t *testing.T) {
	clock := &fakeClock{}
	probe := NewNetworkProbeWithClock(clock.sleep, clock.now)

	checks := 0
	ok := probe.WaitReady(context.Background(), func(ctx context.Context) bool {
		checks++
		return checks >= 4
	}, 60*time.Second, 5*time.Second)

	assert.True(t, ok)
	assert.Equal(t, 4, checks)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.slept)
}

func TestWaitReadyTimesOut(t *testing.T) {
	clock := &fakeClock{}
	probe := NewNetworkProbeWithClock(clock.sleep, clock.now)

	checks := 0
	ok := probe.WaitReady(context.Background(), func(ctx context.Context) bool {
		checks++
		return false
	}, 60*time.Second, 5*time.Second)

	assert.False(t, ok)
	// 60s budget at 5s intervals: checks at 0s through 55s, 12 in total.
	assert.Equal(t, 12, checks)
}

func TestWaitReadyDefaultsApply(t *testing.T) {
	clock := &fakeClock{}
	probe := NewNetworkProbeWithClock(clock.sleep, clock.now)

	ok := probe.WaitReady(context.Background(), func(ctx context.Context) bool {
		return false
	}, 0, 0)

	assert.False(t, ok)
	for _, d := range clock.slept {
		assert.Equal(t, DefaultProbeInterval, d)
	}
	assert.NotEmpty(t, clock.slept)
}

func TestWaitReadyHonorsCancellation(t *testing.T) {
	clock := &fakeClock{}
	probe := NewNetworkProbeWithClock(clock.sleep, clock.now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := probe.WaitReady(ctx, func(ctx context.Context) bool {
		t.Fatal("check must not run after cancellation")
		return true
	}, 60*time.Second, 5*time.Second)

	assert.False(t, ok)
}

func TestHTTPCheckAnyResponseCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	check := HTTPCheck(srv.Client(), srv.URL)
	assert.True(t, check(context.Background()), "a 403 still proves connectivity")
}

func TestHTTPCheckConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	check := HTTPCheck(nil, url)
	assert.False(t, check(context.Background()))
}
