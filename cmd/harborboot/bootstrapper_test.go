// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/harborboot/cmd/harborboot/config"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// MockServiceClient is a function-field test double for ServiceClient.
type MockServiceClient struct {
	IsAliveFunc    func(ctx context.Context) bool
	ListModelsFunc func(ctx context.Context) ([]Model, error)
	HasModelFunc   func(ctx context.Context, name string) (bool, error)
	PullModelFunc  func(ctx context.Context, name string, progress PullProgressCallback) error
	VersionFunc    func(ctx context.Context) (string, error)
}

func (m *MockServiceClient) IsAlive(ctx context.Context) bool {
	if m.IsAliveFunc == nil {
		return false
	}
	return m.IsAliveFunc(ctx)
}

func (m *MockServiceClient) ListModels(ctx context.Context) ([]Model, error) {
	if m.ListModelsFunc == nil {
		return nil, nil
	}
	return m.ListModelsFunc(ctx)
}

func (m *MockServiceClient) HasModel(ctx context.Context, name string) (bool, error) {
	if m.HasModelFunc == nil {
		return false, nil
	}
	return m.HasModelFunc(ctx, name)
}

func (m *MockServiceClient) PullModel(ctx context.Context, name string, progress PullProgressCallback) error {
	if m.PullModelFunc == nil {
		return nil
	}
	return m.PullModelFunc(ctx, name, progress)
}

func (m *MockServiceClient) Version(ctx context.Context) (string, error) {
	if m.VersionFunc == nil {
		return "0.0.0", nil
	}
	return m.VersionFunc(ctx)
}

func (m *MockServiceClient) BaseURL() string { return "http://localhost:11434" }

var _ ServiceClient = (*MockServiceClient)(nil)

// mockStrategy records install/start invocations and returns scripted errors.
type mockStrategy struct {
	installErr error
	startErr   error
	installed  int
	started    int
}

func (s *mockStrategy) Install(ctx context.Context) error {
	s.installed++
	return s.installErr
}

func (s *mockStrategy) Start(ctx context.Context) error {
	s.started++
	return s.startErr
}

// bootHarness assembles a ServiceBootstrapper with a fake clock so the
// readiness schedule runs instantly.
type bootHarness struct {
	client   *MockServiceClient
	proc     *process.MockManager
	strategy *mockStrategy
	warnings *bytes.Buffer
	boot     *ServiceBootstrapper
}

func newBootHarness(t *testing.T, binaryOnPath bool) *bootHarness {
	t.Helper()
	h := &bootHarness{
		client:   &MockServiceClient{},
		strategy: &mockStrategy{},
		warnings: &bytes.Buffer{},
	}
	h.proc = &process.MockManager{
		LookPathFunc: func(name string) (string, bool) {
			if binaryOnPath {
				return "/usr/local/bin/" + name, true
			}
			return "", false
		},
	}

	clock := &fakeClock{}
	probe := infra.NewNetworkProbeWithClock(clock.sleep, clock.now)
	console := ux.NewConsole(&bytes.Buffer{}, h.warnings, ux.WithStyled(false))
	platform := Platform{OS: "linux", Install: h.strategy, Start: h.strategy}

	h.boot = NewServiceBootstrapper(h.client, h.proc, probe, console, platform, config.DefaultConfig())
	return h
}

// fakeClock mirrors the clock used by the probe tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) now() time.Time        { return c.t }

func TestBootstrapFastPathSkipsInstallAndStart(t *testing.T) {
	h := newBootHarness(t, true)
	h.client.IsAliveFunc = func(ctx context.Context) bool { return true }
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) { return true, nil }

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State)
	assert.True(t, outcome.ModelReady)
	assert.Zero(t, h.strategy.installed, "no install when the API already answers")
	assert.Zero(t, h.strategy.started, "no start when the API already answers")
}

func TestBootstrapUsesDefaultModel(t *testing.T) {
	h := newBootHarness(t, true)
	h.client.IsAliveFunc = func(ctx context.Context) bool { return true }

	var asked string
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) {
		asked = name
		return true, nil
	}

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, "bge-m3", asked)
	assert.Equal(t, "bge-m3", outcome.Model)
}

func TestBootstrapInstallsWhenBinaryAbsent(t *testing.T) {
	h := newBootHarness(t, false)
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) { return true, nil }
	// The service starts answering once Start has been issued.
	h.client.IsAliveFunc = func(ctx context.Context) bool { return h.strategy.started > 0 }

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State)
	assert.Equal(t, 1, h.strategy.installed)
	assert.Equal(t, 1, h.strategy.started)
}

func TestBootstrapSkipsInstallWhenBinaryPresent(t *testing.T) {
	h := newBootHarness(t, true)
	h.client.IsAliveFunc = func(ctx context.Context) bool { return h.strategy.started > 0 }
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) { return true, nil }

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State)
	assert.Zero(t, h.strategy.installed, "binary on PATH means no install")
	assert.Equal(t, 1, h.strategy.started)
}

func TestBootstrapInstallFailureDegrades(t *testing.T) {
	h := newBootHarness(t, false)
	h.strategy.installErr = errors.New("unsupported platform \"windows\"")

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateDegraded, outcome.State)
	assert.False(t, outcome.ModelReady)
	assert.Contains(t, outcome.Reason, "unsupported platform")
	assert.Zero(t, h.strategy.started, "no start after a failed install")
	assert.Contains(t, h.warnings.String(), "Install failed")
}

func TestBootstrapStartFailureDegrades(t *testing.T) {
	h := newBootHarness(t, true)
	h.strategy.startErr = errors.New("systemctl start failed")

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateDegraded, outcome.State)
	assert.Contains(t, outcome.Reason, "systemctl")
}

func TestBootstrapReadinessTimeoutDegrades(t *testing.T) {
	h := newBootHarness(t, true)
	checks := 0
	h.client.IsAliveFunc = func(ctx context.Context) bool {
		if h.strategy.started == 0 {
			return false
		}
		checks++
		return false // never becomes ready
	}

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateDegraded, outcome.State)
	assert.Contains(t, outcome.Reason, "did not become ready")
	// 30s budget at 2s polls: 15 readiness checks.
	assert.Equal(t, 15, checks)
}

func TestBootstrapPullsMissingModel(t *testing.T) {
	h := newBootHarness(t, true)
	h.client.IsAliveFunc = func(ctx context.Context) bool { return true }
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) { return false, nil }

	var pulled string
	h.client.PullModelFunc = func(ctx context.Context, name string, progress PullProgressCallback) error {
		pulled = name
		return nil
	}

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State)
	assert.True(t, outcome.ModelReady)
	assert.Equal(t, "bge-m3", pulled)
}

func TestBootstrapPullFailureLeavesServiceReady(t *testing.T) {
	h := newBootHarness(t, true)
	h.client.IsAliveFunc = func(ctx context.Context) bool { return true }
	h.client.HasModelFunc = func(ctx context.Context, name string) (bool, error) { return false, nil }
	h.client.PullModelFunc = func(ctx context.Context, name string, progress PullProgressCallback) error {
		return &ServiceError{Type: ServiceErrorPullFailed, Model: name, Message: "Pull failed"}
	}

	outcome := h.boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State, "a failed pull degrades the model, not the service")
	assert.False(t, outcome.ModelReady)
	assert.Contains(t, h.warnings.String(), "continuing without bge-m3")
}

func TestBootstrapLogsLifecycleTransitions(t *testing.T) {
	var out bytes.Buffer
	console := ux.NewConsole(&out, &bytes.Buffer{}, ux.WithStyled(false), ux.WithDebug(true))

	strategy := &mockStrategy{}
	client := &MockServiceClient{
		IsAliveFunc:  func(ctx context.Context) bool { return strategy.started > 0 },
		HasModelFunc: func(ctx context.Context, name string) (bool, error) { return true, nil },
	}
	proc := &process.MockManager{
		LookPathFunc: func(name string) (string, bool) { return "", false },
	}
	clock := &fakeClock{}
	probe := infra.NewNetworkProbeWithClock(clock.sleep, clock.now)
	boot := NewServiceBootstrapper(client, proc, probe, console,
		Platform{OS: "linux", Install: strategy, Start: strategy}, config.DefaultConfig())

	outcome := boot.Bootstrap(context.Background())

	assert.Equal(t, StateReady, outcome.State)
	logs := out.String()
	assert.Contains(t, logs, "ABSENT -> INSTALLED")
	assert.Contains(t, logs, "INSTALLED -> STARTING")
	assert.Contains(t, logs, "STARTING -> POLLING")
	assert.Contains(t, logs, "POLLING -> READY")
}

func TestServiceStateString(t *testing.T) {
	tests := []struct {
		state ServiceState
		want  string
	}{
		{StateAbsent, "ABSENT"},
		{StateInstalled, "INSTALLED"},
		{StateStarting, "STARTING"},
		{StatePolling, "POLLING"},
		{StateReady, "READY"},
		{StateDegraded, "DEGRADED"},
		{ServiceState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
