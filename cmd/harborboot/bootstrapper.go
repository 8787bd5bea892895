// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package main contains bootstrapper.go which drives the sidecar from whatever
state it is in to Ready, or to an honest Degraded.

# State Machine

	Absent ──install──▶ Installed ──start──▶ Starting ──▶ Polling ──▶ Ready
	   │                    │                   │            │
	   └── install fails ───┴── start fails ────┴─ timeout ──┴──▶ Degraded

State is derived fresh on every run from observable facts (binary on PATH,
API answering); nothing is persisted between runs, so the hook is safe to
re-run after any partial failure. Degraded is terminal for the run and is
not an error: the environment works without the sidecar, just without
semantic search.
*/
package main

import (
	"context"
	"time"

	"github.com/AleutianAI/harborboot/cmd/harborboot/config"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// readinessInterval is the spacing of readiness polls after a start.
const readinessInterval = 2 * time.Second

// ServiceState is the sidecar lifecycle state as observed by one run.
type ServiceState int

const (
	// StateAbsent: the binary is not installed.
	StateAbsent ServiceState = iota

	// StateInstalled: the binary exists but the service is not running.
	StateInstalled

	// StateStarting: a start was issued, readiness not yet checked.
	StateStarting

	// StatePolling: waiting for the API to answer.
	StatePolling

	// StateReady: the API answers; the sidecar is usable.
	StateReady

	// StateDegraded: the sidecar could not be made ready this run.
	// Terminal, and deliberately not an error.
	StateDegraded
)

// String returns the state name for logging.
func (s ServiceState) String() string {
	switch s {
	case StateAbsent:
		return "ABSENT"
	case StateInstalled:
		return "INSTALLED"
	case StateStarting:
		return "STARTING"
	case StatePolling:
		return "POLLING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// BootstrapOutcome is the result of one bootstrap run.
type BootstrapOutcome struct {
	// State is the terminal state, StateReady or StateDegraded.
	State ServiceState

	// Model is the embedding model the run tried to ensure.
	Model string

	// ModelReady reports whether the model is installed and usable.
	// Only meaningful when State is StateReady.
	ModelReady bool

	// Reason explains a degraded outcome in one line.
	Reason string
}

// ServiceBootstrapper walks the sidecar through the lifecycle state machine.
type ServiceBootstrapper struct {
	client   ServiceClient
	proc     process.Manager
	probe    *infra.NetworkProbe
	console  *ux.Console
	platform Platform
	cfg      config.HarborbootConfig
}

// NewServiceBootstrapper wires a bootstrapper from its collaborators.
func NewServiceBootstrapper(client ServiceClient, proc process.Manager, probe *infra.NetworkProbe,
	console *ux.Console, platform Platform, cfg config.HarborbootConfig) *ServiceBootstrapper {
	return &ServiceBootstrapper{
		client:   client,
		proc:     proc,
		probe:    probe,
		console:  console,
		platform: platform,
		cfg:      cfg,
	}
}

// Bootstrap drives the sidecar to Ready or Degraded.
//
// # Description
//
// The fast path checks the API first: a service that already answers skips
// install and start entirely, which keeps repeat hook runs nearly free.
// Otherwise the platform strategies install and start the service, and the
// run polls the API until ready or until the readiness budget runs out.
// Every failure on this path resolves to StateDegraded, never to an error:
// the caller reports the outcome and exits 0 regardless.
func (b *ServiceBootstrapper) Bootstrap(ctx context.Context) BootstrapOutcome {
	model := b.cfg.Service.EmbeddingModel

	if b.client.IsAlive(ctx) {
		b.console.Success("Service already running at %s", b.client.BaseURL())
		return b.ensureModel(ctx, model)
	}

	state := StateAbsent
	if _, ok := b.proc.LookPath(serviceBinary); ok {
		b.console.Debug("%s binary already installed", serviceBinary)
		state = StateInstalled
	}

	if state == StateAbsent {
		b.console.Info("Service not installed, installing for %s", b.platform.OS)
		if err := b.platform.Install.Install(ctx); err != nil {
			b.console.Warning("Install failed: %v", err)
			return BootstrapOutcome{State: StateDegraded, Model: model, Reason: err.Error()}
		}
		state = b.transition(StateAbsent, StateInstalled)
	}

	state = b.transition(state, StateStarting)
	if err := b.platform.Start.Start(ctx); err != nil {
		b.console.Warning("Start failed: %v", err)
		return BootstrapOutcome{State: StateDegraded, Model: model, Reason: err.Error()}
	}

	state = b.transition(state, StatePolling)
	b.console.Info("Waiting for the service to become ready")
	ready := b.probe.WaitReady(ctx, func(ctx context.Context) bool {
		return b.client.IsAlive(ctx)
	}, b.cfg.Timeouts.Readiness(), readinessInterval)
	if !ready {
		reason := "service did not become ready within " + b.cfg.Timeouts.Readiness().String()
		b.console.Warning("%s", reason)
		return BootstrapOutcome{State: StateDegraded, Model: model, Reason: reason}
	}

	b.transition(state, StateReady)
	b.console.Success("Service ready at %s", b.client.BaseURL())
	return b.ensureModel(ctx, model)
}

// transition logs a lifecycle step and returns the new state.
func (b *ServiceBootstrapper) transition(from, to ServiceState) ServiceState {
	b.console.Debug("state transition: %s -> %s", from, to)
	return to
}

// ensureModel makes sure the embedding model is installed in a Ready
// service. A pull failure degrades the model capability with a warning but
// leaves the service itself Ready.
func (b *ServiceBootstrapper) ensureModel(ctx context.Context, model string) BootstrapOutcome {
	outcome := BootstrapOutcome{State: StateReady, Model: model}

	has, err := b.client.HasModel(ctx, model)
	if err != nil {
		b.console.Warning("Could not inspect installed models: %v", err)
		outcome.Reason = err.Error()
		return outcome
	}
	if has {
		b.console.Success("Model %s already installed", model)
		outcome.ModelReady = true
		return outcome
	}

	b.console.Info("Pulling model %s (this can take a while)", model)
	err = b.client.PullModel(ctx, model, b.pullProgress())
	if err != nil {
		// The service stays usable for everything but this model.
		b.console.Warning("Model pull failed, continuing without %s: %v", model, err)
		outcome.Reason = err.Error()
		return outcome
	}

	b.console.Success("Model %s installed", model)
	outcome.ModelReady = true
	return outcome
}

// pullProgress returns a progress callback when debug output is on, else
// nil so quiet runs stay quiet.
func (b *ServiceBootstrapper) pullProgress() PullProgressCallback {
	if !b.console.DebugEnabled() {
		return nil
	}
	return func(status string, completed, total int64) {
		if total > 0 {
			b.console.Debug("pull: %s %d/%d bytes", status, completed, total)
			return
		}
		b.console.Debug("pull: %s", status)
	}
}
