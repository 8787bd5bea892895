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
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/AleutianAI/harborboot/cmd/harborboot/config"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/download"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/retry"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// PlatformEnvVar overrides the detected operating system, mainly so the
// degraded paths can be exercised from any host.
const PlatformEnvVar = "HARBORBOOT_OS"

// serviceBinary is the sidecar binary the strategies install and start.
const serviceBinary = "ollama"

// InstallStrategy installs the sidecar on one platform family.
type InstallStrategy interface {
	// Install brings the sidecar binary onto the system. A returned error
	// means the platform path is exhausted and the run degrades.
	Install(ctx context.Context) error
}

// StartStrategy launches the sidecar on one platform family.
type StartStrategy interface {
	// Start launches the service in the background. It does not wait for
	// readiness; the bootstrapper polls for that separately.
	Start(ctx context.Context) error
}

// Platform bundles the strategies selected once at entry.
type Platform struct {
	// OS is the effective platform identifier (GOOS or the env override).
	OS string

	Install InstallStrategy
	Start   StartStrategy
}

// DetectPlatform selects the strategy pair for the current OS.
//
// # Description
//
// The identifier defaults to runtime.GOOS and can be overridden through
// HARBORBOOT_OS. Selection happens exactly once; nothing downstream
// branches on an OS string again.
func DetectPlatform(deps PlatformDeps) Platform {
	osID := os.Getenv(PlatformEnvVar)
	if osID == "" {
		osID = runtime.GOOS
	}

	switch osID {
	case "linux":
		return Platform{
			OS:      osID,
			Install: &linuxInstall{deps: deps},
			Start:   &linuxStart{deps: deps},
		}
	case "darwin":
		return Platform{
			OS:      osID,
			Install: &darwinInstall{deps: deps},
			Start:   &darwinStart{deps: deps},
		}
	default:
		manual := &manualPlatform{deps: deps, os: osID}
		return Platform{OS: osID, Install: manual, Start: manual}
	}
}

// PlatformDeps carries the collaborators the strategies share.
type PlatformDeps struct {
	Proc     process.Manager
	Apt      *infra.AptInstaller
	Probe    *infra.NetworkProbe
	Pipeline *download.Pipeline
	Runner   *retry.Runner
	Console  *ux.Console
	Config   config.HarborbootConfig
}

// -----------------------------------------------------------------------------
// Linux
// -----------------------------------------------------------------------------

// linuxInstall installs the sidecar via the vendor install script, with apt
// prerequisites and an outbound connectivity gate in front.
type linuxInstall struct {
	deps PlatformDeps
}

func (s *linuxInstall) Install(ctx context.Context) error {
	d := s.deps
	scriptURL := d.Config.Service.InstallScriptURL

	d.Console.Info("Waiting for outbound connectivity")
	ready := d.Probe.WaitReady(ctx, infra.HTTPCheck(nil, scriptURL),
		d.Config.Timeouts.NetworkWait(), infra.DefaultProbeInterval)
	if !ready {
		return fmt.Errorf("no outbound connectivity within %s", d.Config.Timeouts.NetworkWait())
	}

	d.Console.Info("Installing prerequisites (curl, ca-certificates)")
	if exit := d.Apt.Install(ctx, "curl", "ca-certificates"); exit != 0 {
		return fmt.Errorf("prerequisite install failed with exit code %d", exit)
	}

	d.Console.Info("Running the vendor install script from %s", scriptURL)
	if err := d.Pipeline.DownloadAndExecute(ctx, scriptURL, []string{"sh"}); err != nil {
		return fmt.Errorf("install script failed: %w", err)
	}
	return nil
}

// linuxStart prefers the systemd unit the vendor script registers; when no
// unit exists (containers, minimal images) it falls back to a detached serve.
type linuxStart struct {
	deps PlatformDeps
}

func (s *linuxStart) Start(ctx context.Context) error {
	d := s.deps

	if _, err := d.Proc.Run(ctx, process.Spec{Argv: []string{"systemctl", "is-enabled", serviceBinary}}); err == nil {
		d.Console.Info("Starting %s via systemd", serviceBinary)
		if _, err := d.Proc.Run(ctx, process.Spec{Argv: []string{"systemctl", "start", serviceBinary}}); err != nil {
			return fmt.Errorf("systemctl start failed: %w", err)
		}
		return nil
	}

	d.Console.Info("Starting %s as a detached process", serviceBinary)
	pid, err := d.Proc.Start(ctx, process.Spec{Argv: []string{serviceBinary, "serve"}})
	if err != nil {
		return err
	}
	d.Console.Debug("%s serve started with pid %d", serviceBinary, pid)
	return nil
}

// -----------------------------------------------------------------------------
// Darwin
// -----------------------------------------------------------------------------

// darwinInstall installs the sidecar through Homebrew.
type darwinInstall struct {
	deps PlatformDeps
}

func (s *darwinInstall) Install(ctx context.Context) error {
	d := s.deps

	if _, ok := d.Proc.LookPath("brew"); !ok {
		return fmt.Errorf("homebrew not found; install it from https://brew.sh or install %s manually", serviceBinary)
	}

	d.Console.Info("Installing %s via Homebrew", serviceBinary)
	exit := d.Runner.Run(ctx, retry.Command{Argv: []string{"brew", "install", serviceBinary}},
		3, retry.Fixed(10*time.Second))
	if exit != 0 {
		return fmt.Errorf("brew install failed with exit code %d", exit)
	}
	return nil
}

// darwinStart uses brew services when available, else a detached serve.
type darwinStart struct {
	deps PlatformDeps
}

func (s *darwinStart) Start(ctx context.Context) error {
	d := s.deps

	if _, ok := d.Proc.LookPath("brew"); ok {
		d.Console.Info("Starting %s via brew services", serviceBinary)
		if _, err := d.Proc.Run(ctx, process.Spec{Argv: []string{"brew", "services", "start", serviceBinary}}); err == nil {
			return nil
		}
		d.Console.Debug("brew services start failed, falling back to a detached serve")
	}

	pid, err := d.Proc.Start(ctx, process.Spec{Argv: []string{serviceBinary, "serve"}})
	if err != nil {
		return err
	}
	d.Console.Debug("%s serve started with pid %d", serviceBinary, pid)
	return nil
}

// -----------------------------------------------------------------------------
// Unsupported platforms
// -----------------------------------------------------------------------------

// manualPlatform prints install instructions and reports the platform as
// unsupported, which the bootstrapper maps to a degraded (still exit-0) run.
type manualPlatform struct {
	deps PlatformDeps
	os   string
}

func (s *manualPlatform) Install(ctx context.Context) error {
	s.deps.Console.Warning("Automatic %s install is not supported on %s", serviceBinary, s.os)
	s.deps.Console.Info("Install it manually from https://ollama.com/download and re-run the hook")
	return fmt.Errorf("unsupported platform %q", s.os)
}

func (s *manualPlatform) Start(ctx context.Context) error {
	return fmt.Errorf("unsupported platform %q", s.os)
}
