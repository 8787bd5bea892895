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
Package main contains cmd_up.go which sequences the lifecycle hook.

# Sequence

 1. Load (or create) harborboot.yaml.
 2. Validate the pluggable feature definitions - the only fatal step.
 3. Bootstrap the inference sidecar to Ready or Degraded.
 4. Materialize and patch the workspace .env file.
 5. Report a one-line outcome summary.
 6. Unconditionally run the container-engine warmup/teardown pair.

Everything after step 2 is non-fatal: the hook exits 0 whether the sidecar
came up or not, because a dev environment without semantic search is still
a working dev environment.
*/
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/harborboot/cmd/harborboot/config"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/download"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/retry"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

func runUpCommand(cmd *cobra.Command, args []string) {
	dir, err := os.Getwd()
	if err != nil {
		console.Error("Cannot determine the working directory: %v", err)
		os.Exit(1)
	}
	if exit := runUp(cmd.Context(), console, dir); exit != 0 {
		os.Exit(exit)
	}
}

// runUp executes the hook sequence rooted at the workspace dir and returns
// the process exit code.
func runUp(ctx context.Context, console *ux.Console, dir string) int {
	console.Info("Bootstrapping workspace %s", dir)

	cfg, err := config.Load(dir)
	if err != nil {
		console.Error("Configuration error: %v", err)
		return 1
	}

	featuresDir := cfg.Features.Dir
	if !filepath.IsAbs(featuresDir) {
		featuresDir = filepath.Join(dir, featuresDir)
	}
	if err := NewFeatureValidator(console).Validate(featuresDir); err != nil {
		console.Error("Feature validation failed: %v", err)
		return 1
	}

	proc := process.NewDefaultManager()
	probe := infra.NewNetworkProbe()
	runner := retry.NewRunner(proc, console)
	deps := PlatformDeps{
		Proc:     proc,
		Apt:      infra.NewAptInstaller(proc, console, cfg.Timeouts.LockWait()),
		Probe:    probe,
		Pipeline: download.NewPipeline(proc, console),
		Runner:   runner,
		Console:  console,
		Config:   cfg,
	}
	platform := DetectPlatform(deps)
	client := NewOllamaClient(cfg.Service.BaseURL)

	bootstrapper := NewServiceBootstrapper(client, proc, probe, console, platform, cfg)
	outcome := bootstrapper.Bootstrap(ctx)

	if err := EnsureEnvFile(dir, outcome.Model, console); err != nil {
		console.Warning("Env file setup failed: %v", err)
	}

	reportOutcome(console, outcome)
	composeCleanup(ctx, proc, runner, console, dir)

	// Degraded still exits 0: the workspace is usable without the sidecar.
	return 0
}

// reportOutcome prints the one-line capability summary the hook ends with.
func reportOutcome(console *ux.Console, outcome BootstrapOutcome) {
	switch {
	case outcome.State == StateReady && outcome.ModelReady:
		console.Success("Semantic search enabled (model %s)", outcome.Model)
	case outcome.State == StateReady:
		console.Warning("Service ready but model %s unavailable; semantic search degraded (%s)",
			outcome.Model, outcome.Reason)
	default:
		console.Warning("Continuing without the inference sidecar; semantic search disabled (%s)",
			outcome.Reason)
	}
}

// composeCleanup runs the container-engine warmup/teardown pair. Both
// commands are opaque to the hook and both are best-effort: a missing
// docker or a failing compose file must not fail the bootstrap.
func composeCleanup(ctx context.Context, proc process.Manager, runner *retry.Runner,
	console *ux.Console, dir string) {
	if _, ok := proc.LookPath("docker"); !ok {
		console.Debug("docker not found, skipping compose warmup")
		return
	}

	console.Info("Warming up container images")
	exit := runner.Run(ctx, retry.Command{
		Argv: []string{"docker", "compose", "pull", "--ignore-pull-failures"},
		Dir:  dir,
	}, 2, retry.Fixed(5*time.Second))
	if exit != 0 {
		console.Warning("compose pull failed (exit %d); images will pull on first use", exit)
	}

	if _, err := proc.Run(ctx, process.Spec{
		Argv: []string{"docker", "compose", "down", "--remove-orphans"},
		Dir:  dir,
	}); err != nil {
		console.Debug("compose down reported: %v", err)
	}
}
