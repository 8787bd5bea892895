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
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/harborboot/cmd/harborboot/config"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra"
	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

func runDiagnoseCommand(cmd *cobra.Command, args []string) {
	dir, err := os.Getwd()
	if err != nil {
		console.Error("Cannot determine the working directory: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		console.Error("Configuration error: %v", err)
		os.Exit(1)
	}
	diagnose(cmd.Context(), console, cfg, process.NewDefaultManager(), NewOllamaClient(cfg.Service.BaseURL))
}

// diagnose prints a one-shot health report for everything the bootstrap
// touches. It is strictly read-only: no install, no start, no file writes.
func diagnose(ctx context.Context, console *ux.Console, cfg config.HarborbootConfig,
	proc process.Manager, client ServiceClient) {
	console.Info("harborboot diagnostics")

	if path, ok := proc.LookPath(serviceBinary); ok {
		console.Success("%s binary: %s", serviceBinary, path)
	} else {
		console.Warning("%s binary: not on PATH", serviceBinary)
	}

	if client.IsAlive(ctx) {
		version, err := client.Version(ctx)
		if err != nil {
			version = "unknown"
		}
		console.Success("service: answering at %s (version %s)", client.BaseURL(), version)

		models, err := client.ListModels(ctx)
		if err != nil {
			console.Warning("models: listing failed: %v", err)
		} else if len(models) == 0 {
			console.Warning("models: none installed (expected %s)", cfg.Service.EmbeddingModel)
		} else {
			for _, m := range models {
				console.Info("model: %s (%s)", m.Name, formatBytes(m.Size))
			}
		}
	} else {
		console.Warning("service: not answering at %s", client.BaseURL())
	}

	reportDiskSpace(console, modelStorePath())

	if _, ok := proc.LookPath("docker"); ok {
		console.Success("docker: on PATH")
	} else {
		console.Warning("docker: not on PATH")
	}

	reportAptLocks(ctx, console, proc)
}

// modelStorePath is where the sidecar keeps pulled models.
func modelStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".ollama")
}

// reportDiskSpace prints the free space of the filesystem holding path.
func reportDiskSpace(console *ux.Console, path string) {
	// Walk up to an existing directory; a fresh machine has no model store yet.
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return
		}
		probe = parent
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(probe, &stat); err != nil {
		console.Warning("disk: statfs %s failed: %v", probe, err)
		return
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	console.Info("disk: %s free at %s", formatBytes(free), path)
}

// reportAptLocks checks for apt/dpkg lock contention (linux only; fuser is
// simply absent elsewhere and the probe reports free).
func reportAptLocks(ctx context.Context, console *ux.Console, proc process.Manager) {
	if _, ok := proc.LookPath("fuser"); !ok {
		return
	}
	held := false
	for _, path := range infra.AptLockFiles() {
		if _, err := proc.Run(ctx, process.Spec{Argv: []string{"fuser", path}}); err == nil {
			console.Warning("apt: lock %s is held", path)
			held = true
		}
	}
	if !held {
		console.Success("apt: no lock contention")
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
