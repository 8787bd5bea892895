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
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// Apt/dpkg lock files that block concurrent package operations. A lock is
// considered held iff fuser reports a process using it.
var aptLockFiles = []string{
	"/var/lib/dpkg/lock-frontend",
	"/var/lib/apt/lists/lock",
	"/var/cache/apt/archives/lock",
}

// AptLockFiles returns the lock paths the installer watches. Diagnostics
// reuses the same set so the two never drift apart.
func AptLockFiles() []string {
	return append([]string(nil), aptLockFiles...)
}

const (
	installMaxAttempts = 5
	installRetryDelay  = 10 * time.Second
	lockPollInterval   = 2 * time.Second

	// defaultLockWaitEscalation is the cumulative lock wait after which the
	// locks are assumed stale and removed by force, unless configured.
	defaultLockWaitEscalation = 60 * time.Second
)

// AptInstaller installs apt packages while coexisting with unattended
// upgrades and other concurrent package managers.
//
// # Description
//
// Fresh environments routinely run unattended-upgrades in the background,
// which holds the dpkg/apt locks for minutes. AptInstaller waits for the
// locks politely, and only after a long cumulative wait assumes the holder
// is a stale or hung process and clears the locks by force. Installation
// itself runs under a fixed-delay retry with a repair pair between failed
// attempts, because a previously interrupted install leaves dpkg in a state
// only `dpkg --configure -a` can fix.
//
// # Limitations
//
//   - Linux/apt only; platform selection happens above this type.
//   - Force-clearing locks can corrupt a genuinely active apt run. The long
//     escalation threshold makes that window small, and for a bootstrap hook
//     a corrupted concurrent run beats hanging forever.
type AptInstaller struct {
	proc       process.Manager
	console    *ux.Console
	sleep      func(time.Duration)
	removeFile func(string) error

	// lockWait is the cumulative contention wait before forced clearing.
	lockWait time.Duration
}

// NewAptInstaller creates an installer with real sleeps and file removal.
// lockWait bounds the cumulative lock wait before the destructive
// escalation; values <= 0 fall back to the 60s default.
func NewAptInstaller(proc process.Manager, console *ux.Console, lockWait time.Duration) *AptInstaller {
	return NewAptInstallerWithDeps(proc, console, time.Sleep, os.Remove, lockWait)
}

// NewAptInstallerWithDeps creates an installer with injected side effects.
// Tests use this to observe sleeps and lock-file removal.
func NewAptInstallerWithDeps(proc process.Manager, console *ux.Console,
	sleep func(time.Duration), removeFile func(string) error, lockWait time.Duration) *AptInstaller {
	if lockWait <= 0 {
		lockWait = defaultLockWaitEscalation
	}
	return &AptInstaller{
		proc:       proc,
		console:    console,
		sleep:      sleep,
		removeFile: removeFile,
		lockWait:   lockWait,
	}
}

// Install installs the given packages with apt-get.
//
// # Description
//
// Each attempt first waits for the apt/dpkg locks, then runs
// `apt-get install -y <packages>`. On failure it runs the repair pair
// (`apt-get update`, `dpkg --configure -a`, errors swallowed), sleeps the
// fixed delay and retries, up to the attempt budget.
//
// # Outputs
//
//   - int: 0 on success, else the last attempt's exit code. Install never
//     aborts the process; the caller maps a failure to a degraded state.
func (a *AptInstaller) Install(ctx context.Context, packages ...string) int {
	argv := append([]string{"apt-get", "install", "-y"}, packages...)

	lastExit := 0
	for attempt := 1; attempt <= installMaxAttempts; attempt++ {
		a.waitForLocks(ctx)

		_, err := a.proc.Run(ctx, process.Spec{
			Argv: argv,
			Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
		})
		exit := process.ExitCode(err)
		if exit == 0 {
			if attempt > 1 {
				a.console.Success("apt-get install %s succeeded on attempt %d/%d",
					strings.Join(packages, " "), attempt, installMaxAttempts)
			}
			return 0
		}

		lastExit = exit
		a.console.Warning("apt-get install %s failed (attempt %d/%d, exit code %d)",
			strings.Join(packages, " "), attempt, installMaxAttempts, exit)

		if attempt < installMaxAttempts {
			a.repair(ctx)
			a.sleep(installRetryDelay)
		}
	}
	return lastExit
}

// waitForLocks polls the apt/dpkg locks until they are free. After a long
// cumulative wait the holder is assumed stale and the locks are cleared.
func (a *AptInstaller) waitForLocks(ctx context.Context) {
	warned := false
	var waited time.Duration

	for {
		held := a.heldLocks(ctx)
		if len(held) == 0 {
			return
		}
		if !warned {
			a.console.Warning("apt/dpkg lock is held by another process (%s); waiting",
				strings.Join(held, ", "))
			warned = true
		}
		if waited >= a.lockWait {
			a.forceClearLocks(ctx)
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.sleep(lockPollInterval)
		waited += lockPollInterval
	}
}

// heldLocks returns the subset of lock files a process currently holds.
func (a *AptInstaller) heldLocks(ctx context.Context) []string {
	var held []string
	for _, path := range aptLockFiles {
		// fuser exits 0 iff some process uses the file.
		if _, err := a.proc.Run(ctx, process.Spec{Argv: []string{"fuser", path}}); err == nil {
			held = append(held, path)
		}
	}
	return held
}

// forceClearLocks removes the lock files and re-runs dpkg configuration.
// This is the last-resort override for a stale lock holder; it is logged
// loudly because it can break a concurrent apt run that is merely slow.
func (a *AptInstaller) forceClearLocks(ctx context.Context) {
	a.console.Warning("apt/dpkg lock still held after %s; assuming stale holder and removing lock files",
		a.lockWait)

	for _, path := range aptLockFiles {
		if err := a.removeFile(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("failed to remove lock file", "path", path, "error", err)
		}
	}
	if _, err := a.proc.Run(ctx, process.Spec{Argv: []string{"dpkg", "--configure", "-a"}}); err != nil {
		slog.Debug("dpkg --configure -a after lock removal failed", "error", err)
	}
}

// repair runs the recovery pair between failed install attempts. Errors are
// swallowed: repair is opportunistic, the retry loop is the real recovery.
func (a *AptInstaller) repair(ctx context.Context) {
	if _, err := a.proc.Run(ctx, process.Spec{Argv: []string{"apt-get", "update"}}); err != nil {
		slog.Debug("apt-get update during repair failed", "error", err)
	}
	if _, err := a.proc.Run(ctx, process.Spec{Argv: []string{"dpkg", "--configure", "-a"}}); err != nil {
		slog.Debug("dpkg --configure -a during repair failed", "error", err)
	}
}
