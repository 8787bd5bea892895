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
Package retry runs external commands under fixed-delay or exponential-backoff
retry policies.

# Problem Statement

Everything the bootstrap hook touches fails transiently: apt mirrors drop
connections, the container registry throttles, a service that was "started"
needs a few seconds before its port answers. The hook must absorb those
failures without aborting, and it must be safe to re-run unboundedly.

# Solution

The Runner is generic over its payload: it knows nothing about what it is
retrying. It executes a Command, and on a non-zero exit sleeps according to
the BackoffPolicy and tries again, up to MaxAttempts. The last non-zero exit
code is returned to the caller, who decides whether that is fatal. Attempt
state (index, delay, last exit code) is an explicit value, not loop-counter
ambience, so the schedule is testable.

# Usage

	runner := retry.NewRunner(process.NewDefaultManager(), console)
	exit := runner.Run(ctx, retry.Command{
	    Argv: []string{"docker", "compose", "pull"},
	}, 3, retry.Fixed(5*time.Second))
	if exit != 0 {
	    console.Warning("compose pull failed after retries (exit %d)", exit)
	}
*/
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// Command is an immutable description of the external command to retry.
// A single Command value may be replayed by any number of attempts.
type Command struct {
	// Argv is the executable followed by its arguments. Must be non-empty.
	Argv []string

	// Dir is the working directory ("" inherits the hook's directory).
	Dir string

	// Env holds KEY=VALUE overrides appended to the inherited environment.
	Env []string
}

// Name returns a short display name for logging (the executable).
func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return "(empty)"
	}
	return c.Argv[0]
}

// String renders the full command line for debug traces.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Attempt captures the state of one execution attempt as a first-class value.
//
// Invariant: Index never exceeds MaxAttempts.
type Attempt struct {
	// Index is the 1-based attempt number.
	Index int

	// MaxAttempts is the attempt budget for this run.
	MaxAttempts int

	// Delay is the sleep that preceded this attempt (zero for the first).
	Delay time.Duration

	// LastExitCode is the exit code of the previous attempt (zero for the first).
	LastExitCode int
}

// Final reports whether this is the last attempt in the budget.
func (a Attempt) Final() bool {
	return a.Index >= a.MaxAttempts
}

// -----------------------------------------------------------------------------
// Backoff Policies
// -----------------------------------------------------------------------------

// backoffKind tags the BackoffPolicy variant.
type backoffKind int

const (
	backoffFixed backoffKind = iota
	backoffExponential
)

// BackoffPolicy determines the sleep between failed attempts.
//
// Two variants exist: Fixed keeps a constant delay, Exponential doubles the
// delay after every failed attempt. Construct values with Fixed or
// Exponential; the zero value behaves as Fixed(0).
type BackoffPolicy struct {
	kind    backoffKind
	initial time.Duration
}

// Fixed returns a policy with a constant delay between retries.
func Fixed(delay time.Duration) BackoffPolicy {
	return BackoffPolicy{kind: backoffFixed, initial: delay}
}

// Exponential returns a policy whose delay doubles after each failed attempt,
// starting at initial.
func Exponential(initial time.Duration) BackoffPolicy {
	return BackoffPolicy{kind: backoffExponential, initial: initial}
}

// DelayFor returns the sleep preceding the given retry.
//
// # Inputs
//
//   - retry: 1-based retry number (the sleep before attempt retry+1)
//
// # Outputs
//
//   - time.Duration: initial for Fixed; initial * 2^(retry-1) for Exponential
func (p BackoffPolicy) DelayFor(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if p.kind == backoffFixed {
		return p.initial
	}
	return p.initial << (retry - 1)
}

// String renders the policy for debug traces.
func (p BackoffPolicy) String() string {
	if p.kind == backoffFixed {
		return fmt.Sprintf("fixed(%s)", p.initial)
	}
	return fmt.Sprintf("exponential(%s, x2)", p.initial)
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// SleepFunc suspends execution between attempts. Injected for tests.
type SleepFunc func(time.Duration)

// Runner executes commands under a retry policy.
type Runner struct {
	proc    process.Manager
	console *ux.Console
	sleep   SleepFunc
}

// NewRunner creates a Runner using real sleeps.
func NewRunner(proc process.Manager, console *ux.Console) *Runner {
	return NewRunnerWithSleep(proc, console, time.Sleep)
}

// NewRunnerWithSleep creates a Runner with an injected sleep function.
// Tests use this to assert backoff schedules without real waiting.
func NewRunnerWithSleep(proc process.Manager, console *ux.Console, sleep SleepFunc) *Runner {
	return &Runner{proc: proc, console: console, sleep: sleep}
}

// Run executes the command under the given retry budget and policy.
//
// # Description
//
// Executes the command; on exit code 0 returns immediately (with a recovery
// notice if any attempt before it failed). On failure with attempts left,
// sleeps per the policy and retries. After exhausting the budget, returns
// the last non-zero exit code. Run never aborts the process - the caller
// owns the fatality decision.
//
// # Inputs
//
//   - ctx: Context bounding each individual execution
//   - cmd: The command to (re-)execute
//   - maxAttempts: Attempt budget; values below 1 are treated as 1
//   - policy: Delay schedule between failed attempts
//
// # Outputs
//
//   - int: 0 on success, else the last attempt's exit code
//
// # Edge Cases
//
//   - maxAttempts=1 degenerates to a single unretried execution
func (r *Runner) Run(ctx context.Context, cmd Command, maxAttempts int, policy BackoffPolicy) int {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	att := Attempt{Index: 1, MaxAttempts: maxAttempts}
	for {
		slog.Debug("Executing command",
			"command", cmd.String(), "attempt", att.Index, "max_attempts", att.MaxAttempts)

		_, err := r.proc.Run(ctx, process.Spec{Argv: cmd.Argv, Dir: cmd.Dir, Env: cmd.Env})
		exit := process.ExitCode(err)

		if exit == 0 {
			if att.Index > 1 {
				r.console.Success("%s succeeded on attempt %d/%d", cmd.Name(), att.Index, att.MaxAttempts)
			}
			return 0
		}

		r.console.Warning("%s failed (attempt %d/%d, exit code %d)",
			cmd.Name(), att.Index, att.MaxAttempts, exit)

		if att.Final() {
			return exit
		}

		delay := policy.DelayFor(att.Index)
		r.console.Debug("retrying %s in %s (%s)", cmd.Name(), delay, policy)
		r.sleep(delay)

		att = Attempt{
			Index:        att.Index + 1,
			MaxAttempts:  att.MaxAttempts,
			Delay:        delay,
			LastExitCode: exit,
		}
	}
}
