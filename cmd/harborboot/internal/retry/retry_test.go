// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

// exitError7 fabricates a real exec.ExitError with exit code 7 by running a
// short-lived shell, so process.ExitCode sees the genuine type.
func exitError7(t *testing.T) error {
	t.Helper()
	cmd := exec.Command("sh", "-c", "exit 7")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected sh to exit non-zero")
	}
	return err
}

func testConsole() *ux.Console {
	return ux.NewConsole(&bytes.Buffer{}, &bytes.Buffer{}, ux.WithStyled(false))
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			return []byte("ok"), nil
		},
	}
	var slept []time.Duration
	runner := NewRunnerWithSleep(mock, testConsole(), func(d time.Duration) {
		slept = append(slept, d)
	})

	exit := runner.Run(context.Background(), Command{Argv: []string{"apt-get", "update"}}, 5, Fixed(10*time.Second))

	assert.Equal(t, 0, exit)
	assert.Len(t, mock.GetCalls(), 1)
	assert.Empty(t, slept, "no sleep on first-attempt success")
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	failures := 2
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			if failures > 0 {
				failures--
				return nil, exitError7(t)
			}
			return nil, nil
		},
	}
	var slept []time.Duration
	runner := NewRunnerWithSleep(mock, testConsole(), func(d time.Duration) {
		slept = append(slept, d)
	})

	exit := runner.Run(context.Background(), Command{Argv: []string{"apt-get", "install", "-y", "curl"}}, 5, Fixed(10*time.Second))

	assert.Equal(t, 0, exit)
	assert.Len(t, mock.GetCalls(), 3)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, slept)
}

func TestRunExhaustsBudgetAndReturnsLastExitCode(t *testing.T) {
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			return nil, exitError7(t)
		},
	}
	var slept []time.Duration
	runner := NewRunnerWithSleep(mock, testConsole(), func(d time.Duration) {
		slept = append(slept, d)
	})

	exit := runner.Run(context.Background(), Command{Argv: []string{"curl", "-fsSL", "http://example.invalid"}}, 3, Fixed(2*time.Second))

	assert.Equal(t, 7, exit)
	assert.Len(t, mock.GetCalls(), 3, "exactly maxAttempts invocations")
	assert.Len(t, slept, 2, "no sleep after the final attempt")
}

func TestRunTreatsNonExecErrorAs127(t *testing.T) {
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			return nil, context.DeadlineExceeded
		},
	}
	runner := NewRunnerWithSleep(mock, testConsole(), func(time.Duration) {})

	exit := runner.Run(context.Background(), Command{Argv: []string{"missing-binary"}}, 1, Fixed(0))

	assert.Equal(t, 127, exit)
}

func TestRunClampsAttemptBudget(t *testing.T) {
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			return nil, exitError7(t)
		},
	}
	runner := NewRunnerWithSleep(mock, testConsole(), func(time.Duration) {})

	runner.Run(context.Background(), Command{Argv: []string{"false"}}, 0, Fixed(0))

	assert.Len(t, mock.GetCalls(), 1, "budget below 1 means a single attempt")
}

func TestExponentialScheduleDoubles(t *testing.T) {
	mock := &process.MockManager{
		RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
			return nil, exitError7(t)
		},
	}
	var slept []time.Duration
	runner := NewRunnerWithSleep(mock, testConsole(), func(d time.Duration) {
		slept = append(slept, d)
	})

	runner.Run(context.Background(), Command{Argv: []string{"curl"}}, 5, Exponential(3*time.Second))

	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second}
	assert.Equal(t, want, slept)
}

func TestDelayFor(t *testing.T) {
	tests := []struct {
		name   string
		policy BackoffPolicy
		retry  int
		want   time.Duration
	}{
		{"fixed first", Fixed(10 * time.Second), 1, 10 * time.Second},
		{"fixed later", Fixed(10 * time.Second), 4, 10 * time.Second},
		{"exponential first", Exponential(3 * time.Second), 1, 3 * time.Second},
		{"exponential second", Exponential(3 * time.Second), 2, 6 * time.Second},
		{"exponential fourth", Exponential(3 * time.Second), 4, 24 * time.Second},
		{"retry below one clamps", Exponential(3 * time.Second), 0, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.DelayFor(tt.retry))
		})
	}
}

func TestAttemptFinal(t *testing.T) {
	assert.False(t, Attempt{Index: 1, MaxAttempts: 3}.Final())
	assert.True(t, Attempt{Index: 3, MaxAttempts: 3}.Final())
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "apt-get", Command{Argv: []string{"apt-get", "update"}}.Name())
	assert.Equal(t, "(empty)", Command{}.Name())
}
