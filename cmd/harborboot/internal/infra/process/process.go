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
Package process abstracts external process execution for the bootstrap hook.

All exec.Command calls in the bootstrap path go through the Manager interface
so retry behavior, lock waiting and platform strategies can be tested without
launching real processes.

# Design Rationale

The hook shells out constantly (apt-get, fuser, systemctl, brew, docker,
ollama). Direct exec calls would make every orchestration test an integration
test. Manager keeps a single seam between "what command do we run" and "how
does the operating system behave", with MockManager simulating the latter.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Spec describes one external command invocation.
//
// A Spec is a plain value: construct it once, replay it as often as needed.
// Argv[0] is the executable; Dir and Env are optional overrides.
type Spec struct {
	// Argv is the executable followed by its arguments. Must be non-empty.
	Argv []string

	// Dir is the working directory ("" inherits the hook's directory).
	Dir string

	// Env holds KEY=VALUE overrides appended to the inherited environment.
	Env []string

	// Stdin is piped to the process when non-nil.
	Stdin []byte
}

// Manager handles external process operations.
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Run executes a command synchronously and returns its combined stdout.
	// Stderr is folded into the returned error on failure.
	Run(ctx context.Context, spec Spec) ([]byte, error)

	// Start launches a detached background process and returns its PID.
	// The child is not tracked afterwards; callers re-derive its health
	// through observable facts (ports, endpoints), never a kept handle.
	Start(ctx context.Context, spec Spec) (int, error)

	// IsRunning checks if a process matching the pattern exists (pgrep -f).
	IsRunning(ctx context.Context, pattern string) (bool, int, error)

	// LookPath reports whether the named binary resolves, and to where.
	LookPath(name string) (string, bool)
}

// ExitCode extracts a shell-style exit code from a Run error.
//
// # Outputs
//
//   - 0 when err is nil
//   - the process exit code for exec.ExitError
//   - 127 when the binary could not be executed at all
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 127
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
type DefaultManager struct{}

// NewDefaultManager creates the production Manager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its combined stdout.
func (m *DefaultManager) Run(ctx context.Context, spec Spec) ([]byte, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), err
	}

	return stdout.Bytes(), nil
}

// Start launches a detached background process and returns its PID.
func (m *DefaultManager) Start(ctx context.Context, spec Spec) (int, error) {
	if len(spec.Argv) == 0 {
		return 0, fmt.Errorf("empty argv")
	}

	// Deliberately not CommandContext: the child must outlive the hook.
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", spec.Argv[0], err)
	}

	// Reap the child if it does exit while we are still alive, so it does
	// not linger as a zombie under PID1-less containers.
	go func() { _ = cmd.Wait() }()

	return cmd.Process.Pid, nil
}

// IsRunning checks if a process matching the pattern exists.
func (m *DefaultManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	output, err := cmd.Output()

	if err != nil {
		// pgrep exits 1 when nothing matches - that is not an error.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("pgrep failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > 0 && lines[0] != "" {
		pid, err := strconv.Atoi(lines[0])
		if err != nil {
			return true, 0, nil
		}
		return true, pid, nil
	}

	return false, 0, nil
}

// LookPath reports whether the named binary resolves, and to where.
func (m *DefaultManager) LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	return path, err == nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. A nil function
// field panics when its method is called, which keeps tests honest about
// which commands they expect.
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, spec process.Spec) ([]byte, error) {
//	        if spec.Argv[0] == "fuser" {
//	            return nil, errors.New("no process holds the lock")
//	        }
//	        return []byte("ok"), nil
//	    },
//	}
type MockManager struct {
	RunFunc       func(ctx context.Context, spec Spec) ([]byte, error)
	StartFunc     func(ctx context.Context, spec Spec) (int, error)
	IsRunningFunc func(ctx context.Context, pattern string) (bool, int, error)
	LookPathFunc  func(name string) (string, bool)

	// Calls records all method invocations for verification.
	Calls []Call

	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method  string
	Argv    []string
	Pattern string
	Name    string
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, spec Spec) ([]byte, error) {
	m.record(Call{Method: "Run", Argv: spec.Argv})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, spec)
}

// Start delegates to StartFunc and records the call.
func (m *MockManager) Start(ctx context.Context, spec Spec) (int, error) {
	m.record(Call{Method: "Start", Argv: spec.Argv})
	if m.StartFunc == nil {
		panic("MockManager.StartFunc not set")
	}
	return m.StartFunc(ctx, spec)
}

// IsRunning delegates to IsRunningFunc and records the call.
func (m *MockManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	m.record(Call{Method: "IsRunning", Pattern: pattern})
	if m.IsRunningFunc == nil {
		panic("MockManager.IsRunningFunc not set")
	}
	return m.IsRunningFunc(ctx, pattern)
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockManager) LookPath(name string) (string, bool) {
	m.record(Call{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		panic("MockManager.LookPathFunc not set")
	}
	return m.LookPathFunc(name)
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
