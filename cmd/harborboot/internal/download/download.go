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
Package download fetches remote files resumably and hands them to local
interpreters atomically.

# Problem Statement

The bootstrap hook pulls vendor install scripts over networks that drop
mid-transfer. A naive fetch either restarts from zero on every hiccup or,
worse, leaves a truncated file where the destination should be and feeds
half a script to a shell.

# Solution

Two deliberate retry layers. The transport layer resumes an interrupted
transfer in place with HTTP Range requests against a `.partial` temp file,
bounded in continuation count and total transfer time. The outer layer wraps
the whole transfer in exponential backoff for failures resumption cannot
fix (DNS, TLS, 4xx). The destination path is only ever created by renaming a
verified-complete partial file, so it never holds a truncated payload.
*/
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/harborboot/cmd/harborboot/internal/infra/process"
	"github.com/AleutianAI/harborboot/pkg/ux"
)

const (
	// Outer backoff around whole-transfer failures.
	downloadMaxAttempts = 5
	downloadInitialWait = 3 * time.Second

	// Transport-level resumption bounds within one outer attempt.
	maxResumes      = 20
	transferTimeout = 10 * time.Minute
	connectTimeout  = 30 * time.Second

	partialSuffix = ".partial"
)

// Pipeline downloads files with resume support and executes fetched scripts.
type Pipeline struct {
	client  *http.Client
	proc    process.Manager
	console *ux.Console
	sleep   func(time.Duration)
	tempDir string
}

// NewPipeline creates a Pipeline with production defaults: a bounded
// connect timeout and a total transfer timeout per attempt.
func NewPipeline(proc process.Manager, console *ux.Console) *Pipeline {
	client := &http.Client{
		Timeout: transferTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	return NewPipelineWithDeps(client, proc, console, time.Sleep, os.TempDir())
}

// NewPipelineWithDeps creates a Pipeline with injected collaborators.
//
// # Inputs
//
//   - client: HTTP client; its Timeout bounds one full transfer attempt
//   - proc: Process manager for interpreter handoff
//   - console: Progress output
//   - sleep: Backoff sleep, injectable for tests
//   - tempDir: Directory for DownloadAndExecute temp files
func NewPipelineWithDeps(client *http.Client, proc process.Manager, console *ux.Console,
	sleep func(time.Duration), tempDir string) *Pipeline {
	return &Pipeline{client: client, proc: proc, console: console, sleep: sleep, tempDir: tempDir}
}

// Download fetches url into dest.
//
// # Description
//
// Runs the resumable transfer under exponential backoff (5 attempts, 3s
// initial delay, doubling). During transfer only `dest.partial` is written;
// dest appears solely via an atomic rename after the server-reported length
// (when known) is fully received. A retry after an interrupted transfer
// resumes from the partial file's current size with a Range request.
//
// # Edge Cases
//
//   - Server ignores Range (responds 200): the partial is truncated and the
//     transfer restarts from zero within the same attempt.
//   - Unknown Content-Length: completion is whatever the server sent before
//     EOF; resumption is disabled for that attempt.
func (p *Pipeline) Download(ctx context.Context, url, dest string) error {
	partial := dest + partialSuffix

	var lastErr error
	for attempt := 1; attempt <= downloadMaxAttempts; attempt++ {
		err := p.transfer(ctx, url, partial)
		if err == nil {
			if err := os.Rename(partial, dest); err != nil {
				return fmt.Errorf("failed to finalize download: %w", err)
			}
			if attempt > 1 {
				p.console.Success("download of %s succeeded on attempt %d/%d", url, attempt, downloadMaxAttempts)
			}
			return nil
		}

		lastErr = err
		p.console.Warning("download of %s failed (attempt %d/%d): %v", url, attempt, downloadMaxAttempts, err)

		if attempt < downloadMaxAttempts {
			delay := downloadInitialWait << (attempt - 1)
			p.console.Debug("retrying download in %s", delay)
			p.sleep(delay)
		}
	}

	// Leave the partial file for the next hook run to resume.
	return fmt.Errorf("download of %s failed after %d attempts: %w", url, downloadMaxAttempts, lastErr)
}

// transfer performs one outer attempt: an initial request plus bounded
// Range-resumed continuations, appending to the partial file.
func (p *Pipeline) transfer(ctx context.Context, url, partial string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	for resume := 0; resume <= maxResumes; resume++ {
		offset := int64(0)
		if info, err := os.Stat(partial); err == nil {
			offset = info.Size()
		}

		total, err := p.fetchChunk(ctx, url, partial, offset)
		if err == nil {
			return nil
		}
		if total < 0 {
			// Unknown length or non-resumable failure.
			return err
		}
		slog.Debug("transfer interrupted, resuming",
			"url", url, "received", offset, "total", total, "resume", resume+1)
	}
	return fmt.Errorf("transfer interrupted more than %d times", maxResumes)
}

// fetchChunk issues one HTTP request from offset and appends the body to the
// partial file.
//
// # Outputs
//
//   - int64: expected total size when the interruption is resumable, -1 when
//     the caller must not resume (unknown length, HTTP error, local I/O)
//   - error: nil iff the file is verified complete
func (p *Pipeline) fetchChunk(ctx context.Context, url, partial string, offset int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return -1, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		// Resuming where we left off.
	case resp.StatusCode == http.StatusOK:
		// Fresh start, or the server ignored our Range header.
		if offset > 0 {
			slog.Debug("server ignored range request, restarting transfer", "url", url)
		}
		if err := os.Truncate(partial, 0); err != nil && !os.IsNotExist(err) {
			return -1, fmt.Errorf("failed to reset partial file: %w", err)
		}
		offset = 0
	default:
		return -1, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return -1, fmt.Errorf("failed to open partial file: %w", err)
	}
	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		if total >= 0 {
			return total, fmt.Errorf("transfer interrupted after %d bytes: %w", offset+written, copyErr)
		}
		return -1, fmt.Errorf("transfer failed: %w", copyErr)
	case closeErr != nil:
		return -1, closeErr
	case total >= 0 && offset+written < total:
		// Server closed the stream early without an error.
		return total, fmt.Errorf("short read: got %d of %d bytes", offset+written, total)
	default:
		return total, nil
	}
}

// DownloadAndExecute fetches url to a unique temp file and pipes it to the
// interpreter's stdin.
//
// # Description
//
// The interpreter only ever sees a fully downloaded script: the handoff
// happens after Download's atomic rename. The temp file is removed on every
// exit path, whether download or execution fails or succeeds.
//
// # Inputs
//
//   - ctx: Bounds both download and execution
//   - url: Script location
//   - interpreter: Argv of the interpreter, e.g. ["sh"]
func (p *Pipeline) DownloadAndExecute(ctx context.Context, url string, interpreter []string) error {
	if len(interpreter) == 0 {
		return fmt.Errorf("no interpreter given")
	}

	temp := filepath.Join(p.tempDir, fmt.Sprintf("harborboot-%s.script", uuid.New().String()))
	defer func() {
		_ = os.Remove(temp)
		_ = os.Remove(temp + partialSuffix)
	}()

	if err := p.Download(ctx, url, temp); err != nil {
		return err
	}

	script, err := os.ReadFile(temp)
	if err != nil {
		return fmt.Errorf("failed to read downloaded script: %w", err)
	}

	p.console.Debug("executing %s via %v (%d bytes)", url, interpreter, len(script))
	if _, err := p.proc.Run(ctx, process.Spec{Argv: interpreter, Stdin: script}); err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}
