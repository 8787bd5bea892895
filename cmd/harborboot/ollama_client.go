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
Package main contains ollama_client.go which talks to the local Ollama
sidecar: liveness, model presence and model pulls.

# Problem Statement

The bootstrap hook must decide, from the outside, whether the sidecar is
usable: is the API answering, does it already have the embedding model, and
if not, can the model be fetched. All of that has to work against whatever
Ollama version happens to be installed.

# Solution

OllamaClient wraps the three endpoints the hook needs:

  - GET /api/tags      liveness probe + installed model inventory
  - GET /api/version   version string for diagnostics
  - POST /api/pull     streaming model download

Pulls go through the service's own /api/pull rather than shelling out to
`ollama pull`, and the service's internal download retry is trusted - the
hook does not wrap PullModel in another retry layer.

# Usage

	client := NewOllamaClient("http://localhost:11434")
	if client.IsAlive(ctx) {
	    ok, _ := client.HasModel(ctx, "bge-m3")
	    if !ok {
	        _ = client.PullModel(ctx, "bge-m3", nil)
	    }
	}
*/
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// ServiceErrorType categorizes sidecar operation failures.
type ServiceErrorType int

const (
	// ServiceErrorConnectionFailed indicates the sidecar is not reachable.
	ServiceErrorConnectionFailed ServiceErrorType = iota

	// ServiceErrorPullFailed indicates a model download failed.
	ServiceErrorPullFailed

	// ServiceErrorInvalidResponse indicates the sidecar returned unexpected data.
	ServiceErrorInvalidResponse

	// ServiceErrorCancelled indicates the operation was cancelled.
	ServiceErrorCancelled
)

// String returns the error type as a string for logging.
func (t ServiceErrorType) String() string {
	switch t {
	case ServiceErrorConnectionFailed:
		return "CONNECTION_FAILED"
	case ServiceErrorPullFailed:
		return "PULL_FAILED"
	case ServiceErrorInvalidResponse:
		return "INVALID_RESPONSE"
	case ServiceErrorCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ServiceError provides structured error information for sidecar operations.
type ServiceError struct {
	// Type categorizes the error for programmatic handling.
	Type ServiceErrorType

	// Model is the model involved, when the operation had one.
	Model string

	// Message is a human-readable error description.
	Message string

	// Detail provides technical information for debugging.
	Detail string

	// Remediation suggests how to fix the issue.
	Remediation string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return e.Message
}

// FullError returns a detailed error message including remediation.
func (e *ServiceError) FullError() string {
	var buf bytes.Buffer
	buf.WriteString(e.Message)
	if e.Model != "" {
		buf.WriteString(fmt.Sprintf(" (model: %s)", e.Model))
	}
	if e.Detail != "" {
		buf.WriteString("\n\nDetails: ")
		buf.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		buf.WriteString("\n\nTo fix:\n")
		buf.WriteString(e.Remediation)
	}
	return buf.String()
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// Model is a model installed in the sidecar.
type Model struct {
	// Name is the model identifier (e.g., "bge-m3:latest").
	Name string

	// Size is the model file size in bytes.
	Size int64

	// ModifiedAt is when the model was last modified.
	ModifiedAt time.Time

	// Digest is the model's content hash.
	Digest string
}

// PullProgressCallback receives streaming progress during model pulls.
//
//   - status: current operation ("pulling manifest", "pulling sha256:...")
//   - completed: bytes downloaded so far
//   - total: total bytes to download (0 if unknown)
type PullProgressCallback func(status string, completed, total int64)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ServiceClient is the sidecar API surface the bootstrapper depends on.
// The interface exists so the state machine is testable without a server.
type ServiceClient interface {
	// IsAlive reports whether the API answers at all.
	IsAlive(ctx context.Context) bool

	// ListModels returns the installed models.
	ListModels(ctx context.Context) ([]Model, error)

	// HasModel reports whether the named model is installed, matching
	// with and without the :latest tag.
	HasModel(ctx context.Context, name string) (bool, error)

	// PullModel downloads a model through the sidecar's own pull endpoint.
	PullModel(ctx context.Context, name string, progress PullProgressCallback) error

	// Version returns the sidecar version string.
	Version(ctx context.Context) (string, error)

	// BaseURL returns the configured API base URL.
	BaseURL() string
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// OllamaClient implements ServiceClient against a local Ollama instance.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	// liveClient uses a short timeout so liveness polls fail fast.
	liveClient *http.Client
}

// NewOllamaClient creates a client for the given base URL.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &OllamaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // model pulls are slow
		},
		liveClient: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// NewOllamaClientWithHTTP creates a client with injected HTTP clients.
func NewOllamaClientWithHTTP(baseURL string, httpClient, liveClient *http.Client) *OllamaClient {
	return &OllamaClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		liveClient: liveClient,
	}
}

// BaseURL returns the configured API base URL.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}

// IsAlive reports whether GET /api/tags answers with HTTP 200.
func (c *OllamaClient) IsAlive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.liveClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ollamaTagsResponse is the response from /api/tags.
type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		Digest     string    `json:"digest"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// ListModels returns the models currently installed in the sidecar.
func (c *OllamaClient) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ServiceError{
			Type:        ServiceErrorConnectionFailed,
			Message:     "Failed to create request",
			Detail:      err.Error(),
			Remediation: "Check that the service is running: ollama serve",
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{
			Type:        ServiceErrorConnectionFailed,
			Message:     "Cannot connect to the service",
			Detail:      err.Error(),
			Remediation: fmt.Sprintf("Ensure the service is running at %s", c.baseURL),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ServiceError{
			Type:    ServiceErrorInvalidResponse,
			Message: fmt.Sprintf("Model listing failed with status %d", resp.StatusCode),
			Detail:  string(body),
		}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ServiceError{
			Type:    ServiceErrorInvalidResponse,
			Message: "Failed to parse the model list",
			Detail:  err.Error(),
		}
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, Model{
			Name:       m.Name,
			Size:       m.Size,
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return models, nil
}

// normalizeModelName strips the implicit :latest tag so "bge-m3" and
// "bge-m3:latest" compare equal.
func normalizeModelName(name string) string {
	return strings.TrimSuffix(name, ":latest")
}

// HasModel reports whether the named model is installed.
func (c *OllamaClient) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := normalizeModelName(name)
	for _, m := range models {
		if normalizeModelName(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// ollamaPullRequest is the request body for /api/pull.
type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// ollamaPullProgress is one line of the streaming /api/pull response.
type ollamaPullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
	Error     string `json:"error"`
}

// PullModel downloads a model through the sidecar's streaming pull endpoint.
//
// # Description
//
// The sidecar performs the registry download itself, with its own internal
// retry; PullModel only relays progress and surfaces the final outcome.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - name: Model to download (e.g., "bge-m3")
//   - progress: Callback for progress updates (nil to skip)
func (c *OllamaClient) PullModel(ctx context.Context, name string, progress PullProgressCallback) error {
	reqBytes, err := json.Marshal(ollamaPullRequest{Name: name, Stream: true})
	if err != nil {
		return &ServiceError{
			Type:    ServiceErrorPullFailed,
			Model:   name,
			Message: "Failed to encode pull request",
			Detail:  err.Error(),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(reqBytes))
	if err != nil {
		return &ServiceError{
			Type:        ServiceErrorConnectionFailed,
			Model:       name,
			Message:     "Failed to create request",
			Detail:      err.Error(),
			Remediation: "Check that the service is running: ollama serve",
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &ServiceError{
				Type:        ServiceErrorCancelled,
				Model:       name,
				Message:     "Pull cancelled",
				Detail:      ctx.Err().Error(),
				Remediation: "Run the hook again to resume the download",
			}
		}
		return &ServiceError{
			Type:        ServiceErrorConnectionFailed,
			Model:       name,
			Message:     "Cannot connect to the service",
			Detail:      err.Error(),
			Remediation: fmt.Sprintf("Ensure the service is running at %s", c.baseURL),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ServiceError{
			Type:        ServiceErrorPullFailed,
			Model:       name,
			Message:     fmt.Sprintf("Pull failed with status %d", resp.StatusCode),
			Detail:      string(body),
			Remediation: "Check the model name and registry reachability",
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return &ServiceError{
				Type:        ServiceErrorCancelled,
				Model:       name,
				Message:     "Pull cancelled",
				Detail:      ctx.Err().Error(),
				Remediation: "Run the hook again to resume the download",
			}
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var prog ollamaPullProgress
		if err := json.Unmarshal(line, &prog); err != nil {
			slog.Debug("failed to parse pull progress line", "line", string(line), "error", err)
			continue
		}
		if prog.Error != "" {
			return &ServiceError{
				Type:        ServiceErrorPullFailed,
				Model:       name,
				Message:     "Pull failed",
				Detail:      prog.Error,
				Remediation: "Check network connection and try again",
			}
		}
		if progress != nil {
			progress(prog.Status, prog.Completed, prog.Total)
		}
	}
	if err := scanner.Err(); err != nil {
		return &ServiceError{
			Type:        ServiceErrorPullFailed,
			Model:       name,
			Message:     "Error reading pull response",
			Detail:      err.Error(),
			Remediation: "Check network connection and try again",
		}
	}
	return nil
}

// ollamaVersionResponse is the response from /api/version.
type ollamaVersionResponse struct {
	Version string `json:"version"`
}

// Version returns the sidecar version string.
func (c *OllamaClient) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.liveClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v ollamaVersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Compile-time interface compliance check.
var _ ServiceClient = (*OllamaClient)(nil)
