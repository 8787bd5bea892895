// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

type HarborbootConfig struct {
	// Service: the local inference sidecar the hook bootstraps
	Service ServiceConfig `yaml:"service"`

	// Features: where pluggable feature definitions live
	Features FeaturesConfig `yaml:"features"`

	// Timeouts: independently tunable wait budgets
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

type ServiceConfig struct {
	// BaseURL of the sidecar API, e.g. http://localhost:11434
	BaseURL string `yaml:"base_url"`

	// EmbeddingModel is the model reference the hook ensures is present.
	EmbeddingModel string `yaml:"embedding_model"`

	// InstallScriptURL is the vendor install script for the linux path.
	InstallScriptURL string `yaml:"install_script_url"`
}

type FeaturesConfig struct {
	// Dir holds one subdirectory per feature, each with an install.sh.
	Dir string `yaml:"dir"`
}

type TimeoutConfig struct {
	// LockWaitSeconds: cumulative apt lock wait before forced clearing.
	LockWaitSeconds int `yaml:"lock_wait_seconds"`

	// ReadinessSeconds: total budget for the sidecar readiness poll.
	ReadinessSeconds int `yaml:"readiness_seconds"`

	// NetworkWaitSeconds: total budget for the outbound connectivity probe.
	NetworkWaitSeconds int `yaml:"network_wait_seconds"`
}

// LockWait returns the apt lock budget as a duration.
func (t TimeoutConfig) LockWait() time.Duration {
	return time.Duration(t.LockWaitSeconds) * time.Second
}

// Readiness returns the readiness poll budget as a duration.
func (t TimeoutConfig) Readiness() time.Duration {
	return time.Duration(t.ReadinessSeconds) * time.Second
}

// NetworkWait returns the connectivity probe budget as a duration.
func (t TimeoutConfig) NetworkWait() time.Duration {
	return time.Duration(t.NetworkWaitSeconds) * time.Second
}

func DefaultConfig() HarborbootConfig {
	return HarborbootConfig{
		Service: ServiceConfig{
			BaseURL:          "http://localhost:11434",
			EmbeddingModel:   "bge-m3",
			InstallScriptURL: "https://ollama.com/install.sh",
		},
		Features: FeaturesConfig{
			Dir: "features",
		},
		Timeouts: TimeoutConfig{
			LockWaitSeconds:    60,
			ReadinessSeconds:   30,
			NetworkWaitSeconds: 60,
		},
	}
}
