// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the harborboot.yaml workspace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace-relative config file.
const FileName = "harborboot.yaml"

// Load reads the config from dir, creating it with defaults on first run.
//
// # Description
//
// The returned config is a value, not a singleton: the command layer loads
// it once and passes it down. Fields absent from the file keep their
// defaults, so a user config that only pins the model still gets the full
// timeout set.
//
// # Outputs
//
//   - HarborbootConfig: merged file-over-defaults configuration
//   - error: non-nil only for I/O or parse failures, which the caller
//     treats as fatal (the hook cannot run without a coherent config)
func Load(dir string) (HarborbootConfig, error) {
	path := filepath.Join(dir, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return HarborbootConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return HarborbootConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	// Unmarshal over the defaults so omitted fields keep their values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HarborbootConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
