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
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/harborboot/pkg/ux"
)

// featureScript is the entry point every feature directory must provide.
const featureScript = "install.sh"

// FeatureValidator checks the structural integrity of the features
// directory before any bootstrap work begins.
//
// # Description
//
// Unlike everything on the bootstrap path, validation does not retry and
// does not degrade: a missing or unreadable feature definition is a
// configuration error in the workspace itself, and retrying cannot fix it.
// The run fails fast with a non-zero exit so the break is visible
// immediately rather than surfacing later as a half-configured container.
type FeatureValidator struct {
	console *ux.Console
}

// NewFeatureValidator creates a validator.
func NewFeatureValidator(console *ux.Console) *FeatureValidator {
	return &FeatureValidator{console: console}
}

// Validate checks the features directory rooted at dir.
//
// # Outputs
//
//   - error: the first structural violation found - the directory missing
//     or unreadable, a feature without install.sh, or an unreadable script.
//     nil means every feature is well-formed.
func (v *FeatureValidator) Validate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("features directory %s is not readable: %w", dir, err)
	}

	features := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		features++
		script := filepath.Join(dir, entry.Name(), featureScript)

		info, err := os.Stat(script)
		if err != nil {
			return fmt.Errorf("feature %s has no %s: %w", entry.Name(), featureScript, err)
		}
		if info.IsDir() {
			return fmt.Errorf("feature %s: %s is a directory, expected a script", entry.Name(), featureScript)
		}

		f, err := os.Open(script)
		if err != nil {
			return fmt.Errorf("feature %s: %s is not readable: %w", entry.Name(), featureScript, err)
		}
		f.Close()

		v.console.Debug("feature %s validated", entry.Name())
	}

	v.console.Success("Validated %d feature(s) in %s", features, dir)
	return nil
}
