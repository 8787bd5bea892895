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
	"regexp"
	"strings"

	"github.com/AleutianAI/harborboot/pkg/ux"
)

const (
	envFileName      = ".env"
	envTemplateName  = ".env.template"
	envKeyProject    = "COMPOSE_PROJECT_NAME"
	envKeyEmbedModel = "EMBEDDING_MODEL"
)

var nonAlphanumRun = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeProjectName turns a workspace directory name into a valid compose
// project name: lowercased, runs of non-alphanumerics collapsed to a single
// hyphen, leading/trailing hyphens trimmed.
func sanitizeProjectName(name string) string {
	s := nonAlphanumRun.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "workspace"
	}
	return s
}

// EnsureEnvFile materializes and patches the workspace .env file.
//
// # Description
//
// When .env is missing it is seeded from .env.template (no template, no
// file - that workspace does not use compose, which is fine). The compose
// project name and embedding model keys are then set in place: existing
// assignments are rewritten, missing ones appended, every other line is
// preserved byte for byte. The operation is idempotent; re-running the hook
// never grows or reorders the file.
func EnsureEnvFile(dir, model string, console *ux.Console) error {
	envPath := filepath.Join(dir, envFileName)
	templatePath := filepath.Join(dir, envTemplateName)

	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		template, err := os.ReadFile(templatePath)
		if os.IsNotExist(err) {
			console.Debug("no %s or %s in %s, skipping env setup", envFileName, envTemplateName, dir)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", envTemplateName, err)
		}
		if err := os.WriteFile(envPath, template, 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", envFileName, err)
		}
		console.Info("Created %s from %s", envFileName, envTemplateName)
	}

	data, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", envFileName, err)
	}

	project := sanitizeProjectName(filepath.Base(dir))
	patched := setEnvKey(string(data), envKeyProject, project)
	patched = setEnvKey(patched, envKeyEmbedModel, model)

	if patched == string(data) {
		console.Debug("%s already up to date", envFileName)
		return nil
	}
	if err := os.WriteFile(envPath, []byte(patched), 0o644); err != nil {
		return fmt.Errorf("failed to update %s: %w", envFileName, err)
	}
	console.Success("Patched %s (%s=%s, %s=%s)", envFileName, envKeyProject, project, envKeyEmbedModel, model)
	return nil
}

// setEnvKey rewrites the first KEY=... line or appends one, leaving all
// other lines untouched.
func setEnvKey(content, key, value string) string {
	assignment := key + "=" + value

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+"=") {
			lines[i] = assignment
			return strings.Join(lines, "\n")
		}
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + assignment + "\n"
}
