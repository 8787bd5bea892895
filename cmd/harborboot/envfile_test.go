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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/harborboot/pkg/ux"
)

func quietConsole() *ux.Console {
	return ux.NewConsole(&bytes.Buffer{}, &bytes.Buffer{}, ux.WithStyled(false))
}

func TestSanitizeProjectName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MyProject", "myproject"},
		{"my_cool.project", "my-cool-project"},
		{"  spaced out  ", "spaced-out"},
		{"__", "workspace"},
		{"already-fine", "already-fine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeProjectName(tt.in), tt.in)
	}
}

func TestEnsureEnvFileCreatesFromTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My Workspace")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	template := "API_PORT=8080\nEMBEDDING_MODEL=placeholder\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, envTemplateName), []byte(template), 0o644))

	require.NoError(t, EnsureEnvFile(dir, "bge-m3", quietConsole()))

	got, err := os.ReadFile(filepath.Join(dir, envFileName))
	require.NoError(t, err)
	content := string(got)
	assert.Contains(t, content, "API_PORT=8080\n", "unrelated lines survive")
	assert.Contains(t, content, "EMBEDDING_MODEL=bge-m3")
	assert.Contains(t, content, "COMPOSE_PROJECT_NAME=my-workspace")
	assert.NotContains(t, content, "placeholder")
}

func TestEnsureEnvFileSkipsWhenNothingExists(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, EnsureEnvFile(dir, "bge-m3", quietConsole()))

	_, err := os.Stat(filepath.Join(dir, envFileName))
	assert.True(t, os.IsNotExist(err), "no template means no env file is invented")
}

func TestEnsureEnvFilePatchesExisting(t *testing.T) {
	dir := t.TempDir()
	existing := "# compose settings\nCOMPOSE_PROJECT_NAME=old-name\nOTHER=1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, envFileName), []byte(existing), 0o644))

	require.NoError(t, EnsureEnvFile(dir, "bge-m3", quietConsole()))

	got, err := os.ReadFile(filepath.Join(dir, envFileName))
	require.NoError(t, err)
	content := string(got)
	assert.Contains(t, content, "# compose settings\n")
	assert.Contains(t, content, "OTHER=1\n")
	assert.NotContains(t, content, "old-name")
	assert.Contains(t, content, "EMBEDDING_MODEL=bge-m3\n", "missing key is appended")
}

func TestEnsureEnvFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, envFileName), []byte("A=1\n"), 0o644))

	require.NoError(t, EnsureEnvFile(dir, "bge-m3", quietConsole()))
	first, err := os.ReadFile(filepath.Join(dir, envFileName))
	require.NoError(t, err)

	require.NoError(t, EnsureEnvFile(dir, "bge-m3", quietConsole()))
	second, err := os.ReadFile(filepath.Join(dir, envFileName))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "re-running never grows the file")
}

func TestSetEnvKeyAppendsWithoutTrailingNewline(t *testing.T) {
	got := setEnvKey("A=1", "B", "2")
	assert.Equal(t, "A=1\nB=2\n", got)
}
