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
	"log/slog"
	"os"

	"github.com/AleutianAI/harborboot/pkg/ux"
)

// DebugEnvVar turns on debug console output and slog debug tracing.
const DebugEnvVar = "HARBORBOOT_DEBUG"

// console is the process-wide output sink, built once in main and passed
// down explicitly to every component that reports progress.
var console *ux.Console

func main() {
	debug := os.Getenv(DebugEnvVar) != ""
	console = ux.NewConsole(os.Stdout, os.Stderr, ux.WithDebug(debug))
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the usage error.
		os.Exit(1)
	}
}
