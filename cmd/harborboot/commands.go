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
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "harborboot",
		Short: "Bootstrap a dev environment's external dependencies",
		Long: `Harborboot runs as a no-argument lifecycle hook before the workspace
is built. It brings apt packages, a local Ollama inference sidecar and
the workspace env file into a known-good state, degrading gracefully
when the optional sidecar cannot be made ready.`,
		// Invoked with no arguments (the lifecycle-hook case), run up.
		Run: runUpCommand,
	}

	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Run the full bootstrap sequence (the lifecycle hook)",
		Run:   runUpCommand,
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Report the health of everything the bootstrap touches",
		Run:   runDiagnoseCommand,
	}
)

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(diagnoseCmd)
}
