// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides styled terminal output for the harborboot CLI.
//
// Unlike a package-level logger, output goes through an injected *Console so
// every component receives its formatting and debug gating explicitly. The
// console has five severities: Info, Success, Warning, Error and Debug.
// Warning and Error always go to the error writer; Debug is silent unless
// the debug flag is set.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Harborboot palette - harbor greys and channel-marker colors.
var (
	ColorFog     = lipgloss.Color("#8FA3AD") // muted text
	ColorChannel = lipgloss.Color("#2CA6A4") // primary accent
	ColorBuoy    = lipgloss.Color("#44D7B6") // success
	ColorAmber   = lipgloss.Color("#F4D03F") // warnings
	ColorFlare   = lipgloss.Color("#E74C3C") // errors
)

// styles holds the pre-built lipgloss styles for a styled console.
type styles struct {
	Info    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

func newStyles() styles {
	return styles{
		Info:    lipgloss.NewStyle().Foreground(ColorChannel),
		Success: lipgloss.NewStyle().Foreground(ColorBuoy),
		Warning: lipgloss.NewStyle().Foreground(ColorAmber),
		Error:   lipgloss.NewStyle().Foreground(ColorFlare),
		Muted:   lipgloss.NewStyle().Foreground(ColorFog),
	}
}

// Console writes leveled, human-readable status lines.
//
// # Description
//
// Console is a value passed explicitly to each component that reports
// progress. When the output writer is a terminal, lines are styled with
// lipgloss icons and colors; otherwise a plain machine-readable prefix form
// is used (OK:/WARN:/ERROR:) so hook logs stay grep-able.
//
// # Thread Safety
//
// Console methods perform a single Fprintf per call and may be shared across
// goroutines, though harborboot itself is fully synchronous.
type Console struct {
	out    io.Writer
	errOut io.Writer
	styled bool
	debug  bool
	styles styles
}

// Option configures a Console.
type Option func(*Console)

// WithDebug enables Debug output.
func WithDebug(enabled bool) Option {
	return func(c *Console) { c.debug = enabled }
}

// WithStyled forces styling on or off regardless of tty detection.
func WithStyled(enabled bool) Option {
	return func(c *Console) { c.styled = enabled }
}

// NewConsole creates a console writing to the given writers.
//
// # Description
//
// Styling defaults to on when out is a terminal (detected via go-isatty) and
// off otherwise. The debug flag defaults to off; callers wire it from the
// HARBORBOOT_DEBUG environment flag.
//
// # Inputs
//
//   - out: Writer for Info/Success/Debug lines (usually os.Stdout)
//   - errOut: Writer for Warning/Error lines (usually os.Stderr)
//   - opts: Optional configuration
//
// # Examples
//
//	console := ux.NewConsole(os.Stdout, os.Stderr,
//	    ux.WithDebug(os.Getenv("HARBORBOOT_DEBUG") != ""))
//	console.Info("Checking features directory")
func NewConsole(out, errOut io.Writer, opts ...Option) *Console {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	c := &Console{
		out:    out,
		errOut: errOut,
		styled: styled,
		styles: newStyles(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Info prints an informational status line.
func (c *Console) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		fmt.Fprintf(c.out, "%s %s\n", c.styles.Muted.Render("│"), msg)
		return
	}
	fmt.Fprintln(c.out, msg)
}

// Success prints a success line with a checkmark.
func (c *Console) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		fmt.Fprintf(c.out, "%s %s\n", c.styles.Success.Render("✓"), c.styles.Success.Render(msg))
		return
	}
	fmt.Fprintf(c.out, "OK: %s\n", msg)
}

// Warning prints a warning line to the error writer.
func (c *Console) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		fmt.Fprintf(c.errOut, "%s %s\n", c.styles.Warning.Render("⚠"), c.styles.Warning.Render(msg))
		return
	}
	fmt.Fprintf(c.errOut, "WARN: %s\n", msg)
}

// Error prints an error line to the error writer.
func (c *Console) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		fmt.Fprintf(c.errOut, "%s %s\n", c.styles.Error.Render("✗"), c.styles.Error.Render(msg))
		return
	}
	fmt.Fprintf(c.errOut, "ERROR: %s\n", msg)
}

// Debug prints a trace line when debug output is enabled.
func (c *Console) Debug(format string, args ...any) {
	if !c.debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		fmt.Fprintf(c.out, "%s %s\n", c.styles.Muted.Render("·"), c.styles.Muted.Render(msg))
		return
	}
	fmt.Fprintf(c.out, "DEBUG: %s\n", msg)
}

// DebugEnabled reports whether Debug output is active.
func (c *Console) DebugEnabled() bool {
	return c.debug
}
