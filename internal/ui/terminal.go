// Package ui provides terminal-capability detection and styled status
// output shared by every CLI command.
//
// Grounded on gastown's internal/ui/terminal.go (TTY/color/emoji
// detection, read in full) for this file; gastown calls
// RenderPassIcon/RenderWarnIcon/ShortenPath/RelativeTime from its
// internal/cmd and internal/doctor packages but that definition file was
// not present in the retrieved reference pack, so icons.go below builds
// the equivalents directly on github.com/muesli/termenv, following the
// same ShouldUseColor/ShouldUseEmoji gating this file establishes.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects NO_COLOR (https://no-color.org/), CLICOLOR, and
// CLICOLOR_FORCE conventions.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji determines if emoji decorations should be used.
// Disabled in non-TTY mode to keep output machine-readable.
func ShouldUseEmoji() bool {
	if _, exists := os.LookupEnv("HIVEMIND_NO_EMOJI"); exists {
		return false
	}
	return IsTerminal()
}

// IsAgentMode returns true if the CLI is being driven by an AI agent
// rather than a human (HIVEMIND_AGENT_MODE=1 or CLAUDE_CODE set). No
// command currently changes its output based on it.
func IsAgentMode() bool {
	if os.Getenv("HIVEMIND_AGENT_MODE") == "1" {
		return true
	}
	if os.Getenv("CLAUDE_CODE") != "" {
		return true
	}
	return false
}
