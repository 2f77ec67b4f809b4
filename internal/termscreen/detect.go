package termscreen

import (
	"regexp"
	"strconv"
	"strings"
)

// workingPattern matches an agent CLI's "I am thinking" status line: a
// spinner glyph, a gerund-ish label, an ellipsis, and an interrupt
// hint. Grounded on kandev's claude_code_detector.go workingTaskPattern,
// read in full.
var workingPattern = regexp.MustCompile(
	`[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+(?:…|\.{2,})\s*\([^)]*(esc|ctrl\+c)\s+to\s+interrupt`,
)

// thinkingTimerPattern extracts the elapsed-seconds counter CLIs print
// alongside the working line, e.g. "(12s · esc to interrupt)" or
// "(4s)". This is the internal timer interactive-mode progress detection
// refers to: it advances every second regardless of whether new tokens
// are actually streaming.
var thinkingTimerPattern = regexp.MustCompile(`\((\d+)s(?:\s*[·•]|[)\s])`)

// promptReadyPattern matches a bare shell/CLI prompt at end-of-line:
// the interactive verify step's "prompt-ready marker".
var promptReadyPattern = regexp.MustCompile(`[$>❯#]\s*$`)

// Working reports whether the rendered screen shows the agent's
// "thinking" status line.
func Working(lines []string) bool {
	for _, line := range lines {
		if workingPattern.MatchString(strings.TrimRight(line, " \t")) {
			return true
		}
	}
	return false
}

// ThinkingTimer extracts the most recent elapsed-seconds reading from
// the screen, if a thinking-timer line is visible.
func ThinkingTimer(lines []string) (seconds int, ok bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		m := thinkingTimerPattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// PromptReady reports whether the bottom of the screen looks like an
// idle prompt waiting for input, rather than mid-render output.
func PromptReady(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimRight(lines[i], " \t")
		if trimmed == "" {
			continue
		}
		return promptReadyPattern.MatchString(trimmed)
	}
	return false
}
