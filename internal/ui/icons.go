package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
)

var output = termenv.NewOutput(os.Stdout)

func styled(emoji, plain, ansiCode string) string {
	text := plain
	if ShouldUseEmoji() {
		text = emoji
	}
	if !ShouldUseColor() {
		return text
	}
	return termenv.String(text).Foreground(output.Color(ansiCode)).String()
}

// RenderPassIcon renders a success marker, green when color is enabled.
func RenderPassIcon() string {
	return styled("✓", "[OK]", "2")
}

// RenderWarnIcon renders a warning marker, yellow when color is enabled.
func RenderWarnIcon() string {
	return styled("⚠", "[WARN]", "3")
}

// RenderFailIcon renders a failure marker, red when color is enabled.
func RenderFailIcon() string {
	return styled("✗", "[FAIL]", "1")
}

// RenderMuted dims text for secondary/hint lines (e.g. a suggested
// follow-up command).
func RenderMuted(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return termenv.String(s).Faint().String()
}

// ShortenPath replaces the user's home directory prefix with "~" so
// status output stays readable regardless of where the town root lives.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}

// RelativeTime renders t as a coarse "N unit ago" string, the same
// granularity a human scanning `hivemind daemon status` needs.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
