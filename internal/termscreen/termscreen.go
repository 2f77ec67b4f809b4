// Package termscreen renders raw PTY bytes through a virtual terminal
// emulator so the Injection Engine and Recovery Manager can reason
// about what an interactive agent's screen actually looks like, instead
// of grepping the raw escape-sequence-laden byte stream.
//
// Grounded on the kandev pack repo's StatusTracker
// (agentctl/server/process/status_tracker.go), read in full: a
// vt10x.Terminal fed with Write, then read back cell-by-cell into plain
// text lines for pattern detection.
package termscreen

import (
	"sync"

	"github.com/tuzig/vt10x"
)

// Screen is a disposable virtual terminal: feed it a chunk of PTY
// output and read back the rendered lines. Callers construct a fresh
// Screen per inspection rather than keeping one alive per pane, since
// the inspection only needs the tail of scrollback, not a faithfully
// continuous session.
type Screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

// New creates a Screen of the given size (defaults 80x24, matching the
// daemon's default pane geometry).
func New(cols, rows int) *Screen {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Write feeds raw PTY bytes into the emulator.
func (s *Screen) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write(data)
}

// Lines renders the current screen as plain text, one string per row,
// trailing blanks included so callers can index by row number.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, s.rows)
	for row := 0; row < s.rows; row++ {
		runes := make([]rune, s.cols)
		for col := 0; col < s.cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				runes[col] = ' '
			} else {
				runes[col] = g.Char
			}
		}
		lines[row] = string(runes)
	}
	return lines
}

// Render is a convenience constructor: builds a Screen of the given
// size, writes data into it, and returns the rendered lines in one call.
func Render(data []byte, cols, rows int) []string {
	s := New(cols, rows)
	s.Write(data)
	return s.Lines()
}
