package daemon

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hivemind-dev/coordinator/internal/atomicfile"
	"github.com/hivemind-dev/coordinator/internal/constants"
)

// TerminalState is the persisted shape of one pane's terminal-level
// session state: everything needed to recognize and reseed an agent on
// the next daemon start, independent of whether the vendor captured a
// resumable session id.
type TerminalState struct {
	PaneID       int       `json:"paneId"`
	Role         string    `json:"role"`
	Mode         string    `json:"mode"`
	Cwd          string    `json:"cwd"`
	Alive        bool      `json:"alive"`
	LastActivity time.Time `json:"lastActivity"`
	// Scrollback is the terminal's own bounded buffer; encoding/json
	// base64-encodes a []byte automatically, so arbitrary PTY bytes
	// (partial escape sequences included) round-trip without a separate
	// text-safety pass.
	Scrollback []byte `json:"scrollback"`
}

// SessionState is the top-level shape of session-state.json. Terminals
// and SdkSessions are both keyed by pane id (as a string, since JSON
// object keys are always strings): Terminals holds every tracked
// pane's terminal state, SdkSessions holds only the subset that
// captured a resumable vendor session id.
type SessionState struct {
	Terminals   map[string]TerminalState `json:"terminals"`
	SdkSessions map[string]string        `json:"sdkSessions"`
}

// saveSession atomically snapshots every roster entry's terminal state
// and captured vendor session id to session-state.json. Called on a
// periodic timer (at least every 30s) and on shutdown.
func (d *Daemon) saveSession() error {
	state := SessionState{
		Terminals:   make(map[string]TerminalState),
		SdkSessions: make(map[string]string),
	}
	for _, pane := range d.roster.List() {
		a, term, ok := d.roster.Get(pane)
		if !ok {
			continue
		}
		key := strconv.Itoa(int(a.PaneID()))
		state.Terminals[key] = TerminalState{
			PaneID:       int(a.PaneID()),
			Role:         a.Role(),
			Mode:         string(a.Mode()),
			Cwd:          a.Cwd(),
			Alive:        a.Alive(),
			LastActivity: term.LastOutputAt(),
			Scrollback:   term.Scrollback(),
		}
		if sid := a.SessionID(); sid != "" {
			state.SdkSessions[key] = sid
		}
	}
	path := constants.SessionStatePath(d.townRoot)
	if err := atomicfile.WriteJSON(path, state); err != nil {
		return fmt.Errorf("daemon: saving session state: %w", err)
	}
	return nil
}

// restoreSession loads session-state.json, if present, so respawned
// agents can be handed their prior working directory and vendor
// session id to resume with. It does not itself spawn anything; Run
// applies these to matching manifest roster entries before spawning.
func (d *Daemon) restoreSession() error {
	var state SessionState
	path := constants.SessionStatePath(d.townRoot)
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		return err
	}
	if len(state.Terminals) == 0 {
		return nil
	}
	for i, ac := range d.manifest.Roster {
		key := strconv.Itoa(ac.PaneID)
		if term, ok := state.Terminals[key]; ok && term.Cwd != "" {
			d.manifest.Roster[i].Cwd = term.Cwd
		}
		if sid, ok := state.SdkSessions[key]; ok && sid != "" {
			d.manifest.Roster[i].ResumeSessionID = sid
		}
	}
	return nil
}

// clearSession resets the persisted session-state file to an empty
// object, so the next start resumes no vendor session. No CLI command
// calls it.
func clearSession(townRoot string) error {
	path := constants.SessionStatePath(townRoot)
	if err := atomicfile.Write(path, []byte("{}"), 0644); err != nil {
		return fmt.Errorf("daemon: clearing session state: %w", err)
	}
	return nil
}
