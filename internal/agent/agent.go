// Package agent defines the data model shared by the daemon, injection,
// trigger, and recovery subsystems: the Agent and Terminal records
// described below.
package agent

import (
	"sync"
	"time"
)

// PaneID identifies one logical slot hosting one Agent. Panes are small
// positive integers assigned by whoever configures the roster.
type PaneID int

// Mode distinguishes how an Agent's child process is run.
type Mode string

const (
	// ModeInteractive runs the agent inside a PTY; it consumes
	// keystrokes and escape sequences like any terminal program.
	ModeInteractive Mode = "interactive"
	// ModeExec runs the agent without a PTY and speaks a structured
	// newline-delimited JSON event stream on stdout.
	ModeExec Mode = "exec"
)

// Spec describes how to spawn an Agent. It is the caller-supplied half of
// the Agent record; Process/SessionID are filled in once spawned.
type Spec struct {
	PaneID   PaneID
	Role     string
	Mode     Mode
	Cwd      string
	Argv     []string
	DryRun   bool
}

// Agent is one child process embodying a role, plus the bookkeeping the
// daemon needs to supervise it. The zero value is not meaningful; use
// New.
type Agent struct {
	mu sync.RWMutex

	spec      Spec
	pid       int
	sessionID string
	alive     bool
	startedAt time.Time
}

// New creates an Agent record for the given spec. It does not spawn
// anything; callers pair this with a ptyproc/execchild handle.
func New(spec Spec) *Agent {
	return &Agent{spec: spec, startedAt: time.Now()}
}

// PaneID returns the agent's pane slot.
func (a *Agent) PaneID() PaneID { return a.spec.PaneID }

// Role returns the agent's role name (e.g. "architect", "worker-a").
func (a *Agent) Role() string { return a.spec.Role }

// Mode returns interactive or exec.
func (a *Agent) Mode() Mode { return a.spec.Mode }

// Cwd returns the agent's working directory.
func (a *Agent) Cwd() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec.Cwd
}

// SetCwd updates the working directory, used when a respawn changes it.
func (a *Agent) SetCwd(cwd string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spec.Cwd = cwd
}

// Argv returns the spawn argv for this agent.
func (a *Agent) Argv() []string { return a.spec.Argv }

// DryRun reports whether this agent is a mock (no real child process).
func (a *Agent) DryRun() bool { return a.spec.DryRun }

// SetProcess records the live OS process id and marks the agent alive.
func (a *Agent) SetProcess(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pid = pid
	a.alive = true
}

// PID returns the last known OS process id, or 0 if never set.
func (a *Agent) PID() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pid
}

// SetAlive updates the liveness flag (cleared on exit).
func (a *Agent) SetAlive(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alive = v
}

// Alive reports whether the agent's child process is believed running.
func (a *Agent) Alive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.alive
}

// SessionID returns the opaque vendor session id captured from the
// exec-mode stream (or set for interactive resume), if any.
func (a *Agent) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

// SetSessionID records the vendor session id for resume-by-id.
func (a *Agent) SetSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

// Terminal holds the byte-stream bookkeeping for one Agent: bounded
// scrollback and the activity timestamps the Injection Engine and
// Recovery Manager read to judge idleness and progress.
type Terminal struct {
	mu sync.Mutex

	scrollback   []byte
	maxScroll    int
	lastOutputAt time.Time
	lastInputAt  time.Time
	alive        bool
	expectedExit bool
}

// NewTerminal creates a Terminal with the given bounded scrollback
// capacity in bytes.
func NewTerminal(maxScrollbackBytes int) *Terminal {
	if maxScrollbackBytes <= 0 {
		maxScrollbackBytes = 256 * 1024
	}
	return &Terminal{maxScroll: maxScrollbackBytes, alive: true}
}

// AppendOutput records a chunk of child output, trims the scrollback to
// its bound, and stamps lastOutputAt.
func (t *Terminal) AppendOutput(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrollback = append(t.scrollback, b...)
	if excess := len(t.scrollback) - t.maxScroll; excess > 0 {
		t.scrollback = t.scrollback[excess:]
	}
	t.lastOutputAt = time.Now()
}

// RecordInput stamps lastInputAt, called whenever bytes are written to
// the child's stdin (by a human, or by the Injection Engine).
func (t *Terminal) RecordInput() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastInputAt = time.Now()
}

// LastOutputAt returns the last time output was observed.
func (t *Terminal) LastOutputAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOutputAt
}

// LastInputAt returns the last time input was written.
func (t *Terminal) LastInputAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastInputAt
}

// Scrollback returns a copy of the bounded scrollback buffer.
func (t *Terminal) Scrollback() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.scrollback))
	copy(out, t.scrollback)
	return out
}

// SetAlive updates the liveness flag.
func (t *Terminal) SetAlive(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive = v
}

// Alive reports the terminal's liveness flag.
func (t *Terminal) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// SetExpectedExit arms the one-shot suppression flag consumed by the
// next exit event, so a deliberate kill or respawn doesn't trip
// recovery's escalation ladder.
func (t *Terminal) SetExpectedExit(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectedExit = v
}

// ConsumeExpectedExit reads and clears the expectedExit flag atomically,
// so it applies to exactly one exit event.
func (t *Terminal) ConsumeExpectedExit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.expectedExit
	t.expectedExit = false
	return v
}
