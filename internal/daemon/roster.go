package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/eventbus"
	"github.com/hivemind-dev/coordinator/internal/execchild"
	"github.com/hivemind-dev/coordinator/internal/ptyproc"
)

// entry pairs an Agent record with its live process handle and
// Terminal buffer. Exactly one of ptyHandle/execHandle is set,
// depending on the agent's Mode.
type entry struct {
	agent    *agent.Agent
	terminal *agent.Terminal

	ptyHandle ptyproc.Handle
	execHandle *execchild.Handle

	cancelExec context.CancelFunc
}

// Roster owns every Agent the daemon supervises, keyed by pane id. It
// is the thing spawn/write/resize/kill/interrupt/list/attach operate
// on; the Injection Engine, Trigger Router, and Recovery Manager all
// hold a reference to the same Roster.
type Roster struct {
	mu      sync.RWMutex
	agents  map[agent.PaneID]*entry
	logger  *slog.Logger
	bus     *eventbus.Bus
}

// NewRoster creates an empty Roster.
func NewRoster(logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		agents: make(map[agent.PaneID]*entry),
		logger: logger.With("component", "roster"),
		bus:    eventbus.New(),
	}
}

// Events returns the roster's event bus, which the IPC server
// subscribes to for the data/exit/spawned/activity stream.
func (r *Roster) Events() *eventbus.Bus { return r.bus }

// Spawn starts a new Agent per spec and adds it to the roster. If
// spec.DryRun is set, a ptyproc.Mock handle is used instead of a real
// child, for either mode; a real child that fails to start is an error.
func (r *Roster) Spawn(spec agent.Spec, cols, rows int) (*agent.Agent, error) {
	r.mu.Lock()
	if _, exists := r.agents[spec.PaneID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("daemon: pane %d already has an agent", spec.PaneID)
	}
	r.mu.Unlock()

	a := agent.New(spec)
	term := agent.NewTerminal(0)

	e := &entry{agent: a, terminal: term}

	switch spec.Mode {
	case agent.ModeExec:
		if spec.DryRun {
			e.ptyHandle = ptyproc.NewMock(-1, cols, rows)
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			h, err := execchild.Spawn(ctx, spec.Argv, spec.Cwd)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("daemon: spawning exec-mode agent: %w", err)
			}
			e.execHandle = h
			e.cancelExec = cancel
			a.SetProcess(h.PID())
			r.watchExec(spec.PaneID, e)
		}
	default:
		if spec.DryRun {
			e.ptyHandle = ptyproc.NewMock(-1, cols, rows)
		} else {
			h, err := ptyproc.Spawn(spec.Argv, spec.Cwd, cols, rows)
			if err != nil {
				return nil, fmt.Errorf("daemon: spawning interactive agent: %w", err)
			}
			e.ptyHandle = h
			a.SetProcess(h.PID())
		}
		r.watchPTY(spec.PaneID, e)
	}

	term.SetAlive(true)
	a.SetAlive(true)

	r.mu.Lock()
	r.agents[spec.PaneID] = e
	r.mu.Unlock()

	r.bus.Publish(eventbus.Event{Type: eventbus.EventSpawned, PaneID: int(spec.PaneID), Data: spec.Role})
	return a, nil
}

// watchPTY drains the interactive handle's output into the Terminal
// buffer and publishes data/exit events, until the child exits.
func (r *Roster) watchPTY(pane agent.PaneID, e *entry) {
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := e.ptyHandle.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				e.terminal.AppendOutput(chunk)
				r.bus.Publish(eventbus.Event{Type: eventbus.EventData, PaneID: int(pane), Data: chunk})
			}
			if err != nil {
				break
			}
		}
		status, _ := e.ptyHandle.Wait()
		r.handleExit(pane, e, status.Code, status.Err)
	}()
}

// watchExec drains the exec-mode handle's event stream, publishing only
// the normalized activity kind for events execchild recognized. Vendor
// records it couldn't map onto the published taxonomy (Recognized ==
// false) stay off the activity stream entirely, so subscribers never
// see raw, untranslated vendor event kinds.
func (r *Roster) watchExec(pane agent.PaneID, e *entry) {
	go func() {
		for ev := range e.execHandle.Events() {
			e.terminal.AppendOutput(ev.Raw)
			if ev.SessionID != "" {
				e.agent.SetSessionID(ev.SessionID)
			}
			if !ev.Recognized {
				continue
			}
			r.bus.Publish(eventbus.Event{Type: eventbus.EventActivity, PaneID: int(pane), Data: ev.Activity})
		}
		err := e.execHandle.Wait()
		r.handleExit(pane, e, e.execHandle.ExitCode(), err)
	}()
}

func (r *Roster) handleExit(pane agent.PaneID, e *entry, code int, err error) {
	expected := e.terminal.ConsumeExpectedExit()
	e.terminal.SetAlive(false)
	e.agent.SetAlive(false)
	r.bus.Publish(eventbus.Event{
		Type:   eventbus.EventExit,
		PaneID: int(pane),
		Data: eventbus.ExitInfo{
			Code:     code,
			Err:      err,
			Expected: expected,
		},
	})
}

// Get returns the entry's Agent and Terminal for pane, or ok=false.
func (r *Roster) Get(pane agent.PaneID) (*agent.Agent, *agent.Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[pane]
	if !ok {
		return nil, nil, false
	}
	return e.agent, e.terminal, true
}

// List returns every pane id currently on the roster.
func (r *Roster) List() []agent.PaneID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.PaneID, 0, len(r.agents))
	for p := range r.agents {
		out = append(out, p)
	}
	return out
}

// Write sends raw bytes to pane's stdin, recording the input timestamp
// used by idle/typing-guard logic.
func (r *Roster) Write(pane agent.PaneID, data []byte) error {
	e, ok := r.lookup(pane)
	if !ok {
		return fmt.Errorf("daemon: no agent on pane %d", pane)
	}
	e.terminal.RecordInput()
	if e.ptyHandle != nil {
		_, err := e.ptyHandle.Write(data)
		return err
	}
	if e.execHandle != nil {
		_, err := e.execHandle.Write(data)
		return err
	}
	return fmt.Errorf("daemon: no writable handle for pane %d", pane)
}

// Resize changes pane's PTY window size. A no-op for exec-mode agents.
func (r *Roster) Resize(pane agent.PaneID, cols, rows int) error {
	e, ok := r.lookup(pane)
	if !ok {
		return fmt.Errorf("daemon: no agent on pane %d", pane)
	}
	if e.ptyHandle == nil {
		return nil
	}
	return e.ptyHandle.Resize(uint16(cols), uint16(rows))
}

// Interrupt sends a graceful interrupt signal to pane's process, the
// second rung (after nudge) of the Recovery Manager's escalation ladder.
func (r *Roster) Interrupt(pane agent.PaneID) error {
	e, ok := r.lookup(pane)
	if !ok {
		return fmt.Errorf("daemon: no agent on pane %d", pane)
	}
	if e.ptyHandle != nil {
		return e.ptyHandle.Interrupt()
	}
	return nil
}

// Kill forcibly terminates pane's process. If expected is true, the
// next exit event for this pane is suppressed from triggering recovery
// (used for intentional daemon-initiated kills, e.g. a scheduled
// restart).
func (r *Roster) Kill(pane agent.PaneID, expected bool) error {
	e, ok := r.lookup(pane)
	if !ok {
		return fmt.Errorf("daemon: no agent on pane %d", pane)
	}
	e.terminal.SetExpectedExit(expected)
	if e.ptyHandle != nil {
		return e.ptyHandle.Kill()
	}
	if e.execHandle != nil {
		if e.cancelExec != nil {
			e.cancelExec()
		}
		return e.execHandle.Kill()
	}
	return nil
}

// Remove drops pane from the roster entirely (used after a kill when
// no respawn is planned, e.g. operator-initiated shutdown of one pane).
func (r *Roster) Remove(pane agent.PaneID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, pane)
}

// Replace swaps the entry at pane with a freshly spawned one,
// used by the Recovery Manager's restart action. The old entry must
// already have exited.
func (r *Roster) Replace(pane agent.PaneID, spec agent.Spec, cols, rows int) (*agent.Agent, error) {
	r.Remove(pane)
	return r.Spawn(spec, cols, rows)
}

func (r *Roster) lookup(pane agent.PaneID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[pane]
	return e, ok
}

// Shutdown kills every live agent on the roster and closes the event
// bus. Called during daemon shutdown.
func (r *Roster) Shutdown() {
	r.mu.RLock()
	panes := make([]agent.PaneID, 0, len(r.agents))
	for p := range r.agents {
		panes = append(panes, p)
	}
	r.mu.RUnlock()

	for _, p := range panes {
		_ = r.Kill(p, true)
	}
	r.bus.Close()
}
