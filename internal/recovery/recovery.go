// Package recovery implements the Recovery Manager: a per-agent state
// machine that detects stalled or exited children and escalates through
// nudge -> interrupt -> restart, with exponential backoff and a
// consecutive-failure circuit breaker.
//
// Grounded on gastown's internal/daemon/restart_tracker.go
// (RestartTracker), read in full, for the backoff/circuit-breaker shape,
// and on internal/tmux/nudge.go's retry/escalate posture reused here one
// level up the ladder (nudge is itself an inject.Engine submission, not
// a reimplementation of the injection protocol).
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/hivemind-dev/coordinator/internal/eventbus"
	"github.com/hivemind-dev/coordinator/internal/inject"
	"github.com/hivemind-dev/coordinator/internal/termscreen"
)

// Step names one rung of the escalation ladder.
type Step string

const (
	StepNone      Step = "none"
	StepNudge     Step = "nudge"
	StepInterrupt Step = "interrupt"
	StepRestart   Step = "restart"
)

// sentinelNudge is the benign message submitted at the nudge rung; it
// carries no content the agent needs to act on, only enough text to
// provoke fresh output.
const sentinelNudge = "(hivemind) checking in — please continue."

// Roster is the subset of daemon.Roster the Recovery Manager needs.
// Declared locally, matching the same narrow-interface convention used
// by internal/inject and internal/trigger.
type Roster interface {
	Get(pane agent.PaneID) (*agent.Agent, *agent.Terminal, bool)
	List() []agent.PaneID
	Interrupt(pane agent.PaneID) error
	Kill(pane agent.PaneID, expected bool) error
	Replace(pane agent.PaneID, spec agent.Spec, cols, rows int) (*agent.Agent, error)
}

// record is the live per-agent recovery state (the Recovery
// Record), guarded by Manager.mu.
type record struct {
	step          Step
	stuckCount    int
	lastAttemptAt time.Time
	lastProgress  time.Time
	spec          agent.Spec
	cols, rows    int

	// lastThinkingTimer is the last elapsed-seconds reading parsed off
	// the rendered screen's thinking-timer line, used to distinguish a
	// thinking stall (timer still advancing) from a true timer stall.
	lastThinkingTimer   int
	thinkingTimerSeenAt time.Time

	// awaitingRestartConfirm is set once a tracked restart respawns the
	// process, and cleared (confirming the restart to the breaker via
	// restartConfirmKey) only once the pane next shows real progress.
	// A restart that never produces output never confirms, so a pane
	// that keeps getting restarted and keeps getting stuck still trips
	// the breaker instead of resetting it on every bare respawn.
	awaitingRestartConfirm bool
	restartConfirmKey      string
}

// Health is the public snapshot returned by GetAgentHealth.
type Health struct {
	PaneID       agent.PaneID `json:"paneId"`
	Alive        bool         `json:"alive"`
	LastActivity time.Time    `json:"lastActivity"`
	StuckCount   int          `json:"stuckCount"`
	Step         Step         `json:"step"`
	Recovering   bool         `json:"recovering"`
}

// Manager is the Recovery Manager. One Manager supervises every pane on
// a Roster, polling for stuck agents and reacting to exit events
// published on the Roster's event bus.
type Manager struct {
	roster Roster
	engine *inject.Engine
	bus    *eventbus.Bus
	logger *slog.Logger

	stuckThreshold time.Duration
	backoffInitial time.Duration
	backoffCap     time.Duration

	tracker *restartTracker

	mu      sync.Mutex
	records map[agent.PaneID]*record

	pollInterval time.Duration
}

// New creates a Manager. statePath is where restart/circuit-breaker
// state persists across daemon restarts (mirrors gastown's
// restart-tracker.json convention).
func New(roster Roster, engine *inject.Engine, bus *eventbus.Bus, timing config.TimingConfig, statePath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	k := timing.CircuitBreakerThreshold
	if k <= 0 {
		k = 3
	}
	return &Manager{
		roster:         roster,
		engine:         engine,
		bus:            bus,
		logger:         logger.With("component", "recovery"),
		stuckThreshold: timing.StuckThreshold(),
		backoffInitial: timing.BackoffInitial(),
		backoffCap:     timing.BackoffCap(),
		tracker:        newRestartTracker(statePath, timing.BackoffInitial(), timing.BackoffCap(), timing.CircuitCooldown(), k),
		records:        make(map[agent.PaneID]*record),
		pollInterval:   5 * time.Second,
	}
}

// Track registers a freshly spawned agent for recovery supervision,
// remembering its spec so a restart can respawn with the same argv/cwd.
func (m *Manager) Track(spec agent.Spec, cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[spec.PaneID] = &record{
		step:         StepNone,
		lastProgress: time.Now(),
		spec:         spec,
		cols:         cols,
		rows:         rows,
	}
}

// Run subscribes to the roster's event bus and polls for stuck agents
// until ctx is canceled. It is the Recovery Manager's event loop,
// meant to run in its own goroutine from daemon.Daemon.Run.
func (m *Manager) Run(ctx context.Context) {
	events, unsubscribe := m.bus.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev eventbus.Event) {
	pane := agent.PaneID(ev.PaneID)
	switch ev.Type {
	case eventbus.EventData, eventbus.EventActivity:
		m.recordProgress(pane)
	case eventbus.EventExit:
		info, ok := ev.Data.(eventbus.ExitInfo)
		if !ok {
			return
		}
		m.handleExit(ctx, pane, info)
	}
}

func (m *Manager) handleExit(ctx context.Context, pane agent.PaneID, info eventbus.ExitInfo) {
	code, expected := info.Code, info.Expected

	if expected {
		m.logger.Debug("exit suppressed: expected", "pane", pane)
		m.resetStep(pane)
		return
	}

	m.mu.Lock()
	rec, ok := m.records[pane]
	m.mu.Unlock()
	if !ok {
		return
	}

	if code == 0 && rec.spec.Mode == agent.ModeExec {
		m.logger.Info("exec agent completed gracefully, respawning immediately", "pane", pane)
		m.restart(ctx, pane, false)
		return
	}

	m.logger.Warn("unexpected exit, scheduling restart", "pane", pane, "code", code)
	m.scheduleRestart(ctx, pane)
}

func (m *Manager) recordProgress(pane agent.PaneID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pane]
	if !ok {
		return
	}
	rec.lastProgress = time.Now()
	if rec.step != StepNone {
		m.logger.Info("progress observed, resetting recovery step", "pane", pane, "prior_step", rec.step)
		rec.step = StepNone
		rec.stuckCount = 0
	}
	if rec.awaitingRestartConfirm {
		m.logger.Info("progress observed after restart, clearing breaker", "pane", pane)
		m.tracker.RecordSuccess(rec.restartConfirmKey)
		rec.awaitingRestartConfirm = false
		rec.restartConfirmKey = ""
	}
}

func (m *Manager) resetStep(pane agent.PaneID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[pane]; ok {
		rec.step = StepNone
	}
}

// pollAll checks every tracked pane for stuck-threshold non-progress
// and advances its escalation step if needed.
func (m *Manager) pollAll(ctx context.Context) {
	m.mu.Lock()
	panes := make([]agent.PaneID, 0, len(m.records))
	for p := range m.records {
		panes = append(panes, p)
	}
	m.mu.Unlock()

	for _, p := range panes {
		m.pollOne(ctx, p)
	}
}

func (m *Manager) pollOne(ctx context.Context, pane agent.PaneID) {
	a, term, ok := m.roster.Get(pane)
	if !ok || !a.Alive() {
		return
	}

	m.mu.Lock()
	rec, ok := m.records[pane]
	if !ok {
		m.mu.Unlock()
		return
	}
	stuck := m.isStuck(a, term, rec)
	if !stuck {
		m.mu.Unlock()
		return
	}
	// Gate each escalation attempt on the configured backoff so a
	// single stuckThreshold window doesn't fire the whole ladder at
	// once.
	if !rec.lastAttemptAt.IsZero() && time.Since(rec.lastAttemptAt) < m.backoffFor(rec.stuckCount) {
		m.mu.Unlock()
		return
	}
	rec.stuckCount++
	rec.lastAttemptAt = time.Now()
	step := rec.step
	m.mu.Unlock()

	m.logger.Warn("agent stuck, escalating", "pane", pane, "from_step", step, "stuck_count", rec.stuckCount)

	switch step {
	case StepNone:
		m.escalateTo(pane, StepNudge)
		m.nudge(ctx, pane)
	case StepNudge:
		m.escalateTo(pane, StepInterrupt)
		m.interrupt(pane)
	case StepInterrupt, StepRestart:
		m.escalateTo(pane, StepRestart)
		m.restart(ctx, pane, true)
	}
}

// isStuck applies the mode-specific progress definition. Exec agents
// are stuck when no structured event has arrived
// recently. Interactive agents are stuck when no output at all has
// arrived recently, UNLESS the screen shows a "thinking" status line
// whose elapsed-seconds timer is still advancing -- that is a thinking
// stall, not a stuck agent, and does not escalate. Only a frozen timer
// (the working line is visible but its counter hasn't moved since the
// last poll) counts as a true timer-stall.
//
// Caller must hold m.mu.
func (m *Manager) isStuck(a *agent.Agent, term *agent.Terminal, rec *record) bool {
	since := time.Since(term.LastOutputAt())
	if a.Mode() == agent.ModeExec {
		return since >= m.stuckThreshold
	}
	if since < m.stuckThreshold {
		return false
	}

	lines := termscreen.Render(tailBytes(term.Scrollback(), 8192), rec.cols, rec.rows)
	if !termscreen.Working(lines) {
		return true // no thinking indicator at all: plain timer-stall
	}

	seconds, ok := termscreen.ThinkingTimer(lines)
	if !ok {
		return true // working line present but no timer to check; be conservative
	}

	if seconds != rec.lastThinkingTimer || rec.thinkingTimerSeenAt.IsZero() {
		rec.lastThinkingTimer = seconds
		rec.thinkingTimerSeenAt = time.Now()
		return false // timer advanced since last poll: thinking stall, not stuck
	}

	return true // timer frozen across two polls: true timer-stall
}

func tailBytes(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}

func (m *Manager) escalateTo(pane agent.PaneID, step Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[pane]; ok {
		rec.step = step
	}
}

func (m *Manager) backoffFor(stuckCount int) time.Duration {
	d := m.backoffInitial
	for i := 1; i < stuckCount; i++ {
		d *= 2
		if d > m.backoffCap {
			return m.backoffCap
		}
	}
	return d
}

func (m *Manager) nudge(ctx context.Context, pane agent.PaneID) {
	res := m.engine.Submit(ctx, inject.Request{
		PaneID:     pane,
		DeliveryID: uuid.New().String(),
		Message:    sentinelNudge,
	})
	if res.Outcome == inject.OutcomeFailed {
		m.logger.Error("nudge failed", "pane", pane, "err", res.Err)
	}
}

func (m *Manager) interrupt(pane agent.PaneID) {
	if err := m.roster.Interrupt(pane); err != nil {
		m.logger.Error("interrupt failed", "pane", pane, "err", err)
	}
}

// restart executes the restart rung: expectedExit, kill, respawn with
// the last known cwd and session id. If tracked is true, the restart is
// routed through the backoff/circuit-breaker tracker (an escalation
// failure); gracefully-completed exec respawns (tracked=false) bypass
// backoff entirely, per the exit-handling rules below.
func (m *Manager) restart(ctx context.Context, pane agent.PaneID, tracked bool) {
	m.mu.Lock()
	rec, ok := m.records[pane]
	m.mu.Unlock()
	if !ok {
		return
	}

	key := fmt.Sprintf("pane-%d-%s", pane, rec.spec.Role)

	if tracked {
		backoff, err := m.tracker.RecordRestart(key)
		if err != nil {
			m.logger.Error("restart circuit open, skipping", "pane", pane, "err", err)
			return
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}

	if err := m.roster.Kill(pane, true); err != nil {
		m.logger.Error("kill before restart failed", "pane", pane, "err", err)
	}

	spec := rec.spec
	var priorSessionID string
	if a, _, stillKnown := m.roster.Get(pane); stillKnown {
		spec.Cwd = a.Cwd()
		priorSessionID = a.SessionID()
	}

	newAgent, err := m.roster.Replace(pane, spec, rec.cols, rec.rows)
	if err != nil {
		m.logger.Error("respawn failed", "pane", pane, "err", err)
		return
	}
	if priorSessionID != "" {
		newAgent.SetSessionID(priorSessionID)
	}

	m.mu.Lock()
	rec.step = StepNone
	rec.stuckCount = 0
	rec.lastProgress = time.Now()
	if tracked {
		// Confirmation is deferred to recordProgress: RecordSuccess only
		// fires once this pane is next observed making real progress,
		// not the bare fact that Replace returned without error.
		rec.awaitingRestartConfirm = true
		rec.restartConfirmKey = key
	}
	m.mu.Unlock()

	m.logger.Info("agent restarted", "pane", pane, "pid", newAgent.PID())
}

// scheduleRestart is the exit-handling path for an unexpected,
// non-graceful exit: it goes straight to the restart rung rather than
// walking the nudge/interrupt rungs first, since the process is already
// gone.
func (m *Manager) scheduleRestart(ctx context.Context, pane agent.PaneID) {
	m.escalateTo(pane, StepRestart)
	m.restart(ctx, pane, true)
}

// GetAgentHealth returns a point-in-time snapshot for every tracked
// pane (the operator-facing health query).
func (m *Manager) GetAgentHealth() []Health {
	m.mu.Lock()
	panes := make([]agent.PaneID, 0, len(m.records))
	for p := range m.records {
		panes = append(panes, p)
	}
	m.mu.Unlock()

	out := make([]Health, 0, len(panes))
	for _, p := range panes {
		a, term, ok := m.roster.Get(p)
		if !ok {
			continue
		}
		m.mu.Lock()
		rec := m.records[p]
		m.mu.Unlock()

		key := fmt.Sprintf("pane-%d-%s", p, rec.spec.Role)
		out = append(out, Health{
			PaneID:       p,
			Alive:        a.Alive(),
			LastActivity: term.LastOutputAt(),
			StuckCount:   rec.stuckCount,
			Step:         rec.step,
			Recovering:   rec.step != StepNone || m.tracker.CircuitOpen(key),
		})
	}
	return out
}

// TriggerRecovery forces an immediate escalation attempt for pane,
// bypassing the poll interval (operator-invoked manual
// in-process Recovery/Health API).
func (m *Manager) TriggerRecovery(ctx context.Context, pane agent.PaneID) error {
	m.mu.Lock()
	_, ok := m.records[pane]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("recovery: pane %d is not tracked", pane)
	}
	m.pollOne(ctx, pane)
	return nil
}

// ResetRecoveryCircuit manually closes an open circuit breaker for
// pane, clearing its failure history.
func (m *Manager) ResetRecoveryCircuit(pane agent.PaneID) error {
	m.mu.Lock()
	rec, ok := m.records[pane]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("recovery: pane %d is not tracked", pane)
	}
	key := fmt.Sprintf("pane-%d-%s", pane, rec.spec.Role)
	m.tracker.Reset(key)
	m.mu.Lock()
	rec.step = StepNone
	rec.stuckCount = 0
	m.mu.Unlock()
	return nil
}
