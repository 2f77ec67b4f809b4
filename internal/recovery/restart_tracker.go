package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/hivemind-dev/coordinator/internal/atomicfile"
)

// restartTracker tracks restart attempts per pane with exponential
// backoff and a consecutive-failure circuit breaker, persisted to
// survive daemon restarts.
//
// Grounded on gastown's internal/daemon/restart_tracker.go
// (RestartTracker), read in full: the same Load/Save-to-JSON shape,
// the same RecordRestart/RecordSuccess bookkeeping (with CircuitOpen as
// the restart gate), and the same
// exponential-backoff-with-cap formula — renamed from polecat crash
// loops to pane restart circuits: a circuit breaker (K
// consecutive failures trips a cooldown, rather than gastown's
// time-windowed crash-loop count).
type restartTracker struct {
	path string

	mu    sync.Mutex
	state restartState

	initial  time.Duration
	capDur   time.Duration
	k        int
	cooldown time.Duration
}

type restartState struct {
	Panes map[string]*paneRestarts `json:"panes"`
}

type paneRestarts struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRestart         time.Time `json:"last_restart"`
	LastSuccess         time.Time `json:"last_success"`
	CircuitOpenUntil    time.Time `json:"circuit_open_until"`
}

func newRestartTracker(path string, initial, capDur, cooldown time.Duration, k int) *restartTracker {
	rt := &restartTracker{
		path:     path,
		initial:  initial,
		capDur:   capDur,
		k:        k,
		cooldown: cooldown,
	}
	rt.state.Panes = make(map[string]*paneRestarts)
	_ = atomicfile.ReadJSON(path, &rt.state)
	if rt.state.Panes == nil {
		rt.state.Panes = make(map[string]*paneRestarts)
	}
	return rt
}

func (rt *restartTracker) save() {
	_ = atomicfile.WriteJSON(rt.path, rt.state)
}

// RecordRestart records a restart attempt and returns the backoff to
// wait before attempting it, or an error if the circuit is open.
func (rt *restartTracker) RecordRestart(key string) (time.Duration, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	info := rt.state.Panes[key]
	if info == nil {
		info = &paneRestarts{}
		rt.state.Panes[key] = info
	}

	if !info.CircuitOpenUntil.IsZero() && now.Before(info.CircuitOpenUntil) {
		return 0, fmt.Errorf("recovery: circuit open for %s, %v remaining", key, info.CircuitOpenUntil.Sub(now).Round(time.Second))
	}

	info.ConsecutiveFailures++
	info.LastRestart = now

	if info.ConsecutiveFailures >= rt.k {
		info.CircuitOpenUntil = now.Add(rt.cooldown)
		rt.save()
		return 0, fmt.Errorf("recovery: circuit breaker tripped for %s after %d consecutive failures", key, info.ConsecutiveFailures)
	}

	backoff := rt.calculateBackoff(info.ConsecutiveFailures)
	rt.save()
	return backoff, nil
}

// RecordSuccess resets the failure counter for key.
func (rt *restartTracker) RecordSuccess(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info := rt.state.Panes[key]
	if info == nil {
		info = &paneRestarts{}
		rt.state.Panes[key] = info
	}
	info.LastSuccess = time.Now()
	info.ConsecutiveFailures = 0
	info.CircuitOpenUntil = time.Time{}
	rt.save()
}

// CircuitOpen reports whether key's circuit breaker is currently open.
func (rt *restartTracker) CircuitOpen(key string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info := rt.state.Panes[key]
	if info == nil || info.CircuitOpenUntil.IsZero() {
		return false
	}
	return time.Now().Before(info.CircuitOpenUntil)
}

// Reset manually clears key's failure count and circuit, used by the
// operator-facing "recovery reset" command.
func (rt *restartTracker) Reset(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.state.Panes, key)
	rt.save()
}

func (rt *restartTracker) calculateBackoff(failures int) time.Duration {
	backoff := time.Duration(float64(rt.initial) * pow(2.0, failures-1))
	if backoff > rt.capDur {
		backoff = rt.capDur
	}
	return backoff
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
