// Package config loads the town-level TOML configuration: agent roster,
// timing parameters, and mode defaults for the coordination engine.
//
// Grounded on gastown's internal/rig/manifest.go: a versioned
// top-level struct with toml-tagged nested sections, loaded with
// BurntSushi/toml and tolerant of a missing file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hivemind-dev/coordinator/internal/agent"
)

// ManifestPath is the relative path of the town configuration file
// inside a town root.
const ManifestPath = ".hivemind/town.toml"

// ManifestVersion is the current supported config schema version.
const ManifestVersion = 1

// Manifest is the parsed town.toml. Version gates future schema changes;
// an unrecognized version is a load error rather than silently ignored.
type Manifest struct {
	Version int `toml:"version"`

	Timing  TimingConfig        `toml:"timing"`
	Roster  []AgentConfig       `toml:"agent"`
	Groups  map[string][]string `toml:"groups"`
}

// TimingConfig holds the operational tunables as named constants
// rather than literals scattered through the code: ack timeouts, stuck
// thresholds, backoff caps.
type TimingConfig struct {
	// AckTimeoutSeconds is passed to the Trigger Router as its ack
	// window. The router stores it, but no delivery waits on it: the
	// sequence cursor advances on the Injection Engine's outcome.
	AckTimeoutSeconds int `toml:"ack_timeout_seconds"`
	// InjectionCeilingSeconds is the hard per-delivery ceiling across
	// all verify/retry attempts.
	InjectionCeilingSeconds int `toml:"injection_ceiling_seconds"`
	// StuckThresholdSeconds is how long an agent must show no progress
	// before the Recovery Manager escalates.
	StuckThresholdSeconds int `toml:"stuck_threshold_seconds"`
	// BackoffInitialSeconds and BackoffCapSeconds bound the Recovery
	// Manager's exponential restart backoff.
	BackoffInitialSeconds int `toml:"backoff_initial_seconds"`
	BackoffCapSeconds     int `toml:"backoff_cap_seconds"`
	// CircuitBreakerThreshold is the number of consecutive restart
	// failures that trips the breaker.
	CircuitBreakerThreshold int `toml:"circuit_breaker_threshold"`
	// CircuitCooldownSeconds is how long the breaker stays open.
	CircuitCooldownSeconds int `toml:"circuit_cooldown_seconds"`
	// DebounceMillis is the fsnotify coalescing window for the Trigger
	// Router's mailbox watch.
	DebounceMillis int `toml:"debounce_millis"`
	// TypingGuardSeconds bounds how long the Injection Engine defers an
	// injection while a human appears to be typing in the target pane.
	TypingGuardSeconds int `toml:"typing_guard_seconds"`
	// SnapshotIntervalSeconds is the periodic session-state snapshot
	// cadence (at least 30s).
	SnapshotIntervalSeconds int `toml:"snapshot_interval_seconds"`
}

// AgentConfig is one roster entry: how to spawn one Agent.
type AgentConfig struct {
	PaneID int      `toml:"pane"`
	Role   string   `toml:"role"`
	Mode   string   `toml:"mode"`
	Cwd    string   `toml:"cwd"`
	Argv   []string `toml:"argv"`

	// ResumeSessionID is not read from town.toml; it is filled in at
	// daemon startup from a restored session-state.json so a respawn
	// can hand the vendor session id back to the agent binary.
	ResumeSessionID string `toml:"-"`
}

// defaults mirror the stock timing values documented for a fresh town.
func defaults() TimingConfig {
	return TimingConfig{
		AckTimeoutSeconds:       60,
		InjectionCeilingSeconds: 60,
		StuckThresholdSeconds:   60,
		BackoffInitialSeconds:   5,
		BackoffCapSeconds:       300,
		CircuitBreakerThreshold: 3,
		CircuitCooldownSeconds:  600,
		DebounceMillis:          200,
		TypingGuardSeconds:      10,
		SnapshotIntervalSeconds: 30,
	}
}

// Load reads and parses the town manifest from townRoot. Returns a
// Manifest populated with defaults (and an empty roster) if the file is
// absent, matching gastown's LoadManifest "(nil, nil) if not
// present" tolerance, except here an empty-but-valid Manifest is
// returned instead of nil since the daemon always needs timing
// defaults to start.
func Load(townRoot string) (*Manifest, error) {
	m := &Manifest{Version: ManifestVersion, Timing: defaults()}

	path := filepath.Join(townRoot, ManifestPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading town config: %w", err)
	}

	parsed := &Manifest{}
	if err := toml.Unmarshal(data, parsed); err != nil {
		return nil, fmt.Errorf("parsing town config %s: %w", path, err)
	}
	if parsed.Version != 0 && parsed.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported town config version %d (want %d)", parsed.Version, ManifestVersion)
	}

	m.Roster = parsed.Roster
	m.Groups = parsed.Groups
	if parsed.Timing != (TimingConfig{}) {
		m.Timing = mergeTiming(defaults(), parsed.Timing)
	}
	return m, nil
}

// mergeTiming fills zero fields in override from base, so a town.toml
// that only sets one timing knob doesn't zero out the rest.
func mergeTiming(base, override TimingConfig) TimingConfig {
	out := base
	if override.AckTimeoutSeconds != 0 {
		out.AckTimeoutSeconds = override.AckTimeoutSeconds
	}
	if override.InjectionCeilingSeconds != 0 {
		out.InjectionCeilingSeconds = override.InjectionCeilingSeconds
	}
	if override.StuckThresholdSeconds != 0 {
		out.StuckThresholdSeconds = override.StuckThresholdSeconds
	}
	if override.BackoffInitialSeconds != 0 {
		out.BackoffInitialSeconds = override.BackoffInitialSeconds
	}
	if override.BackoffCapSeconds != 0 {
		out.BackoffCapSeconds = override.BackoffCapSeconds
	}
	if override.CircuitBreakerThreshold != 0 {
		out.CircuitBreakerThreshold = override.CircuitBreakerThreshold
	}
	if override.CircuitCooldownSeconds != 0 {
		out.CircuitCooldownSeconds = override.CircuitCooldownSeconds
	}
	if override.DebounceMillis != 0 {
		out.DebounceMillis = override.DebounceMillis
	}
	if override.TypingGuardSeconds != 0 {
		out.TypingGuardSeconds = override.TypingGuardSeconds
	}
	if override.SnapshotIntervalSeconds != 0 {
		out.SnapshotIntervalSeconds = override.SnapshotIntervalSeconds
	}
	return out
}

// AckTimeout returns the configured ack timeout as a time.Duration.
func (t TimingConfig) AckTimeout() time.Duration {
	return time.Duration(t.AckTimeoutSeconds) * time.Second
}

// InjectionCeiling returns the configured injection ceiling.
func (t TimingConfig) InjectionCeiling() time.Duration {
	return time.Duration(t.InjectionCeilingSeconds) * time.Second
}

// StuckThreshold returns the configured stuck threshold.
func (t TimingConfig) StuckThreshold() time.Duration {
	return time.Duration(t.StuckThresholdSeconds) * time.Second
}

// BackoffInitial returns the configured initial restart backoff.
func (t TimingConfig) BackoffInitial() time.Duration {
	return time.Duration(t.BackoffInitialSeconds) * time.Second
}

// BackoffCap returns the configured restart backoff ceiling.
func (t TimingConfig) BackoffCap() time.Duration {
	return time.Duration(t.BackoffCapSeconds) * time.Second
}

// CircuitCooldown returns the configured breaker cooldown.
func (t TimingConfig) CircuitCooldown() time.Duration {
	return time.Duration(t.CircuitCooldownSeconds) * time.Second
}

// Debounce returns the configured fsnotify debounce window.
func (t TimingConfig) Debounce() time.Duration {
	return time.Duration(t.DebounceMillis) * time.Millisecond
}

// TypingGuard returns the configured typing-guard defer bound.
func (t TimingConfig) TypingGuard() time.Duration {
	return time.Duration(t.TypingGuardSeconds) * time.Second
}

// SnapshotInterval returns the configured session-state snapshot cadence.
func (t TimingConfig) SnapshotInterval() time.Duration {
	return time.Duration(t.SnapshotIntervalSeconds) * time.Second
}

// ToAgentSpec converts a roster entry into an agent.Spec.
func (c AgentConfig) ToAgentSpec() agent.Spec {
	mode := agent.ModeInteractive
	if c.Mode == string(agent.ModeExec) {
		mode = agent.ModeExec
	}
	return agent.Spec{
		PaneID: agent.PaneID(c.PaneID),
		Role:   c.Role,
		Mode:   mode,
		Cwd:    c.Cwd,
		Argv:   c.Argv,
	}
}
