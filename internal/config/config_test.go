package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	m, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, config.ManifestVersion, m.Version)
	assert.Equal(t, 60, m.Timing.AckTimeoutSeconds)
	assert.Equal(t, 30, m.Timing.SnapshotIntervalSeconds)
	assert.Empty(t, m.Roster)
	assert.Nil(t, m.Groups)
}

func writeManifest(t *testing.T, townRoot, body string) {
	t.Helper()
	path := filepath.Join(townRoot, config.ManifestPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestLoad_PartialTimingOverrideMergesWithDefaults(t *testing.T) {
	townRoot := t.TempDir()
	writeManifest(t, townRoot, `
version = 1

[timing]
ack_timeout_seconds = 120

[[agent]]
pane = 1
role = "architect"
mode = "interactive"
cwd = "."
argv = ["claude"]
`)

	m, err := config.Load(townRoot)
	require.NoError(t, err)

	assert.Equal(t, 120, m.Timing.AckTimeoutSeconds, "explicit override wins")
	assert.Equal(t, 60, m.Timing.StuckThresholdSeconds, "untouched knobs keep their default")
	require.Len(t, m.Roster, 1)
	assert.Equal(t, "architect", m.Roster[0].Role)
}

func TestLoad_Groups(t *testing.T) {
	townRoot := t.TempDir()
	writeManifest(t, townRoot, `
version = 1

[groups]
workers = ["worker-a", "worker-b"]
`)

	m, err := config.Load(townRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-a", "worker-b"}, m.Groups["workers"])
}

func TestLoad_RejectsUnsupportedVersion(t *testing.T) {
	townRoot := t.TempDir()
	writeManifest(t, townRoot, `version = 99`)

	_, err := config.Load(townRoot)
	assert.Error(t, err)
}

func TestTimingConfig_DurationHelpers(t *testing.T) {
	tc := config.TimingConfig{
		AckTimeoutSeconds:       60,
		InjectionCeilingSeconds: 60,
		StuckThresholdSeconds:   45,
		BackoffInitialSeconds:   5,
		BackoffCapSeconds:       300,
		CircuitCooldownSeconds:  600,
		DebounceMillis:          200,
		TypingGuardSeconds:      10,
		SnapshotIntervalSeconds: 30,
	}

	assert.Equal(t, 60*1e9, float64(tc.AckTimeout()))
	assert.Equal(t, 45*1e9, float64(tc.StuckThreshold()))
	assert.Equal(t, 200*1e6, float64(tc.Debounce()))
}

func TestAgentConfig_ToAgentSpec(t *testing.T) {
	c := config.AgentConfig{PaneID: 2, Role: "worker-a", Mode: "exec", Cwd: "/tmp", Argv: []string{"claude", "--exec"}}
	spec := c.ToAgentSpec()

	assert.Equal(t, agent.PaneID(2), spec.PaneID)
	assert.Equal(t, "worker-a", spec.Role)
	assert.Equal(t, agent.ModeExec, spec.Mode)
	assert.Equal(t, "/tmp", spec.Cwd)
	assert.Equal(t, []string{"claude", "--exec"}, spec.Argv)
}

func TestAgentConfig_ToAgentSpec_DefaultsToInteractive(t *testing.T) {
	c := config.AgentConfig{PaneID: 1, Role: "architect"}
	spec := c.ToAgentSpec()
	assert.Equal(t, agent.ModeInteractive, spec.Mode)
}
