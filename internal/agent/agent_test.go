package agent_test

import (
	"testing"
	"time"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InitialState(t *testing.T) {
	spec := agent.Spec{PaneID: 3, Role: "architect", Mode: agent.ModeInteractive, Cwd: "/tmp", Argv: []string{"claude"}}
	a := agent.New(spec)

	assert.Equal(t, agent.PaneID(3), a.PaneID())
	assert.Equal(t, "architect", a.Role())
	assert.Equal(t, agent.ModeInteractive, a.Mode())
	assert.Equal(t, "/tmp", a.Cwd())
	assert.Equal(t, []string{"claude"}, a.Argv())
	assert.False(t, a.DryRun())
	assert.False(t, a.Alive(), "a freshly created record has no process yet")
	assert.Zero(t, a.PID())
	assert.Empty(t, a.SessionID())
}

func TestAgent_SetProcess_MarksAlive(t *testing.T) {
	a := agent.New(agent.Spec{PaneID: 1})
	a.SetProcess(4242)

	assert.Equal(t, 4242, a.PID())
	assert.True(t, a.Alive())
}

func TestAgent_SetAlive_Toggles(t *testing.T) {
	a := agent.New(agent.Spec{PaneID: 1})
	a.SetProcess(100)
	require.True(t, a.Alive())

	a.SetAlive(false)
	assert.False(t, a.Alive())
}

func TestAgent_SetCwd_Updates(t *testing.T) {
	a := agent.New(agent.Spec{PaneID: 1, Cwd: "/a"})
	a.SetCwd("/b")
	assert.Equal(t, "/b", a.Cwd())
}

func TestAgent_SessionID_RoundTrips(t *testing.T) {
	a := agent.New(agent.Spec{PaneID: 1})
	assert.Empty(t, a.SessionID())
	a.SetSessionID("sess-abc")
	assert.Equal(t, "sess-abc", a.SessionID())
}

func TestNewTerminal_DefaultsScrollbackBound(t *testing.T) {
	term := agent.NewTerminal(0)
	term.AppendOutput(make([]byte, 10))
	assert.Len(t, term.Scrollback(), 10, "small writes stay under the default bound")
	assert.True(t, term.Alive())
}

func TestTerminal_AppendOutput_TrimsToBound(t *testing.T) {
	term := agent.NewTerminal(8)
	term.AppendOutput([]byte("12345"))
	term.AppendOutput([]byte("6789"))

	assert.Equal(t, "23456789", string(term.Scrollback()), "scrollback keeps only the trailing maxScroll bytes")
}

func TestTerminal_AppendOutput_StampsLastOutputAt(t *testing.T) {
	term := agent.NewTerminal(64)
	before := time.Now()
	term.AppendOutput([]byte("x"))
	assert.False(t, term.LastOutputAt().Before(before))
}

func TestTerminal_RecordInput_StampsLastInputAt(t *testing.T) {
	term := agent.NewTerminal(64)
	assert.True(t, term.LastInputAt().IsZero())
	term.RecordInput()
	assert.False(t, term.LastInputAt().IsZero())
}

func TestTerminal_ExpectedExit_ConsumedOnce(t *testing.T) {
	term := agent.NewTerminal(64)
	assert.False(t, term.ConsumeExpectedExit(), "default is unarmed")

	term.SetExpectedExit(true)
	assert.True(t, term.ConsumeExpectedExit(), "first read sees the armed flag")
	assert.False(t, term.ConsumeExpectedExit(), "second read sees it cleared")
}

func TestTerminal_SetAlive(t *testing.T) {
	term := agent.NewTerminal(64)
	require.True(t, term.Alive())
	term.SetAlive(false)
	assert.False(t, term.Alive())
}
