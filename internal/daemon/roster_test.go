package daemon

import (
	"testing"
	"time"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dryRunSpec(pane agent.PaneID, role string) agent.Spec {
	return agent.Spec{PaneID: pane, Role: role, Mode: agent.ModeInteractive, DryRun: true}
}

func TestRoster_Spawn_RejectsDuplicatePane(t *testing.T) {
	r := NewRoster(nil)
	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)

	_, err = r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	assert.Error(t, err)
}

func TestRoster_Spawn_PublishesSpawnedEvent(t *testing.T) {
	r := NewRoster(nil)
	events, unsub := r.Events().Subscribe()
	defer unsub()

	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.EventSpawned, ev.Type)
		assert.Equal(t, "architect", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for spawned event")
	}
}

func TestRoster_GetAndList(t *testing.T) {
	r := NewRoster(nil)
	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)
	_, err = r.Spawn(dryRunSpec(2, "worker-a"), 80, 24)
	require.NoError(t, err)

	a, term, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "architect", a.Role())
	assert.NotNil(t, term)

	_, _, ok = r.Get(99)
	assert.False(t, ok)

	assert.ElementsMatch(t, []agent.PaneID{1, 2}, r.List())
}

func TestRoster_Write_RecordsInput(t *testing.T) {
	r := NewRoster(nil)
	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)

	_, term, _ := r.Get(1)
	assert.True(t, term.LastInputAt().IsZero())

	require.NoError(t, r.Write(1, []byte("hello")))
	assert.False(t, term.LastInputAt().IsZero())
}

func TestRoster_Write_UnknownPaneErrors(t *testing.T) {
	r := NewRoster(nil)
	assert.Error(t, r.Write(42, []byte("x")))
}

func TestRoster_Kill_MarksExpectedExit(t *testing.T) {
	r := NewRoster(nil)
	events, unsub := r.Events().Subscribe()
	defer unsub()

	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)
	drainUntil(t, events, eventbus.EventSpawned)

	require.NoError(t, r.Kill(1, true))

	ev := drainUntil(t, events, eventbus.EventExit)
	info, ok := ev.Data.(eventbus.ExitInfo)
	require.True(t, ok)
	assert.True(t, info.Expected)
}

func TestRoster_Remove_DropsFromList(t *testing.T) {
	r := NewRoster(nil)
	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)
	r.Remove(1)
	assert.Empty(t, r.List())
}

func TestRoster_Replace_RespawnsSamePane(t *testing.T) {
	r := NewRoster(nil)
	_, err := r.Spawn(dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)

	newAgent, err := r.Replace(1, dryRunSpec(1, "architect"), 80, 24)
	require.NoError(t, err)
	assert.Equal(t, agent.PaneID(1), newAgent.PaneID())
	assert.True(t, newAgent.Alive())
}

// drainUntil reads events from ch until one of the given type arrives,
// failing the test if none shows up within a second.
func drainUntil(t *testing.T, ch <-chan eventbus.Event, want eventbus.EventType) eventbus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %s", want)
			return eventbus.Event{}
		}
	}
}
