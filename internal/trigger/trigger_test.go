package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/inject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoster is a minimal inject.Roster double recording every write it
// receives, keyed by pane.
type fakeRoster struct {
	mu     sync.Mutex
	agents map[agent.PaneID]*agent.Agent
	terms  map[agent.PaneID]*agent.Terminal
	writes map[agent.PaneID][]string
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{
		agents: make(map[agent.PaneID]*agent.Agent),
		terms:  make(map[agent.PaneID]*agent.Terminal),
		writes: make(map[agent.PaneID][]string),
	}
}

func (f *fakeRoster) add(pane agent.PaneID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[pane] = agent.New(agent.Spec{PaneID: pane, Mode: agent.ModeExec})
	f.terms[pane] = agent.NewTerminal(4096)
}

func (f *fakeRoster) Write(pane agent.PaneID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[pane] = append(f.writes[pane], string(data))
	return nil
}

func (f *fakeRoster) Get(pane agent.PaneID) (*agent.Agent, *agent.Terminal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[pane]
	if !ok {
		return nil, nil, false
	}
	return a, f.terms[pane], true
}

func (f *fakeRoster) writeCount(pane agent.PaneID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes[pane])
}

// fakeResolver maps recipients to panes for testing; an unmapped
// recipient is a hard error, matching the real role resolver.
type fakeResolver map[string][]agent.PaneID

func (f fakeResolver) Resolve(recipient string) ([]agent.PaneID, error) {
	panes, ok := f[recipient]
	if !ok {
		return nil, fmt.Errorf("unknown recipient %q", recipient)
	}
	return panes, nil
}

func newTestRouter(t *testing.T, resolver Resolver, roster inject.Roster) *Router {
	t.Helper()
	engine := inject.New(roster, inject.Timing{Ceiling: time.Second, TypingGuard: time.Millisecond})
	return New(t.TempDir(), resolver, engine, 20*time.Millisecond, time.Second, nil)
}

func TestSplitMessages_SplitsOnBlankLines(t *testing.T) {
	msgs := splitMessages("(a #1): hi\n\n(a #2): there\n")
	require.Len(t, msgs, 2)
	assert.Equal(t, "(a #1): hi", msgs[0])
	assert.Equal(t, "(a #2): there", msgs[1])
}

func TestSplitMessages_MultilineBodyStaysTogether(t *testing.T) {
	msgs := splitMessages("(a #1): line one\nline two\n")
	require.Len(t, msgs, 1)
	assert.Equal(t, "(a #1): line one\nline two", msgs[0])
}

func TestNormalizeEncoding_StripsUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	assert.Equal(t, "hello", normalizeEncoding(data))
}

func TestNormalizeEncoding_StripsUTF16LEBOM(t *testing.T) {
	data := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	assert.Equal(t, "hi", normalizeEncoding(data))
}

func TestNormalizeEncoding_StripsCarriageReturnsAndControlChars(t *testing.T) {
	data := []byte("line one\r\nline two\x07\r\n")
	assert.Equal(t, "line one\nline two\n", normalizeEncoding(data))
}

func TestRecipientFromPath_StripsExtension(t *testing.T) {
	assert.Equal(t, "architect", recipientFromPath("/town/triggers/architect.txt"))
}

func TestParseMessage_DedupsAgainstLastSeenSeq(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())

	msg, ok := r.parseMessage("(worker-a #1): first", "architect", false)
	require.True(t, ok)
	assert.Equal(t, "worker-a", msg.Sender)
	assert.Equal(t, 1, msg.Seq)
	assert.Equal(t, "first", msg.Body)

	r.advanceCursor(msg)

	_, ok = r.parseMessage("(worker-a #1): replay", "architect", false)
	assert.False(t, ok, "a sequence number already seen must be dropped")

	msg2, ok := r.parseMessage("(worker-a #2): second", "architect", false)
	require.True(t, ok)
	assert.Equal(t, 2, msg2.Seq)
}

func TestParseMessage_MalformedHeaderIsRejected(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())
	_, ok := r.parseMessage("no header here", "architect", false)
	assert.False(t, ok)
}

func TestParseMessage_SessionBannerResetsCursorForSender(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())

	msg, ok := r.parseMessage("(worker-a #1): hello", "architect", false)
	require.True(t, ok)
	r.advanceCursor(msg)

	_, ok = r.parseMessage("(worker-a #1): replay", "architect", false)
	require.False(t, ok, "sanity check: would dedup without a banner")

	banner := constants.SessionBannerMarker
	_, ok = r.parseMessage(fmt.Sprintf("(worker-a #1): %s new session", banner), "architect", false)
	assert.True(t, ok, "a #1 message carrying the session banner resets the cursor")
}

func TestParseMessage_BroadcastSkipsDedup(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())

	msg, ok := r.parseMessage("(worker-a #1): hi", constants.BroadcastRecipient, true)
	require.True(t, ok)
	r.advanceCursor(msg)

	_, ok = r.parseMessage("(worker-a #1): hi again", constants.BroadcastRecipient, true)
	assert.True(t, ok, "broadcasts are never deduped, every recipient sees every message")
}

func TestDeliver_AdvancesCursorOnSuccessfulDelivery(t *testing.T) {
	roster := newFakeRoster()
	roster.add(1)
	r := newTestRouter(t, fakeResolver{"architect": {1}}, roster)

	r.deliver(context.Background(), Message{Sender: "worker-a", Seq: 1, Recipient: "architect", Body: "hi"})

	assert.Equal(t, 1, roster.writeCount(1))
	r.mu.Lock()
	assert.Equal(t, 1, r.lastSeen["architect"]["worker-a"])
	r.mu.Unlock()
}

func TestDeliver_UnknownRecipientLeavesCursorUntouched(t *testing.T) {
	roster := newFakeRoster()
	r := newTestRouter(t, fakeResolver{}, roster)

	r.deliver(context.Background(), Message{Sender: "worker-a", Seq: 1, Recipient: "nobody", Body: "hi"})

	r.mu.Lock()
	_, tracked := r.lastSeen["nobody"]
	r.mu.Unlock()
	assert.False(t, tracked)
}

func TestDeliver_BroadcastFansOutToEveryResolvedPane(t *testing.T) {
	roster := newFakeRoster()
	roster.add(1)
	roster.add(2)
	r := newTestRouter(t, fakeResolver{constants.BroadcastRecipient: {1, 2}}, roster)

	r.deliver(context.Background(), Message{Sender: "worker-a", Seq: 1, Recipient: constants.BroadcastRecipient, Body: "hi all", Broadcast: true})

	assert.Equal(t, 1, roster.writeCount(1))
	assert.Equal(t, 1, roster.writeCount(2))
}

func TestAck_UnblocksRegisteredPendingChannel(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.pendingAck["d1"] = ch
	r.mu.Unlock()

	r.Ack("d1")

	select {
	case <-ch:
	default:
		t.Fatal("expected Ack to signal the pending channel")
	}
}

func TestAck_UnknownDeliveryIDIsNoop(t *testing.T) {
	r := newTestRouter(t, fakeResolver{}, newFakeRoster())
	assert.NotPanics(t, func() { r.Ack("does-not-exist") })
}

func TestRun_WatchesMailboxAndDeliversWrittenMessage(t *testing.T) {
	roster := newFakeRoster()
	roster.add(1)
	engine := inject.New(roster, inject.Timing{Ceiling: time.Second, TypingGuard: time.Millisecond})
	townRoot := t.TempDir()
	router := New(townRoot, fakeResolver{"architect": {1}}, engine, 20*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	time.Sleep(30 * time.Millisecond) // let the watcher attach before writing

	path := constants.TriggerFile(townRoot, "architect")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("(worker-a #1): build is green\n"), 0644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if roster.writeCount(1) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, roster.writeCount(1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(data), "a fully delivered mailbox file is cleared")
}
