// Package trigger implements the Trigger Router: a file-watch-driven
// mailbox that turns writes to <townRoot>/triggers/<recipient>.txt into
// deliveries through the Injection Engine, with per-sender sequence
// dedup, broadcast fan-out, and session-banner-triggered sequence
// reset.
//
// Grounded on two teacher packages: internal/nudge/queue.go for the
// message shape and FIFO/priority conventions, and the kandev pack's
// workspace_monitor.go for the fsnotify debounce pattern (a trigger
// channel coalesced by a single resettable timer).
package trigger

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/atomicfile"
	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/inject"
	"github.com/hivemind-dev/coordinator/internal/lock"
)

// headerPattern matches a mailbox message's leading "(SENDER #N):" tag.
var headerPattern = regexp.MustCompile(`^\((\S+)\s+#(\d+)\):\s*`)

// Message is one parsed mailbox entry after header/dedup processing.
type Message struct {
	Sender    string
	Seq       int
	Recipient string
	Body      string
	Broadcast bool
}

// Resolver maps a recipient role or group name to the pane ids that
// should receive it. An unknown role is a hard error: a typo'd
// recipient must surface immediately rather than silently drop.
type Resolver interface {
	Resolve(recipient string) ([]agent.PaneID, error)
}

// Router watches the mailbox directory and delivers messages through
// the Injection Engine, maintaining per-recipient sequence cursors so
// a message is never delivered twice to the same recipient.
type Router struct {
	townRoot string
	resolver Resolver
	engine   *inject.Engine
	logger   *slog.Logger
	debounce time.Duration
	ackWait  time.Duration

	watcher *fsnotify.Watcher

	mu         sync.Mutex
	lastSeen   map[string]map[string]int // recipient -> sender -> last delivered seq
	pendingAck map[string]chan struct{}  // deliveryId -> ack channel
}

// New creates a Router. Call Run to start watching.
func New(townRoot string, resolver Resolver, engine *inject.Engine, debounce, ackWait time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if ackWait <= 0 {
		ackWait = 60 * time.Second
	}
	return &Router{
		townRoot:   townRoot,
		resolver:   resolver,
		engine:     engine,
		logger:     logger.With("component", "trigger"),
		debounce:   debounce,
		ackWait:    ackWait,
		lastSeen:   loadMessageState(townRoot),
		pendingAck: make(map[string]chan struct{}),
	}
}

// Run watches the mailbox directory until ctx is canceled.
func (r *Router) Run(ctx context.Context) error {
	dir := constants.TriggersDir(r.townRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("trigger: creating mailbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigger: creating watcher: %w", err)
	}
	r.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("trigger: watching mailbox directory: %w", err)
	}

	r.logger.Info("trigger router watching", "dir", dir)

	var debounceTimer *time.Timer
	pending := make(map[string]struct{})
	var pendingMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			pendingMu.Lock()
			pending[event.Name] = struct{}{}
			pendingMu.Unlock()
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(r.debounce)
			} else {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(r.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("watcher error", "error", err)

		case <-debounceFired(debounceTimer):
			pendingMu.Lock()
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			pending = make(map[string]struct{})
			pendingMu.Unlock()
			debounceTimer = nil

			for _, f := range files {
				r.processFile(ctx, f)
			}
		}
	}
}

func debounceFired(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// processFile reads one mailbox file (with retry, since a writer may
// still be mid-write), normalizes its encoding, parses messages,
// dedups, resolves recipients, and submits each through the Injection
// Engine.
func (r *Router) processFile(ctx context.Context, path string) {
	data, err := readWithRetry(path, 3, 20*time.Millisecond)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("reading mailbox file", "path", path, "error", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}

	release, err := lock.Acquire(path + ".lock")
	if err != nil {
		r.logger.Warn("acquiring mailbox lock", "path", path, "error", err)
		return
	}
	defer release()

	text := normalizeEncoding(data)
	recipient := recipientFromPath(path)
	broadcast := recipient == constants.BroadcastRecipient

	for _, raw := range splitMessages(text) {
		msg, ok := r.parseMessage(raw, recipient, broadcast)
		if !ok {
			continue
		}
		r.deliver(ctx, msg)
	}

	// Atomically clear the file now that every message has been through
	// the Injection Engine; the file is cleared whether or not each
	// delivery succeeded (the outcome gates the sequence cursor only).
	if err := atomicfile.Write(path, nil, 0644); err != nil {
		r.logger.Warn("clearing mailbox file", "path", path, "error", err)
	}
}

// parseMessage extracts the (SENDER #N): header, applies the session-
// banner reset rule, and dedups against the recipient's last-seen
// sequence per sender. Broadcasts skip dedup: every recipient of a
// broadcast sees every broadcast message.
func (r *Router) parseMessage(raw, recipient string, broadcast bool) (Message, bool) {
	m := headerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Message{}, false
	}
	sender := m[1]
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return Message{}, false
	}
	body := strings.TrimSpace(raw[len(m[0]):])

	if strings.Contains(body, constants.SessionBannerMarker) && seq == 1 {
		r.mu.Lock()
		if r.lastSeen[recipient] != nil {
			delete(r.lastSeen[recipient], sender)
		}
		r.mu.Unlock()
	}

	if !broadcast {
		r.mu.Lock()
		if r.lastSeen[recipient] == nil {
			r.lastSeen[recipient] = make(map[string]int)
		}
		last := r.lastSeen[recipient][sender]
		r.mu.Unlock()
		if seq <= last {
			return Message{}, false
		}
	}

	return Message{Sender: sender, Seq: seq, Recipient: recipient, Body: body, Broadcast: broadcast}, true
}

// deliver resolves the message's recipient(s), submits through the
// Injection Engine with a fresh delivery id, and advances the sequence
// cursor as soon as Submit returns delivered or delivered_unverified; a
// failed delivery leaves the cursor where it was. It registers a pending
// ack channel for the delivery id while Submit runs but never waits on it.
func (r *Router) deliver(ctx context.Context, msg Message) {
	panes, err := r.resolver.Resolve(msg.Recipient)
	if err != nil {
		r.logger.Error("unknown recipient", "recipient", msg.Recipient, "error", err)
		return
	}

	for i, pane := range panes {
		if i > 0 {
			time.Sleep(50 * time.Millisecond) // stagger multi-recipient fan-out
		}
		deliveryID := uuid.New().String()
		ackCh := make(chan struct{}, 1)
		r.mu.Lock()
		r.pendingAck[deliveryID] = ackCh
		r.mu.Unlock()

		res := r.engine.Submit(ctx, inject.Request{
			PaneID:     pane,
			DeliveryID: deliveryID,
			Message:    fmt.Sprintf("(%s #%d): %s", msg.Sender, msg.Seq, msg.Body),
		})

		r.mu.Lock()
		delete(r.pendingAck, deliveryID)
		r.mu.Unlock()

		if res.Outcome == inject.OutcomeFailed {
			r.logger.Error("delivery failed", "pane", pane, "error", res.Err)
			continue
		}

		r.advanceCursor(msg)
		r.logger.Info("delivered", "pane", pane, "sender", msg.Sender, "seq", msg.Seq, "outcome", res.Outcome)
	}
}

// Ack records that deliveryID was acknowledged by the receiving agent
// (e.g. via a hook or exec-mode event naming the delivery id) by
// signalling its pending channel, if one is still registered. The
// cursor advances on the Injection Engine's outcome either way.
func (r *Router) Ack(deliveryID string) {
	r.mu.Lock()
	ch, ok := r.pendingAck[deliveryID]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *Router) advanceCursor(msg Message) {
	if msg.Broadcast {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSeen[msg.Recipient] == nil {
		r.lastSeen[msg.Recipient] = make(map[string]int)
	}
	if msg.Seq > r.lastSeen[msg.Recipient][msg.Sender] {
		r.lastSeen[msg.Recipient][msg.Sender] = msg.Seq
		_ = saveMessageState(r.townRoot, r.lastSeen)
	}
}

func recipientFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// splitMessages splits a mailbox file's contents on blank lines, since
// multiple messages may accumulate before the router catches up.
func splitMessages(text string) []string {
	var out []string
	var cur strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// normalizeEncoding strips a UTF-16LE or UTF-8 byte-order mark and
// control characters some mail-writing tools on Windows leave behind,
// then returns clean UTF-8 text.
func normalizeEncoding(data []byte) string {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE {
		u16 := make([]uint16, 0, (len(data)-2)/2)
		for i := 2; i+1 < len(data); i += 2 {
			u16 = append(u16, uint16(data[i])|uint16(data[i+1])<<8)
		}
		data = []byte(string(utf16.Decode(u16)))
	} else if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}

	out := make([]byte, 0, len(data))
	for _, c := range data {
		if c == '\r' || (c < 0x20 && c != '\n' && c != '\t') {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func readWithRetry(path string, attempts int, delay time.Duration) ([]byte, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if os.IsNotExist(err) {
			return nil, err
		}
		time.Sleep(delay)
	}
	return nil, lastErr
}

// messageState is the persisted shape of message-state.json.
type messageState struct {
	Cursors map[string]map[string]int `json:"cursors"` // recipient -> sender -> seq
}

func loadMessageState(townRoot string) map[string]map[string]int {
	var state messageState
	_ = atomicfile.ReadJSON(constants.MessageStatePath(townRoot), &state)
	if state.Cursors == nil {
		state.Cursors = make(map[string]map[string]int)
	}
	return state.Cursors
}

func saveMessageState(townRoot string, cursors map[string]map[string]int) error {
	return atomicfile.WriteJSON(constants.MessageStatePath(townRoot), messageState{Cursors: cursors})
}
