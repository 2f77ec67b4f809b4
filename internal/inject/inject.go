// Package inject implements the Injection Engine: the single chokepoint
// through which every message reaches an agent's stdin. It enforces one
// in-flight delivery globally, serializes deliveries per pane, defers
// around a human who appears to be typing, and verifies interactive
// deliveries actually landed before declaring success.
//
// Grounded on gastown's internal/tmux/nudge.go
// (nudgeSessionReliable): Clear(Ctrl-C)/Inject/Verify/Restore over a
// bounded number of retries, typing-lull detection via repeated tail
// capture, and a paste-placeholder guard — generalized from a
// tmux-specific nudge into a PTY-generic protocol run through a Roster
// interface instead of shelling out to tmux.
package inject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/termscreen"
)

// Roster is the subset of daemon.Roster the Injection Engine needs.
// Declared locally so this package depends on a narrow interface
// rather than the daemon package's full surface.
type Roster interface {
	Write(pane agent.PaneID, data []byte) error
	Get(pane agent.PaneID) (*agent.Agent, *agent.Terminal, bool)
}

// Timing holds the Engine's tunables, normally sourced from
// config.TimingConfig.
type Timing struct {
	Ceiling     time.Duration
	TypingGuard time.Duration
}

// Request is one message to deliver to one pane.
type Request struct {
	PaneID     agent.PaneID
	DeliveryID string
	Message    string
}

// Outcome reports how a delivery concluded.
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeDeliveredUnverified Outcome = "delivered_unverified"
	OutcomeFailed             Outcome = "failed"
)

// Result is returned from Submit once a delivery concludes.
type Result struct {
	DeliveryID string
	Outcome    Outcome
	Err        error
}

// pastedTextPlaceholderRe matches an interactive CLI's "large paste in
// progress" placeholder; injecting into a pane mid-paste would corrupt
// both the paste and the injection.
var pastedTextPlaceholderRe = regexp.MustCompile(`\[Pasted text #\d+ \+\d+ lines\]`)

const (
	clearDelay      = 50 * time.Millisecond
	injectDelay     = 50 * time.Millisecond
	enterBypassWait = 80 * time.Millisecond
	verifyRetries   = 5
	verifyInterval  = 200 * time.Millisecond
	tailCaptureLen  = 4096

	// idleThreshold is how long a pane must have shown no output before
	// it is considered quiescent enough to inject into.
	idleThreshold = 500 * time.Millisecond
	// idleWaitCeiling bounds the pre-flight idle wait; past it the
	// engine injects anyway rather than stall delivery indefinitely.
	idleWaitCeiling = 5 * time.Second
	idleWaitPoll    = 100 * time.Millisecond

	// activeThreshold separates "active" (short burst of output) from
	// "busy" (still streaming) recency bands for the adaptive delay.
	activeThreshold = 100 * time.Millisecond

	delayBusy   = 300 * time.Millisecond
	delayActive = 150 * time.Millisecond
	delayIdle   = 50 * time.Millisecond
)

// Engine is the Injection Engine: one global in-flight slot plus a
// per-pane FIFO queue of pending deliveries.
type Engine struct {
	roster Roster
	timing Timing

	slot chan struct{} // capacity 1: the global in-flight gate

	mu     sync.Mutex
	queues map[agent.PaneID]chan func()
}

// New creates an Engine bound to roster.
func New(roster Roster, timing Timing) *Engine {
	if timing.Ceiling <= 0 {
		timing.Ceiling = 60 * time.Second
	}
	if timing.TypingGuard <= 0 {
		timing.TypingGuard = 10 * time.Second
	}
	return &Engine{
		roster: roster,
		timing: timing,
		slot:   make(chan struct{}, 1),
		queues: make(map[agent.PaneID]chan func()),
	}
}

// Submit enqueues req on its pane's FIFO and blocks until delivery
// concludes or the hard ceiling elapses. A delivery cut off by the
// ceiling is reported as delivered_unverified, so a retrying caller does
// not send the same message twice.
func (e *Engine) Submit(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timing.Ceiling)
	defer cancel()

	resultCh := make(chan Result, 1)
	e.enqueue(req.PaneID, func() {
		resultCh <- e.deliver(ctx, req)
	})

	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeDeliveredUnverified, Err: ctx.Err()}
		}
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: ctx.Err()}
	}
}

// enqueue appends job to pane's FIFO, starting a worker goroutine for
// that pane the first time it is used.
func (e *Engine) enqueue(pane agent.PaneID, job func()) {
	e.mu.Lock()
	q, ok := e.queues[pane]
	if !ok {
		q = make(chan func(), 256)
		e.queues[pane] = q
		go e.runQueue(q)
	}
	e.mu.Unlock()
	q <- job
}

func (e *Engine) runQueue(q chan func()) {
	for job := range q {
		job()
	}
}

// deliver runs the full protocol for one request, holding the global
// in-flight slot for its duration.
func (e *Engine) deliver(ctx context.Context, req Request) Result {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: ctx.Err()}
	}
	defer func() { <-e.slot }()

	a, term, ok := e.roster.Get(req.PaneID)
	if !ok {
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: fmt.Errorf("inject: no agent on pane %d", req.PaneID)}
	}

	if !e.awaitTypingLull(ctx, term) {
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: fmt.Errorf("inject: typing guard exceeded for pane %d", req.PaneID)}
	}

	if a.Mode() == agent.ModeExec {
		return e.deliverExec(req)
	}
	return e.deliverInteractive(ctx, req, term)
}

// awaitTypingLull defers delivery while the pane's last human input is
// recent, bounded by the configured typing-guard window. Returns false
// if the guard expires without a lull.
func (e *Engine) awaitTypingLull(ctx context.Context, term *agent.Terminal) bool {
	deadline := time.Now().Add(e.timing.TypingGuard)
	for {
		since := time.Since(term.LastInputAt())
		if term.LastInputAt().IsZero() || since > 2*time.Second {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}
}

// deliverExec is the exec-mode protocol: exec-mode agents speak
// structured JSON, not a human-facing line editor, so there is nothing
// to clear or verify — writing the line to stdin either succeeds or it
// doesn't.
func (e *Engine) deliverExec(req Request) Result {
	if err := e.roster.Write(req.PaneID, []byte(req.Message)); err != nil {
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: err}
	}
	return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeDelivered}
}

// deliverInteractive implements the Clear/Write/Adaptive-delay/Verify/
// Submit protocol for a PTY-attached agent, repeating Clear through
// Verify up to verifyRetries more times until the echo is seen.
func (e *Engine) deliverInteractive(ctx context.Context, req Request, term *agent.Terminal) Result {
	if hasPastedTextPlaceholder(term.Scrollback()) {
		return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: fmt.Errorf("inject: pane %d is mid-paste", req.PaneID)}
	}

	e.awaitIdle(ctx, term)

	for attempt := 0; attempt <= verifyRetries; attempt++ {
		// Step 1: clear any partial input line.
		if err := e.roster.Write(req.PaneID, []byte{0x03}); err != nil {
			return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: err}
		}
		sleep(ctx, clearDelay)

		// Step 2: write the payload, no Enter yet.
		if err := e.roster.Write(req.PaneID, []byte(req.Message)); err != nil {
			return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: err}
		}

		// Step 3: adaptive delay, scaled by how recently the pane last
		// produced output — a busy/streaming pane gets more settle time
		// before verification than one that was already idle.
		sleep(ctx, adaptiveDelay(term))

		// Step 4: verify the message landed in the tail of the pane.
		capture := tail(term.Scrollback(), tailCaptureLen)
		if bytes.Contains(capture, []byte(req.Message)) {
			// A prompt-ready marker on the rendered screen confirms the
			// line editor is idle and done echoing, so the extra
			// injectDelay settle is skipped.
			if !termscreen.PromptReady(termscreen.Render(capture, 80, 24)) {
				sleep(ctx, injectDelay)
			}
			// Step 5: submit by writing a carriage return (Enter) once
			// enterBypassWait has passed.
			sleep(ctx, enterBypassWait)
			if err := e.roster.Write(req.PaneID, []byte("\r")); err != nil {
				return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeFailed, Err: err}
			}
			return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeDelivered}
		}

		if ctx.Err() != nil {
			break
		}
		sleep(ctx, verifyInterval)
	}

	return Result{DeliveryID: req.DeliveryID, Outcome: OutcomeDeliveredUnverified, Err: fmt.Errorf("inject: could not verify delivery to pane %d", req.PaneID)}
}

// awaitIdle blocks until term has shown no output for longer than
// idleThreshold, bounded by idleWaitCeiling. Past the ceiling it gives
// up and lets delivery proceed anyway, the same "defer then inject
// regardless" discipline as the typing-guard.
func (e *Engine) awaitIdle(ctx context.Context, term *agent.Terminal) {
	deadline := time.Now().Add(idleWaitCeiling)
	for {
		last := term.LastOutputAt()
		if last.IsZero() || time.Since(last) > idleThreshold {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-time.After(idleWaitPoll):
		case <-ctx.Done():
			return
		}
	}
}

// adaptiveDelay picks the post-write settle time from how recently the
// pane last produced output: idle panes need little time to echo the
// write back, busy/streaming panes need the most.
func adaptiveDelay(term *agent.Terminal) time.Duration {
	last := term.LastOutputAt()
	if last.IsZero() {
		return delayIdle
	}
	switch since := time.Since(last); {
	case since > idleThreshold:
		return delayIdle
	case since > activeThreshold:
		return delayActive
	default:
		return delayBusy
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func tail(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}

func hasPastedTextPlaceholder(data []byte) bool {
	return pastedTextPlaceholderRe.Match(tail(data, 8192))
}
