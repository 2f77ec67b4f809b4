package ptyproc

import (
	"bytes"
	"fmt"
	"sync"
)

// Mock is a dry-run Handle that never spawns a real process. It echoes
// writes back as output and exits only when explicitly told to, so the
// daemon's spawn/write/resize/kill/interrupt operations can be exercised
// end to end without a real agent binary.
//
// Grounded on gastown's internal/terminal.Backend abstraction,
// which already separates "how we talk to a pane" from the pane's
// identity — Mock is the trivial implementation of that interface.
type Mock struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	cols     uint16
	rows     uint16
	pid      int
	exitCh   chan ExitStatus
	exited   bool
}

// NewMock creates a dry-run handle with a synthetic PID.
func NewMock(pid int, cols, rows int) *Mock {
	return &Mock{
		cols:   uint16(cols),
		rows:   uint16(rows),
		pid:    pid,
		exitCh: make(chan ExitStatus, 1),
	}
}

func (m *Mock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Read(b)
}

// Write echoes the payload back into the readable buffer, simulating an
// agent that reflects its input, enough for injection-protocol tests to
// observe their own writes land.
func (m *Mock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Write(b)
	return len(b), nil
}

func (m *Mock) Close() error { return nil }

func (m *Mock) Resize(cols, rows uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols, m.rows = cols, rows
	return nil
}

func (m *Mock) Interrupt() error {
	return nil
}

// Kill ends the mock process with a signaled-style exit.
func (m *Mock) Kill() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return nil
	}
	m.exited = true
	m.exitCh <- ExitStatus{Code: 137, Signal: "SIGKILL"}
	return nil
}

// Exit ends the mock process with the given exit code, simulating a
// normal or erroring termination for recovery-path tests.
func (m *Mock) Exit(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.exited = true
	m.exitCh <- ExitStatus{Code: code}
}

func (m *Mock) Wait() (ExitStatus, error) {
	status, ok := <-m.exitCh
	if !ok {
		return ExitStatus{}, fmt.Errorf("ptyproc: mock handle closed without exit")
	}
	return status, nil
}

func (m *Mock) PID() int { return m.pid }

var _ Handle = (*Mock)(nil)
