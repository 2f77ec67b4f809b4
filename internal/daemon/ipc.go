package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/eventbus"
	"github.com/hivemind-dev/coordinator/internal/recovery"
	"github.com/hivemind-dev/coordinator/internal/trigger"
)

// IPCServer is the daemon's local control/event transport: a single
// websocket endpoint over a Unix domain socket. Every connected client
// receives the roster's data/exit/spawned/activity event stream as
// JSON frames and may send back JSON commands (spawn/write/resize/
// interrupt/kill/list).
//
// Grounded on gastown's internal/terminal/coop_ws.go
// (CoopStateWatcher): the same gorilla/websocket JSON-event-envelope
// style, generalized from a one-way state-change client stream into a
// bidirectional local control channel.
type IPCServer struct {
	roster   *Roster
	recovery *recovery.Manager
	router   *trigger.Router
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewIPCServer creates an IPCServer bound to roster and its Recovery
// Manager and Trigger Router, so health/recovery/mail control commands
// can reach them without the CLI process needing its own instance.
func NewIPCServer(roster *Roster, rm *recovery.Manager, router *trigger.Router, logger *slog.Logger) *IPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IPCServer{
		roster:   roster,
		recovery: rm,
		router:   router,
		logger: logger.With("component", "ipc"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Listen binds the Unix domain socket at path, replacing any stale
// socket file left behind by a prior daemon instance.
func (s *IPCServer) Listen(path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	s.server = &http.Server{Handler: mux}
	return nil
}

// Serve blocks, accepting connections until Close is called.
func (s *IPCServer) Serve() {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("ipc server exited", "error", err)
	}
}

// Close shuts down the IPC server and removes the socket file.
func (s *IPCServer) Close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
}

// Command is one inbound client request over the event websocket.
type Command struct {
	Op     string   `json:"op"`
	PaneID int      `json:"paneId,omitempty"`
	Data   string   `json:"data,omitempty"`
	Cols   int      `json:"cols,omitempty"`
	Rows   int      `json:"rows,omitempty"`
	Role   string   `json:"role,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	Cwd    string   `json:"cwd,omitempty"`
	Argv   []string `json:"argv,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
}

// Reply is the daemon's response to a Command.
type Reply struct {
	Op      string      `json:"op"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Panes   []int       `json:"panes,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Frame is the envelope every websocket message uses, discriminating
// events (daemon-initiated) from replies (request-response).
type Frame struct {
	Kind  string          `json:"kind"` // "event" or "reply"
	Event *eventbus.Event `json:"event,omitempty"`
	Reply *Reply          `json:"reply,omitempty"`
}

func (s *IPCServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.roster.Events().Subscribe()
	defer unsubscribe()

	writeCh := make(chan Frame, 256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			writeCh <- Frame{Kind: "reply", Reply: s.dispatch(cmd)}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(Frame{Kind: "event", Event: &ev}); err != nil {
				return
			}
		case frame := <-writeCh:
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *IPCServer) dispatch(cmd Command) *Reply {
	pane := agent.PaneID(cmd.PaneID)
	switch cmd.Op {
	case "spawn":
		mode := agent.ModeInteractive
		if cmd.Mode == string(agent.ModeExec) {
			mode = agent.ModeExec
		}
		spec := agent.Spec{
			PaneID: pane,
			Role:   cmd.Role,
			Mode:   mode,
			Cwd:    cmd.Cwd,
			Argv:   cmd.Argv,
		}
		_, err := s.roster.Spawn(spec, 80, 24)
		if err == nil {
			s.recovery.Track(spec, 80, 24)
		}
		return replyFor(cmd.Op, err)
	case "write":
		return replyFor(cmd.Op, s.roster.Write(pane, []byte(cmd.Data)))
	case "resize":
		return replyFor(cmd.Op, s.roster.Resize(pane, cmd.Cols, cmd.Rows))
	case "interrupt":
		return replyFor(cmd.Op, s.roster.Interrupt(pane))
	case "kill":
		return replyFor(cmd.Op, s.roster.Kill(pane, true))
	case "list":
		panes := s.roster.List()
		ints := make([]int, len(panes))
		for i, p := range panes {
			ints[i] = int(p)
		}
		return &Reply{Op: cmd.Op, OK: true, Panes: ints}
	case "health":
		return &Reply{Op: cmd.Op, OK: true, Result: s.recovery.GetAgentHealth()}
	case "recoveryTrigger":
		if err := s.recovery.TriggerRecovery(context.Background(), pane); err != nil {
			return replyFor(cmd.Op, err)
		}
		return &Reply{Op: cmd.Op, OK: true}
	case "recoveryReset":
		return replyFor(cmd.Op, s.recovery.ResetRecoveryCircuit(pane))
	case "mailAck":
		s.router.Ack(cmd.DeliveryID)
		return &Reply{Op: cmd.Op, OK: true}
	default:
		return &Reply{Op: cmd.Op, OK: false, Error: "unknown op: " + cmd.Op}
	}
}

func replyFor(op string, err error) *Reply {
	if err != nil {
		return &Reply{Op: op, OK: false, Error: err.Error()}
	}
	return &Reply{Op: op, OK: true}
}
