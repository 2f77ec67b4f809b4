package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/daemon"
)

// ipcClient is a thin client over the daemon's local websocket-over-
// unix-socket control channel, used by every CLI command that needs a
// running daemon (everything except "daemon start"/"init").
//
// Grounded on the daemon's own IPCServer (internal/daemon/ipc.go),
// which this dials rather than reimplements.
type ipcClient struct {
	conn *websocket.Conn
}

func dialDaemon(townRoot string) (*ipcClient, error) {
	socketPath := constants.DaemonSocketPath(townRoot)
	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.DialTimeout("unix", socketPath, 3*time.Second)
		},
		HandshakeTimeout: 3 * time.Second,
	}
	conn, _, err := dialer.Dial("ws://hivemind/events", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon (is it running? try 'hivemind daemon start'): %w", err)
	}
	return &ipcClient{conn: conn}, nil
}

func (c *ipcClient) Close() error { return c.conn.Close() }

// call sends cmd and blocks for the matching reply, discarding any event
// frames that arrive first.
func (c *ipcClient) call(cmd daemon.Command) (*daemon.Reply, error) {
	if err := c.conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}
	for {
		var frame daemon.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return nil, fmt.Errorf("reading reply: %w", err)
		}
		if frame.Kind == "reply" && frame.Reply != nil && frame.Reply.Op == cmd.Op {
			if !frame.Reply.OK {
				return frame.Reply, fmt.Errorf("%s: %s", cmd.Op, frame.Reply.Error)
			}
			return frame.Reply, nil
		}
	}
}

// watchEvents streams event frames to onEvent until ctx-less callback
// returns false or the connection closes.
func (c *ipcClient) watchEvents(onEvent func(daemon.Frame) bool) error {
	for {
		var frame daemon.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Kind != "event" {
			continue
		}
		if !onEvent(frame) {
			return nil
		}
	}
}

// decodeResult unmarshals a Reply.Result (round-tripped through
// interface{} by encoding/json) into out.
func decodeResult(result interface{}, out interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
