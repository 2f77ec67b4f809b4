// Package constants centralizes path layout and well-known names shared
// across the coordination engine so that no package hardcodes a sibling's
// directory structure.
package constants

import "path/filepath"

// Agent modes.
const (
	ModeInteractive = "interactive"
	ModeExec        = "exec"
)

// DirRuntime is the per-workspace runtime state directory, relative to
// the town root.
const DirRuntime = ".runtime"

// DirTriggers is the mailbox directory watched by the Trigger Router,
// relative to the town root.
const DirTriggers = "triggers"

// DirLogs is the log output directory, relative to the town root.
const DirLogs = "workspace/logs"

// BroadcastRecipient is the reserved recipient name for the broadcast
// mailbox file (all.txt).
const BroadcastRecipient = "all"

// SessionStateFile is the daemon's persisted terminal/session state file.
const SessionStateFile = "session-state.json"

// MessageStateFile is the trigger router's persisted sequence-cursor file.
const MessageStateFile = "message-state.json"

// DaemonPIDFile is the daemon's PID file name.
const DaemonPIDFile = "daemon.pid"

// DaemonLockFile is the daemon's singleton flock file name.
const DaemonLockFile = "daemon.lock"

// DaemonSocketFile is the Unix domain socket the daemon's IPC server
// listens on, relative to the town root.
const DaemonSocketFile = "daemon.sock"

// SessionBannerMarker is the literal marker that, when present in a
// message body together with seq==1, requests a sequence-cursor reset.
const SessionBannerMarker = "# HIVEMIND SESSION:"

// AppLogPath returns the path to the append-only application log.
func AppLogPath(townRoot string) string {
	return filepath.Join(townRoot, DirLogs, "app.log")
}

// DiagnosticLogPath returns the path to the append-only diagnostic log.
func DiagnosticLogPath(townRoot string) string {
	return filepath.Join(townRoot, DirLogs, "diagnostic.log")
}

// SessionStatePath returns the path to the persisted session-state file.
func SessionStatePath(townRoot string) string {
	return filepath.Join(townRoot, SessionStateFile)
}

// MessageStatePath returns the path to the persisted message-state file.
func MessageStatePath(townRoot string) string {
	return filepath.Join(townRoot, MessageStateFile)
}

// DaemonPIDPath returns the path to the daemon's PID file.
func DaemonPIDPath(townRoot string) string {
	return filepath.Join(townRoot, DaemonPIDFile)
}

// DaemonLockPath returns the path to the daemon's singleton lock file.
func DaemonLockPath(townRoot string) string {
	return filepath.Join(townRoot, DirRuntime, DaemonLockFile)
}

// DaemonSocketPath returns the path to the daemon's IPC socket.
func DaemonSocketPath(townRoot string) string {
	return filepath.Join(townRoot, DirRuntime, DaemonSocketFile)
}

// TriggersDir returns the mailbox directory watched by the Trigger Router.
func TriggersDir(townRoot string) string {
	return filepath.Join(townRoot, DirTriggers)
}

// TriggerFile returns the mailbox file path for a given recipient role or
// group name (use BroadcastRecipient for the broadcast mailbox).
func TriggerFile(townRoot, recipient string) string {
	return filepath.Join(TriggersDir(townRoot), recipient+".txt")
}
