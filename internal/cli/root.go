// Package cli provides the hivemind operator CLI: daemon lifecycle
// control, agent roster inspection, manual message injection, and
// recovery/health introspection, all talking to a running daemon over
// its local IPC socket.
//
// Grounded on gastown's internal/cmd/root.go: an Execute() int
// entrypoint, cobra command groups, and prefix-matching enabled for
// short subcommand typing.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "hivemind",
	Short:   "Hivemind - coordination engine for co-located AI CLI agents",
	Version: Version,
	Long: `Hivemind coordinates a team of AI CLI agents sharing one machine:
it owns their terminal sessions, injects messages into their input
streams, routes a file-based mailbox between them, and recovers agents
that stop making progress.`,
}

const (
	GroupDaemon   = "daemon"
	GroupAgents   = "agents"
	GroupComm     = "comm"
	GroupDiag     = "diag"
)

func init() {
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: GroupAgents, Title: "Agent Management:"},
		&cobra.Group{ID: GroupComm, Title: "Communication:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand is a RunE for parent commands with no default
// action, so an unrecognized subcommand is an error instead of cobra
// silently printing help and exiting 0.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
