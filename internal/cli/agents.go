package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/daemon"
	"github.com/hivemind-dev/coordinator/internal/eventbus"
	"github.com/hivemind-dev/coordinator/internal/workspace"
)

var (
	spawnRole string
	spawnMode string
	spawnCwd  string
)

var spawnCmd = &cobra.Command{
	Use:     "spawn <pane> -- <argv...>",
	GroupID: GroupAgents,
	Short:   "Spawn a new agent on a pane",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSpawn,
}

var writeCmd = &cobra.Command{
	Use:     "write <pane> <text>",
	GroupID: GroupAgents,
	Short:   "Write raw bytes to a pane's stdin, bypassing the Injection Engine",
	Args:    cobra.ExactArgs(2),
	RunE:    runWrite,
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: GroupAgents,
	Short:   "List panes currently on the roster",
	RunE:    runList,
}

var interruptCmd = &cobra.Command{
	Use:     "interrupt <pane>",
	GroupID: GroupAgents,
	Short:   "Send a graceful interrupt to a pane",
	Args:    cobra.ExactArgs(1),
	RunE:    runInterrupt,
}

var killCmd = &cobra.Command{
	Use:     "kill <pane>",
	GroupID: GroupAgents,
	Short:   "Forcibly terminate a pane's agent",
	Args:    cobra.ExactArgs(1),
	RunE:    runKill,
}

var attachCmd = &cobra.Command{
	Use:     "attach <pane>",
	GroupID: GroupAgents,
	Short:   "Stream a pane's output until interrupted",
	Args:    cobra.ExactArgs(1),
	RunE:    runAttach,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnRole, "role", "", "role name for the new agent (required)")
	spawnCmd.Flags().StringVar(&spawnMode, "mode", string(constants.ModeInteractive), "interactive or exec")
	spawnCmd.Flags().StringVar(&spawnCwd, "cwd", ".", "working directory for the spawned agent")
	_ = spawnCmd.MarkFlagRequired("role")

	rootCmd.AddCommand(spawnCmd, writeCmd, listCmd, interruptCmd, killCmd, attachCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	argv := args[1:]
	if i := cmd.ArgsLenAtDash(); i >= 0 {
		argv = args[i:]
	}
	if len(argv) == 0 {
		return fmt.Errorf("spawn requires an argv after --, e.g. 'hivemind spawn 1 --role architect -- claude'")
	}

	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.call(daemon.Command{
		Op:     "spawn",
		PaneID: pane,
		Role:   spawnRole,
		Mode:   spawnMode,
		Cwd:    spawnCwd,
		Argv:   argv,
	}); err != nil {
		return err
	}
	fmt.Printf("spawned pane %d (role=%s)\n", pane, spawnRole)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.call(daemon.Command{Op: "write", PaneID: pane, Data: args[1]}); err != nil {
		return err
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.call(daemon.Command{Op: "list"})
	if err != nil {
		return err
	}
	panes := append([]int(nil), reply.Panes...)
	sort.Ints(panes)
	for _, p := range panes {
		fmt.Println(p)
	}
	return nil
}

func runInterrupt(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.call(daemon.Command{Op: "interrupt", PaneID: pane})
	return err
}

func runKill(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.call(daemon.Command{Op: "kill", PaneID: pane})
	return err
}

func runAttach(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(os.Stderr, "attached to pane %d, press Ctrl-C to detach\n", pane)
	return client.watchEvents(func(frame daemon.Frame) bool {
		if frame.Event == nil || frame.Event.PaneID != pane {
			return true
		}
		switch frame.Event.Type {
		case eventbus.EventData:
			// Raw output bytes round-trip through JSON as base64.
			if s, ok := frame.Event.Data.(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
					os.Stdout.Write(raw)
				}
			}
		case eventbus.EventExit:
			fmt.Fprintf(os.Stderr, "\npane %d exited\n", pane)
			return false
		}
		return true
	})
}

func parsePane(s string) (int, error) {
	s = strings.TrimSpace(s)
	var pane int
	if _, err := fmt.Sscanf(s, "%d", &pane); err != nil {
		return 0, fmt.Errorf("invalid pane id %q", s)
	}
	return pane, nil
}

func dialWithTownRoot() (*ipcClient, string, error) {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return nil, "", err
	}
	client, err := dialDaemon(townRoot)
	if err != nil {
		return nil, "", err
	}
	return client, townRoot, nil
}
