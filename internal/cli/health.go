package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/coordinator/internal/daemon"
	"github.com/hivemind-dev/coordinator/internal/recovery"
	"github.com/hivemind-dev/coordinator/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: GroupDiag,
	Short:   "Show recovery health for every tracked pane",
	RunE:    runHealth,
}

var recoveryCmd = &cobra.Command{
	Use:     "recovery",
	GroupID: GroupDiag,
	Short:   "Control the Recovery Manager",
	RunE:    requireSubcommand,
}

var recoveryTriggerCmd = &cobra.Command{
	Use:   "trigger <pane>",
	Short: "Force an immediate stuck-check for a pane, bypassing the poll interval",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoveryTrigger,
}

var recoveryResetCmd = &cobra.Command{
	Use:   "reset <pane>",
	Short: "Clear a pane's circuit breaker and escalation state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoveryReset,
}

func init() {
	recoveryCmd.AddCommand(recoveryTriggerCmd, recoveryResetCmd)
	rootCmd.AddCommand(healthCmd, recoveryCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.call(daemon.Command{Op: "health"})
	if err != nil {
		return err
	}
	var rows []recovery.Health
	if err := decodeResult(reply.Result, &rows); err != nil {
		return fmt.Errorf("decoding health reply: %w", err)
	}

	for _, h := range rows {
		icon := ui.RenderPassIcon()
		if !h.Alive {
			icon = ui.RenderFailIcon()
		} else if h.Recovering {
			icon = ui.RenderWarnIcon()
		}
		fmt.Printf("%s pane %d  step=%-9s stuck=%d  last=%s\n",
			icon, h.PaneID, h.Step, h.StuckCount, ui.RelativeTime(h.LastActivity))
	}
	return nil
}

func runRecoveryTrigger(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.call(daemon.Command{Op: "recoveryTrigger", PaneID: pane})
	return err
}

func runRecoveryReset(cmd *cobra.Command, args []string) error {
	pane, err := parsePane(args[0])
	if err != nil {
		return err
	}
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.call(daemon.Command{Op: "recoveryReset", PaneID: pane})
	return err
}
