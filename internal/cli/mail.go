package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/coordinator/internal/atomicfile"
	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/daemon"
	"github.com/hivemind-dev/coordinator/internal/lock"
	"github.com/hivemind-dev/coordinator/internal/workspace"
)

// Grounded on gastown's mailbox-file conventions documented in the
// Trigger Router (internal/trigger/trigger.go): a mailbox write is just
// an append to triggers/<recipient>.txt with a "(SENDER #N): body"
// header; the CLI only needs to pick the right N, which it reads from
// the router's own persisted sequence cursors so a manual "mail send"
// never collides with the router's own dedup.

var mailSender string

var mailCmd = &cobra.Command{
	Use:     "mail",
	GroupID: GroupComm,
	Short:   "Send messages through the mailbox",
	RunE:    requireSubcommand,
}

var mailSendCmd = &cobra.Command{
	Use:   "send <recipient> <message>",
	Short: "Append a message to a recipient's mailbox (role, group, or 'all')",
	Args:  cobra.ExactArgs(2),
	RunE:  runMailSend,
}

var mailAckCmd = &cobra.Command{
	Use:   "ack <delivery-id>",
	Short: "Acknowledge a delivery by id (signals the router's pending ack channel, if still registered)",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailAck,
}

func init() {
	mailSendCmd.Flags().StringVar(&mailSender, "sender", "operator", "sender role tag for the message header")
	mailCmd.AddCommand(mailSendCmd, mailAckCmd)
	rootCmd.AddCommand(mailCmd)
}

// cursorState mirrors the Trigger Router's persisted message-state.json
// shape closely enough to read the last-seen sequence per recipient.
type cursorState struct {
	Cursors map[string]map[string]int `json:"cursors"`
}

func runMailSend(cmd *cobra.Command, args []string) error {
	recipient, body := args[0], args[1]
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}

	var state cursorState
	_ = atomicfile.ReadJSON(constants.MessageStatePath(townRoot), &state)
	seq := 1
	if state.Cursors != nil {
		if bySender, ok := state.Cursors[recipient]; ok {
			seq = bySender[strings.ToUpper(mailSender)] + 1
		}
	}

	header := fmt.Sprintf("(%s #%d): %s\n\n", strings.ToUpper(mailSender), seq, body)
	path := constants.TriggerFile(townRoot, recipient)

	release, lockErr := lock.Acquire(path + ".lock")
	if lockErr != nil {
		return lockErr
	}
	defer release()

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading mailbox file: %w", err)
	}
	if err := atomicfile.Write(path, append(existing, []byte(header)...), 0644); err != nil {
		return fmt.Errorf("writing mailbox file: %w", err)
	}
	fmt.Printf("queued (%s #%d) -> %s\n", strings.ToUpper(mailSender), seq, recipient)
	return nil
}

// runMailAck lets an agent hook (or an operator) explicitly confirm
// receipt of a delivery by id. The sequence cursor still advances on the
// Injection Engine's own delivered/delivered_unverified outcome, whether
// or not an ack arrives.
func runMailAck(cmd *cobra.Command, args []string) error {
	client, _, err := dialWithTownRoot()
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.call(daemon.Command{Op: "mailAck", DeliveryID: args[0]})
	return err
}
