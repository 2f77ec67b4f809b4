package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/coordinator/internal/ui"
	"github.com/hivemind-dev/coordinator/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupDaemon,
	Short:   "Initialize a new town in the current directory",
	RunE:    runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := workspace.Init(cwd); err != nil {
		return err
	}
	fmt.Printf("%s Initialized town at %s\n", ui.RenderPassIcon(), ui.ShortenPath(cwd))
	fmt.Printf("  Edit %s to add agents, then run %s\n", ui.RenderMuted(".hivemind/town.toml"), ui.RenderMuted("hivemind daemon start"))
	return nil
}
