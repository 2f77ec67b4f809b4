// Command hivemind is the operator CLI and, via its hidden "daemon run"
// subcommand, the daemon process itself: "hivemind daemon start" forks
// this same executable rather than a separate binary, matching the
// teacher's cmd/gt single-binary self-fork convention.
package main

import (
	"os"

	"github.com/hivemind-dev/coordinator/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
