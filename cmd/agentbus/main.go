// Command agentbus is the command-line interface to the agent event bus.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/agentbus/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
