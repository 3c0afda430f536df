// Command agstore is the developer CLI for the annotation graph store.
package main

import (
	"fmt"
	"os"

	"github.com/korero-labs/agstore/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
