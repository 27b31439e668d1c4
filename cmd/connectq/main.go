// Command connectq is the entry point for the ConnectQ company search backend.
// It provides a CLI (via Cobra) for serving the HTTP API and for one-off
// index maintenance and search from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/connectq/cmd/connectq/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
