package main

import (
	"os"

	"github.com/targeted-equity/estimates/cmd/estimates/commands"
)

// main is the entry point for the estimates CLI.
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
