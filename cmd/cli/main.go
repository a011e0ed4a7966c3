// Package main is the entry point for the crewflow CLI.
// The CLI is the operator terminal tool for interacting with the crewflow API.
package main

import (
	"os"

	"crewflow/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
