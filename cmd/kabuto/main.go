// Package main is the entry point for the kabuto CLI.
// The CLI is the developer terminal tool for interacting with the kabuto API.
package main

import (
	"os"

	"github.com/adimian/kabuto/cmd/kabuto/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
