// Package main provides the entry point for the cindex CLI.
package main

import (
	"os"

	"github.com/cindex-dev/cindex/cmd/cindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
