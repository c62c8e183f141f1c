// Package main is the entry point for the tmail command.
package main

import (
	"os"

	"github.com/junxit/tmail/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
