// Package main provides the entry point for the websift CLI.
package main

import (
	"os"

	"github.com/websift/websift/cmd/websift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
