// Package main provides the entry point for the CodeBuddy memory CLI.
package main

import (
	"fmt"
	"os"

	"github.com/codebuddy-ai/codebuddy-memory/cmd/codebuddy-memory/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
