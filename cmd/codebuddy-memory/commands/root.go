// Package commands provides the CLI commands for the CodeBuddy memory engine.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "codebuddy-memory",
	Short: "CodeBuddy Memory - conversation memory engine",
	Long: `CodeBuddy Memory manages conversation context for AI coding sessions:
it tracks token usage, compresses old turns into summaries and stubs, and
flushes durable facts to MEMORY.md.

Run 'codebuddy-memory serve' to start the debug server, 'codebuddy-memory
stats' to inspect a transcript, or 'codebuddy-memory store' to manage the
on-disk tool-result store.`,
	Version: Version,
	// Logging is quiet unless --print-logs is set; commands print their
	// results on stdout either way.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: io.Discard,
		}
		if printLogs {
			logCfg.Output = os.Stderr
			logCfg.Pretty = true
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand, show help
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("codebuddy-memory %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
