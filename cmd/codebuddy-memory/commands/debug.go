package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/stub"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

var debugDir string

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting configuration and paths.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  `Show the merged configuration with defaults applied. API keys are redacted.`,
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.PersistentFlags().StringVar(&debugDir, "directory", "", "Working directory")
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(debugDir)
	if err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	cfg := *appConfig
	if cfg.Provider != nil {
		redacted := make(map[string]types.ProviderConfig, len(cfg.Provider))
		for id, pc := range cfg.Provider {
			pc.APIKey = ""
			redacted[id] = pc
		}
		cfg.Provider = redacted
	}

	// Output as JSON
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(debugDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()

	fmt.Println("CodeBuddy System Paths:")
	fmt.Println()
	fmt.Printf("  Config:  %s\n", paths.Config)
	fmt.Printf("  Data:    %s\n", paths.Data)
	fmt.Printf("  Cache:   %s\n", paths.Cache)
	fmt.Printf("  State:   %s\n", paths.State)
	fmt.Println()

	fmt.Println("Memory Paths:")
	fmt.Printf("  Global config:   %s\n", config.GlobalConfigPath())
	fmt.Printf("  Project config:  %s\n", config.ProjectConfigPath(workDir))
	fmt.Printf("  Project memory:  %s\n", filepath.Join(workDir, "MEMORY.md"))
	fmt.Printf("  Global memory:   %s\n", config.GlobalMemoryPath())
	fmt.Printf("  Result store:    %s\n", stub.SidecarDir(workDir))

	return nil
}
