package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/engine"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

var (
	statsDir     string
	statsPrepare bool
	statsJSON    bool
)

var statsCmd = &cobra.Command{
	Use:   "stats <transcript.json>",
	Short: "Report token usage for a conversation transcript",
	Long: `Report token usage for a transcript, given as a JSON array of turns:

  [{"role": "user", "content": "..."}, {"role": "assistant", "content": "..."}]

With --prepare the transcript is also run through the compression
pipeline, reporting usage before and after.

Examples:
  codebuddy-memory stats session.json
  codebuddy-memory stats --prepare --json session.json`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDir, "directory", "", "Working directory")
	statsCmd.Flags().BoolVar(&statsPrepare, "prepare", false, "Run the compression pipeline and report before/after")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(statsDir)
	if err != nil {
		return err
	}

	turns, err := loadTranscript(args[0])
	if err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	eng := engine.New(appConfig, engine.WithWorkDir(workDir))
	defer eng.Close()

	before := eng.GetStats(turns)

	if !statsPrepare {
		if statsJSON {
			return printJSON(before)
		}
		printStats("Usage", before)
		return nil
	}

	prepared := eng.PrepareTurns(turns)
	after := eng.GetStats(prepared)

	if statsJSON {
		return printJSON(map[string]any{
			"before":  before,
			"after":   after,
			"metrics": eng.GetMemoryMetrics(),
		})
	}

	printStats("Before", before)
	fmt.Println()
	printStats("After", after)
	fmt.Println()
	fmt.Println(eng.FormatMemoryMetrics())
	return nil
}

func loadTranscript(path string) ([]types.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var turns []types.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	return turns, nil
}

func printStats(label string, stats types.MemoryStats) {
	fmt.Printf("%s:\n", label)
	fmt.Printf("  Turns:   %d\n", stats.TurnCount)
	fmt.Printf("  Tokens:  %d / %d (%.1f%%)\n", stats.TotalTokens, stats.MaxTokens, stats.UsagePercent)
	switch {
	case stats.IsCritical:
		fmt.Println("  Status:  critical")
	case stats.IsNearLimit:
		fmt.Println("  Status:  near limit")
	default:
		fmt.Println("  Status:  ok")
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
