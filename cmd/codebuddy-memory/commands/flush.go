package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/engine"
	"github.com/codebuddy-ai/codebuddy-memory/internal/provider"
)

var (
	flushDir   string
	flushModel string
	flushJSON  bool
)

var flushCmd = &cobra.Command{
	Use:   "flush <transcript.json>",
	Short: "Extract durable facts from a transcript into MEMORY.md",
	Long: `Extract durable facts from a transcript and record them in the
project MEMORY.md. Facts are distilled by the model named in the
configuration or --model, so a configured chat provider is required.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlush,
}

func init() {
	flushCmd.Flags().StringVar(&flushDir, "directory", "", "Working directory")
	flushCmd.Flags().StringVar(&flushModel, "model", "", "Model for fact extraction (provider/model)")
	flushCmd.Flags().BoolVar(&flushJSON, "json", false, "Output as JSON")
}

func runFlush(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(flushDir)
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
	if flushModel != "" {
		appConfig.Model = flushModel
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	chatFn, err := provider.FromConfig(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("flush needs a chat provider: %w", err)
	}

	eng := engine.New(appConfig, engine.WithWorkDir(workDir), engine.WithChatFunc(chatFn))
	defer eng.Close()

	result := eng.FlushNow(ctx, turns)

	if flushJSON {
		return printJSON(result)
	}

	switch {
	case result.Flushed && result.WrittenTo != "":
		fmt.Printf("flushed %d facts to %s\n", result.FactsCount, result.WrittenTo)
	case result.Flushed:
		fmt.Printf("extracted %d facts but no memory file was writable\n", result.FactsCount)
	case result.Suppressed:
		fmt.Println("nothing durable to record")
	default:
		fmt.Println("flush skipped")
	}
	return nil
}
