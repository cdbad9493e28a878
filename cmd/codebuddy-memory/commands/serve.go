package commands

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/engine"
	"github.com/codebuddy-ai/codebuddy-memory/internal/provider"
	"github.com/codebuddy-ai/codebuddy-memory/internal/server"
	"github.com/codebuddy-ai/codebuddy-memory/internal/watcher"
)

var (
	servePort  int
	serveDir   string
	serveModel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memory debug server",
	Long: `Start an HTTP server exposing the memory engine state: stats,
metrics, the stub store, and a live event stream.

This is useful for watching what the engine does to a conversation while
a client drives it, or for wiring dashboards against the /event stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "Model for summarization and fact extraction (provider/model)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	log.Printf("Starting CodeBuddy memory server v%s", Version)
	log.Printf("Working directory: %s", workDir)

	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if serveModel != "" {
		appConfig.Model = serveModel
	}

	// Build the chat callback. Without credentials the engine still runs;
	// summarization falls back to extractive mode and flushes are skipped.
	opts := []engine.Option{engine.WithWorkDir(workDir)}
	chatFn, err := provider.FromConfig(context.Background(), appConfig)
	if err != nil {
		log.Printf("Warning: no chat provider available: %v", err)
	} else {
		opts = append(opts, engine.WithChatFunc(chatFn))
	}

	// Create engine
	eng := engine.New(appConfig, opts...)
	defer eng.Close()

	// Watch MEMORY.md for edits made outside the engine
	memWatcher, err := watcher.NewWatcher(workDir, eng.Bus())
	if err != nil {
		log.Printf("Warning: MEMORY.md watcher unavailable: %v", err)
	} else {
		memWatcher.Start()
		defer memWatcher.Stop()
	}

	// Configure server
	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort

	// Create server
	srv := server.New(serverConfig, eng)

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", servePort)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	return nil
}
