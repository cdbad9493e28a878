// Package memory provides an MCP server over a working directory's memory
// store. It lets an agent restore stubbed content (tool result sidecars,
// file paths with optional line ranges) and inspect how much restorable
// material the directory holds, without a running conversation engine.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codebuddy-ai/codebuddy-memory/internal/stub"
)

// NewServer creates a new MCP server with memory tools anchored at workDir.
func NewServer(workDir string) *server.MCPServer {
	s := server.NewMCPServer(
		"codebuddy-memory",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	h := &handlers{
		workDir: workDir,
		stubs:   stub.New(stub.Config{WorkDir: workDir}),
	}

	restoreTool := mcp.NewTool("memory_restore",
		mcp.WithDescription("Restores the full content behind a stub identifier: a file path (optionally with a :start-end line range), a tool call ID, or a URL"),
		mcp.WithString("identifier",
			mcp.Required(),
			mcp.Description("Identifier to restore, e.g. internal/server/router.go:10-42 or toolu_01AB23CD"),
		),
	)
	s.AddTool(restoreTool, h.restore)

	identifiersTool := mcp.NewTool("memory_identifiers",
		mcp.WithDescription("Lists the tool result identifiers persisted under the working directory"),
	)
	s.AddTool(identifiersTool, h.identifiers)

	metricsTool := mcp.NewTool("memory_metrics",
		mcp.WithDescription("Reports how much restorable content the working directory holds"),
	)
	s.AddTool(metricsTool, h.metrics)

	return s
}

// handlers serve the memory tools. The stub store starts empty in a
// standalone server; restores are satisfied by the sidecar directory and
// direct file reads.
type handlers struct {
	workDir string
	stubs   *stub.Compressor
}

// restore handles the memory_restore tool call.
func (h *handlers) restore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	identifier, ok := args["identifier"].(string)
	if !ok || strings.TrimSpace(identifier) == "" {
		return mcp.NewToolResultError("identifier argument is required"), nil
	}

	result := h.stubs.Restore(identifier)
	if !result.Found {
		// The miss content is a recovery hint, not a failure message.
		return mcp.NewToolResultError(result.Content), nil
	}
	return mcp.NewToolResultText(result.Content), nil
}

// identifiers handles the memory_identifiers tool call.
func (h *handlers) identifiers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, _, err := h.scanSidecars()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan tool results: %v", err)), nil
	}
	if ids == nil {
		ids = []string{}
	}

	payload, err := json.Marshal(map[string]any{
		"identifiers": ids,
		"count":       len(ids),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// metrics handles the memory_metrics tool call.
func (h *handlers) metrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, sidecarBytes, err := h.scanSidecars()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan tool results: %v", err)), nil
	}

	var memoryFileBytes int64
	if info, err := os.Stat(filepath.Join(h.workDir, "MEMORY.md")); err == nil {
		memoryFileBytes = info.Size()
	}

	payload, err := json.Marshal(map[string]any{
		"workDir":         h.workDir,
		"toolResults":     len(ids),
		"toolResultBytes": sidecarBytes,
		"memoryFileBytes": memoryFileBytes,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// scanSidecars lists persisted tool results under workDir and their total
// size. A missing sidecar directory is an empty store, not an error.
func (h *handlers) scanSidecars() ([]string, int64, error) {
	entries, err := os.ReadDir(stub.SidecarDir(h.workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	var ids []string
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".txt"))
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return ids, total, nil
}
