package stub

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/storage"
)

// SidecarDir returns the directory where tool results are mirrored on
// disk, relative to the working directory.
func SidecarDir(workDir string) string {
	return filepath.Join(workDir, ".codebuddy", "tool-results")
}

func (c *Compressor) sidecarPath(id string) string {
	return filepath.Join(SidecarDir(c.cfg.WorkDir), id+".txt")
}

// WriteToolResult stores a tool result in memory and mirrors it to
// <workDir>/.codebuddy/tool-results/<id>.txt. The in-memory store is updated
// first so the content stays restorable even when the disk write fails;
// disk failures are logged and returned, never panicked.
func (c *Compressor) WriteToolResult(id, content, workDir string) error {
	if id == "" {
		return fmt.Errorf("empty tool result id")
	}
	if workDir != "" {
		c.cfg.WorkDir = workDir
	}

	c.put(id, content)

	// IDs with separators would escape the sidecar directory.
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("tool result id %q is not persistable", id)
	}

	if err := storage.WriteFileAtomic(c.sidecarPath(id), []byte(content), 0644); err != nil {
		logging.Warn().Err(err).Str("id", id).Msg("failed to persist tool result")
		return fmt.Errorf("persist tool result %s: %w", id, err)
	}
	return nil
}
