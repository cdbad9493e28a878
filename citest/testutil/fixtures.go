package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// TempFile creates a temporary file with content
type TempFile struct {
	Path string
}

// NewTempFile creates a temp file with content
func NewTempFile(content string) (*TempFile, error) {
	dir := os.TempDir()
	name := fmt.Sprintf("codebuddy-test-%s.txt", RandomString(8))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, err
	}

	return &TempFile{Path: path}, nil
}

// Read reads the file content
func (f *TempFile) Read() (string, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Exists checks if the file exists
func (f *TempFile) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Cleanup removes the temp file
func (f *TempFile) Cleanup() {
	os.Remove(f.Path)
}

// TempDir creates a temporary directory
type TempDir struct {
	Path string
}

// NewTempDir creates a temp directory
func NewTempDir() (*TempDir, error) {
	path, err := os.MkdirTemp("", "codebuddy-test-*")
	if err != nil {
		return nil, err
	}
	return &TempDir{Path: path}, nil
}

// CreateFile creates a file in the temp directory
func (d *TempDir) CreateFile(name, content string) (*TempFile, error) {
	path := filepath.Join(d.Path, name)

	// Create parent directories if needed
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, err
	}

	return &TempFile{Path: path}, nil
}

// ReadFile reads a file from the temp directory
func (d *TempDir) ReadFile(name string) (string, error) {
	content, err := os.ReadFile(filepath.Join(d.Path, name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Cleanup removes the temp directory and all contents
func (d *TempDir) Cleanup() {
	os.RemoveAll(d.Path)
}

// ---- Transcript Builders ----

// Conversation builds n alternating user/assistant turns of modest size.
func Conversation(n int) []types.Turn {
	turns := make([]types.Turn, 0, n)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("turn %02d: %s", i, strings.Repeat("words ", 12))
		if i%2 == 0 {
			turns = append(turns, types.NewUserTurn(text))
		} else {
			turns = append(turns, types.NewAssistantTurn(text))
		}
	}
	return turns
}

// LongConversation builds a system turn plus n long alternating turns, each
// estimating at roughly fifty tokens. Pair it with a small context limit to
// force compression.
func LongConversation(n int) []types.Turn {
	turns := make([]types.Turn, 0, n+1)
	turns = append(turns, types.NewSystemTurn("Answer precisely and keep context."))
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("%02d %s", i, strings.Repeat("words ", 33))
		if i%2 == 0 {
			turns = append(turns, types.NewUserTurn(text))
		} else {
			turns = append(turns, types.NewAssistantTurn(text))
		}
	}
	return turns
}

// ToolConversation builds an exchange where the assistant runs a tool and a
// large result comes back under callID.
func ToolConversation(callID string, resultSize int) []types.Turn {
	var result strings.Builder
	for i := 0; result.Len() < resultSize; i++ {
		fmt.Fprintf(&result, "line %04d of captured tool output\n", i)
	}

	caller := types.NewAssistantTurn("Running the suite now.")
	caller.ToolCalls = []types.ToolCall{{ID: callID, Name: "bash"}}

	return []types.Turn{
		types.NewUserTurn("Run the full test suite and report failures."),
		caller,
		types.NewToolTurn(callID, "bash", result.String(), false),
		types.NewAssistantTurn("The suite passed with no failures."),
	}
}

// FactConversation builds an exchange that carries a durable fact the
// default MockLLM archivist rules recognize.
func FactConversation() []types.Turn {
	return []types.Turn{
		types.NewUserTurn("Quick style note before we continue."),
		types.NewAssistantTurn("Sure, go ahead."),
		types.NewUserTurn("I prefer tabs over spaces in this repo, please keep it that way."),
		types.NewAssistantTurn("Understood, tabs it is."),
	}
}

// ---- Environment Helpers ----

// RequireEnv checks if required env vars are set
func RequireEnv(vars ...string) error {
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// SkipIfMissingEnv returns true if any env var is missing
func SkipIfMissingEnv(vars ...string) bool {
	return RequireEnv(vars...) != nil
}
