package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codebuddy-ai/codebuddy-memory/internal/flush"
)

// MockLLMConfig defines the YAML configuration schema for MockLLM scenarios.
type MockLLMConfig struct {
	Settings  MockSettings   `yaml:"settings"`
	Defaults  MockDefaults   `yaml:"defaults"`
	Responses []ResponseRule `yaml:"responses"`
}

// MockSettings configures MockLLM server behavior.
type MockSettings struct {
	LagMS           int    `yaml:"lag_ms"`           // Artificial delay in milliseconds
	EnableStreaming bool   `yaml:"enable_streaming"` // Whether streaming requests are honored
	ChunkDelayMS    int    `yaml:"chunk_delay_ms"`   // Delay between streaming chunks
	ChunkMode       string `yaml:"chunk_mode"`       // word, char, or fixed
	ChunkSize       int    `yaml:"chunk_size"`       // Characters per chunk in char mode
	MaxChunks       int    `yaml:"max_chunks"`       // Cap on chunk count, 0 for unlimited
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	Fallback string `yaml:"fallback"` // Response when no rules match
}

// ResponseRule defines a prompt-to-response mapping.
type ResponseRule struct {
	Name     string      `yaml:"name"`     // Optional rule name for debugging
	Match    MatchConfig `yaml:"match"`    // How to match the prompt
	Response string      `yaml:"response"` // The response to return
	Priority int         `yaml:"priority"` // Higher priority rules are checked first
}

// MatchConfig defines how to match a prompt.
type MatchConfig struct {
	// Simple string matching (case-insensitive contains)
	Contains string `yaml:"contains"`

	// All strings must be present (case-insensitive)
	ContainsAll []string `yaml:"contains_all"`

	// Any string must be present (case-insensitive)
	ContainsAny []string `yaml:"contains_any"`

	// Exact match (case-insensitive)
	Exact string `yaml:"exact"`

	// Case-insensitive regex pattern
	Regex string `yaml:"regex"`
}

// DefaultMockLLMConfig returns rules for the archivist scenarios the memory
// engine actually produces. The engine's only model calls are fact
// extraction requests, so unmatched prompts fall back to the suppression
// sentinel.
func DefaultMockLLMConfig() *MockLLMConfig {
	return &MockLLMConfig{
		Settings: MockSettings{
			LagMS:           0,
			EnableStreaming: true,
			ChunkDelayMS:    5,
			ChunkMode:       "word",
		},
		Defaults: MockDefaults{
			Fallback: flush.Sentinel,
		},
		Responses: []ResponseRule{
			{
				Name:     "indentation-preference",
				Match:    MatchConfig{Contains: "prefer tabs"},
				Response: "- User prefers tabs for indentation",
				Priority: 10,
			},
			{
				Name:     "testing-convention",
				Match:    MatchConfig{Contains: "table-driven"},
				Response: "- The project uses table-driven tests",
				Priority: 10,
			},
			{
				Name:     "storage-decision",
				Match:    MatchConfig{ContainsAll: []string{"postgres", "sessions"}},
				Response: "- Session data lives in Postgres, not Redis",
				Priority: 10,
			},
			{
				Name:     "error-convention",
				Match:    MatchConfig{Regex: `errors? (are|as) RFC ?7807`},
				Response: "- HTTP errors follow RFC 7807 problem details",
				Priority: 5,
			},
			{
				Name:     "greeting",
				Match:    MatchConfig{Contains: "hello"},
				Response: "Hello! How can I help you today?",
				Priority: 1,
			},
		},
	}
}

// LoadMockLLMConfig loads configuration from a YAML file.
func LoadMockLLMConfig(path string) (*MockLLMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config MockLLMConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadMockLLMConfigFromDir looks for mockllm.yaml in the given directory.
func LoadMockLLMConfigFromDir(dir string) (*MockLLMConfig, error) {
	path := filepath.Join(dir, "mockllm.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Try mockllm.yml as alternative
		path = filepath.Join(dir, "mockllm.yml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, err
		}
	}
	return LoadMockLLMConfig(path)
}

// SaveMockLLMConfig saves configuration to a YAML file.
func SaveMockLLMConfig(config *MockLLMConfig, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Matches checks if the prompt matches this rule.
func (m *MatchConfig) Matches(prompt string) bool {
	promptLower := strings.ToLower(prompt)

	// Exact match
	if m.Exact != "" {
		return strings.EqualFold(prompt, m.Exact)
	}

	// Contains single string
	if m.Contains != "" {
		return strings.Contains(promptLower, strings.ToLower(m.Contains))
	}

	// Contains all strings
	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(promptLower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	}

	// Contains any string
	if len(m.ContainsAny) > 0 {
		for _, s := range m.ContainsAny {
			if strings.Contains(promptLower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}

	// Regex matching
	if m.Regex != "" {
		re, err := regexp.Compile("(?i)" + m.Regex)
		if err != nil {
			return false
		}
		return re.MatchString(prompt)
	}

	return false
}

// FindMatchingResponse finds the highest-priority matching response rule for
// a prompt. The second return reports whether a rule matched; the fallback
// is returned otherwise.
func (c *MockLLMConfig) FindMatchingResponse(prompt string) (string, bool) {
	var bestMatch *ResponseRule
	bestPriority := -1

	for i := range c.Responses {
		rule := &c.Responses[i]
		if rule.Match.Matches(prompt) {
			if rule.Priority > bestPriority {
				bestMatch = rule
				bestPriority = rule.Priority
			}
		}
	}

	if bestMatch != nil {
		return bestMatch.Response, true
	}

	return c.Defaults.Fallback, false
}
