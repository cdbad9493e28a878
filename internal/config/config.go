package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// Default values applied by ApplyDefaults. The auto-compact default is
// derived from the effective limit and therefore lives in the budget
// package.
const (
	DefaultMaxContextTokens      = 100000
	DefaultResponseReserveTokens = 8192
	DefaultSafetyFactor          = 0.95
	DefaultRecentTurnsCount      = 10
	DefaultCompressionRatio      = 0.3
	DefaultMaskThresholdChars    = 2000
	DefaultMaxStubStoreEntries   = 500
	DefaultMaxStubStoreBytes     = 5 * 1024 * 1024
)

// DefaultWarningThresholds returns the usage percentages at which warnings
// fire, checked descending.
func DefaultWarningThresholds() []int {
	return []int{50, 75, 90}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.codebuddy/)
// 2. Global config (~/.config/codebuddy/ - XDG compatible)
// 3. Project config (.codebuddy/)
// 4. CODEBUDDY_CONFIG file
// 5. CODEBUDDY_CONFIG_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Home-relative global config (~/.codebuddy/)
	home := os.Getenv("HOME")
	if home != "" {
		homeConfigDir := filepath.Join(home, ".codebuddy")
		loadOnce(filepath.Join(homeConfigDir, "codebuddy.json"), homeConfigDir)
		loadOnce(filepath.Join(homeConfigDir, "codebuddy.jsonc"), homeConfigDir)
	}

	// 2. XDG-compatible global config (~/.config/codebuddy/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "codebuddy.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "codebuddy.jsonc"), globalPath)

	// 3. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".codebuddy")
		loadOnce(filepath.Join(directory, "codebuddy.json"), directory)
		loadOnce(filepath.Join(directory, "codebuddy.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "codebuddy.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "codebuddy.jsonc"), projectConfigDir)
	}

	// 4. CODEBUDDY_CONFIG file override
	if configPath := os.Getenv("CODEBUDDY_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 5. CODEBUDDY_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("CODEBUDDY_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 6. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.MaxContextTokens != 0 {
		target.MaxContextTokens = source.MaxContextTokens
	}
	if source.ResponseReserveTokens != 0 {
		target.ResponseReserveTokens = source.ResponseReserveTokens
	}
	if source.SafetyFactor != 0 {
		target.SafetyFactor = source.SafetyFactor
	}
	if source.RecentTurnsCount != 0 {
		target.RecentTurnsCount = source.RecentTurnsCount
	}
	if source.CompressionRatio != 0 {
		target.CompressionRatio = source.CompressionRatio
	}
	if source.AutoCompactTokens != 0 {
		target.AutoCompactTokens = source.AutoCompactTokens
	}
	if len(source.WarningThresholds) > 0 {
		target.WarningThresholds = append([]int(nil), source.WarningThresholds...)
	}
	if source.MaskThresholdChars != 0 {
		target.MaskThresholdChars = source.MaskThresholdChars
	}
	if source.MaxStubStoreEntries != 0 {
		target.MaxStubStoreEntries = source.MaxStubStoreEntries
	}
	if source.MaxStubStoreBytes != 0 {
		target.MaxStubStoreBytes = source.MaxStubStoreBytes
	}
	if len(source.StubIgnorePatterns) > 0 {
		target.StubIgnorePatterns = append(target.StubIgnorePatterns, source.StubIgnorePatterns...)
	}
	if source.Model != "" {
		target.Model = source.Model
	}

	// Merge providers
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// Model override
	if model := os.Getenv("CODEBUDDY_MODEL"); model != "" {
		config.Model = model
	}
}

// ApplyDefaults fills zero-valued fields with the package defaults.
func ApplyDefaults(config *types.Config) {
	if config.MaxContextTokens == 0 {
		config.MaxContextTokens = DefaultMaxContextTokens
	}
	if config.ResponseReserveTokens == 0 {
		config.ResponseReserveTokens = DefaultResponseReserveTokens
	}
	if config.SafetyFactor == 0 {
		config.SafetyFactor = DefaultSafetyFactor
	}
	if config.RecentTurnsCount == 0 {
		config.RecentTurnsCount = DefaultRecentTurnsCount
	}
	if config.CompressionRatio == 0 {
		config.CompressionRatio = DefaultCompressionRatio
	}
	if len(config.WarningThresholds) == 0 {
		config.WarningThresholds = DefaultWarningThresholds()
	}
	if config.MaskThresholdChars == 0 {
		config.MaskThresholdChars = DefaultMaskThresholdChars
	}
	if config.MaxStubStoreEntries == 0 {
		config.MaxStubStoreEntries = DefaultMaxStubStoreEntries
	}
	if config.MaxStubStoreBytes == 0 {
		config.MaxStubStoreBytes = DefaultMaxStubStoreBytes
	}
}

// Validate reports configuration values that cannot work.
func Validate(config *types.Config) error {
	if config.MaxContextTokens < 0 {
		return fmt.Errorf("maxContextTokens must be positive, got %d", config.MaxContextTokens)
	}
	if config.ResponseReserveTokens < 0 {
		return fmt.Errorf("responseReserveTokens must not be negative, got %d", config.ResponseReserveTokens)
	}
	if config.ResponseReserveTokens >= config.MaxContextTokens && config.MaxContextTokens > 0 {
		return fmt.Errorf("responseReserveTokens (%d) must be below maxContextTokens (%d)",
			config.ResponseReserveTokens, config.MaxContextTokens)
	}
	// SafetyFactor zero means unset; ApplyDefaults fills it in.
	if config.SafetyFactor != 0 && (config.SafetyFactor < 0 || config.SafetyFactor >= 1) {
		return fmt.Errorf("safetyFactor must be in (0, 1), got %g", config.SafetyFactor)
	}
	if config.CompressionRatio < 0 || config.CompressionRatio > 1 {
		return fmt.Errorf("compressionRatio must be in [0, 1], got %g", config.CompressionRatio)
	}
	for _, th := range config.WarningThresholds {
		if th <= 0 || th > 100 {
			return fmt.Errorf("warning threshold must be a percentage in (0, 100], got %d", th)
		}
	}
	if config.MaxStubStoreEntries < 0 {
		return fmt.Errorf("maxStubStoreEntries must not be negative, got %d", config.MaxStubStoreEntries)
	}
	if config.MaxStubStoreBytes < 0 {
		return fmt.Errorf("maxStubStoreBytes must not be negative, got %d", config.MaxStubStoreBytes)
	}
	return nil
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
