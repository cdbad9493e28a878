package types

// Config is the file-level configuration for the memory engine. All fields
// are optional; zero values are filled in by config.ApplyDefaults.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// Budget
	MaxContextTokens      int     `json:"maxContextTokens,omitempty"`
	ResponseReserveTokens int     `json:"responseReserveTokens,omitempty"`
	SafetyFactor          float64 `json:"safetyFactor,omitempty"`
	RecentTurnsCount      int     `json:"recentTurnsCount,omitempty"`
	CompressionRatio      float64 `json:"compressionRatio,omitempty"`
	AutoCompactTokens     int     `json:"autoCompactTokens,omitempty"`
	WarningThresholds     []int   `json:"warningThresholds,omitempty"`

	// Entry compression
	MaskThresholdChars int `json:"maskThresholdChars,omitempty"`

	// Stub store
	MaxStubStoreEntries int      `json:"maxStubStoreEntries,omitempty"`
	MaxStubStoreBytes   int64    `json:"maxStubStoreBytes,omitempty"`
	StubIgnorePatterns  []string `json:"stubIgnorePatterns,omitempty"`

	// Model used for the fact flusher, "provider/model" form.
	Model string `json:"model,omitempty"`

	// Provider holds per-provider credentials and overrides.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`
}

// ProviderConfig holds credentials and overrides for one model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
}
