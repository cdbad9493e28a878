package types

import "time"

// MemoryStats is a point-in-time view of context window usage.
type MemoryStats struct {
	TotalTokens  int     `json:"totalTokens"`
	MaxTokens    int     `json:"maxTokens"`
	UsagePercent float64 `json:"usagePercent"`
	TurnCount    int     `json:"turnCount"`
	IsNearLimit  bool    `json:"isNearLimit"`
	IsCritical   bool    `json:"isCritical"`
}

// MemoryMetrics accumulates counters across the life of a conversation.
// Transient counters (peak count, warnings) reset on ForceCleanup; the
// savings counters survive until the engine is discarded.
type MemoryMetrics struct {
	SummaryCount          int       `json:"summaryCount"`
	SummaryTokens         int       `json:"summaryTokens"`
	PeakTurnCount         int       `json:"peakTurnCount"`
	CompressionCount      int       `json:"compressionCount"`
	TotalTokensSaved      int       `json:"totalTokensSaved"`
	LastCompressionTime   time.Time `json:"lastCompressionTime"`
	WarningsTriggered     int       `json:"warningsTriggered"`
	ResidualOverageTokens int       `json:"residualOverageTokens"`
}
