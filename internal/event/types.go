package event

// TurnsCompressedData is the data for memory.compressed events, published
// when the budget pipeline reduced a turn list.
type TurnsCompressedData struct {
	ConversationID string `json:"conversationID,omitempty"`
	Strategy       string `json:"strategy"`
	TokensBefore   int    `json:"tokensBefore"`
	TokensAfter    int    `json:"tokensAfter"`
	TurnsBefore    int    `json:"turnsBefore"`
	TurnsAfter     int    `json:"turnsAfter"`
}

// EntriesCompressedData is the data for memory.entries.compressed events,
// published by the deduplicating compressor.
type EntriesCompressedData struct {
	TokensBefore      int `json:"tokensBefore"`
	TokensAfter       int `json:"tokensAfter"`
	DeduplicatedCount int `json:"deduplicatedCount"`
	MaskedCount       int `json:"maskedCount"`
	SummarizedCount   int `json:"summarizedCount"`
}

// FactsFlushedData is the data for memory.facts.flushed events.
type FactsFlushedData struct {
	FactsCount int    `json:"factsCount"`
	WrittenTo  string `json:"writtenTo"`
}

// StoreEvictedData is the data for memory.store.evicted events.
type StoreEvictedData struct {
	Removed        int   `json:"removed"`
	RemainingBytes int64 `json:"remainingBytes"`
}

// UsageWarningData is the data for memory.warning events.
type UsageWarningData struct {
	Threshold    int     `json:"threshold"`
	UsagePercent float64 `json:"usagePercent"`
	Message      string  `json:"message"`
}

// MemoryFileUpdatedData is the data for memory.file.updated events, published
// by the watcher when MEMORY.md changes on disk.
type MemoryFileUpdatedData struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}
