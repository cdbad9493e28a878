package types

import "encoding/json"

// CompressionResult describes what the deduplicating compressor did to a
// batch of entries.
type CompressionResult struct {
	Entries           []ContextEntry `json:"entries"`
	OriginalTokens    int            `json:"originalTokens"`
	CompressedTokens  int            `json:"compressedTokens"`
	Savings           int            `json:"savings"`
	MaskedCount       int            `json:"maskedCount"`
	SummarizedCount   int            `json:"summarizedCount"`
	DeduplicatedCount int            `json:"deduplicatedCount"`
}

// StubResult is the outcome of replacing long messages with recoverable
// stubs.
type StubResult struct {
	Turns       []Turn   `json:"turns"`
	Identifiers []string `json:"identifiers"`
	TokensSaved int      `json:"tokensSaved"`
}

// RestoreResult is the outcome of looking up a stub identifier. A miss is an
// expected outcome, not an error: Content carries a recovery hint.
type RestoreResult struct {
	Found   bool   `json:"found"`
	Content string `json:"content"`
}

// WarningResult reports whether a usage warning should be surfaced.
type WarningResult struct {
	Warn      bool   `json:"warn"`
	Message   string `json:"message,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
}

// FlushResult is the outcome of a durable-fact flush.
type FlushResult struct {
	Flushed    bool   `json:"flushed"`
	Suppressed bool   `json:"suppressed"`
	FactsCount int    `json:"factsCount"`
	WrittenTo  string `json:"-"`
}

// MarshalJSON emits WrittenTo as null when no file was written, matching the
// path-or-null contract consumers expect.
func (r FlushResult) MarshalJSON() ([]byte, error) {
	type alias FlushResult
	out := struct {
		alias
		WrittenTo *string `json:"writtenTo"`
	}{alias: alias(r)}
	if r.WrittenTo != "" {
		out.WrittenTo = &r.WrittenTo
	}
	return json.Marshal(out)
}
