// Package compressor reduces a list of context entries to fit a token
// budget. It deduplicates near-identical tool results, masks oversized
// outputs with head/tail excerpts, and condenses old entries into an
// extractive summary when the first two phases are not enough.
package compressor

import (
	"fmt"
	"strings"
	"time"

	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/tokens"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// Config controls compression behavior.
type Config struct {
	// MaxTokens is the token budget for the entry list. Compress is a
	// pass-through while the list fits.
	MaxTokens int

	// LookbackWindow is how many following entries a tool result is
	// compared against when searching for near-duplicates.
	LookbackWindow int

	// SimilarityThreshold is the normalized Levenshtein similarity above
	// which two tool results count as duplicates.
	SimilarityThreshold float64

	// MaskThresholdChars is the content length above which a tool result
	// is replaced by an excerpt.
	MaskThresholdChars int

	// KeepRecentCount is how many trailing entries the summarization
	// phase always keeps verbatim.
	KeepRecentCount int
}

// DefaultConfig returns the default compression configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           8000,
		LookbackWindow:      5,
		SimilarityThreshold: 0.9,
		MaskThresholdChars:  2000,
		KeepRecentCount:     5,
	}
}

// Stats tracks running compression totals.
type Stats struct {
	Compressions int `json:"compressions"`
	TokensSaved  int `json:"tokensSaved"`
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithBus attaches an event bus for compression notifications.
func WithBus(bus *event.Bus) Option {
	return func(c *Compressor) {
		c.bus = bus
	}
}

// WithTextEstimator overrides the token estimate used for entries that
// carry no explicit count and for recomputing after masking.
func WithTextEstimator(fn func(text string) int) Option {
	return func(c *Compressor) {
		c.estimate = fn
	}
}

// Compressor compresses context entry lists. Construct with New; the zero
// value is not usable.
type Compressor struct {
	cfg      Config
	bus      *event.Bus
	estimate func(text string) int
	stats    Stats
}

// New creates a Compressor with the given configuration. Zero fields in cfg
// are filled from DefaultConfig.
func New(cfg Config, opts ...Option) *Compressor {
	defaults := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = defaults.LookbackWindow
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if cfg.MaskThresholdChars <= 0 {
		cfg.MaskThresholdChars = defaults.MaskThresholdChars
	}
	if cfg.KeepRecentCount <= 0 {
		cfg.KeepRecentCount = defaults.KeepRecentCount
	}

	c := &Compressor{
		cfg:      cfg,
		estimate: tokens.EstimateText,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress reduces entries until they fit the configured budget. The input
// slice is never modified; the result carries the (possibly new) entry list
// together with per-phase counts.
func (c *Compressor) Compress(entries []types.ContextEntry) types.CompressionResult {
	original := c.totalTokens(entries)
	result := types.CompressionResult{
		Entries:          entries,
		OriginalTokens:   original,
		CompressedTokens: original,
	}
	if original <= c.cfg.MaxTokens {
		return result
	}

	work := make([]types.ContextEntry, len(entries))
	copy(work, entries)

	work, result.DeduplicatedCount = c.deduplicate(work)
	work, result.MaskedCount = c.mask(work)
	if c.totalTokens(work) > c.cfg.MaxTokens {
		work, result.SummarizedCount = c.summarizeOld(work)
	}

	result.Entries = work
	result.CompressedTokens = c.totalTokens(work)
	result.Savings = original - result.CompressedTokens

	c.stats.Compressions++
	c.stats.TokensSaved += result.Savings

	logging.Debug().
		Int("tokensBefore", original).
		Int("tokensAfter", result.CompressedTokens).
		Int("deduplicated", result.DeduplicatedCount).
		Int("masked", result.MaskedCount).
		Int("summarized", result.SummarizedCount).
		Msg("compressed context entries")

	c.bus.Publish(event.Event{
		Type: event.EntriesCompressed,
		Data: event.EntriesCompressedData{
			TokensBefore:      original,
			TokensAfter:       result.CompressedTokens,
			DeduplicatedCount: result.DeduplicatedCount,
			MaskedCount:       result.MaskedCount,
			SummarizedCount:   result.SummarizedCount,
		},
	})

	return result
}

// GetStats returns the running compression totals.
func (c *Compressor) GetStats() Stats {
	return c.stats
}

// ResetStats clears the running totals.
func (c *Compressor) ResetStats() {
	c.stats = Stats{}
}

// deduplicate drops tool results that reappear nearly unchanged within the
// look-back window, keeping the most recent occurrence.
func (c *Compressor) deduplicate(entries []types.ContextEntry) ([]types.ContextEntry, int) {
	drop := make([]bool, len(entries))
	dropped := 0

	for i := 0; i < len(entries); i++ {
		if drop[i] || entries[i].Role != types.RoleTool || entries[i].Content == "" {
			continue
		}
		limit := i + c.cfg.LookbackWindow
		for j := i + 1; j <= limit && j < len(entries); j++ {
			if drop[j] || entries[j].Role != types.RoleTool {
				continue
			}
			if entries[j].ToolName != entries[i].ToolName {
				continue
			}
			if entries[i].Content == entries[j].Content {
				drop[i] = true
				dropped++
				break
			}
			// Very large outputs dedup only on exact equality.
			if len(entries[i].Content) > largeContentBytes || len(entries[j].Content) > largeContentBytes {
				continue
			}
			if similarity(entries[i].Content, entries[j].Content) >= c.cfg.SimilarityThreshold {
				drop[i] = true
				dropped++
				break
			}
		}
	}

	if dropped == 0 {
		return entries, 0
	}
	kept := make([]types.ContextEntry, 0, len(entries)-dropped)
	for i, e := range entries {
		if !drop[i] {
			kept = append(kept, e)
		}
	}
	return kept, dropped
}

// mask replaces oversized tool outputs with excerpts. Error results are
// left verbatim so failure detail is never lost.
func (c *Compressor) mask(entries []types.ContextEntry) ([]types.ContextEntry, int) {
	masked := 0
	for i := range entries {
		e := &entries[i]
		if e.Role != types.RoleTool || e.IsError {
			continue
		}
		if len(e.Content) <= c.cfg.MaskThresholdChars {
			continue
		}
		e.Content = c.CompressToolResult(e.Content, e.ToolName)
		e.Tokens = c.estimate(e.Content)
		masked++
	}
	return entries, masked
}

// summarizeOld condenses entries older than the keep-recent window into a
// single system entry of extractive bullets. Error and system entries are
// kept in place.
func (c *Compressor) summarizeOld(entries []types.ContextEntry) ([]types.ContextEntry, int) {
	if len(entries) <= c.cfg.KeepRecentCount {
		return entries, 0
	}
	cut := len(entries) - c.cfg.KeepRecentCount

	var keepOld []types.ContextEntry
	var bullets []string
	summarized := 0
	for _, e := range entries[:cut] {
		if e.IsError || e.Role == types.RoleSystem {
			keepOld = append(keepOld, e)
			continue
		}
		bullets = append(bullets, "- "+headline(e))
		summarized++
	}
	if summarized == 0 {
		return entries, 0
	}

	summary := fmt.Sprintf("Summary of %d earlier entries:\n%s", summarized, strings.Join(bullets, "\n"))
	summaryEntry := types.ContextEntry{
		Role:    types.RoleSystem,
		Content: summary,
		Tokens:  c.estimate(summary),
		Time:    time.Now(),
	}

	out := make([]types.ContextEntry, 0, len(keepOld)+1+c.cfg.KeepRecentCount)
	out = append(out, keepOld...)
	out = append(out, summaryEntry)
	out = append(out, entries[cut:]...)
	return out, summarized
}

// totalTokens sums entry token counts, estimating for entries that carry
// no explicit count.
func (c *Compressor) totalTokens(entries []types.ContextEntry) int {
	total := 0
	for _, e := range entries {
		total += c.entryTokens(e)
	}
	return total
}

func (c *Compressor) entryTokens(e types.ContextEntry) int {
	if e.Tokens > 0 {
		return e.Tokens
	}
	return c.estimate(e.Content)
}

// headline reduces an entry to a one-line bullet for the extractive summary.
func headline(e types.ContextEntry) string {
	line := e.Content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	if e.ToolName != "" {
		return fmt.Sprintf("[%s] %s", e.ToolName, line)
	}
	return fmt.Sprintf("[%s] %s", e.Role, line)
}
