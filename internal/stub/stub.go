// Package stub implements reversible content compression. Long messages are
// replaced by short stubs listing recoverable identifiers (file paths, URLs,
// tool-call IDs); the full text stays in an insertion-ordered store with a
// byte ceiling, optionally mirrored to disk, so Restore can bring it back.
package stub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/tokens"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

const (
	// maxStubIdentifiers is how many identifiers a stub lists before
	// collapsing the rest into a "+N more" line.
	maxStubIdentifiers = 5
)

// Config controls stub compression and the identifier store.
type Config struct {
	// MinStubLength is the content length below which messages pass
	// through unchanged.
	MinStubLength int

	// MaxStoreEntries caps the number of resident identifiers; exceeding
	// it evicts oldest entries.
	MaxStoreEntries int

	// MaxStoreBytes caps resident content bytes; exceeding it evicts
	// oldest entries.
	MaxStoreBytes int64

	// IgnorePatterns are doublestar globs for file paths that must not
	// become identifiers.
	IgnorePatterns []string

	// WorkDir anchors relative file reads and the tool-result sidecar
	// directory.
	WorkDir string
}

// DefaultConfig returns the default stub configuration.
func DefaultConfig() Config {
	return Config{
		MinStubLength:   200,
		MaxStoreEntries: 500,
		MaxStoreBytes:   5 << 20,
		WorkDir:         ".",
	}
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithBus attaches an event bus for eviction notifications.
func WithBus(bus *event.Bus) Option {
	return func(c *Compressor) {
		c.bus = bus
	}
}

// Compressor replaces long content with recoverable stubs. Construct with
// New; the zero value is not usable.
type Compressor struct {
	cfg   Config
	bus   *event.Bus
	store *orderedmap.OrderedMap[string, string]
	bytes int64
}

// New creates a stub Compressor. Zero fields in cfg are filled from
// DefaultConfig.
func New(cfg Config, opts ...Option) *Compressor {
	defaults := DefaultConfig()
	if cfg.MinStubLength <= 0 {
		cfg.MinStubLength = defaults.MinStubLength
	}
	if cfg.MaxStoreEntries <= 0 {
		cfg.MaxStoreEntries = defaults.MaxStoreEntries
	}
	if cfg.MaxStoreBytes <= 0 {
		cfg.MaxStoreBytes = defaults.MaxStoreBytes
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaults.WorkDir
	}

	c := &Compressor{
		cfg:   cfg,
		store: orderedmap.New[string, string](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress replaces long turn contents with identifier stubs. Turns without
// extractable identifiers pass through unchanged so nothing becomes
// unrecoverable. The input slice is never modified.
func (c *Compressor) Compress(turns []types.Turn) types.StubResult {
	out := make([]types.Turn, len(turns))
	copy(out, turns)

	var identifiers []string
	seen := make(map[string]bool)
	saved := 0

	for i := range out {
		turn := &out[i]
		if turn.Role == types.RoleSystem || len(turn.Content) < c.cfg.MinStubLength {
			continue
		}
		ids := c.Extract(turn.Content)
		if len(ids) == 0 {
			continue
		}

		stubText := buildStub(ids)
		gain := tokens.EstimateText(turn.Content) - tokens.EstimateText(stubText)
		if gain <= 0 {
			continue
		}

		for _, id := range ids {
			c.put(id, turn.Content)
			if !seen[id] {
				seen[id] = true
				identifiers = append(identifiers, id)
			}
		}
		turn.Content = stubText
		saved += gain
	}

	return types.StubResult{Turns: out, Identifiers: identifiers, TokensSaved: saved}
}

// Extract returns the identifiers found in content, in discovery order,
// deduplicated, with ignored paths filtered out.
func (c *Compressor) Extract(content string) []string {
	var ids []string
	for _, p := range MatchFilePaths(content) {
		if c.ignored(p) {
			continue
		}
		ids = append(ids, p)
	}
	ids = append(ids, MatchURLs(content)...)
	ids = append(ids, MatchToolCallIDs(content)...)
	return dedupOrdered(ids)
}

// Restore recovers content for an identifier. Resolution order: the store
// under the raw identifier, the store under the range-stripped identifier,
// the tool-result sidecar for tool-call IDs, a direct filesystem read for
// file paths, then a labeled miss. Restore never returns an error.
func (c *Compressor) Restore(identifier string) types.RestoreResult {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return types.RestoreResult{Found: false, Content: "No identifier given."}
	}

	if content, ok := c.store.Get(id); ok {
		return types.RestoreResult{Found: true, Content: content}
	}

	base, start, end, hadRange := SplitRange(id)
	if hadRange {
		if content, ok := c.store.Get(base); ok {
			return types.RestoreResult{Found: true, Content: content}
		}
	}

	if IsToolCallID(base) {
		if data, err := os.ReadFile(c.sidecarPath(base)); err == nil {
			return types.RestoreResult{Found: true, Content: string(data)}
		}
		return types.RestoreResult{
			Found:   false,
			Content: fmt.Sprintf("Tool result %s is no longer stored. Re-run the tool to regenerate it.", base),
		}
	}

	if IsFilePath(base) {
		path := base
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.cfg.WorkDir, path)
		}
		if data, err := os.ReadFile(path); err == nil {
			content := string(data)
			if hadRange {
				content = SliceLines(content, start, end)
			}
			return types.RestoreResult{Found: true, Content: content}
		}
		return types.RestoreResult{
			Found:   false,
			Content: fmt.Sprintf("File %s is not stored and could not be read from disk.", base),
		}
	}

	if IsURL(base) {
		return types.RestoreResult{
			Found:   false,
			Content: fmt.Sprintf("Content for %s was evicted. Fetch the URL again to recover it.", base),
		}
	}

	return types.RestoreResult{
		Found:   false,
		Content: fmt.Sprintf("No stored content for identifier %q.", id),
	}
}

// Evict removes oldest entries until resident bytes are at or below
// maxBytes. Returns the number of entries removed.
func (c *Compressor) Evict(maxBytes int64) int {
	return c.evict(maxBytes)
}

// ListIdentifiers returns all resident identifiers in insertion order.
func (c *Compressor) ListIdentifiers() []string {
	ids := make([]string, 0, c.store.Len())
	for pair := c.store.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// StoreSize returns the resident content bytes.
func (c *Compressor) StoreSize() int64 {
	return c.bytes
}

// Len returns the number of resident identifiers.
func (c *Compressor) Len() int {
	return c.store.Len()
}

// Clear drops all resident entries. Disk sidecar files are kept so
// tool-call IDs stay recoverable.
func (c *Compressor) Clear() {
	c.store = orderedmap.New[string, string]()
	c.bytes = 0
}

// put stores content under id, keeping the original insertion position on
// refresh, and enforces the entry and byte ceilings.
func (c *Compressor) put(id, content string) {
	if prev, ok := c.store.Get(id); ok {
		c.bytes -= int64(len(prev))
	}
	c.store.Set(id, content)
	c.bytes += int64(len(content))

	removed := 0
	for c.store.Len() > c.cfg.MaxStoreEntries {
		removed += c.removeOldest()
	}
	if c.bytes > c.cfg.MaxStoreBytes {
		removed += c.dropOldestUntil(c.cfg.MaxStoreBytes)
	}
	if removed > 0 {
		c.notifyEvicted(removed)
	}
}

func (c *Compressor) evict(maxBytes int64) int {
	removed := c.dropOldestUntil(maxBytes)
	if removed > 0 {
		c.notifyEvicted(removed)
	}
	return removed
}

func (c *Compressor) dropOldestUntil(maxBytes int64) int {
	removed := 0
	for c.bytes > maxBytes && c.store.Len() > 0 {
		removed += c.removeOldest()
	}
	return removed
}

func (c *Compressor) removeOldest() int {
	oldest := c.store.Oldest()
	if oldest == nil {
		return 0
	}
	c.store.Delete(oldest.Key)
	c.bytes -= int64(len(oldest.Value))
	return 1
}

func (c *Compressor) notifyEvicted(removed int) {
	logging.Debug().
		Int("removed", removed).
		Int64("remainingBytes", c.bytes).
		Msg("evicted stub store entries")

	c.bus.Publish(event.Event{
		Type: event.StoreEvicted,
		Data: event.StoreEvictedData{Removed: removed, RemainingBytes: c.bytes},
	})
}

func (c *Compressor) ignored(path string) bool {
	base, _, _, _ := SplitRange(path)
	for _, pattern := range c.cfg.IgnorePatterns {
		if matched, _ := doublestar.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// buildStub renders the replacement content: the identifier list capped at
// maxStubIdentifiers plus a recovery instruction.
func buildStub(ids []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[Compressed: %d identifier(s)]\n", len(ids)))

	shown := ids
	if len(shown) > maxStubIdentifiers {
		shown = shown[:maxStubIdentifiers]
	}
	for _, id := range shown {
		sb.WriteString("  " + id + "\n")
	}
	if extra := len(ids) - maxStubIdentifiers; extra > 0 {
		sb.WriteString(fmt.Sprintf("  +%d more\n", extra))
	}
	sb.WriteString("Restore an identifier to recover the full content.")
	return sb.String()
}
