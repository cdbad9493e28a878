// Package engine composes the memory components that serve one
// conversation: the token budget manager, the deduplicating compressor, the
// reversible stub compressor, and the durable fact flusher, all sharing one
// event bus. Callers own the Engine lifecycle; there is no package-level
// instance.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/codebuddy-ai/codebuddy-memory/internal/budget"
	"github.com/codebuddy-ai/codebuddy-memory/internal/compressor"
	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/flush"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/stub"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// Option configures an Engine.
type Option func(*Engine)

// WithWorkDir sets the working directory used for stub sidecars and the
// project memory file. Defaults to the current directory.
func WithWorkDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.workDir = dir
		}
	}
}

// WithChatFunc sets the model callback used by FlushNow.
func WithChatFunc(fn types.ChatFunc) Option {
	return func(e *Engine) {
		e.chatFn = fn
	}
}

// WithCounter sets the token counter passed to the budget manager.
func WithCounter(fn types.TokenCounter) Option {
	return func(e *Engine) {
		e.counter = fn
	}
}

// WithBus shares an existing event bus instead of creating one. A shared
// bus is left open by Close.
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// WithConversationID overrides the generated conversation identifier.
func WithConversationID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.convID = id
		}
	}
}

// Engine owns one conversation's memory. The components underneath are
// single-threaded by design; the Engine serializes access with a mutex so
// observers such as the debug server can inspect a live conversation.
type Engine struct {
	mu sync.Mutex

	cfg     *types.Config
	workDir string
	convID  string
	ownBus  bool

	bus        *event.Bus
	budget     *budget.Manager
	compressor *compressor.Compressor
	stubs      *stub.Compressor
	flusher    *flush.Flusher

	chatFn  types.ChatFunc
	counter types.TokenCounter

	lastStats types.MemoryStats
}

// New creates an Engine from the given configuration. A nil cfg uses the
// defaults. The caller is responsible for Close.
func New(cfg *types.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = &types.Config{}
	}
	appCfg := *cfg
	config.ApplyDefaults(&appCfg)

	e := &Engine{
		cfg:     &appCfg,
		workDir: ".",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewBus()
		e.ownBus = true
	}
	if e.convID == "" {
		e.convID = fmt.Sprintf("conv_%s", ulid.Make().String())
	}

	e.budget = budget.New(budget.Config{
		MaxContextTokens:      appCfg.MaxContextTokens,
		ResponseReserveTokens: appCfg.ResponseReserveTokens,
		SafetyFactor:          appCfg.SafetyFactor,
		RecentTurnsCount:      appCfg.RecentTurnsCount,
		CompressionRatio:      appCfg.CompressionRatio,
		AutoCompactTokens:     appCfg.AutoCompactTokens,
		WarningThresholds:     appCfg.WarningThresholds,
	},
		budget.WithBus(e.bus),
		budget.WithCounter(e.counter),
		budget.WithConversationID(e.convID),
	)

	// Entries share the conversation's window, so the entry compressor
	// targets the same effective limit.
	e.compressor = compressor.New(compressor.Config{
		MaxTokens:          e.budget.EffectiveLimit(),
		MaskThresholdChars: appCfg.MaskThresholdChars,
	}, compressor.WithBus(e.bus))

	e.stubs = stub.New(stub.Config{
		MaxStoreEntries: appCfg.MaxStubStoreEntries,
		MaxStoreBytes:   appCfg.MaxStubStoreBytes,
		IgnorePatterns:  appCfg.StubIgnorePatterns,
		WorkDir:         e.workDir,
	}, stub.WithBus(e.bus))

	e.flusher = flush.New(flush.Config{}, flush.WithBus(e.bus))

	logging.Debug().
		Str("conversationID", e.convID).
		Str("workDir", e.workDir).
		Msg("memory engine created")

	return e
}

// ConversationID returns the identifier attached to published events.
func (e *Engine) ConversationID() string {
	return e.convID
}

// WorkDir returns the engine's working directory.
func (e *Engine) WorkDir() string {
	return e.workDir
}

// Config returns the resolved configuration.
func (e *Engine) Config() *types.Config {
	return e.cfg
}

// Bus returns the event bus for subscribing to memory events.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// EffectiveLimit returns the token budget the compression pipeline targets.
func (e *Engine) EffectiveLimit() int {
	return e.budget.EffectiveLimit()
}

// GetStats returns current context usage for turns.
func (e *Engine) GetStats(turns []types.Turn) types.MemoryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.budget.GetStats(turns)
	e.lastStats = stats
	return stats
}

// LastStats returns the most recent usage snapshot, for observers that have
// no access to the live turn list.
func (e *Engine) LastStats() types.MemoryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStats
}

// PrepareTurns bounds turns to the effective limit.
func (e *Engine) PrepareTurns(turns []types.Turn) []types.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.budget.PrepareTurns(turns)
	e.lastStats = e.budget.GetStats(out)
	return out
}

// ShouldWarn checks the usage warning thresholds.
func (e *Engine) ShouldWarn(turns []types.Turn) types.WarningResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget.ShouldWarn(turns)
}

// ResetWarnings re-arms every warning threshold.
func (e *Engine) ResetWarnings() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.ResetWarnings()
}

// ShouldAutoCompact reports whether turns have crossed the auto-compact
// trigger.
func (e *Engine) ShouldAutoCompact(turns []types.Turn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget.ShouldAutoCompact(turns)
}

// ForceCleanup resets the transient budget counters.
func (e *Engine) ForceCleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget.ForceCleanup()
}

// GetMemoryMetrics returns the accumulated budget counters.
func (e *Engine) GetMemoryMetrics() types.MemoryMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget.GetMemoryMetrics()
}

// FormatMemoryMetrics renders the counters for humans.
func (e *Engine) FormatMemoryMetrics() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget.FormatMemoryMetrics()
}

// CompressEntries reduces a context entry list with the deduplicating
// compressor.
func (e *Engine) CompressEntries(entries []types.ContextEntry) types.CompressionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compressor.Compress(entries)
}

// CompressTurns replaces long turn contents with recoverable stubs.
func (e *Engine) CompressTurns(turns []types.Turn) types.StubResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.Compress(turns)
}

// Restore looks up a stub identifier.
func (e *Engine) Restore(identifier string) types.RestoreResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.Restore(identifier)
}

// WriteToolResult persists a tool result to the store and its disk sidecar.
func (e *Engine) WriteToolResult(id, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.WriteToolResult(id, content, e.workDir)
}

// ListIdentifiers returns stored stub identifiers in insertion order.
func (e *Engine) ListIdentifiers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.ListIdentifiers()
}

// StoreSize returns the total bytes held by the stub store.
func (e *Engine) StoreSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.StoreSize()
}

// Evict removes oldest stub entries until the store fits maxBytes.
func (e *Engine) Evict(maxBytes int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stubs.Evict(maxBytes)
}

// FlushNow extracts durable facts from turns through the configured chat
// callback. It deliberately runs without the engine mutex: the flusher works
// on the snapshot it builds and must not block turn processing while the
// model call is in flight.
func (e *Engine) FlushNow(ctx context.Context, turns []types.Turn) types.FlushResult {
	return e.flusher.Flush(ctx, turns, e.chatFn, e.workDir)
}

// Close releases engine resources. A bus supplied by the caller stays open.
func (e *Engine) Close() error {
	if e.ownBus {
		return e.bus.Close()
	}
	return nil
}
