// Package budget enforces the token window for a conversation. It tracks
// usage, raises threshold warnings, and when a turn list outgrows the
// effective limit runs an escalating pipeline of compression strategies
// until the list fits again.
package budget

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/tokens"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

const (
	// nearLimitPercent marks usage as high enough to start compressing.
	nearLimitPercent = 75

	// criticalPercent marks usage as close to overflowing the window.
	criticalPercent = 90

	// autoCompactFraction derives the auto-compact trigger from the
	// effective limit when the configuration does not set one.
	autoCompactFraction = 0.9
)

// DefaultMaxToolResultChars caps tool turn content during the truncation
// strategy.
const DefaultMaxToolResultChars = 1000

// Config controls budget enforcement.
type Config struct {
	// MaxContextTokens is the provider's context window size.
	MaxContextTokens int

	// ResponseReserveTokens is held back from the window for the model's
	// reply before the safety factor applies.
	ResponseReserveTokens int

	// SafetyFactor scales the remaining window down to absorb token
	// estimation error. Must be below 1.
	SafetyFactor float64

	// RecentTurnsCount is how many trailing turns the sliding-window and
	// summarization strategies keep verbatim.
	RecentTurnsCount int

	// CompressionRatio sizes the extractive summary relative to the turns
	// it replaces.
	CompressionRatio float64

	// AutoCompactTokens triggers the pipeline once total tokens reach it,
	// independent of the usage percentage. Zero derives it from the
	// effective limit.
	AutoCompactTokens int

	// WarningThresholds are usage percentages at which warnings fire,
	// each at most once until reset.
	WarningThresholds []int

	// MaxToolResultChars caps tool turn content during the truncation
	// strategy.
	MaxToolResultChars int
}

// DefaultConfig returns the default budget configuration. AutoCompactTokens
// stays zero here; New derives it from the effective limit when unset.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:      config.DefaultMaxContextTokens,
		ResponseReserveTokens: config.DefaultResponseReserveTokens,
		SafetyFactor:          config.DefaultSafetyFactor,
		RecentTurnsCount:      config.DefaultRecentTurnsCount,
		CompressionRatio:      config.DefaultCompressionRatio,
		WarningThresholds:     config.DefaultWarningThresholds(),
		MaxToolResultChars:    DefaultMaxToolResultChars,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithCounter sets the token counter consulted before falling back to the
// character estimate.
func WithCounter(fn types.TokenCounter) Option {
	return func(m *Manager) {
		m.counter = fn
	}
}

// WithBus attaches an event bus for compression and warning notifications.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithClock overrides the time source used for compression timestamps.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithConversationID tags published events with a conversation identifier.
func WithConversationID(id string) Option {
	return func(m *Manager) {
		m.convID = id
	}
}

// Manager tracks token usage for one conversation and compresses turn lists
// that outgrow the context window. A Manager is owned by a single
// conversation and is not safe for concurrent use. Construct with New; the
// zero value is not usable.
type Manager struct {
	cfg     Config
	limit   int
	counter types.TokenCounter
	bus     *event.Bus
	now     func() time.Time
	convID  string

	fired   map[int]bool
	metrics types.MemoryMetrics
}

// New creates a Manager with the given configuration. Zero fields in cfg are
// filled from DefaultConfig.
func New(cfg Config, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaults.MaxContextTokens
	}
	if cfg.ResponseReserveTokens <= 0 {
		cfg.ResponseReserveTokens = defaults.ResponseReserveTokens
	}
	if cfg.ResponseReserveTokens >= cfg.MaxContextTokens {
		// A reserve that swallows the whole window cannot work.
		cfg.ResponseReserveTokens = 0
	}
	if cfg.SafetyFactor <= 0 || cfg.SafetyFactor >= 1 {
		cfg.SafetyFactor = defaults.SafetyFactor
	}
	if cfg.RecentTurnsCount <= 0 {
		cfg.RecentTurnsCount = defaults.RecentTurnsCount
	}
	if cfg.CompressionRatio <= 0 || cfg.CompressionRatio > 1 {
		cfg.CompressionRatio = defaults.CompressionRatio
	}
	if cfg.MaxToolResultChars <= 0 {
		cfg.MaxToolResultChars = defaults.MaxToolResultChars
	}
	if len(cfg.WarningThresholds) == 0 {
		cfg.WarningThresholds = config.DefaultWarningThresholds()
	}

	// Thresholds are evaluated highest first.
	ths := append([]int(nil), cfg.WarningThresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(ths)))
	cfg.WarningThresholds = ths

	m := &Manager{
		cfg:   cfg,
		now:   time.Now,
		fired: make(map[int]bool),
	}
	m.limit = int(float64(cfg.MaxContextTokens-cfg.ResponseReserveTokens) * cfg.SafetyFactor)
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.AutoCompactTokens <= 0 {
		m.cfg.AutoCompactTokens = int(float64(m.limit) * autoCompactFraction)
	}
	return m
}

// EffectiveLimit returns the token budget compression targets: the context
// window minus the response reserve, scaled by the safety factor.
func (m *Manager) EffectiveLimit() int {
	return m.limit
}

// GetStats returns a point-in-time view of context usage for turns. The
// peak turn count metric is updated as a side effect.
func (m *Manager) GetStats(turns []types.Turn) types.MemoryStats {
	total := m.countTokens(turns)
	usage := float64(total) / float64(m.cfg.MaxContextTokens) * 100

	if len(turns) > m.metrics.PeakTurnCount {
		m.metrics.PeakTurnCount = len(turns)
	}

	return types.MemoryStats{
		TotalTokens:  total,
		MaxTokens:    m.cfg.MaxContextTokens,
		UsagePercent: usage,
		TurnCount:    len(turns),
		IsNearLimit:  usage > nearLimitPercent,
		IsCritical:   usage > criticalPercent,
	}
}

// ShouldAutoCompact reports whether turns have grown past the auto-compact
// trigger.
func (m *Manager) ShouldAutoCompact(turns []types.Turn) bool {
	return m.countTokens(turns) >= m.cfg.AutoCompactTokens
}

// ShouldWarn checks the warning thresholds highest first and fires the first
// one usage has reached that has not fired yet. Each threshold fires at most
// once until ResetWarnings.
func (m *Manager) ShouldWarn(turns []types.Turn) types.WarningResult {
	stats := m.GetStats(turns)
	for _, th := range m.cfg.WarningThresholds {
		if stats.UsagePercent < float64(th) || m.fired[th] {
			continue
		}
		m.fired[th] = true
		m.metrics.WarningsTriggered++

		msg := fmt.Sprintf("Context usage at %.0f%% (%s of %s tokens)",
			stats.UsagePercent,
			humanize.Comma(int64(stats.TotalTokens)),
			humanize.Comma(int64(stats.MaxTokens)))

		logging.Warn().
			Int("threshold", th).
			Float64("usagePercent", stats.UsagePercent).
			Msg("context usage warning")

		m.bus.Publish(event.Event{
			Type: event.UsageWarning,
			Data: event.UsageWarningData{
				Threshold:    th,
				UsagePercent: stats.UsagePercent,
				Message:      msg,
			},
		})

		return types.WarningResult{Warn: true, Message: msg, Threshold: th}
	}
	return types.WarningResult{}
}

// ResetWarnings allows every threshold to fire again.
func (m *Manager) ResetWarnings() {
	m.fired = make(map[int]bool)
}

// countTokens measures turns with the configured counter, falling back to
// the character estimate when the counter is absent or fails.
func (m *Manager) countTokens(turns []types.Turn) int {
	return tokens.CountTurns(turns, m.counter)
}
