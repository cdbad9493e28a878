package budget

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// GetMemoryMetrics returns a copy of the accumulated counters.
func (m *Manager) GetMemoryMetrics() types.MemoryMetrics {
	return m.metrics
}

// ForceCleanup resets the transient counters: peak turn count, warning
// bookkeeping, and residual overage. Savings totals and anything persisted
// to disk are untouched.
func (m *Manager) ForceCleanup() {
	m.metrics.PeakTurnCount = 0
	m.metrics.WarningsTriggered = 0
	m.metrics.ResidualOverageTokens = 0
	m.fired = make(map[int]bool)
	logging.Debug().Msg("transient memory counters reset")
}

// FormatMemoryMetrics renders the counters as a short human-readable block.
func (m *Manager) FormatMemoryMetrics() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compressions: %d (%s tokens saved)\n",
		m.metrics.CompressionCount, humanize.Comma(int64(m.metrics.TotalTokensSaved)))
	fmt.Fprintf(&b, "summaries: %d (%s summary tokens)\n",
		m.metrics.SummaryCount, humanize.Comma(int64(m.metrics.SummaryTokens)))
	fmt.Fprintf(&b, "peak turn count: %d\n", m.metrics.PeakTurnCount)
	fmt.Fprintf(&b, "warnings triggered: %d", m.metrics.WarningsTriggered)
	if !m.metrics.LastCompressionTime.IsZero() {
		fmt.Fprintf(&b, "\nlast compression: %s", humanize.Time(m.metrics.LastCompressionTime))
	}
	if m.metrics.ResidualOverageTokens > 0 {
		fmt.Fprintf(&b, "\nresidual overage: %s tokens", humanize.Comma(int64(m.metrics.ResidualOverageTokens)))
	}
	return b.String()
}
