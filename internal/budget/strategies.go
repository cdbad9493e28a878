package budget

import (
	"fmt"
	"strings"

	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/tokens"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

const (
	// hardTruncateFloor is the minimum number of turns hard truncation
	// leaves in place.
	hardTruncateFloor = 2

	// truncateKeepChars is the smallest content cap hard truncation
	// applies per turn.
	truncateKeepChars = 200
)

// strategy is one step of the compression pipeline. apply returns the
// (possibly new) turn list and whether anything changed.
type strategy struct {
	name  string
	apply func(m *Manager, turns []types.Turn, budget int) ([]types.Turn, bool)
}

// pipeline lists the compression strategies in escalation order.
// PrepareTurns stops at the first point the budget is satisfied.
var pipeline = []strategy{
	{name: "sliding_window", apply: (*Manager).applySlidingWindow},
	{name: "tool_truncation", apply: (*Manager).truncateToolResults},
	{name: "summarize", apply: (*Manager).summarizeOldTurns},
	{name: "hard_truncate", apply: (*Manager).hardTruncate},
}

// PrepareTurns bounds turns to the effective limit. It is a no-op while
// usage stays at or under the near-limit percentage and the auto-compact
// trigger has not been reached. Otherwise the system turn is set aside, the
// strategies run in order until the remainder fits, and the system turn is
// reattached at the head. The pipeline always terminates; overage that
// survives hard truncation is recorded in the metrics instead of retried.
func (m *Manager) PrepareTurns(turns []types.Turn) []types.Turn {
	if len(turns) == 0 {
		return turns
	}

	stats := m.GetStats(turns)
	if stats.TotalTokens < m.cfg.AutoCompactTokens && !stats.IsNearLimit {
		return turns
	}

	system, rest := detachSystem(turns)
	budget := m.limit
	if system != nil {
		budget -= m.countTokens([]types.Turn{*system})
	}

	work := rest
	var applied []string
	for _, s := range pipeline {
		if m.countTokens(work) <= budget {
			break
		}
		next, changed := s.apply(m, work, budget)
		work = next
		if changed {
			applied = append(applied, s.name)
		}
	}
	if len(applied) == 0 {
		return turns
	}

	out := reattach(system, work)
	after := m.countTokens(out)

	m.metrics.CompressionCount++
	if saved := stats.TotalTokens - after; saved > 0 {
		m.metrics.TotalTokensSaved += saved
	}
	m.metrics.LastCompressionTime = m.now()
	residual := after - m.limit
	if residual < 0 {
		residual = 0
	}
	m.metrics.ResidualOverageTokens = residual

	logging.Debug().
		Int("tokensBefore", stats.TotalTokens).
		Int("tokensAfter", after).
		Int("turnsBefore", len(turns)).
		Int("turnsAfter", len(out)).
		Str("strategies", strings.Join(applied, ",")).
		Msg("compressed conversation turns")

	m.bus.Publish(event.Event{
		Type: event.TurnsCompressed,
		Data: event.TurnsCompressedData{
			ConversationID: m.convID,
			Strategy:       strings.Join(applied, ","),
			TokensBefore:   stats.TotalTokens,
			TokensAfter:    after,
			TurnsBefore:    len(turns),
			TurnsAfter:     len(out),
		},
	})

	return out
}

// detachSystem splits the first system turn from the rest. That turn is the
// identity prompt and survives every strategy; system turns the pipeline
// itself inserts later (markers, summaries) are ordinary members of the
// remainder.
func detachSystem(turns []types.Turn) (*types.Turn, []types.Turn) {
	for i, t := range turns {
		if !t.IsSystem() {
			continue
		}
		sys := t
		if i == 0 {
			return &sys, turns[1:]
		}
		rest := make([]types.Turn, 0, len(turns)-1)
		rest = append(rest, turns[:i]...)
		rest = append(rest, turns[i+1:]...)
		return &sys, rest
	}
	return nil, turns
}

// reattach puts the detached system turn back at the head.
func reattach(system *types.Turn, turns []types.Turn) []types.Turn {
	if system == nil {
		return turns
	}
	out := make([]types.Turn, 0, len(turns)+1)
	out = append(out, *system)
	return append(out, turns...)
}

// applySlidingWindow keeps the most recent turns and replaces the removed
// span with one marker turn naming how many were elided.
func (m *Manager) applySlidingWindow(turns []types.Turn, budget int) ([]types.Turn, bool) {
	keep := m.cfg.RecentTurnsCount
	if len(turns) <= keep {
		return turns, false
	}
	removed := len(turns) - keep

	out := make([]types.Turn, 0, keep+1)
	out = append(out, types.Turn{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf("(%d earlier turns removed)", removed),
		Time:    m.now(),
	})
	out = append(out, turns[len(turns)-keep:]...)
	return out, true
}

// truncateToolResults caps every tool turn's content, appending an elision
// marker with the cut size.
func (m *Manager) truncateToolResults(turns []types.Turn, budget int) ([]types.Turn, bool) {
	out := make([]types.Turn, len(turns))
	copy(out, turns)

	changed := false
	for i := range out {
		if out[i].Role != types.RoleTool {
			continue
		}
		if len(out[i].Content) <= m.cfg.MaxToolResultChars {
			continue
		}
		elided := len(out[i].Content) - m.cfg.MaxToolResultChars
		out[i].Content = out[i].Content[:m.cfg.MaxToolResultChars] +
			fmt.Sprintf("\n(%d characters elided)", elided)
		changed = true
	}
	if !changed {
		return turns, false
	}
	return out, true
}

// summarizeOldTurns condenses turns older than the keep-recent window into a
// single extractive summary turn placed ahead of the verbatim recent turns.
// System turns in the old span are kept in place.
func (m *Manager) summarizeOldTurns(turns []types.Turn, budget int) ([]types.Turn, bool) {
	keep := m.cfg.RecentTurnsCount
	if len(turns) <= keep {
		return turns, false
	}
	cut := len(turns) - keep

	var keepOld []types.Turn
	var old []types.Turn
	for _, t := range turns[:cut] {
		if t.Role == types.RoleSystem {
			keepOld = append(keepOld, t)
			continue
		}
		old = append(old, t)
	}
	if len(old) == 0 {
		return turns, false
	}

	summary := m.buildExtractiveSummary(old)
	m.metrics.SummaryCount++
	m.metrics.SummaryTokens += tokens.EstimateText(summary)

	out := make([]types.Turn, 0, len(keepOld)+1+keep)
	out = append(out, keepOld...)
	out = append(out, types.Turn{
		Role:    types.RoleSystem,
		Content: summary,
		Time:    m.now(),
	})
	out = append(out, turns[cut:]...)
	return out, true
}

// buildExtractiveSummary reduces old turns to one bullet line each, stopping
// once the summary reaches the share of the original size set by the
// compression ratio.
func (m *Manager) buildExtractiveSummary(old []types.Turn) string {
	target := int(float64(m.countTokens(old)) * m.cfg.CompressionRatio)

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %d earlier turns:\n", len(old))
	for _, t := range old {
		line := turnHeadline(t)
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
		if tokens.EstimateText(b.String()) >= target {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// hardTruncate drops the oldest non-system turns one at a time down to the
// floor, then caps remaining content as the last resort.
func (m *Manager) hardTruncate(turns []types.Turn, budget int) ([]types.Turn, bool) {
	out := make([]types.Turn, len(turns))
	copy(out, turns)

	changed := false
	for len(out) > hardTruncateFloor && m.countTokens(out) > budget {
		idx := -1
		for i, t := range out {
			if t.Role != types.RoleSystem {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		out = append(out[:idx], out[idx+1:]...)
		changed = true
	}
	if m.countTokens(out) <= budget {
		return out, changed
	}

	perChars := budget / len(out) * tokens.CharsPerToken
	if perChars < truncateKeepChars {
		perChars = truncateKeepChars
	}
	for i := range out {
		if len(out[i].Content) <= perChars {
			continue
		}
		out[i].Content = out[i].Content[:perChars] + "\n(content truncated)"
		changed = true
	}
	return out, changed
}

// turnHeadline reduces a turn to a one-line bullet for the extractive
// summary.
func turnHeadline(t types.Turn) string {
	line := t.Content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	label := string(t.Role)
	if t.ToolName != "" {
		label = t.ToolName
	}
	return fmt.Sprintf("[%s] %s", label, line)
}
