package budget

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/tokens"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// longConversation builds a system turn plus n alternating user/assistant
// turns of roughly 200 characters each.
func longConversation(n int) []types.Turn {
	turns := make([]types.Turn, 0, n+1)
	turns = append(turns, types.NewSystemTurn("You are a helpful coding assistant."))
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("%02d %s", i, strings.Repeat("words ", 33))
		if i%2 == 0 {
			turns = append(turns, types.NewUserTurn(content))
		} else {
			turns = append(turns, types.NewAssistantTurn(content))
		}
	}
	return turns
}

func TestGetStatsSmallConversation(t *testing.T) {
	m := New(Config{MaxContextTokens: 1000})
	turns := []types.Turn{
		types.NewUserTurn("hi"),
		types.NewAssistantTurn("hello"),
	}

	stats := m.GetStats(turns)
	assert.Equal(t, tokens.EstimateTurns(turns), stats.TotalTokens)
	assert.Equal(t, 1000, stats.MaxTokens)
	assert.Equal(t, 2, stats.TurnCount)
	assert.False(t, stats.IsNearLimit)
	assert.False(t, stats.IsCritical)
	assert.Less(t, stats.UsagePercent, 5.0)
}

func TestGetStatsCriticalUsage(t *testing.T) {
	m := New(Config{MaxContextTokens: 1000})
	turns := []types.Turn{types.NewUserTurn(strings.Repeat("x", 3800))}

	stats := m.GetStats(turns)
	assert.True(t, stats.IsNearLimit)
	assert.True(t, stats.IsCritical)
}

func TestEffectiveLimit(t *testing.T) {
	m := New(Config{MaxContextTokens: 10000, ResponseReserveTokens: 2000, SafetyFactor: 0.9})
	assert.Equal(t, 7200, m.EffectiveLimit())

	// A reserve larger than the window is dropped rather than producing a
	// negative limit.
	m = New(Config{MaxContextTokens: 300})
	assert.Equal(t, 285, m.EffectiveLimit())
}

func TestPrepareTurnsNoopUnderBudget(t *testing.T) {
	m := New(Config{MaxContextTokens: 1000})
	turns := []types.Turn{
		types.NewUserTurn("hi"),
		types.NewAssistantTurn("hello"),
	}

	prepared := m.PrepareTurns(turns)
	assert.Equal(t, turns, prepared)
	assert.Zero(t, m.GetMemoryMetrics().CompressionCount)
}

func TestPrepareTurnsCompressesOverBudget(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	m := New(Config{MaxContextTokens: 300}, WithClock(func() time.Time { return fixed }))
	turns := longConversation(30)

	result := m.PrepareTurns(turns)

	require.NotEmpty(t, result)
	assert.Equal(t, turns[0].Content, result[0].Content, "system turn survives at the head")
	assert.LessOrEqual(t, m.GetStats(result).TotalTokens, m.EffectiveLimit())
	assert.Less(t, len(result), len(turns))

	marker := false
	for _, turn := range result[1:] {
		if turn.Role == types.RoleSystem && strings.Contains(turn.Content, "earlier turns removed") {
			marker = true
		}
	}
	assert.True(t, marker, "removed span is marked")
	assert.Equal(t, turns[len(turns)-1].Content, result[len(result)-1].Content,
		"most recent turn kept verbatim")

	metrics := m.GetMemoryMetrics()
	assert.Equal(t, 1, metrics.CompressionCount)
	assert.Positive(t, metrics.TotalTokensSaved)
	assert.Equal(t, fixed, metrics.LastCompressionTime)
	assert.Zero(t, metrics.ResidualOverageTokens)
}

func TestPrepareTurnsIdempotent(t *testing.T) {
	m := New(Config{MaxContextTokens: 300})
	first := m.PrepareTurns(longConversation(30))

	second := m.PrepareTurns(first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.GetMemoryMetrics().CompressionCount)
}

func TestPrepareTurnsPublishesEvent(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	received := make(chan event.TurnsCompressedData, 1)
	bus.Subscribe(event.TurnsCompressed, func(e event.Event) {
		if data, ok := e.Data.(event.TurnsCompressedData); ok {
			received <- data
		}
	})

	m := New(Config{MaxContextTokens: 300}, WithBus(bus), WithConversationID("conv-1"))
	turns := longConversation(30)
	result := m.PrepareTurns(turns)

	select {
	case data := <-received:
		assert.Equal(t, "conv-1", data.ConversationID)
		assert.Equal(t, "sliding_window,hard_truncate", data.Strategy)
		assert.Greater(t, data.TokensBefore, data.TokensAfter)
		assert.Equal(t, len(turns), data.TurnsBefore)
		assert.Equal(t, len(result), data.TurnsAfter)
	case <-time.After(time.Second):
		t.Fatal("no compression event received")
	}
}

func TestPrepareTurnsResidualOverageAtFloor(t *testing.T) {
	m := New(Config{MaxContextTokens: 60, ResponseReserveTokens: 10, SafetyFactor: 0.5})
	turns := []types.Turn{
		types.NewUserTurn(strings.Repeat("a", 400)),
		types.NewUserTurn(strings.Repeat("b", 400)),
		types.NewUserTurn(strings.Repeat("c", 400)),
		types.NewUserTurn(strings.Repeat("d", 400)),
	}

	result := m.PrepareTurns(turns)

	assert.Len(t, result, 2, "hard truncation stops at the two-turn floor")
	assert.Contains(t, result[0].Content, "(content truncated)")
	assert.Positive(t, m.GetMemoryMetrics().ResidualOverageTokens,
		"overage past the floor is recorded, not retried")
}

func TestShouldWarnFiresEachThresholdOnce(t *testing.T) {
	m := New(Config{MaxContextTokens: 1000})
	turns := []types.Turn{types.NewUserTurn(strings.Repeat("x", 3680))}

	first := m.ShouldWarn(turns)
	require.True(t, first.Warn)
	assert.Equal(t, 90, first.Threshold)
	assert.Contains(t, first.Message, "of 1,000 tokens")

	second := m.ShouldWarn(turns)
	require.True(t, second.Warn)
	assert.Equal(t, 75, second.Threshold)

	third := m.ShouldWarn(turns)
	require.True(t, third.Warn)
	assert.Equal(t, 50, third.Threshold)

	fourth := m.ShouldWarn(turns)
	assert.False(t, fourth.Warn, "every threshold already fired")

	m.ResetWarnings()
	again := m.ShouldWarn(turns)
	require.True(t, again.Warn)
	assert.Equal(t, 90, again.Threshold)

	assert.Equal(t, 4, m.GetMemoryMetrics().WarningsTriggered)
}

func TestShouldWarnBelowThresholds(t *testing.T) {
	m := New(Config{MaxContextTokens: 1000})
	result := m.ShouldWarn([]types.Turn{types.NewUserTurn("hi")})

	assert.False(t, result.Warn)
	assert.Empty(t, result.Message)
	assert.Zero(t, m.GetMemoryMetrics().WarningsTriggered)
}

func TestShouldWarnPublishesEvent(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	received := make(chan event.UsageWarningData, 1)
	bus.Subscribe(event.UsageWarning, func(e event.Event) {
		if data, ok := e.Data.(event.UsageWarningData); ok {
			received <- data
		}
	})

	m := New(Config{MaxContextTokens: 1000}, WithBus(bus))
	m.ShouldWarn([]types.Turn{types.NewUserTurn(strings.Repeat("x", 3680))})

	select {
	case data := <-received:
		assert.Equal(t, 90, data.Threshold)
		assert.NotEmpty(t, data.Message)
	case <-time.After(time.Second):
		t.Fatal("no warning event received")
	}
}

func TestShouldAutoCompactExplicitThreshold(t *testing.T) {
	m := New(Config{MaxContextTokens: 100000, AutoCompactTokens: 100})

	assert.True(t, m.ShouldAutoCompact([]types.Turn{types.NewUserTurn(strings.Repeat("x", 400))}))
	assert.False(t, m.ShouldAutoCompact([]types.Turn{types.NewUserTurn(strings.Repeat("x", 40))}))
}

func TestShouldAutoCompactDerivedDefault(t *testing.T) {
	// With defaults the trigger sits a little under the effective limit of
	// (100000 - 8192) * 0.95 tokens.
	m := New(Config{})

	assert.True(t, m.ShouldAutoCompact([]types.Turn{types.NewUserTurn(strings.Repeat("x", 320000))}))
	assert.False(t, m.ShouldAutoCompact([]types.Turn{types.NewUserTurn(strings.Repeat("x", 280000))}))
}

func TestTokenCounterOverride(t *testing.T) {
	counter := func([]types.Turn) (int, error) { return 12345, nil }
	m := New(Config{MaxContextTokens: 100000}, WithCounter(counter))

	stats := m.GetStats([]types.Turn{types.NewUserTurn("hi")})
	assert.Equal(t, 12345, stats.TotalTokens)
}

func TestTokenCounterFallsBackOnError(t *testing.T) {
	counter := func([]types.Turn) (int, error) { return 0, errors.New("tokenizer unavailable") }
	m := New(Config{MaxContextTokens: 1000}, WithCounter(counter))
	turns := []types.Turn{types.NewUserTurn("hello world")}

	stats := m.GetStats(turns)
	assert.Equal(t, tokens.EstimateTurns(turns), stats.TotalTokens)
}

func TestForceCleanupResetsTransientCounters(t *testing.T) {
	m := New(Config{MaxContextTokens: 300})
	result := m.PrepareTurns(longConversation(30))
	require.True(t, m.ShouldWarn(result).Warn)

	before := m.GetMemoryMetrics()
	require.Positive(t, before.PeakTurnCount)
	require.Equal(t, 1, before.WarningsTriggered)

	m.ForceCleanup()

	after := m.GetMemoryMetrics()
	assert.Zero(t, after.PeakTurnCount)
	assert.Zero(t, after.WarningsTriggered)
	assert.Zero(t, after.ResidualOverageTokens)
	assert.Equal(t, before.CompressionCount, after.CompressionCount)
	assert.Equal(t, before.TotalTokensSaved, after.TotalTokensSaved)
	assert.Equal(t, before.LastCompressionTime, after.LastCompressionTime)

	assert.True(t, m.ShouldWarn(result).Warn, "warnings re-arm after cleanup")
}

func TestFormatMemoryMetrics(t *testing.T) {
	m := New(Config{MaxContextTokens: 300})

	fresh := m.FormatMemoryMetrics()
	assert.Equal(t,
		"compressions: 0 (0 tokens saved)\n"+
			"summaries: 0 (0 summary tokens)\n"+
			"peak turn count: 0\n"+
			"warnings triggered: 0",
		fresh)

	m.PrepareTurns(longConversation(30))
	formatted := m.FormatMemoryMetrics()
	assert.Contains(t, formatted, "compressions: 1")
	assert.Contains(t, formatted, "tokens saved")
	assert.Contains(t, formatted, "last compression:")
}
