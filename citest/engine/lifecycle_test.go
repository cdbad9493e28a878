package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codebuddy-ai/codebuddy-memory/citest/testutil"
	"github.com/codebuddy-ai/codebuddy-memory/internal/engine"
	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/flush"
	"github.com/codebuddy-ai/codebuddy-memory/internal/stub"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// smallConfig shrinks the default hundred-thousand-token window so
// conversations a few thousand tokens long cross every threshold.
func smallConfig() *types.Config {
	return &types.Config{
		MaxContextTokens:      3000,
		ResponseReserveTokens: 500,
		RecentTurnsCount:      4,
	}
}

var _ = Describe("Memory Engine Lifecycle", func() {
	var (
		eng     *engine.Engine
		workDir string
	)

	newEngine := func(cfg *types.Config, opts ...engine.Option) {
		var err error
		workDir, err = os.MkdirTemp("", "codebuddy-test-*")
		Expect(err).NotTo(HaveOccurred())
		opts = append([]engine.Option{engine.WithWorkDir(workDir)}, opts...)
		eng = engine.New(cfg, opts...)
	}

	AfterEach(func() {
		if eng != nil {
			eng.Close()
			eng = nil
		}
		if workDir != "" {
			os.RemoveAll(workDir)
			workDir = ""
		}
	})

	// ==================== Budget Tracking ====================
	Describe("Budget tracking", func() {
		It("should report usage for a growing conversation", func() {
			newEngine(nil)

			small := eng.GetStats(testutil.Conversation(4))
			large := eng.GetStats(testutil.Conversation(40))
			Expect(large.TotalTokens).To(BeNumerically(">", small.TotalTokens))
			Expect(large.TurnCount).To(Equal(40))
			Expect(large.MaxTokens).To(Equal(100000))
			Expect(large.IsNearLimit).To(BeFalse())
		})

		It("should flag conversations near the window", func() {
			newEngine(smallConfig())

			stats := eng.GetStats(testutil.LongConversation(80))
			Expect(stats.UsagePercent).To(BeNumerically(">", 90))
			Expect(stats.IsNearLimit).To(BeTrue())
			Expect(stats.IsCritical).To(BeTrue())
		})

		It("should trigger auto-compaction past the threshold", func() {
			newEngine(smallConfig())

			Expect(eng.ShouldAutoCompact(testutil.Conversation(4))).To(BeFalse())
			Expect(eng.ShouldAutoCompact(testutil.LongConversation(80))).To(BeTrue())
		})

		It("should remember the last snapshot", func() {
			newEngine(nil)

			Expect(eng.LastStats().TurnCount).To(BeZero())
			eng.GetStats(testutil.Conversation(12))
			Expect(eng.LastStats().TurnCount).To(Equal(12))
		})
	})

	// ==================== Usage Warnings ====================
	Describe("Usage warnings", func() {
		It("should fire the highest crossed threshold first, once each", func() {
			newEngine(smallConfig())
			turns := testutil.LongConversation(80)

			first := eng.ShouldWarn(turns)
			Expect(first.Warn).To(BeTrue())
			Expect(first.Threshold).To(Equal(90))
			Expect(first.Message).To(ContainSubstring("Context usage at"))

			second := eng.ShouldWarn(turns)
			Expect(second.Warn).To(BeTrue())
			Expect(second.Threshold).To(Equal(75))

			third := eng.ShouldWarn(turns)
			Expect(third.Threshold).To(Equal(50))

			Expect(eng.ShouldWarn(turns).Warn).To(BeFalse())
			Expect(eng.GetMemoryMetrics().WarningsTriggered).To(Equal(3))
		})

		It("should rearm after ResetWarnings", func() {
			newEngine(smallConfig())
			turns := testutil.LongConversation(80)

			Expect(eng.ShouldWarn(turns).Threshold).To(Equal(90))
			eng.ResetWarnings()
			Expect(eng.ShouldWarn(turns).Threshold).To(Equal(90))
		})

		It("should stay quiet for small conversations", func() {
			newEngine(nil)
			Expect(eng.ShouldWarn(testutil.Conversation(6)).Warn).To(BeFalse())
		})
	})

	// ==================== Turn Compression ====================
	Describe("Turn compression", func() {
		It("should pass small conversations through untouched", func() {
			newEngine(nil)
			turns := testutil.Conversation(6)

			prepared := eng.PrepareTurns(turns)
			Expect(prepared).To(HaveLen(6))
			Expect(eng.GetMemoryMetrics().CompressionCount).To(BeZero())
		})

		It("should bound an over-budget conversation", func() {
			newEngine(smallConfig())
			turns := testutil.LongConversation(80)
			before := eng.GetStats(turns)
			Expect(before.TotalTokens).To(BeNumerically(">", eng.EffectiveLimit()))

			prepared := eng.PrepareTurns(turns)
			after := eng.GetStats(prepared)
			Expect(after.TotalTokens).To(BeNumerically("<=", eng.EffectiveLimit()))
			Expect(len(prepared)).To(BeNumerically("<", len(turns)))

			metrics := eng.GetMemoryMetrics()
			Expect(metrics.CompressionCount).To(Equal(1))
			Expect(metrics.TotalTokensSaved).To(BeNumerically(">", 0))
		})

		It("should keep the system prompt and the newest turns", func() {
			newEngine(smallConfig())
			turns := testutil.LongConversation(80)

			prepared := eng.PrepareTurns(turns)
			Expect(prepared[0].Role).To(Equal(types.RoleSystem))
			Expect(prepared[0].Content).To(Equal(turns[0].Content))
			Expect(prepared[len(prepared)-1].Content).To(Equal(turns[len(turns)-1].Content))
		})

		It("should mark the span it removed", func() {
			newEngine(smallConfig())

			prepared := eng.PrepareTurns(testutil.LongConversation(80))
			var marked bool
			for _, t := range prepared {
				if strings.Contains(t.Content, "earlier turns removed") {
					marked = true
					break
				}
			}
			Expect(marked).To(BeTrue())
		})

		It("should publish a compression event", func() {
			newEngine(smallConfig())

			events := make(chan event.Event, 1)
			unsub := eng.Bus().Subscribe(event.TurnsCompressed, func(e event.Event) {
				select {
				case events <- e:
				default:
				}
			})
			defer unsub()

			eng.PrepareTurns(testutil.LongConversation(80))

			var received event.Event
			Eventually(events, 5*time.Second).Should(Receive(&received))
			data, ok := received.Data.(event.TurnsCompressedData)
			Expect(ok).To(BeTrue())
			Expect(data.TokensAfter).To(BeNumerically("<", data.TokensBefore))
			Expect(data.Strategy).NotTo(BeEmpty())
		})
	})

	// ==================== Tool Result Stubs ====================
	Describe("Tool result stubs", func() {
		buildToolLog := func() string {
			var sb strings.Builder
			sb.WriteString("go vet: problems found\n")
			sb.WriteString(strings.Repeat("internal/server/handlers.go: composite literal uses unkeyed fields\n", 30))
			sb.WriteString("details: https://ci.example.com/runs/4217\n")
			return sb.String()
		}

		It("should stub identifier-bearing turns and restore them", func() {
			newEngine(nil)

			log := buildToolLog()
			turns := []types.Turn{
				types.NewUserTurn("run the vet pass"),
				types.NewToolTurn("toolu_vet01", "bash", log, false),
			}

			result := eng.CompressTurns(turns)
			Expect(result.Identifiers).To(ContainElement("internal/server/handlers.go"))
			Expect(result.Identifiers).To(ContainElement("https://ci.example.com/runs/4217"))
			Expect(result.TokensSaved).To(BeNumerically(">", 0))
			Expect(result.Turns[1].Content).To(ContainSubstring("Compressed"))
			Expect(result.Turns[1].Content).NotTo(Equal(log))

			// The input slice stays untouched
			Expect(turns[1].Content).To(Equal(log))

			restored := eng.Restore("internal/server/handlers.go")
			Expect(restored.Found).To(BeTrue())
			Expect(restored.Content).To(Equal(log))
		})

		It("should resolve ranged identifiers to the stored base", func() {
			newEngine(nil)
			log := buildToolLog()
			eng.CompressTurns([]types.Turn{types.NewToolTurn("toolu_vet02", "bash", log, false)})

			restored := eng.Restore("internal/server/handlers.go:3-5")
			Expect(restored.Found).To(BeTrue())
			Expect(restored.Content).To(Equal(log))
		})

		It("should persist tool results to the sidecar directory", func() {
			newEngine(nil)

			content := "line 0001 of captured tool output\nline 0002 of captured tool output\n"
			Expect(eng.WriteToolResult("toolu_persisted", content)).To(Succeed())

			sidecar := filepath.Join(stub.SidecarDir(workDir), "toolu_persisted.txt")
			data, err := os.ReadFile(sidecar)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(content))
		})

		It("should recover tool results across engine restarts", func() {
			newEngine(nil)
			content := "output that must outlive the process\n"
			Expect(eng.WriteToolResult("toolu_revived", content)).To(Succeed())

			// A second engine over the same directory starts with an
			// empty store and falls back to the sidecar.
			second := engine.New(nil, engine.WithWorkDir(workDir))
			defer second.Close()
			Expect(second.ListIdentifiers()).To(BeEmpty())

			restored := second.Restore("toolu_revived")
			Expect(restored.Found).To(BeTrue())
			Expect(restored.Content).To(Equal(content))
		})

		It("should evict oldest results first and keep them recoverable", func() {
			newEngine(nil)

			Expect(eng.WriteToolResult("toolu_first", strings.Repeat("a", 100))).To(Succeed())
			Expect(eng.WriteToolResult("toolu_second", strings.Repeat("b", 100))).To(Succeed())
			Expect(eng.WriteToolResult("toolu_third", strings.Repeat("c", 100))).To(Succeed())
			Expect(eng.StoreSize()).To(Equal(int64(300)))

			removed := eng.Evict(150)
			Expect(removed).To(Equal(2))
			Expect(eng.ListIdentifiers()).To(Equal([]string{"toolu_third"}))
			Expect(eng.StoreSize()).To(Equal(int64(100)))

			// Evicted results remain recoverable through the sidecar
			restored := eng.Restore("toolu_first")
			Expect(restored.Found).To(BeTrue())
			Expect(restored.Content).To(Equal(strings.Repeat("a", 100)))
		})

		It("should answer misses with a recovery hint", func() {
			newEngine(nil)

			restored := eng.Restore("toolu_gone")
			Expect(restored.Found).To(BeFalse())
			Expect(restored.Content).To(ContainSubstring("toolu_gone"))
		})
	})

	// ==================== Fact Flushes ====================
	Describe("Fact flushes", func() {
		It("should write extracted facts to the project memory file", func() {
			chatCalls := 0
			fake := func(ctx context.Context, turns []types.Turn) (string, error) {
				chatCalls++
				Expect(turns).To(HaveLen(2))
				Expect(turns[0].Role).To(Equal(types.RoleSystem))
				return "- User prefers tabs for indentation\n- The project uses table-driven tests", nil
			}
			newEngine(nil, engine.WithChatFunc(fake))

			result := eng.FlushNow(context.Background(), testutil.FactConversation())
			Expect(result.Flushed).To(BeTrue())
			Expect(result.FactsCount).To(Equal(2))
			Expect(result.WrittenTo).To(Equal(filepath.Join(workDir, "MEMORY.md")))
			Expect(chatCalls).To(Equal(1))

			data, err := os.ReadFile(result.WrittenTo)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(HavePrefix("# MEMORY"))
			Expect(string(data)).To(ContainSubstring("- User prefers tabs for indentation"))
			Expect(string(data)).To(ContainSubstring("- The project uses table-driven tests"))
		})

		It("should skip conversations too short to mine", func() {
			called := false
			fake := func(ctx context.Context, turns []types.Turn) (string, error) {
				called = true
				return "- should never be asked", nil
			}
			newEngine(nil, engine.WithChatFunc(fake))

			result := eng.FlushNow(context.Background(), testutil.Conversation(2))
			Expect(result.Flushed).To(BeFalse())
			Expect(result.Suppressed).To(BeFalse())
			Expect(called).To(BeFalse())
		})

		It("should suppress when the model finds nothing durable", func() {
			fake := func(ctx context.Context, turns []types.Turn) (string, error) {
				return flush.Sentinel, nil
			}
			newEngine(nil, engine.WithChatFunc(fake))

			result := eng.FlushNow(context.Background(), testutil.FactConversation())
			Expect(result.Suppressed).To(BeTrue())
			Expect(result.Flushed).To(BeFalse())

			_, err := os.Stat(filepath.Join(workDir, "MEMORY.md"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should not duplicate facts across flushes", func() {
			fake := func(ctx context.Context, turns []types.Turn) (string, error) {
				return "- User prefers tabs for indentation", nil
			}
			newEngine(nil, engine.WithChatFunc(fake))

			turns := testutil.FactConversation()
			eng.FlushNow(context.Background(), turns)
			eng.FlushNow(context.Background(), turns)

			data, err := os.ReadFile(filepath.Join(workDir, "MEMORY.md"))
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(string(data), "- User prefers tabs for indentation")).To(Equal(1))
		})

		It("should publish a flush event", func() {
			fake := func(ctx context.Context, turns []types.Turn) (string, error) {
				return "- Deploys go through the staging cluster first", nil
			}
			newEngine(nil, engine.WithChatFunc(fake))

			events := make(chan event.Event, 1)
			unsub := eng.Bus().Subscribe(event.FactsFlushed, func(e event.Event) {
				select {
				case events <- e:
				default:
				}
			})
			defer unsub()

			eng.FlushNow(context.Background(), testutil.FactConversation())

			var received event.Event
			Eventually(events, 5*time.Second).Should(Receive(&received))
			data, ok := received.Data.(event.FactsFlushedData)
			Expect(ok).To(BeTrue())
			Expect(data.FactsCount).To(Equal(1))
			Expect(data.WrittenTo).To(Equal(filepath.Join(workDir, "MEMORY.md")))
		})
	})
})
