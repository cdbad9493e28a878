// Package flush extracts durable facts from a conversation before lossy
// compaction. A bounded snapshot of the turns is sent to the model with a
// memory-archivist instruction; bullet facts in the reply are appended to
// the project's MEMORY.md, falling back to a per-user file. Every failure
// path degrades to a typed result, never an error to the caller.
package flush

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuddy-ai/codebuddy-memory/internal/config"
	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/internal/storage"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

const ruleLine = "----------------------------------------"

// factSimilarityThreshold is the similarity above which a fact counts as
// already present in the memory file.
const factSimilarityThreshold = 0.9

// Config controls snapshot bounds and the fallback target.
type Config struct {
	// MinTurns is the conversation length below which Flush is a no-op.
	MinTurns int

	// MaxSnapshotTurns caps how many trailing turns go into the snapshot.
	MaxSnapshotTurns int

	// MaxTurnChars truncates each snapshot turn's content.
	MaxTurnChars int

	// GlobalPath is the per-user fallback memory file used when the
	// project file cannot be written.
	GlobalPath string
}

// DefaultConfig returns the default flush configuration.
func DefaultConfig() Config {
	return Config{
		MinTurns:         4,
		MaxSnapshotTurns: 60,
		MaxTurnChars:     800,
		GlobalPath:       config.GlobalMemoryPath(),
	}
}

// Option configures a Flusher.
type Option func(*Flusher)

// WithBus attaches an event bus for flush notifications.
func WithBus(bus *event.Bus) Option {
	return func(f *Flusher) {
		f.bus = bus
	}
}

// Flusher turns conversation snapshots into durable memory notes.
type Flusher struct {
	cfg Config
	bus *event.Bus
}

// New creates a Flusher. Zero fields in cfg are filled from DefaultConfig.
func New(cfg Config, opts ...Option) *Flusher {
	defaults := DefaultConfig()
	if cfg.MinTurns <= 0 {
		cfg.MinTurns = defaults.MinTurns
	}
	if cfg.MaxSnapshotTurns <= 0 {
		cfg.MaxSnapshotTurns = defaults.MaxSnapshotTurns
	}
	if cfg.MaxTurnChars <= 0 {
		cfg.MaxTurnChars = defaults.MaxTurnChars
	}
	if cfg.GlobalPath == "" {
		cfg.GlobalPath = defaults.GlobalPath
	}

	f := &Flusher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flush asks the model to extract durable facts from turns and appends them
// to <workDir>/MEMORY.md. Fewer than MinTurns turns is a no-op without a
// model call. Flush never returns an error; model and write failures
// degrade to a FlushResult describing what happened.
func (f *Flusher) Flush(ctx context.Context, turns []types.Turn, chatFn types.ChatFunc, workDir string) types.FlushResult {
	if len(turns) < f.cfg.MinTurns || chatFn == nil {
		return types.FlushResult{}
	}

	snapshot := f.buildSnapshot(turns)
	if snapshot == "" {
		return types.FlushResult{}
	}

	reply, err := chatFn(ctx, []types.Turn{
		types.NewSystemTurn(archivistInstruction),
		types.NewUserTurn(snapshot),
	})
	if err != nil {
		logging.Warn().Err(err).Msg("archivist call failed, skipping flush")
		return types.FlushResult{}
	}

	suppressed, facts := parseArchivistReply(reply)
	if suppressed {
		return types.FlushResult{Suppressed: true}
	}

	writtenTo := f.writeFacts(facts, workDir)
	result := types.FlushResult{
		Flushed:    true,
		FactsCount: len(facts),
		WrittenTo:  writtenTo,
	}

	if writtenTo != "" {
		f.bus.Publish(event.Event{
			Type: event.FactsFlushed,
			Data: event.FactsFlushedData{FactsCount: len(facts), WrittenTo: writtenTo},
		})
	}
	return result
}

// buildSnapshot renders the trailing turns as labeled blocks separated by
// rule lines. System turns are dropped and each turn's content is bounded.
func (f *Flusher) buildSnapshot(turns []types.Turn) string {
	var kept []types.Turn
	for _, t := range turns {
		if t.Role == types.RoleSystem || t.Content == "" {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) > f.cfg.MaxSnapshotTurns {
		kept = kept[len(kept)-f.cfg.MaxSnapshotTurns:]
	}

	var sb strings.Builder
	for i, t := range kept {
		if i > 0 {
			sb.WriteString(ruleLine + "\n")
		}
		content := t.Content
		if len(content) > f.cfg.MaxTurnChars {
			content = content[:f.cfg.MaxTurnChars] + "..."
		}
		sb.WriteString("[" + strings.ToUpper(string(t.Role)) + "]\n")
		sb.WriteString(content + "\n")
	}
	return sb.String()
}

// writeFacts appends a dated fact section to the project memory file,
// falling back to the global file. Returns the path written, or "" when
// both targets failed or every fact was already on file.
func (f *Flusher) writeFacts(facts []string, workDir string) string {
	primary := filepath.Join(workDir, "MEMORY.md")

	path, err := f.appendSection(primary, facts)
	if err == nil {
		return path
	}
	logging.Warn().Err(err).Str("path", primary).Msg("failed to write project memory, trying global fallback")

	path, err = f.appendSection(f.cfg.GlobalPath, facts)
	if err == nil {
		return path
	}
	logging.Error().Err(err).Str("path", f.cfg.GlobalPath).Msg("failed to write global memory, facts kept in session only")
	return ""
}

// appendSection appends the facts not already present in the file as a new
// dated section. Returns the target path; when every fact is already on
// file the path is returned without touching it.
func (f *Flusher) appendSection(path string, facts []string) (string, error) {
	existing := existingFacts(path)

	var fresh []string
	for _, fact := range facts {
		if knownFact(existing, fact) {
			continue
		}
		fresh = append(fresh, fact)
	}
	if len(fresh) == 0 {
		return path, nil
	}

	var sb strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		sb.WriteString("# MEMORY\n")
	}
	sb.WriteString(fmt.Sprintf("\n## %s\n\n", time.Now().Format("2006-01-02 15:04")))
	for _, fact := range fresh {
		sb.WriteString("- " + fact + "\n")
	}

	if err := storage.AppendFile(path, []byte(sb.String())); err != nil {
		return "", err
	}
	logging.Info().Str("path", path).Int("facts", len(fresh)).Msg("flushed durable facts")
	return path, nil
}

// existingFacts returns the bullet lines already in the file at path.
func existingFacts(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return bulletLines(string(data))
}

func knownFact(existing []string, fact string) bool {
	for _, known := range existing {
		if known == fact || similarity(known, fact) >= factSimilarityThreshold {
			return true
		}
	}
	return false
}
