package flush

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
)

// Sentinel is the reply meaning the model found nothing worth remembering.
const Sentinel = "NO_DURABLE_FACTS"

// shortAckLimit bounds how much trailing text after the sentinel still
// counts as a polite acknowledgement rather than a payload.
const shortAckLimit = 80

// archivistInstruction is the fixed system instruction sent with every
// snapshot.
const archivistInstruction = `You are a memory archivist for a coding assistant. Review the conversation snapshot and extract durable facts worth remembering across sessions: user preferences, project conventions, decisions made, and constraints discovered.

Reply with one fact per line, each line starting with "- ". Facts must be self-contained and specific enough to be useful without the conversation.

If nothing is worth remembering long-term, reply with exactly: ` + Sentinel

// parseArchivistReply converts the model's reply into a structured outcome.
// The sentinel protocol is fragile, so anything ambiguous parses as
// suppressed: sentinel alone, sentinel plus a short acknowledgement, prose
// without bullets, and empty replies all mean "write nothing". Bullet lines
// win over the sentinel when both appear.
func parseArchivistReply(reply string) (suppressed bool, facts []string) {
	rest := strings.TrimSpace(reply)
	if rest == "" {
		return true, nil
	}
	hadSentinel := strings.HasPrefix(rest, Sentinel)
	if hadSentinel {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, Sentinel))
	}

	facts = bulletLines(rest)
	if len(facts) > 0 {
		return false, facts
	}
	if hadSentinel && len(rest) >= shortAckLimit {
		logging.Warn().
			Int("tailChars", len(rest)).
			Msg("archivist reply had sentinel plus long non-bullet tail, treating as suppressed")
	}
	return true, nil
}

// bulletLines returns the text of every line starting with "-", without the
// bullet marker.
func bulletLines(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		fact := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}

// similarity calculates normalized Levenshtein similarity, used to skip
// facts nearly identical to ones already on file.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(len(a), len(b))
	return 1.0 - float64(dist)/float64(maxLen)
}
