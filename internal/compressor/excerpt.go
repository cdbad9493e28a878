package compressor

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	excerptHeadLines = 20
	excerptTailLines = 5

	// largeContentBytes is the size above which similarity comparison is
	// skipped and only exact matches count as duplicates.
	largeContentBytes = 10000
)

type toolKind int

const (
	kindDefault toolKind = iota
	kindSearch
	kindDiff
)

// CompressToolResult shortens a single tool output to an excerpt. Output
// below the mask threshold is returned unchanged. Search-like output keeps
// the first and last lines with an omitted-line count; diff-like output
// keeps the header lines; everything else gets a head/tail character
// excerpt.
func (c *Compressor) CompressToolResult(output, kind string) string {
	if len(output) <= c.cfg.MaskThresholdChars {
		return output
	}

	switch classifyKind(kind) {
	case kindSearch:
		if excerpt, ok := excerptLines(output, excerptHeadLines, excerptTailLines); ok {
			return excerpt
		}
	case kindDiff:
		if excerpt, ok := excerptDiffHeaders(output); ok {
			return excerpt
		}
	}
	return excerptChars(output, c.cfg.MaskThresholdChars)
}

func classifyKind(kind string) toolKind {
	switch strings.ToLower(kind) {
	case "grep", "glob", "list", "ls", "find", "search":
		return kindSearch
	case "diff", "edit", "patch", "apply":
		return kindDiff
	default:
		return kindDefault
	}
}

// excerptLines keeps the first head and last tail lines. Returns ok=false
// when the output has too few lines to be worth a line-based excerpt.
func excerptLines(output string, head, tail int) (string, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) <= head+tail+1 {
		return "", false
	}

	omitted := len(lines) - head - tail
	var sb strings.Builder
	sb.WriteString(strings.Join(lines[:head], "\n"))
	sb.WriteString(fmt.Sprintf("\n\n(%d lines omitted)\n\n", omitted))
	sb.WriteString(strings.Join(lines[len(lines)-tail:], "\n"))
	return sb.String(), true
}

// excerptDiffHeaders keeps the structural lines of a unified diff so the
// touched files and hunks stay visible.
func excerptDiffHeaders(output string) (string, bool) {
	var headers []string
	omitted := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "@@") ||
			strings.HasPrefix(line, "+++") ||
			strings.HasPrefix(line, "---") ||
			strings.HasPrefix(line, "diff ") {
			headers = append(headers, line)
		} else {
			omitted++
		}
	}
	if len(headers) == 0 {
		return "", false
	}
	return strings.Join(headers, "\n") + fmt.Sprintf("\n\n(%d lines omitted)", omitted), true
}

// excerptChars keeps the leading two thirds and trailing third of the
// budget, with an elision marker between.
func excerptChars(output string, budget int) string {
	head := budget * 2 / 3
	tail := budget / 3
	if head+tail >= len(output) {
		return output
	}
	elided := len(output) - head - tail
	return output[:head] + fmt.Sprintf("\n\n(%d characters elided)\n\n", elided) + output[len(output)-tail:]
}

// similarity calculates normalized Levenshtein similarity between two
// strings. For very long strings a length-ratio approximation is used to
// keep comparison cost bounded.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	if len(a) > largeContentBytes || len(b) > largeContentBytes {
		maxLen := max(len(a), len(b))
		minLen := min(len(a), len(b))
		return float64(minLen) / float64(maxLen)
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(len(a), len(b))
	return 1.0 - float64(dist)/float64(maxLen)
}
