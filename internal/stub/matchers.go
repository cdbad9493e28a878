package stub

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Identifier matchers are kept as one small function per family so each can
// be tested and tuned on its own.

// sourceExtensions are the file extensions recognized as stub identifiers.
var sourceExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".mjs": true, ".cjs": true, ".py": true, ".rs": true, ".java": true,
	".kt": true, ".c": true, ".cc": true, ".cpp": true, ".h": true,
	".hpp": true, ".cs": true, ".rb": true, ".php": true, ".swift": true,
	".scala": true, ".sh": true, ".bash": true, ".zsh": true, ".md": true,
	".json": true, ".jsonc": true, ".yaml": true, ".yml": true,
	".toml": true, ".xml": true, ".html": true, ".css": true,
	".scss": true, ".sql": true, ".proto": true, ".tf": true,
}

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}` + "`" + `]+`)
	toolCallPattern = regexp.MustCompile(`\b(?:call|toolu)_[A-Za-z0-9_-]+`)
	rangeSuffix     = regexp.MustCompile(`^(.+):(\d+)(?:-(\d+))?$`)
)

// MatchFilePaths returns file path identifiers found in content: tokens with
// a recognized source extension, optionally carrying a :start-end suffix.
func MatchFilePaths(content string) []string {
	var out []string
	for _, tok := range splitTokens(content) {
		base, _, _, _ := SplitRange(tok)
		if IsFilePath(base) {
			out = append(out, tok)
		}
	}
	return dedupOrdered(out)
}

// MatchURLs returns http(s) URLs found in content.
func MatchURLs(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?")
	}
	return dedupOrdered(matches)
}

// MatchToolCallIDs returns tool-call IDs found in content. Two prefix
// families are recognized, call_ and toolu_.
func MatchToolCallIDs(content string) []string {
	return dedupOrdered(toolCallPattern.FindAllString(content, -1))
}

// SplitRange splits a trailing :start or :start-end suffix off an
// identifier. URLs are returned as-is since colons are part of them.
func SplitRange(identifier string) (base string, start, end int, ok bool) {
	if IsURL(identifier) {
		return identifier, 0, 0, false
	}
	m := rangeSuffix.FindStringSubmatch(identifier)
	if m == nil {
		return identifier, 0, 0, false
	}
	start, _ = strconv.Atoi(m[2])
	end = start
	if m[3] != "" {
		end, _ = strconv.Atoi(m[3])
	}
	return m[1], start, end, true
}

// SliceLines returns the 1-based inclusive line range of content, clamped
// to the content's bounds.
func SliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || end < start {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// IsToolCallID reports whether id belongs to a recognized tool-call ID
// prefix family.
func IsToolCallID(id string) bool {
	return strings.HasPrefix(id, "call_") || strings.HasPrefix(id, "toolu_")
}

// IsURL reports whether id is an http(s) URL.
func IsURL(id string) bool {
	return strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://")
}

// IsFilePath reports whether id looks like a file path with a recognized
// source extension.
func IsFilePath(id string) bool {
	if IsURL(id) || strings.Contains(id, "://") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(id))
	return sourceExtensions[ext] && len(id) > len(ext)
}

// splitTokens breaks content into path-candidate tokens. Colons are kept so
// range suffixes survive; surrounding quotes and brackets are trimmed.
func splitTokens(content string) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '"', '\'', '`', '(', ')', '[', ']', '{', '}', '<', '>', ',', ';':
			return true
		}
		return false
	})
	for i, f := range fields {
		fields[i] = strings.TrimRight(f, ".:!?")
	}
	return fields
}

func dedupOrdered(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
