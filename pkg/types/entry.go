package types

import "time"

// ContextEntry is a generalized turn carrying an explicit token count and
// the metadata the deduplicating compressor keys on.
type ContextEntry struct {
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	Tokens   int       `json:"tokens"`
	ToolName string    `json:"toolName,omitempty"`
	IsError  bool      `json:"isError,omitempty"`
	Time     time.Time `json:"time"`
}

// EntryFromTurn converts a turn into a context entry with the given token
// count.
func EntryFromTurn(t Turn, tokens int) ContextEntry {
	return ContextEntry{
		Role:     t.Role,
		Content:  t.Content,
		Tokens:   tokens,
		ToolName: t.ToolName,
		IsError:  t.IsError,
		Time:     t.Time,
	}
}
