// Package types provides the core data types for the CodeBuddy memory engine.
package types

import "time"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall references a tool invocation requested by an assistant turn.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Turn is a single message in a conversation. Turns accumulate as the
// conversation progresses and are destroyed only by truncation.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallID,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
	Time       time.Time  `json:"time"`
}

// NewUserTurn creates a user turn with the given content.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Time: time.Now()}
}

// NewAssistantTurn creates an assistant turn with the given content.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, Time: time.Now()}
}

// NewSystemTurn creates a system turn with the given content.
func NewSystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content, Time: time.Now()}
}

// NewToolTurn creates a tool-result turn for the given tool call.
func NewToolTurn(callID, toolName, content string, isErr bool) Turn {
	return Turn{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    isErr,
		Time:       time.Now(),
	}
}

// IsSystem reports whether the turn carries the system/identity prompt.
func (t Turn) IsSystem() bool {
	return t.Role == RoleSystem
}
