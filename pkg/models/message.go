package models

// Message roles stored on thread messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// ToolCall is a single tool invocation requested by an assistant message.
// Stored as JSON on the message row; ID pairs the eventual tool result
// with this call.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
