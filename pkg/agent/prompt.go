package agent

import (
	"fmt"
	"time"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/pkg/models"
)

// PromptExtras is the dynamic tail of the supervisor prompt. All of it sits
// after the conversation history so the stable prefix stays byte-identical
// across turns and keeps hitting the provider's prefix cache.
type PromptExtras struct {
	ConnectorStatus string
	MemoryRecall    string
	Now             time.Time
}

// BuildSupervisorMessages assembles the message array for one supervisor
// turn. Layout, most stable first:
//
//	system instructions -> conversation history -> connector status ->
//	memory recall -> current time
func BuildSupervisorMessages(instructions string, history []*ent.ThreadMessage, extras PromptExtras) []Message {
	msgs := make([]Message, 0, len(history)+4)

	if instructions != "" {
		msgs = append(msgs, Message{Role: models.RoleSystem, Content: instructions})
	}

	for _, m := range history {
		msgs = append(msgs, FromThreadMessage(m))
	}

	if extras.ConnectorStatus != "" {
		msgs = append(msgs, Message{
			Role:    models.RoleSystem,
			Content: "Connector status:\n" + extras.ConnectorStatus,
		})
	}
	if extras.MemoryRecall != "" {
		msgs = append(msgs, Message{
			Role:    models.RoleSystem,
			Content: "Relevant context from memory:\n" + extras.MemoryRecall,
		})
	}

	now := extras.Now
	if now.IsZero() {
		now = time.Now()
	}
	msgs = append(msgs, Message{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("Current time: %s", now.UTC().Format(time.RFC3339)),
	})

	return msgs
}

// BuildWorkerMessages assembles the message array for a worker execution.
func BuildWorkerMessages(instructions, task string) []Message {
	msgs := make([]Message, 0, 2)
	if instructions != "" {
		msgs = append(msgs, Message{Role: models.RoleSystem, Content: instructions})
	}
	msgs = append(msgs, Message{Role: models.RoleUser, Content: task})
	return msgs
}

// FromThreadMessage converts a persisted thread message into an LLM message.
func FromThreadMessage(m *ent.ThreadMessage) Message {
	msg := Message{
		Role:    string(m.Role),
		Content: m.Content,
	}
	if len(m.ToolCalls) > 0 {
		msg.ToolCalls = m.ToolCalls
	}
	if m.ToolCallID != nil {
		msg.ToolCallID = *m.ToolCallID
	}
	return msg
}
