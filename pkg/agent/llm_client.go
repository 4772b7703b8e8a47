// Package agent defines the LLM and tool boundaries used by supervisor and
// worker conversations. The LLM itself is an external collaborator; the
// engine only depends on these interfaces.
package agent

import (
	"context"

	"github.com/jarvislabs/jarvisd/pkg/models"
)

// LLMClient is the boundary to the model provider. One Complete call is one
// turn: the full message array goes in, an assistant message (text and/or
// tool calls) comes out. Implementations must honor ctx cancellation and
// deadlines; the supervisor's deferral semantics depend on it.
type LLMClient interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Close() error
}

// CompletionRequest is one LLM turn.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition

	// OnToken, when set, receives output tokens as they stream. Called from
	// the client's goroutine; must not block.
	OnToken func(token string)
}

// CompletionResponse is the assistant's turn output.
type CompletionResponse struct {
	Content   string
	ToolCalls []models.ToolCall
}

// HasToolCalls reports whether the assistant requested any tool invocations.
func (r *CompletionResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Message is one entry of the conversation sent to the LLM.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}
