package agent

import (
	"context"
	"sync"

	"github.com/jarvislabs/jarvisd/pkg/models"
)

// ScriptedClient returns pre-programmed turns in order. Used by tests and by
// local development without a model provider. Safe for concurrent use.
type ScriptedClient struct {
	mu    sync.Mutex
	turns []ScriptedTurn
	calls int

	// Delay simulates provider latency per call; the context deadline is
	// honored during the wait so timeout paths are testable.
	Delay func() <-chan struct{}
}

// ScriptedTurn is one canned LLM response.
type ScriptedTurn struct {
	Content   string
	ToolCalls []models.ToolCall
	Err       error
}

// NewScriptedClient creates a client that replays turns in order. After the
// script runs out, the last turn repeats.
func NewScriptedClient(turns ...ScriptedTurn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// Complete pops the next scripted turn.
func (c *ScriptedClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.Delay != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.Delay():
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.turns) {
		idx = len(c.turns) - 1
	}
	c.calls++
	turn := c.turns[idx]
	c.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}
	if req.OnToken != nil && turn.Content != "" {
		req.OnToken(turn.Content)
	}
	return &CompletionResponse{
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
	}, nil
}

// Calls returns how many turns have been served.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Close implements LLMClient.
func (c *ScriptedClient) Close() error { return nil }
