package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/pkg/models"
)

func TestSupervisorAgentSingleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.threads.GetOrCreateSupervisorAgent(ctx, f.owner.ID, "", "You are a supervisor.")
	require.NoError(t, err)
	assert.Equal(t, f.agent.ID, again.ID)
	assert.Equal(t, DefaultSupervisorModel, again.Model)

	// A model preference change updates the singleton in place.
	updated, err := f.threads.GetOrCreateSupervisorAgent(ctx, f.owner.ID, "gpt-5-mini", "You are a supervisor.")
	require.NoError(t, err)
	assert.Equal(t, f.agent.ID, updated.ID)
	assert.Equal(t, "gpt-5-mini", updated.Model)
}

func TestSupervisorThreadSingleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.threads.GetOrCreateSupervisorThread(ctx, f.agent.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, f.thread.ID, again.ID)
}

func TestAppendMessageAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.threads.AppendMessage(ctx, f.thread.ID, models.RoleUser, "find the bug", MessageOptions{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = f.threads.AppendMessage(ctx, f.thread.ID, models.RoleAssistant, "on it", MessageOptions{
		ToolCalls: []models.ToolCall{{ID: "tc-1", Name: "spawn_worker", Arguments: map[string]any{"task": "dig"}}},
	})
	require.NoError(t, err)

	history, err := f.threads.History(ctx, f.thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "find the bug", history[0].Content)
	assert.Equal(t, "on it", history[1].Content)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "tc-1", history[1].ToolCalls[0].ID)
}

func TestGetOrCreateToolMessageIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.threads.GetOrCreateToolMessage(ctx, f.thread.ID, "tc-1", "result", "")
	require.NoError(t, err)
	assert.True(t, created)

	// A second injection for the same call returns the original row.
	second, created, err := f.threads.GetOrCreateToolMessage(ctx, f.thread.ID, "tc-1", "different result", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "result", second.Content)

	_, _, err = f.threads.GetOrCreateToolMessage(ctx, f.thread.ID, "", "result", "")
	assert.True(t, IsValidationError(err))
}

func TestFindAssistantMessageForToolCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.threads.FindAssistantMessageForToolCall(ctx, f.thread.ID, "tc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	older, err := f.threads.AppendMessage(ctx, f.thread.ID, models.RoleAssistant, "", MessageOptions{
		ToolCalls: []models.ToolCall{{ID: "tc-1", Name: "spawn_worker"}},
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := f.threads.AppendMessage(ctx, f.thread.ID, models.RoleAssistant, "", MessageOptions{
		ToolCalls: []models.ToolCall{{ID: "tc-2", Name: "spawn_worker"}},
	})
	require.NoError(t, err)

	got, err := f.threads.FindAssistantMessageForToolCall(ctx, f.thread.ID, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	// Unknown ids fall back to the newest candidate.
	got, err = f.threads.FindAssistantMessageForToolCall(ctx, f.thread.ID, "tc-unknown")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestMarkProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.threads.AppendMessage(ctx, f.thread.ID, models.RoleUser, "hello", MessageOptions{})
	require.NoError(t, err)
	assert.False(t, msg.Processed)

	require.NoError(t, f.threads.MarkProcessed(ctx, []string{msg.ID}))
	require.NoError(t, f.threads.MarkProcessed(ctx, nil))

	history, err := f.threads.History(ctx, f.thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Processed)
}

func TestGetAgentAndThreadNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.threads.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.threads.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
