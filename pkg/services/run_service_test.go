package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/ent/agentrun"
	"github.com/jarvislabs/jarvisd/ent/user"
)

func TestRunLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.runs.CreateRun(ctx, f.agent.ID, f.thread.ID, f.owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusRunning, run.Status)
	assert.NotEmpty(t, run.TraceID)
	assert.Nil(t, run.FinishedAt)

	// running -> waiting -> running via the spawn/resume path.
	run, transitioned, err := f.runs.Transition(ctx, run.ID, agentrun.StatusWaiting, "")
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, agentrun.StatusWaiting, run.Status)

	flipped, err := f.runs.TransitionFrom(ctx, run.ID, agentrun.StatusWaiting, agentrun.StatusRunning)
	require.NoError(t, err)
	assert.True(t, flipped)

	// A second resume attempt loses the race.
	flipped, err = f.runs.TransitionFrom(ctx, run.ID, agentrun.StatusWaiting, agentrun.StatusRunning)
	require.NoError(t, err)
	assert.False(t, flipped)

	run, transitioned, err = f.runs.Transition(ctx, run.ID, agentrun.StatusSuccess, "")
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, agentrun.StatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
}

func TestTransitionTerminalIsSticky(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.runs.CreateRun(ctx, f.agent.ID, f.thread.ID, f.owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)

	_, transitioned, err := f.runs.Transition(ctx, run.ID, agentrun.StatusCancelled, "")
	require.NoError(t, err)
	require.True(t, transitioned)

	// A late failure report must not overwrite the cancellation.
	run, transitioned, err = f.runs.Transition(ctx, run.ID, agentrun.StatusFailed, "late failure")
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, agentrun.StatusCancelled, run.Status)
	assert.Empty(t, run.Error)
}

func TestGetOwnedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.runs.CreateRun(ctx, f.agent.ID, f.thread.ID, f.owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)

	got, err := f.runs.GetOwnedRun(ctx, run.ID, f.owner.ID, false)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	// Foreign owners see not-found, never forbidden.
	other, err := f.users.GetOrCreateByEmail(ctx, "other@example.com")
	require.NoError(t, err)
	_, err = f.runs.GetOwnedRun(ctx, run.ID, other.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	// Admins see everything.
	_, err = f.runs.GetOwnedRun(ctx, run.ID, other.ID, true)
	assert.NoError(t, err)
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.runs.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTerminalRunIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done, err := f.runs.CreateRun(ctx, f.agent.ID, f.thread.ID, f.owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)
	_, _, err = f.runs.Transition(ctx, done.ID, agentrun.StatusSuccess, "")
	require.NoError(t, err)

	active, err := f.runs.CreateRun(ctx, f.agent.ID, f.thread.ID, f.owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)

	ids, err := f.runs.ListTerminalRunIDs(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Contains(t, ids, done.ID)
	assert.NotContains(t, ids, active.ID)

	// Nothing finished before a cutoff in the past.
	ids, err = f.runs.ListTerminalRunIDs(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, IsAdmin(f.owner))
	assert.False(t, IsAdmin(nil))

	promoted, err := f.client.User.UpdateOneID(f.owner.ID).
		SetRole(user.RoleAdmin).
		Save(ctx)
	require.NoError(t, err)
	assert.True(t, IsAdmin(promoted))
}
