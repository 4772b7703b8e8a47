package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agentrun"
	"github.com/jarvislabs/jarvisd/ent/workerjob"
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/services"
	testdb "github.com/jarvislabs/jarvisd/test/database"
)

func newDispatchFixture(t *testing.T, llm agent.LLMClient) (*Dispatcher, *app.Workspace) {
	t.Helper()
	cfg := &config.Config{
		SupervisorTimeout:       5 * time.Second,
		DispatchTick:            time.Second,
		MaxConcurrency:          1,
		WorkerJobTimeout:        time.Minute,
		GracefulShutdownTimeout: time.Second,
		SSEQueueSize:            8,
		IdempotencyTTL:          time.Minute,
		IdempotencyMaxSize:      4,
	}
	deps := app.Deps{LLM: llm, Tools: agent.NewRegistry(), Cfg: cfg}
	ws := app.NewWorkspace("", testdb.NewTestClient(t), deps)
	return NewDispatcher(nil, NewRunner(llm, deps.Tools, 0), cfg), ws
}

// seedWaitingRun creates a run parked on a spawned worker, the way the
// supervisor leaves it before enqueueing the job.
func seedWaitingRun(t *testing.T, ws *app.Workspace) *ent.AgentRun {
	t.Helper()
	ctx := context.Background()

	owner, err := ws.Users.GetOrCreateByEmail(ctx, "dispatch@example.com")
	require.NoError(t, err)
	ag, err := ws.Threads.GetOrCreateSupervisorAgent(ctx, owner.ID, "", "You are a supervisor.")
	require.NoError(t, err)
	thread, err := ws.Threads.GetOrCreateSupervisorThread(ctx, ag.ID, owner.ID)
	require.NoError(t, err)
	run, err := ws.Runs.CreateRun(ctx, ag.ID, thread.ID, owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)
	_, transitioned, err := ws.Runs.Transition(ctx, run.ID, agentrun.StatusWaiting, "")
	require.NoError(t, err)
	require.True(t, transitioned)
	return run
}

func claimOne(t *testing.T, ws *app.Workspace, run *ent.AgentRun, task string) *ent.WorkerJob {
	t.Helper()
	ctx := context.Background()

	_, err := ws.Jobs.Enqueue(ctx, services.EnqueueRequest{
		OwnerID:         run.OwnerID,
		Task:            task,
		Model:           "gpt-5-mini",
		SupervisorRunID: run.ID,
		Config:          map[string]any{"tool_call_id": "tc-1"},
	})
	require.NoError(t, err)

	claimed, err := ws.Jobs.ClaimBatch(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func payloadWorkerID(evs []events.Event, eventType string) string {
	for _, ev := range evs {
		if ev.Type == eventType {
			id, _ := ev.Payload["worker_id"].(string)
			return id
		}
	}
	return ""
}

func TestExecuteCarriesOneWorkerIDEndToEnd(t *testing.T) {
	llm := agent.NewScriptedClient(
		agent.ScriptedTurn{Content: "disk at 40%"},
		agent.ScriptedTurn{Content: "All checks passed."},
	)
	d, ws := newDispatchFixture(t, llm)
	ctx := context.Background()

	run := seedWaitingRun(t, ws)
	job := claimOne(t, ws, run, "check disk")

	d.wg.Add(1)
	require.True(t, d.sem.TryAcquire(1))
	require.True(t, d.slots.MarkActive(job.RunnerID, job.ID))
	d.mu.Lock()
	d.active++
	d.mu.Unlock()
	d.execute(ctx, ws, job)

	evs, err := ws.Store.EventsAfter(ctx, run.ID, 0, true)
	require.NoError(t, err)

	started := payloadWorkerID(evs, events.TypeWorkerStarted)
	require.NotEmpty(t, started, "worker_started names the worker")
	assert.Equal(t, started, payloadWorkerID(evs, events.TypeWorkerComplete))
	assert.Equal(t, started, payloadWorkerID(evs, events.TypeWorkerSummaryReady))

	done, err := ws.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, workerjob.StatusSuccess, done.Status)
	require.NotNil(t, done.WorkerID)
	assert.Equal(t, started, *done.WorkerID)

	// Conclusion kicked the parent resume; the supervisor turn finishes it.
	require.Eventually(t, func() bool {
		got, err := ws.Runs.GetRun(ctx, run.ID)
		return err == nil && got.Status == agentrun.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConcludeLosesRaceQuietly(t *testing.T) {
	llm := agent.NewScriptedClient(agent.ScriptedTurn{Content: "unused"})
	d, ws := newDispatchFixture(t, llm)
	ctx := context.Background()

	run := seedWaitingRun(t, ws)
	job := claimOne(t, ws, run, "check disk")

	// The reaper concluded the job first.
	_, transitioned, err := ws.Jobs.Complete(ctx, job.ID, workerjob.StatusTimeout, "worker execution exceeded job timeout", "")
	require.NoError(t, err)
	require.True(t, transitioned)

	now := time.Now()
	d.conclude(ws, job, &models.WorkerResult{
		WorkerID:   "wrk-late",
		Status:     models.JobStatusSuccess,
		Summary:    "late result",
		StartedAt:  now,
		FinishedAt: now,
	})

	// No second set of completion events, no resume: the run stays parked.
	evs, err := ws.Store.EventsAfter(ctx, run.ID, 0, true)
	require.NoError(t, err)
	assert.Empty(t, evs)

	got, err := ws.Runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusWaiting, got.Status)

	current, err := ws.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, workerjob.StatusTimeout, current.Status)
}
