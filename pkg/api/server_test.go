package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agentrun"
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/queue"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
	"github.com/jarvislabs/jarvisd/test/util"
)

// newTestServer boots the full HTTP surface over a single-tenant router whose
// default schema is a throwaway, plus the default workspace for seeding.
func newTestServer(t *testing.T, llm agent.LLMClient) (*httptest.Server, *app.Workspace) {
	t.Helper()
	ctx := context.Background()

	baseCfg := util.BaseConfig(t)
	schema := util.GenerateSchemaName(t)

	bootstrap, err := database.NewClient(ctx, baseCfg)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, bootstrap.DB(), schema))
	t.Cleanup(func() {
		_ = database.DropSchema(context.Background(), bootstrap.DB(), schema)
		_ = bootstrap.Close()
	})

	cfg := &config.Config{
		SupervisorTimeout:       5 * time.Second,
		DispatchTick:            time.Second,
		MaxConcurrency:          1,
		WorkerJobTimeout:        time.Minute,
		SSEHeartbeat:            time.Minute,
		SSEQueueSize:            64,
		IdempotencyTTL:          time.Minute,
		IdempotencyMaxSize:      16,
		GracefulShutdownTimeout: time.Second,
	}
	deps := app.Deps{LLM: llm, Tools: agent.NewRegistry(), Cfg: cfg}

	router, err := tenant.NewRouter(ctx, baseCfg.WithSchema(schema), deps, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	dispatcher := queue.NewDispatcher(router, queue.NewRunner(llm, deps.Tools, 0), cfg)
	srv := NewServer(router, dispatcher, cfg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, router.Default()
}

// seedRun creates a run for the given principal without going through dispatch.
func seedRun(t *testing.T, ws *app.Workspace, email string) *ent.AgentRun {
	t.Helper()
	ctx := context.Background()

	owner, err := ws.Users.GetOrCreateByEmail(ctx, email)
	require.NoError(t, err)
	ag, err := ws.Threads.GetOrCreateSupervisorAgent(ctx, owner.ID, "", "You are a supervisor.")
	require.NoError(t, err)
	thread, err := ws.Threads.GetOrCreateSupervisorThread(ctx, ag.ID, owner.ID)
	require.NoError(t, err)
	run, err := ws.Runs.CreateRun(ctx, ag.ID, thread.ID, owner.ID, agentrun.TriggerApi)
	require.NoError(t, err)
	return run
}

func getBody(t *testing.T, url string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStreamReplayAfterReconnect(t *testing.T) {
	ts, ws := newTestServer(t, agent.NewScriptedClient(agent.ScriptedTurn{Content: "hello"}))
	ctx := context.Background()

	run := seedRun(t, ws, "api-client")
	id1, err := ws.Store.Append(ctx, run.ID, run.OwnerID, events.TypeSupervisorStarted, map[string]any{"task": "t"})
	require.NoError(t, err)
	id2, err := ws.Store.Append(ctx, run.ID, run.OwnerID, events.TypeSupervisorToken, map[string]any{"token": "he"})
	require.NoError(t, err)
	id3, err := ws.Store.Append(ctx, run.ID, run.OwnerID, events.TypeSupervisorComplete, map[string]any{"status": "success"})
	require.NoError(t, err)
	_, _, err = ws.Runs.Transition(ctx, run.ID, agentrun.StatusSuccess, "")
	require.NoError(t, err)

	streamURL := ts.URL + "/stream/runs/" + run.ID

	// First connection sees the whole history in id order.
	code, body := getBody(t, streamURL, nil)
	require.Equal(t, http.StatusOK, code)
	for _, id := range []int64{id1, id2, id3} {
		assert.Contains(t, body, fmt.Sprintf("id: %d\n", id))
	}
	assert.Less(t,
		strings.Index(body, fmt.Sprintf("id: %d\n", id1)),
		strings.Index(body, fmt.Sprintf("id: %d\n", id3)))

	// Reconnecting with Last-Event-ID resumes strictly after the cursor.
	code, body = getBody(t, streamURL, map[string]string{"Last-Event-ID": strconv.FormatInt(id2, 10)})
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, fmt.Sprintf("id: %d\n", id1))
	assert.NotContains(t, body, fmt.Sprintf("id: %d\n", id2))
	assert.Contains(t, body, fmt.Sprintf("id: %d\n", id3))

	// Token frames drop when the client opts out.
	code, body = getBody(t, streamURL+"?include_tokens=false", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, events.TypeSupervisorToken)
	assert.Contains(t, body, events.TypeSupervisorComplete)
}

func TestStreamClosesWhenHistoryConcludesRun(t *testing.T) {
	ts, ws := newTestServer(t, agent.NewScriptedClient(agent.ScriptedTurn{Content: "hello"}))
	ctx := context.Background()

	// The run row still reads running, but the terminal event is already in
	// the log. Replay alone must conclude the stream instead of parking the
	// client on heartbeats.
	run := seedRun(t, ws, "api-client")
	_, err := ws.Store.Append(ctx, run.ID, run.OwnerID, events.TypeSupervisorComplete, map[string]any{"status": "success"})
	require.NoError(t, err)

	start := time.Now()
	code, body := getBody(t, ts.URL+"/stream/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, events.TypeSupervisorComplete)
	assert.Less(t, time.Since(start), 3*time.Second, "stream ends with the replay")
}

func TestStreamHidesForeignRuns(t *testing.T) {
	ts, ws := newTestServer(t, agent.NewScriptedClient(agent.ScriptedTurn{Content: "hello"}))

	foreign := seedRun(t, ws, "someone-else@example.com")

	code, _ := getBody(t, ts.URL+"/stream/runs/"+foreign.ID, nil)
	assert.Equal(t, http.StatusNotFound, code, "a foreign run is indistinguishable from a missing one")

	code, _ = getBody(t, ts.URL+"/stream/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLegacyStreamTagsIdlessFrames(t *testing.T) {
	ts, ws := newTestServer(t, agent.NewScriptedClient(agent.ScriptedTurn{Content: "hello"}))
	ctx := context.Background()

	run := seedRun(t, ws, "api-client")

	// The subscription is live once response headers arrive.
	resp, err := http.Get(ts.URL + "/supervisor/events?run_id=" + run.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ws.Store.PublishTransient(run.ID, run.OwnerID, events.TypeWorkerHeartbeat, map[string]any{"job_id": "j1"})
	_, err = ws.Store.Append(ctx, run.ID, run.OwnerID, events.TypeSupervisorComplete, map[string]any{"status": "success"})
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Transient frames have no persisted id; the per-run sequence tags them.
	assert.Contains(t, string(body), "id: 1\nevent: "+events.TypeWorkerHeartbeat)
	assert.Contains(t, string(body), events.TypeSupervisorComplete)
}

func TestDispatchEndpointIsIdempotent(t *testing.T) {
	ts, ws := newTestServer(t, agent.NewScriptedClient(agent.ScriptedTurn{Content: "hello"}))

	post := func() map[string]any {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/supervisor",
			bytes.NewBufferString(`{"task":"say hello"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "k1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	first := post()
	assert.Equal(t, models.RunStatusRunning, first["status"])
	assert.NotEmpty(t, first["run_id"])
	assert.Equal(t, "/stream/runs/"+first["run_id"].(string), first["stream_url"])

	// The same key within the TTL returns the original run.
	second := post()
	assert.Equal(t, first["run_id"], second["run_id"])

	require.Eventually(t, func() bool {
		run, err := ws.Runs.GetRun(context.Background(), first["run_id"].(string))
		return err == nil && run.Status == agentrun.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
}
