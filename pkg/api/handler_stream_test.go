package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/jarvislabs/jarvisd/pkg/events"
)

func TestStreamStateFilters(t *testing.T) {
	st := &streamState{runID: "run-1", ownerID: "user-1", lastSent: 5}

	assert.False(t, st.wants(events.Event{Type: events.TypeSupervisorThinking, RunID: "run-2", OwnerID: "user-1", EventID: 6}),
		"foreign run is filtered")
	assert.False(t, st.wants(events.Event{Type: events.TypeSupervisorThinking, RunID: "run-1", OwnerID: "user-2", EventID: 6}),
		"foreign owner is filtered")
	assert.False(t, st.wants(events.Event{Type: events.TypeSupervisorThinking, RunID: "run-1", OwnerID: "user-1", EventID: 5}),
		"replayed events are deduplicated by id")
	assert.False(t, st.wants(events.Event{Type: events.TypeWorkerToolStarted, RunID: "", EventID: 6}),
		"worker tool events without a run id are dropped")
	assert.True(t, st.wants(events.Event{Type: events.TypeSupervisorThinking, RunID: "run-1", OwnerID: "user-1", EventID: 6}))
	assert.True(t, st.wants(events.Event{Type: events.TypeWorkerHeartbeat, RunID: "run-1", OwnerID: "user-1"}),
		"transient events have no id and pass the dedupe")
}

func TestStreamStateAdminSeesForeignOwner(t *testing.T) {
	st := &streamState{runID: "run-1", ownerID: "admin-1", admin: true}
	assert.True(t, st.wants(events.Event{Type: events.TypeSupervisorThinking, RunID: "run-1", OwnerID: "user-2", EventID: 1}))
}

func TestStreamStateClosesAfterAllWorkersReport(t *testing.T) {
	st := &streamState{runID: "run-1", ownerID: "user-1"}

	assert.False(t, st.observe(events.Event{Type: events.TypeWorkerSpawned}))
	assert.False(t, st.observe(events.Event{Type: events.TypeSupervisorComplete}),
		"supervisor done but a worker is still pending")
	assert.True(t, st.observe(events.Event{Type: events.TypeWorkerComplete}),
		"last pending worker reported, stream closes")
}

func TestStreamStateClosesOnDeferredAndError(t *testing.T) {
	st := &streamState{runID: "run-1", ownerID: "user-1"}
	assert.True(t, st.observe(events.Event{Type: events.TypeSupervisorDeferred}))

	st = &streamState{runID: "run-1", ownerID: "user-1"}
	assert.True(t, st.observe(events.Event{Type: events.TypeError}))
}

func TestStreamStatePendingNeverGoesNegative(t *testing.T) {
	st := &streamState{runID: "run-1", ownerID: "user-1"}

	// Both complete and summary_ready fire for one worker.
	st.observe(events.Event{Type: events.TypeWorkerSpawned})
	st.observe(events.Event{Type: events.TypeWorkerComplete})
	st.observe(events.Event{Type: events.TypeWorkerSummaryReady})
	assert.Equal(t, 0, st.pendingWorkers)
	assert.True(t, st.observe(events.Event{Type: events.TypeSupervisorComplete}))
}

func TestParseAfterID(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/stream/runs/run-1?after_event_id=7", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, int64(7), parseAfterID(c))

	// Last-Event-ID header wins over the query parameter.
	req = httptest.NewRequest(http.MethodGet, "/stream/runs/run-1?after_event_id=7", nil)
	req.Header.Set("Last-Event-ID", "12")
	c = e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, int64(12), parseAfterID(c))

	// Garbage falls back to zero.
	req = httptest.NewRequest(http.MethodGet, "/stream/runs/run-1?after_event_id=nope", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, int64(0), parseAfterID(c))
}

func TestParseBoolParam(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?include_tokens=false", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.False(t, parseBoolParam(c, "include_tokens", true))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	assert.True(t, parseBoolParam(c, "include_tokens", true))
}
