package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/services"
)

// streamHandler handles GET /stream/runs/:id — replay persisted events after
// the client's cursor, then switch to live. Reconnecting with Last-Event-ID
// (or after_event_id) yields every later event exactly once, in id order.
func (s *Server) streamHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	ws := workspaceFrom(c)
	user, err := s.currentUser(c)
	if err != nil {
		return mapServiceError(err)
	}
	admin := services.IsAdmin(user)

	// Ownership check on a short-lived context; the stream itself must not
	// pin a DB connection.
	run, err := ws.Runs.GetOwnedRun(c.Request().Context(), runID, user.ID, admin)
	if err != nil {
		return mapServiceError(err)
	}

	afterID := parseAfterID(c)
	includeTokens := parseBoolParam(c, "include_tokens", true)

	// Subscribe before replay so nothing lands between the last replayed row
	// and the first live event.
	liveQ := newSSEQueue(s.cfg.SSEQueueSize)
	subscribed := append(events.AllLifecycleTypes(),
		events.TypeSupervisorHeartbeat, events.TypeWorkerHeartbeat)
	unsub := ws.Bus.SubscribeAll(subscribed, liveQ.push)
	defer func() {
		unsub()
		liveQ.close()
		ws.Seq.Reset(runID)
	}()

	history, err := s.loadHistory(ws, runID, afterID, includeTokens)
	if err != nil {
		return mapServiceError(err)
	}

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := newSSEWriter(w)
	st := streamState{
		runID:    runID,
		ownerID:  user.ID,
		admin:    admin,
		lastSent: afterID,
	}
	replayConcluded := false
	for _, ev := range history {
		if err := out.writeEvent(ev); err != nil {
			return nil
		}
		st.lastSent = ev.EventID
		if st.observe(ev) {
			replayConcluded = true
		}
	}

	// The run can conclude between the ownership check and the subscription;
	// its terminal event then arrives via replay, never the live queue, so the
	// replayed history decides closure too.
	if replayConcluded || services.IsTerminalStatus(run.Status) {
		return nil
	}

	return s.streamLive(c, out, liveQ, st)
}

// streamState tracks one live SSE connection.
type streamState struct {
	runID    string
	ownerID  string
	admin    bool
	lastSent int64

	// seq tags frames that carry no persisted id. Only the legacy live-only
	// stream sets it; the replay stream relies on persisted event ids.
	seq func() int64

	pendingWorkers int
	supervisorDone bool
}

// tag assigns a per-run sequence number to id-less frames on streams that
// have no persistent cursor.
func (st *streamState) tag(ev events.Event) events.Event {
	if st.seq != nil && ev.EventID == 0 {
		ev.EventID = st.seq()
	}
	return ev
}

// streamLive pumps the live queue until the run concludes, the client
// disconnects, or the queue overflows on a lifecycle event.
func (s *Server) streamLive(c *echo.Context, out *sseWriter, liveQ *sseQueue, st streamState) error {
	if err := out.writeHeartbeat("live stream started"); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			return nil

		case <-heartbeat.C:
			if err := out.writeHeartbeat("keepalive"); err != nil {
				return nil
			}

		case ev, ok := <-liveQ.ch:
			if !ok {
				// Queue overflowed on a lifecycle event: better to force a
				// reconnect-with-replay than to stream with a hole.
				return nil
			}
			if !st.wants(ev) {
				continue
			}
			if err := out.writeEvent(st.tag(ev)); err != nil {
				return nil
			}
			if ev.EventID > 0 {
				st.lastSent = ev.EventID
			}
			if st.observe(ev) {
				return nil
			}
		}
	}
}

// wants filters the shared bus feed down to this connection's run and owner,
// and drops events already delivered by replay.
func (st *streamState) wants(ev events.Event) bool {
	if events.IsWorkerToolEvent(ev.Type) && ev.RunID == "" {
		return false
	}
	if ev.RunID != st.runID {
		return false
	}
	if !st.admin && ev.OwnerID != "" && ev.OwnerID != st.ownerID {
		return false
	}
	if ev.EventID > 0 && ev.EventID <= st.lastSent {
		return false
	}
	return true
}

// observe updates worker bookkeeping and reports whether the stream is done.
// The stream outlives supervisor_complete until every spawned worker has
// reported, so a client never misses a late worker_complete.
func (st *streamState) observe(ev events.Event) bool {
	switch ev.Type {
	case events.TypeWorkerSpawned:
		st.pendingWorkers++
	case events.TypeWorkerComplete, events.TypeWorkerSummaryReady:
		if st.pendingWorkers > 0 {
			st.pendingWorkers--
		}
	case events.TypeSupervisorComplete:
		st.supervisorDone = true
	case events.TypeSupervisorDeferred, events.TypeError:
		return true
	}
	return st.supervisorDone && st.pendingWorkers == 0
}

// loadHistory reads the replay window on its own short-lived context.
func (s *Server) loadHistory(ws *app.Workspace, runID string, afterID int64, includeTokens bool) ([]events.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ws.Store.EventsAfter(ctx, runID, afterID, includeTokens)
}

// parseAfterID reads the replay cursor; the standard Last-Event-ID header
// wins over the after_event_id query parameter.
func parseAfterID(c *echo.Context) int64 {
	afterID := int64(0)
	if v := c.QueryParam("after_event_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			afterID = n
		}
	}
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			afterID = n
		}
	}
	return afterID
}

func parseBoolParam(c *echo.Context, name string, defaultVal bool) bool {
	v := c.QueryParam(name)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// legacyEventsHandler handles GET /supervisor/events?run_id=… — the live-only
// stream kept for older clients. No replay, no ids; reconnects lose whatever
// fired while disconnected. New clients use /stream/runs/:id.
func (s *Server) legacyEventsHandler(c *echo.Context) error {
	runID := c.QueryParam("run_id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run_id is required")
	}

	ws := workspaceFrom(c)
	user, err := s.currentUser(c)
	if err != nil {
		return mapServiceError(err)
	}
	admin := services.IsAdmin(user)

	run, err := ws.Runs.GetOwnedRun(c.Request().Context(), runID, user.ID, admin)
	if err != nil {
		return mapServiceError(err)
	}

	liveQ := newSSEQueue(s.cfg.SSEQueueSize)
	subscribed := append(events.AllLifecycleTypes(),
		events.TypeSupervisorHeartbeat, events.TypeWorkerHeartbeat)
	unsub := ws.Bus.SubscribeAll(subscribed, liveQ.push)
	defer func() {
		unsub()
		liveQ.close()
		ws.Seq.Reset(runID)
	}()

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	out := newSSEWriter(w)
	if services.IsTerminalStatus(run.Status) {
		return nil
	}

	return s.streamLive(c, out, liveQ, streamState{
		runID:   runID,
		ownerID: user.ID,
		admin:   admin,
		// No replay happened; deliver everything live from here on. Id-less
		// frames get per-run sequence numbers instead of persisted ids.
		lastSent: 0,
		seq:      func() int64 { return ws.Seq.Next(runID) },
	})
}
