// Package queue dispatches durable worker jobs: claiming queued rows, running
// the worker agent loop, reporting outcomes back to the parked supervisor,
// and reaping jobs orphaned by crashed processes.
package queue

import (
	"context"
	"time"
)

// EventSink is where the queue reports lifecycle events. Satisfied by the
// tenant workspace's event store.
type EventSink interface {
	Append(ctx context.Context, runID, ownerID, eventType string, payload map[string]any) (int64, error)
	PublishTransient(runID, ownerID, eventType string, payload map[string]any)
}

// Health is a dispatcher status snapshot for the readiness endpoint.
type Health struct {
	Running       bool      `json:"running"`
	ActiveJobs    int       `json:"active_jobs"`
	MaxConcurrent int       `json:"max_concurrent"`
	BusyRunners   []string  `json:"busy_runners,omitempty"`
	LastTick      time.Time `json:"last_tick"`
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
