// Package events provides the in-process event bus, the durable per-run
// event store, and the per-run sequence counters behind the SSE endpoints.
//
// Every lifecycle event is persisted first and published to the bus only
// after the row is committed, so a client that reconnects with the last id
// it saw can replay without gaps. Transient events (heartbeats) skip the
// store and carry no id.
package events

import "time"

// Supervisor lifecycle event types.
const (
	TypeSupervisorStarted  = "supervisor_started"
	TypeSupervisorThinking = "supervisor_thinking"
	TypeSupervisorToken    = "supervisor_token"
	TypeSupervisorComplete = "supervisor_complete"
	TypeSupervisorDeferred = "supervisor_deferred"
	TypeSupervisorWaiting  = "supervisor_waiting"
	TypeSupervisorResumed  = "supervisor_resumed"
)

// Worker lifecycle event types.
const (
	TypeWorkerSpawned       = "worker_spawned"
	TypeWorkerStarted       = "worker_started"
	TypeWorkerComplete      = "worker_complete"
	TypeWorkerSummaryReady  = "worker_summary_ready"
	TypeWorkerToolStarted   = "worker_tool_started"
	TypeWorkerToolCompleted = "worker_tool_completed"
	TypeWorkerToolFailed    = "worker_tool_failed"
)

// Transient event types (bus only, never persisted, never carry an id).
const (
	TypeSupervisorHeartbeat = "supervisor_heartbeat"
	TypeWorkerHeartbeat     = "worker_heartbeat"
	TypeHeartbeat           = "heartbeat"
)

// TypeError is emitted when a run or job fails for an external reason.
const TypeError = "error"

// Event is one bus message. EventID is the persisted row id, zero for
// transient events. Payload is the wire bag delivered to SSE clients.
type Event struct {
	Type      string
	RunID     string
	OwnerID   string
	EventID   int64
	Payload   map[string]any
	Timestamp time.Time
}

// IsWorkerToolEvent reports whether the type is a per-tool worker event.
// Tool events lacking a run_id are dropped by the SSE layer so output from
// an unrelated worker never leaks into a run's stream.
func IsWorkerToolEvent(eventType string) bool {
	switch eventType {
	case TypeWorkerToolStarted, TypeWorkerToolCompleted, TypeWorkerToolFailed:
		return true
	}
	return false
}

// IsTransient reports whether the type is bus-only and never persisted.
func IsTransient(eventType string) bool {
	switch eventType {
	case TypeSupervisorHeartbeat, TypeWorkerHeartbeat, TypeHeartbeat:
		return true
	}
	return false
}

// AllLifecycleTypes lists every persisted event type; the SSE live path
// subscribes to all of them.
func AllLifecycleTypes() []string {
	return []string{
		TypeSupervisorStarted,
		TypeSupervisorThinking,
		TypeSupervisorToken,
		TypeSupervisorComplete,
		TypeSupervisorDeferred,
		TypeSupervisorWaiting,
		TypeSupervisorResumed,
		TypeWorkerSpawned,
		TypeWorkerStarted,
		TypeWorkerComplete,
		TypeWorkerSummaryReady,
		TypeWorkerToolStarted,
		TypeWorkerToolCompleted,
		TypeWorkerToolFailed,
		TypeError,
	}
}
