package models

// Run statuses (persisted and wire).
const (
	RunStatusRunning   = "running"
	RunStatusWaiting   = "waiting"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusDeferred  = "deferred"
	RunStatusCancelled = "cancelled"
)

// Run triggers.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// IsTerminalRunStatus reports whether a run status is terminal.
// Terminal statuses are sticky: transitions out of them are no-ops.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusFailed, RunStatusDeferred, RunStatusCancelled:
		return true
	}
	return false
}
