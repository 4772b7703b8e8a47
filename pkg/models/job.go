package models

import "time"

// Worker job statuses.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
	JobStatusTimeout = "timeout"
)

// IsTerminalJobStatus reports whether a job status is terminal.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusSuccess, JobStatusFailed, JobStatusTimeout:
		return true
	}
	return false
}

// WorkerResult is the outcome of one worker execution.
// Summary is short enough to be injected as the supervisor's tool message.
type WorkerResult struct {
	WorkerID   string
	Status     string
	Output     string
	Summary    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// DurationMS returns the wall-clock execution time in milliseconds.
func (r *WorkerResult) DurationMS() int64 {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}
