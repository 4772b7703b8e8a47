package events

import "unicode/utf8"

// Payload builders for the canonical event types. Each returns the wire bag
// for one event; Append/PublishTransient add run_id and owner_id.

// SupervisorStartedPayload announces a new supervisor turn.
func SupervisorStartedPayload(threadID, task, traceID string) map[string]any {
	return map[string]any{
		"thread_id": threadID,
		"task":      task,
		"trace_id":  traceID,
	}
}

// SupervisorTokenPayload carries one streamed output token.
func SupervisorTokenPayload(token string) map[string]any {
	return map[string]any{"token": token}
}

// SupervisorCompletePayload reports the terminal outcome of a run.
func SupervisorCompletePayload(status, message string, durationMS int64) map[string]any {
	p := map[string]any{
		"status":      status,
		"duration_ms": durationMS,
	}
	if message != "" {
		p["message"] = message
	}
	return p
}

// SupervisorDeferredPayload reports a wall-clock deferral, not a failure.
func SupervisorDeferredPayload(timeoutSeconds float64, streamURL string) map[string]any {
	return map[string]any{
		"message":         "Still working on this in the background...",
		"timeout_seconds": timeoutSeconds,
		"attach_url":      streamURL,
	}
}

// WorkerSpawnedPayload announces a queued worker job.
func WorkerSpawnedPayload(jobID, toolCallID, task, model string) map[string]any {
	return map[string]any{
		"job_id":       jobID,
		"tool_call_id": toolCallID,
		"task":         task,
		"model":        model,
	}
}

// WorkerStartedPayload announces a claimed job beginning execution.
func WorkerStartedPayload(jobID, workerID, task string) map[string]any {
	return map[string]any{
		"job_id":    jobID,
		"worker_id": workerID,
		"task":      truncateTask(task),
	}
}

// WorkerCompletePayload reports a job's terminal outcome.
func WorkerCompletePayload(jobID, workerID, status, errMsg string, durationMS int64) map[string]any {
	p := map[string]any{
		"job_id":      jobID,
		"worker_id":   workerID,
		"status":      status,
		"duration_ms": durationMS,
	}
	if errMsg != "" {
		p["error"] = errMsg
	}
	return p
}

// WorkerSummaryReadyPayload carries the summary injected on resume.
func WorkerSummaryReadyPayload(jobID, workerID, summary string) map[string]any {
	return map[string]any{
		"job_id":    jobID,
		"worker_id": workerID,
		"summary":   summary,
	}
}

// WorkerToolPayload describes one tool invocation inside a worker.
func WorkerToolPayload(jobID, toolName string, extra map[string]any) map[string]any {
	p := map[string]any{
		"job_id":    jobID,
		"tool_name": toolName,
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

// ErrorPayload reports an external failure on a run or job.
func ErrorPayload(message string) map[string]any {
	return map[string]any{"message": message}
}

// Task text in events is display-only; keep frames small. Cuts on a rune
// boundary so a multi-byte character is never split into invalid text.
func truncateTask(task string) string {
	const max = 100
	if len(task) <= max {
		return task
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(task[cut]) {
		cut--
	}
	return task[:cut]
}
