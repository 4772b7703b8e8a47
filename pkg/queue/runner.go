package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
)

const (
	workerMaxTurns = 8

	// summaryLimit bounds the text injected back into the supervisor thread.
	summaryLimit = 2000
)

// DefaultWorkerInstructions is the worker system prompt.
const DefaultWorkerInstructions = "You are a background worker agent. Complete the assigned task " +
	"using the available tools and reply with a concise summary of the outcome."

// Runner executes one claimed job's agent loop. The worker transcript is
// ephemeral: only the summary survives, injected into the supervisor thread
// on resume.
type Runner struct {
	llm       agent.LLMClient
	tools     *agent.Registry
	heartbeat time.Duration
}

// NewRunner creates a worker runner.
func NewRunner(llm agent.LLMClient, tools *agent.Registry, heartbeat time.Duration) *Runner {
	return &Runner{llm: llm, tools: tools, heartbeat: heartbeat}
}

// Execute runs the worker loop to completion or ctx expiry. workerID is the
// correlation id the dispatcher assigned at start. Never returns nil; the
// result status classifies the outcome.
func (r *Runner) Execute(ctx context.Context, job *ent.WorkerJob, workerID string, sink EventSink) *models.WorkerResult {
	result := &models.WorkerResult{
		WorkerID:  workerID,
		StartedAt: time.Now(),
	}
	runID := strDeref(job.SupervisorRunID)

	if runID != "" && r.heartbeat > 0 {
		stop := r.startHeartbeat(runID, job, workerID, sink)
		defer stop()
	}

	msgs := agent.BuildWorkerMessages(DefaultWorkerInstructions, job.Task)

	for turn := 0; turn < workerMaxTurns; turn++ {
		resp, err := r.llm.Complete(ctx, &agent.CompletionRequest{
			Model:    job.Model,
			Messages: msgs,
			Tools:    r.tools.Definitions(nil),
		})
		if err != nil {
			return r.finish(result, classifyWorkerError(ctx, err), "", err.Error())
		}

		if !resp.HasToolCalls() {
			return r.finish(result, models.JobStatusSuccess, resp.Content, "")
		}

		msgs = append(msgs, agent.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		msgs = append(msgs, r.runTools(ctx, job, runID, result.WorkerID, resp.ToolCalls, sink)...)

		if err := ctx.Err(); err != nil {
			return r.finish(result, classifyWorkerError(ctx, err), "", err.Error())
		}
	}

	return r.finish(result, models.JobStatusFailed, "",
		fmt.Sprintf("worker exceeded %d turns without finishing", workerMaxTurns))
}

// runTools executes a turn's tool calls sequentially and reports each one on
// the parent run's stream.
func (r *Runner) runTools(ctx context.Context, job *ent.WorkerJob, runID, workerID string, calls []models.ToolCall, sink EventSink) []agent.Message {
	out := make([]agent.Message, 0, len(calls))
	for _, call := range calls {
		r.emitTool(runID, job, events.TypeWorkerToolStarted, call.Name, nil, sink)

		content, err := r.invoke(ctx, call)
		if err != nil {
			content = fmt.Sprintf("Error: %v", err)
			r.emitTool(runID, job, events.TypeWorkerToolFailed, call.Name,
				map[string]any{"error": err.Error()}, sink)
		} else {
			r.emitTool(runID, job, events.TypeWorkerToolCompleted, call.Name, nil, sink)
		}

		out = append(out, agent.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return out
}

func (r *Runner) invoke(ctx context.Context, call models.ToolCall) (string, error) {
	if call.Name == agent.SpawnWorkerToolName {
		// Workers do not recurse.
		return "", fmt.Errorf("tool %s is not available to workers", call.Name)
	}
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return tool.Invoke(ctx, call.Arguments)
}

// emitTool persists a per-tool event on the parent run. Jobs with no parent
// run have no stream; their tool activity is log-only.
func (r *Runner) emitTool(runID string, job *ent.WorkerJob, eventType, toolName string, extra map[string]any, sink EventSink) {
	if runID == "" {
		slog.Debug("worker tool event without parent run", "job_id", job.ID, "tool", toolName, "type", eventType)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := sink.Append(ctx, runID, job.OwnerID, eventType,
		events.WorkerToolPayload(job.ID, toolName, extra)); err != nil {
		slog.Warn("failed to append worker tool event", "job_id", job.ID, "tool", toolName, "error", err)
	}
}

func (r *Runner) startHeartbeat(runID string, job *ent.WorkerJob, workerID string, sink EventSink) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sink.PublishTransient(runID, job.OwnerID, events.TypeWorkerHeartbeat, map[string]any{
					"job_id":    job.ID,
					"worker_id": workerID,
				})
			}
		}
	}()
	return func() { close(stop) }
}

func (r *Runner) finish(result *models.WorkerResult, status, output, errMsg string) *models.WorkerResult {
	result.Status = status
	result.Output = output
	result.Summary = truncateSummary(output)
	result.Error = errMsg
	result.FinishedAt = time.Now()
	return result
}

// classifyWorkerError maps context expiry to timeout; everything else fails.
func classifyWorkerError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.JobStatusTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.JobStatusTimeout
	}
	return models.JobStatusFailed
}

// newWorkerID mints the correlation id assigned when a job starts executing.
func newWorkerID() string {
	return "wrk-" + uuid.New().String()[:8]
}

// truncateSummary cuts on a rune boundary so a multi-byte character is never
// split into invalid text.
func truncateSummary(s string) string {
	if len(s) <= summaryLimit {
		return s
	}
	cut := summaryLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
