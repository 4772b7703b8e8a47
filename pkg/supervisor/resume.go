package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agentrun"
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/services"
)

// ResumeRequest carries a finished worker's outcome back to its parked run.
type ResumeRequest struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
	Summary  string `json:"summary"`
	Error    string `json:"error"`
}

// ResumeResult reports whether the run was actually resumed.
type ResumeResult struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Resume outcome statuses.
const (
	ResumeStatusResumed = "resumed"
	ResumeStatusSkipped = "skipped"
)

// Resumer brings WAITING runs back to life when their worker finishes. It is
// idempotent: duplicate triggers for the same run resolve to one resumption
// via an atomic WAITING to RUNNING flip, and the tool-result injection is
// deduplicated by tool_call_id.
type Resumer struct {
	svc *Service
}

// NewResumer creates a resume controller over a supervisor service.
func NewResumer(svc *Service) *Resumer {
	return &Resumer{svc: svc}
}

// Resume injects the worker outcome as a tool message and restarts the turn
// loop in the background. Runs not in WAITING are skipped, never failed.
func (r *Resumer) Resume(ctx context.Context, runID string, req ResumeRequest) (*ResumeResult, error) {
	run, err := r.svc.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != agentrun.StatusWaiting {
		slog.Info("resume skipped, run not waiting",
			"run_id", runID, "status", run.Status, "job_id", req.JobID)
		return &ResumeResult{
			RunID:  runID,
			Status: ResumeStatusSkipped,
			Reason: fmt.Sprintf("run is %s", run.Status),
		}, nil
	}

	flipped, err := r.svc.runs.TransitionFrom(ctx, runID, agentrun.StatusWaiting, agentrun.StatusRunning)
	if err != nil {
		return nil, err
	}
	if !flipped {
		// Another trigger won the flip; its resumption is in flight.
		return &ResumeResult{
			RunID:  runID,
			Status: ResumeStatusSkipped,
			Reason: "concurrent resume in progress",
		}, nil
	}

	ag, thread, err := r.loadRunContext(ctx, run)
	if err != nil {
		r.svc.failRun(run, err)
		return nil, err
	}

	toolCallID, parentID := r.correlate(ctx, thread.ID, req.JobID)
	content := resumeToolContent(req)

	if _, created, err := r.svc.threads.GetOrCreateToolMessage(ctx, thread.ID, toolCallID, content, parentID); err != nil {
		r.svc.failRun(run, fmt.Errorf("failed to inject worker result: %w", err))
		return nil, err
	} else if !created {
		slog.Info("worker result already injected", "run_id", runID, "tool_call_id", toolCallID)
	}

	go r.svc.ResumeTurns(run, ag, thread)

	slog.Info("supervisor run resumed",
		"run_id", runID, "job_id", req.JobID, "worker_status", req.Status)
	return &ResumeResult{RunID: runID, Status: ResumeStatusResumed}, nil
}

func (r *Resumer) loadRunContext(ctx context.Context, run *ent.AgentRun) (*ent.Agent, *ent.Thread, error) {
	ag, err := r.svc.threads.GetAgent(ctx, run.AgentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run agent: %w", err)
	}
	thread, err := r.svc.threads.GetThread(ctx, run.ThreadID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run thread: %w", err)
	}
	return ag, thread, nil
}

// correlate recovers the tool_call_id the spawn was recorded under. The job
// config is authoritative; the thread transcript is the fallback for jobs
// enqueued before the config carried it.
func (r *Resumer) correlate(ctx context.Context, threadID, jobID string) (toolCallID, parentID string) {
	if jobID != "" {
		if job, err := r.svc.jobs.GetJob(ctx, jobID); err == nil && job.Config != nil {
			toolCallID, _ = job.Config["tool_call_id"].(string)
		}
	}

	assistant, err := r.svc.threads.FindAssistantMessageForToolCall(ctx, threadID, toolCallID)
	if err != nil {
		if !services.IsNotFound(err) {
			slog.Warn("failed to locate spawning assistant message", "thread_id", threadID, "error", err)
		}
	} else {
		parentID = assistant.ID
		if toolCallID == "" {
			for _, tc := range assistant.ToolCalls {
				if tc.Name == agent.SpawnWorkerToolName {
					toolCallID = tc.ID
					break
				}
			}
		}
	}

	if toolCallID == "" {
		// Last resort keeps the injection idempotent per job.
		toolCallID = "job-" + jobID
	}
	return toolCallID, parentID
}

// resumeToolContent renders a worker outcome as the tool message the LLM
// reads on the next turn.
func resumeToolContent(req ResumeRequest) string {
	switch req.Status {
	case models.JobStatusSuccess:
		summary := req.Summary
		if summary == "" {
			summary = "(no summary provided)"
		}
		return "Worker completed:\n\n" + summary
	case models.JobStatusTimeout:
		return "Worker timed out before finishing. Partial context: " + req.Summary
	default:
		msg := req.Error
		if msg == "" {
			msg = "unknown error"
		}
		return "Worker failed: " + msg
	}
}
