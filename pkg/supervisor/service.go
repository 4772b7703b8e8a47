// Package supervisor drives supervisor runs end-to-end: dispatch, the LLM
// turn loop, the spawn_worker interrupt, deferral on timeout, cancellation,
// and resumption after worker completion.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agentrun"
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/services"
)

const (
	defaultMaxTurns = 10

	// dbOpTimeout bounds the detached writes (events, status transitions)
	// that must land even after the turn budget expired.
	dbOpTimeout = 10 * time.Second
)

// DefaultInstructions is the supervisor system prompt used when the owner
// has not configured one.
const DefaultInstructions = "You are a supervisor agent coordinating background workers. " +
	"Delegate long-running or machine-local subtasks with the spawn_worker tool and " +
	"aggregate their results into a concise answer for the user."

// Config tunes the supervisor engine.
type Config struct {
	// Timeout is the wall-clock budget of one turn loop; expiry defers the
	// run instead of failing it.
	Timeout time.Duration

	// MaxTurns caps LLM round-trips per dispatch, guarding against tool loops.
	MaxTurns int

	// Instructions overrides DefaultInstructions when set.
	Instructions string
}

// Service executes supervisor runs against one tenant's database.
type Service struct {
	threads *services.ThreadService
	runs    *services.RunService
	jobs    *services.JobService
	store   *events.Store
	seq     *events.SeqRegistry
	llm     agent.LLMClient
	tools   *agent.Registry
	tasks   *TaskRegistry
	cfg     Config
}

// NewService wires a supervisor service.
func NewService(
	threads *services.ThreadService,
	runs *services.RunService,
	jobs *services.JobService,
	store *events.Store,
	seq *events.SeqRegistry,
	llm agent.LLMClient,
	tools *agent.Registry,
	tasks *TaskRegistry,
	cfg Config,
) *Service {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	return &Service{
		threads: threads,
		runs:    runs,
		jobs:    jobs,
		store:   store,
		seq:     seq,
		llm:     llm,
		tools:   tools,
		tasks:   tasks,
		cfg:     cfg,
	}
}

// Runs exposes the run registry for handlers sharing this service.
func (s *Service) Runs() *services.RunService { return s.runs }

// Store exposes the event store for handlers sharing this service.
func (s *Service) Store() *events.Store { return s.store }

// Seq exposes the per-run sequence registry.
func (s *Service) Seq() *events.SeqRegistry { return s.seq }

// DispatchResult acknowledges a dispatched task. The stream is the source
// of truth for the outcome.
type DispatchResult struct {
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// Dispatch accepts a task, creates the run, and starts the turn loop in the
// background. Returns immediately with status running.
func (s *Service) Dispatch(ctx context.Context, owner *ent.User, task string) (*DispatchResult, error) {
	if task == "" {
		return nil, services.NewValidationError("task", "required")
	}

	model := ""
	if owner.Prefs != nil {
		model, _ = owner.Prefs["supervisor_model"].(string)
	}

	ag, err := s.threads.GetOrCreateSupervisorAgent(ctx, owner.ID, model, s.cfg.Instructions)
	if err != nil {
		return nil, err
	}
	thread, err := s.threads.GetOrCreateSupervisorThread(ctx, ag.ID, owner.ID)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.CreateRun(ctx, ag.ID, thread.ID, owner.ID, agentrun.TriggerApi)
	if err != nil {
		return nil, err
	}

	slog.Info("supervisor run dispatched",
		"run_id", run.ID, "owner_id", owner.ID, "thread_id", thread.ID)

	go s.executeDispatch(run, ag, thread, task)

	return &DispatchResult{
		RunID:     run.ID,
		ThreadID:  thread.ID,
		Status:    models.RunStatusRunning,
		StreamURL: StreamURL(run.ID),
	}, nil
}

// StreamURL returns the replay+live stream path of a run.
func StreamURL(runID string) string {
	return "/stream/runs/" + runID
}

// executeDispatch is the detached body of a dispatched run.
func (s *Service) executeDispatch(run *ent.AgentRun, ag *ent.Agent, thread *ent.Thread, task string) {
	ctx, release := s.tasks.Register(run.ID, context.Background())
	defer release()

	if _, err := s.threads.AppendMessage(s.dbCtx(), thread.ID, models.RoleUser, task, services.MessageOptions{}); err != nil {
		s.failRun(run, fmt.Errorf("failed to record task: %w", err))
		return
	}

	s.append(run.ID, run.OwnerID, events.TypeSupervisorStarted,
		events.SupervisorStartedPayload(thread.ID, task, run.TraceID))

	s.runTurnLoop(ctx, run, ag, thread)
}

// ResumeTurns re-enters the turn loop for a run brought back to RUNNING by
// the resume controller. The injected tool message is already on the thread.
func (s *Service) ResumeTurns(run *ent.AgentRun, ag *ent.Agent, thread *ent.Thread) {
	ctx, release := s.tasks.Register(run.ID, context.Background())
	defer release()

	s.append(run.ID, run.OwnerID, events.TypeSupervisorResumed, map[string]any{
		"thread_id": thread.ID,
	})

	s.runTurnLoop(ctx, run, ag, thread)
}

// runTurnLoop executes LLM turns until a final answer, a worker interrupt,
// the wall-clock budget, cancellation, or an external failure.
func (s *Service) runTurnLoop(ctx context.Context, run *ent.AgentRun, ag *ent.Agent, thread *ent.Thread) {
	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for turn := 0; turn < s.cfg.MaxTurns; turn++ {
		history, err := s.threads.History(s.dbCtx(), thread.ID)
		if err != nil {
			s.failRun(run, err)
			return
		}

		s.append(run.ID, run.OwnerID, events.TypeSupervisorThinking, map[string]any{})

		req := &agent.CompletionRequest{
			Model:    ag.Model,
			Messages: agent.BuildSupervisorMessages(ag.Instructions, history, agent.PromptExtras{}),
			Tools:    s.supervisorTools(ag),
			OnToken: func(token string) {
				if _, err := s.store.Append(s.dbCtx(), run.ID, run.OwnerID,
					events.TypeSupervisorToken, events.SupervisorTokenPayload(token)); err != nil {
					slog.Warn("failed to persist token event", "run_id", run.ID, "error", err)
				}
			},
		}

		resp, err := s.llm.Complete(turnCtx, req)
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				s.deferRun(run)
			case errors.Is(err, context.Canceled):
				// The cancel endpoint owns the transition and the terminal event.
				slog.Info("supervisor turn cancelled", "run_id", run.ID)
			default:
				s.failRun(run, fmt.Errorf("llm turn failed: %w", err))
			}
			return
		}

		if !resp.HasToolCalls() {
			s.completeRun(run, thread, resp.Content)
			return
		}

		assistant, calls, err := s.persistAssistantTurn(thread.ID, resp)
		if err != nil {
			s.failRun(run, err)
			return
		}

		if spawn := findSpawnWorkerCall(calls); spawn != nil {
			s.interruptForWorker(run, ag, spawn)
			return
		}

		if err := s.executeInlineTools(turnCtx, run, thread, assistant, calls); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.deferRun(run)
			} else if errors.Is(err, context.Canceled) {
				slog.Info("supervisor tools cancelled", "run_id", run.ID)
			} else {
				s.failRun(run, err)
			}
			return
		}
	}

	s.failRun(run, fmt.Errorf("turn limit (%d) exceeded", s.cfg.MaxTurns))
}

func (s *Service) supervisorTools(ag *ent.Agent) []agent.ToolDefinition {
	defs := s.tools.Definitions(ag.AllowedTools)
	return append(defs, agent.SpawnWorkerDefinition())
}

// persistAssistantTurn records an assistant message carrying tool calls.
// Calls without an id get one so tool results stay pairable; the returned
// calls carry the ids that were actually persisted, and all further handling
// of the turn must use them.
func (s *Service) persistAssistantTurn(threadID string, resp *agent.CompletionResponse) (*ent.ThreadMessage, []models.ToolCall, error) {
	calls := make([]models.ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "tc-" + uuid.New().String()
		}
	}
	msg, err := s.threads.AppendMessage(s.dbCtx(), threadID, models.RoleAssistant, resp.Content, services.MessageOptions{
		ToolCalls: calls,
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, calls, nil
}

// interruptForWorker parks the run in WAITING and enqueues the worker job.
// WAITING is committed before the job row exists, so even an instantly
// finishing worker finds the run resumable.
func (s *Service) interruptForWorker(run *ent.AgentRun, ag *ent.Agent, spawn *spawnCall) {
	ctx := s.dbCtx()

	if _, transitioned, err := s.runs.Transition(ctx, run.ID, agentrun.StatusWaiting, ""); err != nil {
		s.failRun(run, err)
		return
	} else if !transitioned {
		// Cancelled underneath us; nothing to spawn.
		slog.Info("spawn aborted, run already terminal", "run_id", run.ID)
		return
	}

	model := spawn.Args.Model
	if model == "" {
		model = ag.Model
	}

	job, err := s.jobs.Enqueue(ctx, services.EnqueueRequest{
		OwnerID:         run.OwnerID,
		Task:            spawn.Args.Task,
		Model:           model,
		SupervisorRunID: run.ID,
		RunnerID:        spawn.Args.Runner,
		TraceID:         run.TraceID,
		Config:          map[string]any{"tool_call_id": spawn.ToolCallID},
	})
	if err != nil {
		s.failRun(run, fmt.Errorf("failed to enqueue worker job: %w", err))
		return
	}

	s.append(run.ID, run.OwnerID, events.TypeWorkerSpawned,
		events.WorkerSpawnedPayload(job.ID, spawn.ToolCallID, spawn.Args.Task, model))
	s.append(run.ID, run.OwnerID, events.TypeSupervisorWaiting, map[string]any{
		"job_id":       job.ID,
		"close_stream": false,
	})

	slog.Info("supervisor parked on worker",
		"run_id", run.ID, "job_id", job.ID, "runner", spawn.Args.Runner)
}

// executeInlineTools runs non-spawning tool calls sequentially and records
// their results as tool messages.
func (s *Service) executeInlineTools(ctx context.Context, run *ent.AgentRun, thread *ent.Thread, assistant *ent.ThreadMessage, calls []models.ToolCall) error {
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}

		content := s.invokeTool(ctx, call)
		if _, _, err := s.threads.GetOrCreateToolMessage(s.dbCtx(), thread.ID, call.ID, content, assistant.ID); err != nil {
			return fmt.Errorf("failed to record tool result: %w", err)
		}
	}
	return nil
}

func (s *Service) invokeTool(ctx context.Context, call models.ToolCall) string {
	tool, ok := s.tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}
	out, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		slog.Warn("inline tool failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// completeRun records the final assistant message and finishes the run.
func (s *Service) completeRun(run *ent.AgentRun, thread *ent.Thread, content string) {
	ctx := s.dbCtx()

	if _, err := s.threads.AppendMessage(ctx, thread.ID, models.RoleAssistant, content, services.MessageOptions{}); err != nil {
		s.failRun(run, err)
		return
	}

	if _, transitioned, err := s.runs.Transition(ctx, run.ID, agentrun.StatusSuccess, ""); err != nil {
		slog.Error("failed to finish run", "run_id", run.ID, "error", err)
		return
	} else if !transitioned {
		return
	}

	s.append(run.ID, run.OwnerID, events.TypeSupervisorComplete,
		events.SupervisorCompletePayload(models.RunStatusSuccess, content, time.Since(run.StartedAt).Milliseconds()))
	s.seq.Reset(run.ID)
}

// deferRun handles wall-clock expiry: the run defers, it does not fail.
func (s *Service) deferRun(run *ent.AgentRun) {
	if _, transitioned, err := s.runs.Transition(s.dbCtx(), run.ID, agentrun.StatusDeferred, ""); err != nil {
		slog.Error("failed to defer run", "run_id", run.ID, "error", err)
		return
	} else if !transitioned {
		return
	}

	s.append(run.ID, run.OwnerID, events.TypeSupervisorDeferred,
		events.SupervisorDeferredPayload(s.cfg.Timeout.Seconds(), StreamURL(run.ID)))
	s.seq.Reset(run.ID)

	slog.Info("supervisor run deferred", "run_id", run.ID, "timeout", s.cfg.Timeout)
}

func (s *Service) failRun(run *ent.AgentRun, cause error) {
	slog.Error("supervisor run failed", "run_id", run.ID, "error", cause)

	if _, transitioned, err := s.runs.Transition(s.dbCtx(), run.ID, agentrun.StatusFailed, cause.Error()); err != nil {
		slog.Error("failed to mark run failed", "run_id", run.ID, "error", err)
		return
	} else if !transitioned {
		return
	}

	s.append(run.ID, run.OwnerID, events.TypeError, events.ErrorPayload(cause.Error()))
	s.seq.Reset(run.ID)
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Cancel flips a run to CANCELLED and best-effort stops its in-memory task.
// Cancelling an already-terminal run is a no-op returning the current status.
func (s *Service) Cancel(ctx context.Context, runID, ownerID string, admin bool) (*CancelResult, error) {
	run, err := s.runs.GetOwnedRun(ctx, runID, ownerID, admin)
	if err != nil {
		return nil, err
	}

	if services.IsTerminalStatus(run.Status) {
		return &CancelResult{
			RunID:   run.ID,
			Status:  string(run.Status),
			Message: "run already finished",
		}, nil
	}

	updated, transitioned, err := s.runs.Transition(ctx, runID, agentrun.StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if !transitioned {
		// Lost the race against a natural terminal transition.
		return &CancelResult{
			RunID:   updated.ID,
			Status:  string(updated.Status),
			Message: "run already finished",
		}, nil
	}

	// Bounded wait: the task observes ctx cancellation and exits without
	// touching the already-terminal row.
	s.tasks.Cancel(runID, 1*time.Second)

	s.append(runID, run.OwnerID, events.TypeSupervisorComplete,
		events.SupervisorCompletePayload(models.RunStatusCancelled, "", time.Since(run.StartedAt).Milliseconds()))
	s.seq.Reset(runID)

	slog.Info("supervisor run cancelled", "run_id", runID, "owner_id", run.OwnerID)
	return &CancelResult{
		RunID:   runID,
		Status:  models.RunStatusCancelled,
		Message: "cancellation requested",
	}, nil
}

// append persists a lifecycle event, logging instead of propagating failures:
// event loss must not abort the run itself.
func (s *Service) append(runID, ownerID, eventType string, payload map[string]any) {
	if _, err := s.store.Append(s.dbCtx(), runID, ownerID, eventType, payload); err != nil {
		slog.Error("failed to append event", "run_id", runID, "event_type", eventType, "error", err)
	}
}

func (s *Service) dbCtx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	_ = cancel // bounded by timeout; goroutine-local writes finish well before
	return ctx
}

type spawnCall struct {
	ToolCallID string
	Args       *agent.SpawnWorkerArgs
}

// findSpawnWorkerCall returns the first well-formed spawn_worker call. The
// calls have been normalized by persistAssistantTurn, so every id matches a
// tool call on the persisted assistant message. The supervisor never issues
// two worker spawns from one turn.
func findSpawnWorkerCall(calls []models.ToolCall) *spawnCall {
	for _, call := range calls {
		if call.Name != agent.SpawnWorkerToolName {
			continue
		}
		args, err := agent.ParseSpawnWorkerArgs(call.Arguments)
		if err != nil {
			slog.Warn("malformed spawn_worker call", "tool_call_id", call.ID, "error", err)
			continue
		}
		return &spawnCall{ToolCallID: call.ID, Args: args}
	}
	return nil
}
