package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agentrun"
)

// terminalStatuses never transition again; attempts are no-ops.
var terminalStatuses = []agentrun.Status{
	agentrun.StatusSuccess,
	agentrun.StatusFailed,
	agentrun.StatusDeferred,
	agentrun.StatusCancelled,
}

// IsTerminalStatus reports whether a run status is terminal.
func IsTerminalStatus(status agentrun.Status) bool {
	for _, s := range terminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// RunService is the persistence wrapper around AgentRun (the run registry).
type RunService struct {
	client *ent.Client
}

// NewRunService creates a new RunService.
func NewRunService(client *ent.Client) *RunService {
	return &RunService{client: client}
}

// CreateRun creates a new run in status running.
func (s *RunService) CreateRun(ctx context.Context, agentID, threadID, ownerID string, trigger agentrun.Trigger) (*ent.AgentRun, error) {
	run, err := s.client.AgentRun.Create().
		SetID(uuid.New().String()).
		SetAgentID(agentID).
		SetThreadID(threadID).
		SetOwnerID(ownerID).
		SetStatus(agentrun.StatusRunning).
		SetTrigger(trigger).
		SetTraceID(uuid.New().String()).
		SetStartedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *RunService) GetRun(ctx context.Context, runID string) (*ent.AgentRun, error) {
	run, err := s.client.AgentRun.Get(ctx, runID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetOwnedRun retrieves a run scoped to an owner. Admins see everything;
// anyone else gets ErrNotFound for foreign runs so existence never leaks.
func (s *RunService) GetOwnedRun(ctx context.Context, runID, ownerID string, admin bool) (*ent.AgentRun, error) {
	query := s.client.AgentRun.Query().Where(agentrun.IDEQ(runID))
	if !admin {
		query = query.Where(agentrun.OwnerIDEQ(ownerID))
	}
	run, err := query.Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Transition moves a run to a new status. Terminal statuses are sticky: if
// the run is already terminal the update is a no-op and the current row is
// returned with transitioned=false. Terminal targets set finished_at.
func (s *RunService) Transition(ctx context.Context, runID string, newStatus agentrun.Status, runErr string) (*ent.AgentRun, bool, error) {
	update := s.client.AgentRun.Update().
		Where(
			agentrun.IDEQ(runID),
			agentrun.StatusNotIn(terminalStatuses...),
		).
		SetStatus(newStatus)

	if IsTerminalStatus(newStatus) {
		update = update.SetFinishedAt(time.Now())
	}
	if runErr != "" {
		update = update.SetError(runErr)
	}

	n, err := update.Save(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to transition run %s: %w", runID, err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		slog.Debug("run transition was a no-op", "run_id", runID, "current", run.Status, "requested", newStatus)
		return run, false, nil
	}
	return run, true, nil
}

// TransitionFrom atomically moves a run from one specific status to another.
// Returns false when the run was not in the expected status; this is how
// resume stays idempotent under concurrent triggers.
func (s *RunService) TransitionFrom(ctx context.Context, runID string, from, to agentrun.Status) (bool, error) {
	n, err := s.client.AgentRun.Update().
		Where(
			agentrun.IDEQ(runID),
			agentrun.StatusEQ(from),
		).
		SetStatus(to).
		Save(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to transition run %s from %s to %s: %w", runID, from, to, err)
	}
	return n > 0, nil
}

// ListTerminalRunIDs returns ids of terminal runs that finished before the
// cutoff. Feeds the event retention sweeper.
func (s *RunService) ListTerminalRunIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ids, err := s.client.AgentRun.Query().
		Where(
			agentrun.StatusIn(terminalStatuses...),
			agentrun.FinishedAtLT(before),
		).
		Limit(limit).
		IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal runs: %w", err)
	}
	return ids, nil
}

// ListRunsByStatus returns runs in a given status, oldest first.
func (s *RunService) ListRunsByStatus(ctx context.Context, status agentrun.Status, limit int) ([]*ent.AgentRun, error) {
	runs, err := s.client.AgentRun.Query().
		Where(agentrun.StatusEQ(status)).
		Order(ent.Asc(agentrun.FieldStartedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
