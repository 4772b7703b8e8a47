package services

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/workerjob"
)

// JobService is the persistence layer of the worker job queue.
type JobService struct {
	client *ent.Client
}

// NewJobService creates a new JobService.
func NewJobService(client *ent.Client) *JobService {
	return &JobService{client: client}
}

// EnqueueRequest carries the fields of a new worker job.
type EnqueueRequest struct {
	OwnerID         string
	Task            string
	Model           string
	Config          map[string]any
	SupervisorRunID string
	RunnerID        string
	TraceID         string
}

// Enqueue writes a queued job row.
func (s *JobService) Enqueue(ctx context.Context, req EnqueueRequest) (*ent.WorkerJob, error) {
	if req.Task == "" {
		return nil, NewValidationError("task", "required")
	}
	if req.Model == "" {
		return nil, NewValidationError("model", "required")
	}

	builder := s.client.WorkerJob.Create().
		SetID(uuid.New().String()).
		SetOwnerID(req.OwnerID).
		SetTask(req.Task).
		SetModel(req.Model).
		SetStatus(workerjob.StatusQueued).
		SetCreatedAt(time.Now())

	if req.SupervisorRunID != "" {
		builder = builder.SetSupervisorRunID(req.SupervisorRunID)
	}
	if req.RunnerID != "" {
		builder = builder.SetRunnerID(req.RunnerID)
	}
	if req.Config != nil {
		builder = builder.SetConfig(req.Config)
	}
	if req.TraceID != "" {
		builder = builder.SetTraceID(req.TraceID)
	}

	job, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue worker job: %w", err)
	}
	return job, nil
}

// ClaimBatch selects the oldest queued jobs up to limit and transitions them
// to running within a single transaction. Row-level FOR UPDATE SKIP LOCKED
// makes concurrent claimers never double-claim. Jobs targeting a runner in
// busyRunners are left queued for a later tick.
func (s *JobService) ClaimBatch(ctx context.Context, limit int, busyRunners []string) ([]*ent.WorkerJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.WorkerJob.Query().
		Where(workerjob.StatusEQ(workerjob.StatusQueued))
	if len(busyRunners) > 0 {
		query = query.Where(
			workerjob.Or(
				workerjob.RunnerIDIsNil(),
				workerjob.RunnerIDEQ(""),
				workerjob.RunnerIDNotIn(busyRunners...),
			),
		)
	}

	candidates, err := query.
		Order(ent.Asc(workerjob.FieldCreatedAt)).
		Limit(limit).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now()
	claimed := make([]*ent.WorkerJob, 0, len(candidates))
	for _, job := range candidates {
		updated, err := tx.WorkerJob.UpdateOneID(job.ID).
			SetStatus(workerjob.StatusRunning).
			SetStartedAt(now).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		claimed = append(claimed, updated)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// terminalJobStatuses never transition again; attempts are no-ops.
var terminalJobStatuses = []workerjob.Status{
	workerjob.StatusSuccess,
	workerjob.StatusFailed,
	workerjob.StatusTimeout,
}

// Complete terminally transitions a job. error is recorded only for failed
// and timeout outcomes. An already-terminal row is left untouched and the
// current row is returned with transitioned=false, so two racing concluders
// (dispatcher and reaper) settle on exactly one outcome.
func (s *JobService) Complete(ctx context.Context, jobID string, status workerjob.Status, errMsg, workerID string) (*ent.WorkerJob, bool, error) {
	update := s.client.WorkerJob.Update().
		Where(
			workerjob.IDEQ(jobID),
			workerjob.StatusNotIn(terminalJobStatuses...),
		).
		SetStatus(status).
		SetFinishedAt(time.Now())

	if errMsg != "" && (status == workerjob.StatusFailed || status == workerjob.StatusTimeout) {
		update = update.SetError(errMsg)
	}
	if workerID != "" {
		update = update.SetWorkerID(workerID)
	}

	n, err := update.Save(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, n > 0, nil
}

// Requeue puts a claimed job back in the queue. Used when a claim cannot be
// honored, e.g. the target runner became busy between claim and launch.
func (s *JobService) Requeue(ctx context.Context, jobID string) error {
	_, err := s.client.WorkerJob.UpdateOneID(jobID).
		SetStatus(workerjob.StatusQueued).
		ClearStartedAt().
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*ent.WorkerJob, error) {
	job, err := s.client.WorkerJob.Get(ctx, jobID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// QueueDepth returns the number of jobs waiting to be claimed.
func (s *JobService) QueueDepth(ctx context.Context) (int, error) {
	n, err := s.client.WorkerJob.Query().
		Where(workerjob.StatusEQ(workerjob.StatusQueued)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return n, nil
}

// TimeoutStale terminally transitions jobs stuck in running whose started_at
// is older than the threshold. Returns only the jobs actually reconciled:
// a job concluded by its dispatcher between the query and the update is left
// alone, so its completion side effects fire exactly once.
func (s *JobService) TimeoutStale(ctx context.Context, olderThan time.Time) ([]*ent.WorkerJob, error) {
	stale, err := s.client.WorkerJob.Query().
		Where(
			workerjob.StatusEQ(workerjob.StatusRunning),
			workerjob.StartedAtLT(olderThan),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	reconciled := make([]*ent.WorkerJob, 0, len(stale))
	for _, job := range stale {
		updated, transitioned, err := s.Complete(ctx, job.ID, workerjob.StatusTimeout, "worker execution exceeded job timeout", "")
		if err != nil {
			return reconciled, err
		}
		if !transitioned {
			continue
		}
		reconciled = append(reconciled, updated)
	}
	return reconciled, nil
}
