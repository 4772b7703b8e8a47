package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/workerjob"
	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/supervisor"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
)

// Dispatcher polls every live tenant's queue, claims jobs under the global
// concurrency bound, and runs each through the worker Runner. Completion
// always triggers the parent run's resume, even on failure.
type Dispatcher struct {
	router *tenant.Router
	runner *Runner
	cfg    *config.Config

	sem   *semaphore.Weighted
	slots *RunnerSlots

	mu       sync.Mutex
	active   int
	lastTick time.Time
	started  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over a tenant router.
func NewDispatcher(router *tenant.Router, runner *Runner, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		router: router,
		runner: runner,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		slots:  NewRunnerSlots(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the dispatch loop. Safe to call once; duplicates are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		slog.Warn("dispatcher already started, ignoring duplicate Start call")
		return
	}
	d.started = true
	d.mu.Unlock()

	slog.Info("starting worker dispatcher",
		"tick", d.cfg.DispatchTick, "max_concurrency", d.cfg.MaxConcurrency)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.DispatchTick)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop halts claiming and waits for in-flight workers up to the graceful
// shutdown budget. Jobs still running after that are reconciled by the
// orphan reaper on the next start.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("dispatcher stopped gracefully")
	case <-time.After(d.cfg.GracefulShutdownTimeout):
		slog.Warn("dispatcher shutdown timed out with workers in flight",
			"timeout", d.cfg.GracefulShutdownTimeout)
	}
}

// Health reports a dispatcher snapshot.
func (d *Dispatcher) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Health{
		Running:       d.started,
		ActiveJobs:    d.active,
		MaxConcurrent: d.cfg.MaxConcurrency,
		BusyRunners:   d.slots.Busy(),
		LastTick:      d.lastTick,
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	d.mu.Lock()
	d.lastTick = time.Now()
	d.mu.Unlock()

	for _, ws := range d.router.Workspaces() {
		d.claimForWorkspace(ctx, ws)
	}
}

// claimForWorkspace acquires capacity first, then claims at most that many
// jobs, so a claimed row never waits on a permit.
func (d *Dispatcher) claimForWorkspace(ctx context.Context, ws *app.Workspace) {
	permits := 0
	for permits < d.cfg.MaxConcurrency && d.sem.TryAcquire(1) {
		permits++
	}
	if permits == 0 {
		return
	}

	jobs, err := ws.Jobs.ClaimBatch(ctx, permits, d.slots.Busy())
	if err != nil {
		slog.Error("claim batch failed", "tenant", ws.Schema, "error", err)
		d.sem.Release(int64(permits))
		return
	}

	for _, job := range jobs {
		if !d.slots.MarkActive(job.RunnerID, job.ID) {
			// Same-batch collision on one runner; put the job back.
			if err := ws.Jobs.Requeue(ctx, job.ID); err != nil {
				slog.Error("failed to requeue job for busy runner",
					"job_id", job.ID, "runner", job.RunnerID, "error", err)
			}
			d.sem.Release(1)
			continue
		}

		d.wg.Add(1)
		d.mu.Lock()
		d.active++
		d.mu.Unlock()
		go d.execute(ctx, ws, job)
	}

	if unused := permits - len(jobs); unused > 0 {
		d.sem.Release(int64(unused))
	}
}

// execute runs one claimed job end to end. Panics in tools or the LLM client
// fail the job instead of killing the dispatcher.
func (d *Dispatcher) execute(ctx context.Context, ws *app.Workspace, job *ent.WorkerJob) {
	// The correlation id is assigned here, at start, so worker_started and
	// every later event for this job carry the same worker_id.
	workerID := newWorkerID()

	defer d.wg.Done()
	defer d.sem.Release(1)
	defer d.slots.ClearActive(job.RunnerID)
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker execution panicked", "job_id", job.ID, "panic", rec)
			d.conclude(ws, job, &models.WorkerResult{
				WorkerID:   workerID,
				Status:     models.JobStatusFailed,
				Error:      "internal worker panic",
				StartedAt:  time.Now(),
				FinishedAt: time.Now(),
			})
		}
	}()

	runID := strDeref(job.SupervisorRunID)
	slog.Info("worker job started",
		"job_id", job.ID, "tenant", ws.Schema, "run_id", runID, "worker_id", workerID, "runner", job.RunnerID)

	if runID != "" {
		if _, err := ws.Store.Append(d.dbCtx(), runID, job.OwnerID, events.TypeWorkerStarted,
			events.WorkerStartedPayload(job.ID, workerID, job.Task)); err != nil {
			slog.Warn("failed to append worker_started", "job_id", job.ID, "error", err)
		}
	}

	watch := startRoundabout(ws.Bus, job.ID, d.cfg.WorkerJobTimeout)
	defer watch.stop()

	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.WorkerJobTimeout)
	defer cancel()

	result := d.runner.Execute(jobCtx, job, workerID, ws.Store)
	d.conclude(ws, job, result)
}

// conclude records the terminal job row, emits completion events, and kicks
// the parent run's resume. A job already concluded elsewhere (the reaper won
// the race) gets no second set of events and no second resume.
func (d *Dispatcher) conclude(ws *app.Workspace, job *ent.WorkerJob, result *models.WorkerResult) {
	ctx := d.dbCtx()

	if concluded, transitioned, err := ws.Jobs.Complete(ctx, job.ID, workerjob.Status(result.Status), result.Error, result.WorkerID); err != nil {
		slog.Error("failed to record job completion", "job_id", job.ID, "error", err)
	} else if !transitioned {
		slog.Info("worker job already concluded, skipping completion events",
			"job_id", job.ID, "status", concluded.Status)
		return
	}

	runID := strDeref(job.SupervisorRunID)
	slog.Info("worker job finished",
		"job_id", job.ID, "status", result.Status, "duration_ms", result.DurationMS())
	if runID == "" {
		return
	}

	if _, err := ws.Store.Append(ctx, runID, job.OwnerID, events.TypeWorkerComplete,
		events.WorkerCompletePayload(job.ID, result.WorkerID, result.Status, result.Error, result.DurationMS())); err != nil {
		slog.Warn("failed to append worker_complete", "job_id", job.ID, "error", err)
	}
	if result.Summary != "" {
		if _, err := ws.Store.Append(ctx, runID, job.OwnerID, events.TypeWorkerSummaryReady,
			events.WorkerSummaryReadyPayload(job.ID, result.WorkerID, result.Summary)); err != nil {
			slog.Warn("failed to append worker_summary_ready", "job_id", job.ID, "error", err)
		}
	}

	if _, err := ws.Resumer.Resume(ctx, runID, supervisor.ResumeRequest{
		JobID:    job.ID,
		WorkerID: result.WorkerID,
		Status:   result.Status,
		Summary:  result.Summary,
		Error:    result.Error,
	}); err != nil {
		slog.Error("failed to resume supervisor run", "run_id", runID, "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) dbCtx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = cancel
	return ctx
}
