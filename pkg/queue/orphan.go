package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/models"
	"github.com/jarvislabs/jarvisd/pkg/supervisor"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
)

// Reaper reconciles jobs stranded in running by a crashed or OOM-killed
// process: the row is moved to timeout and the parked supervisor is resumed
// so no run waits forever on a worker that will never report.
type Reaper struct {
	router *tenant.Router
	cfg    *config.Config

	mu        sync.Mutex
	lastScan  time.Time
	recovered int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReaper creates an orphan reaper over a tenant router.
func NewReaper(router *tenant.Router, cfg *config.Config) *Reaper {
	return &Reaper{router: router, cfg: cfg, stopCh: make(chan struct{})}
}

// Start runs one immediate sweep (crash recovery on boot) and then sweeps on
// the configured interval.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.sweep(ctx)

		ticker := time.NewTicker(r.cfg.OrphanDetectionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Stats returns the last scan time and the lifetime recovery count.
func (r *Reaper) Stats() (time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastScan, r.recovered
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.OrphanThreshold)
	total := 0
	for _, ws := range r.router.Workspaces() {
		total += r.sweepWorkspace(ctx, ws, cutoff)
	}

	r.mu.Lock()
	r.lastScan = time.Now()
	r.recovered += total
	r.mu.Unlock()

	if total > 0 {
		slog.Warn("recovered orphaned worker jobs", "count", total)
	}
}

func (r *Reaper) sweepWorkspace(ctx context.Context, ws *app.Workspace, cutoff time.Time) int {
	stale, err := ws.Jobs.TimeoutStale(ctx, cutoff)
	if err != nil {
		slog.Error("orphan sweep failed", "tenant", ws.Schema, "error", err)
		return len(stale)
	}

	for _, job := range stale {
		runID := strDeref(job.SupervisorRunID)
		slog.Warn("orphaned worker job timed out",
			"job_id", job.ID, "tenant", ws.Schema, "run_id", runID)
		if runID == "" {
			continue
		}

		if _, err := ws.Store.Append(ctx, runID, job.OwnerID, events.TypeWorkerComplete,
			events.WorkerCompletePayload(job.ID, strDeref(job.WorkerID), models.JobStatusTimeout,
				"worker orphaned by process restart", 0)); err != nil {
			slog.Warn("failed to append orphan worker_complete", "job_id", job.ID, "error", err)
		}

		if _, err := ws.Resumer.Resume(ctx, runID, supervisor.ResumeRequest{
			JobID:    job.ID,
			WorkerID: strDeref(job.WorkerID),
			Status:   models.JobStatusTimeout,
			Error:    "worker orphaned by process restart",
		}); err != nil {
			slog.Error("failed to resume run for orphaned job",
				"run_id", runID, "job_id", job.ID, "error", err)
		}
	}
	return len(stale)
}
