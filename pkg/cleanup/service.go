// Package cleanup provides data retention services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jarvislabs/jarvisd/pkg/app"
)

// sweepBatch bounds how many terminal runs one sweep considers per tenant.
const sweepBatch = 500

// Service periodically removes persisted events of terminal runs once they
// age past the retention window. The event log is the SSE replay source, so
// only runs nobody can stream anymore are swept. Idempotent and safe to run
// from multiple processes.
type Service struct {
	targets   func() []*app.Workspace
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. targets yields the workspaces to
// sweep; the router's Workspaces method in production.
func NewService(targets func() []*app.Workspace, retention, interval time.Duration) *Service {
	return &Service{
		targets:   targets,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"event_retention", s.retention,
		"interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Service) sweepAll(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	for _, ws := range s.targets() {
		s.sweepWorkspace(ctx, ws, cutoff)
	}
}

func (s *Service) sweepWorkspace(ctx context.Context, ws *app.Workspace, cutoff time.Time) {
	runIDs, err := ws.Runs.ListTerminalRunIDs(ctx, cutoff, sweepBatch)
	if err != nil {
		slog.Error("Retention: terminal run listing failed", "tenant", ws.Schema, "error", err)
		return
	}
	if len(runIDs) == 0 {
		return
	}

	count, err := ws.Store.DeleteOlderThan(ctx, runIDs, cutoff)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "tenant", ws.Schema, "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired run events",
			"tenant", ws.Schema, "runs", len(runIDs), "events", count)
	}
}
