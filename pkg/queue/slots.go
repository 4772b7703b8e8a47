package queue

import "sync"

// RunnerSlots enforces at most one running job per logical runner. Jobs with
// no runner target are unconstrained and never touch the slot table.
type RunnerSlots struct {
	mu     sync.Mutex
	active map[string]string // runner id -> job id
}

// NewRunnerSlots creates an empty slot table.
func NewRunnerSlots() *RunnerSlots {
	return &RunnerSlots{active: make(map[string]string)}
}

// MarkActive claims a runner for a job. Returns false when the runner is
// already busy; the caller must requeue the job.
func (s *RunnerSlots) MarkActive(runnerID, jobID string) bool {
	if runnerID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[runnerID]; busy {
		return false
	}
	s.active[runnerID] = jobID
	return true
}

// ClearActive releases a runner's slot.
func (s *RunnerSlots) ClearActive(runnerID string) {
	if runnerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runnerID)
}

// Busy snapshots the currently occupied runners for the claim filter.
func (s *RunnerSlots) Busy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.active))
	for runner := range s.active {
		out = append(out, runner)
	}
	return out
}
