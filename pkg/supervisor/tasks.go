package supervisor

import (
	"context"
	"sync"
	"time"
)

// TaskRegistry tracks the in-memory handle of every running supervisor task
// so cancel can find and stop it. State lives in the DB; this map only
// enables cooperative cancellation within the process.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*taskHandle
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*taskHandle)}
}

// Register derives a cancellable context for a run's background task and
// returns it with a release function. Release must be called when the task
// exits; it unblocks any bounded Cancel wait.
func (r *TaskRegistry) Register(runID string, parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	handle := &taskHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.tasks[runID] = handle
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			if r.tasks[runID] == handle {
				delete(r.tasks, runID)
			}
			r.mu.Unlock()
			cancel()
			close(handle.done)
		})
	}
	return ctx, release
}

// Cancel best-effort cancels a run's task and waits up to wait for it to
// exit. Returns true when a task was found.
func (r *TaskRegistry) Cancel(runID string, wait time.Duration) bool {
	r.mu.Lock()
	handle, ok := r.tasks[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	handle.cancel()
	select {
	case <-handle.done:
	case <-time.After(wait):
		// Task is taking longer to cooperate; leave it cancelled in the background.
	}
	return true
}

// Active returns the number of registered tasks.
func (r *TaskRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
