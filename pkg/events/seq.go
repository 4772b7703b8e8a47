package events

import "sync"

// SeqRegistry hands out per-run monotonic sequence numbers for the legacy
// live-only SSE endpoint, whose frames have no persistent id. Counters are
// process-local and cleared when the run reaches a terminal state; the
// replay endpoint uses persisted event ids and never touches this.
type SeqRegistry struct {
	mu   sync.Mutex
	seqs map[string]int64
}

// NewSeqRegistry creates an empty registry.
func NewSeqRegistry() *SeqRegistry {
	return &SeqRegistry{seqs: make(map[string]int64)}
}

// Next returns the next sequence number for a run, starting at 1.
func (r *SeqRegistry) Next(runID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[runID]++
	return r.seqs[runID]
}

// Reset clears the counter for a run.
func (r *SeqRegistry) Reset(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seqs, runID)
}

// Current returns the last sequence number handed out for a run.
func (r *SeqRegistry) Current(runID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seqs[runID]
}
