package queue

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jarvislabs/jarvisd/pkg/events"
)

// roundaboutTick is the poll interval of the stuck-worker watchdog.
const roundaboutTick = 15 * time.Second

// roundabout watches one executing job for signs of life: any worker tool
// event or heartbeat for the job resets its counter. When a job goes a full
// timeout budget without progress the watchdog warns. It never cancels; the
// job timeout owns enforcement.
type roundabout struct {
	jobID    string
	tick     time.Duration
	maxPolls int64

	polls  atomic.Int64
	warned atomic.Bool

	unsub  func()
	stopCh chan struct{}
}

// startRoundabout launches a watchdog for a job.
func startRoundabout(bus *events.Bus, jobID string, timeout time.Duration) *roundabout {
	tick := roundaboutTick
	maxPolls := int64(timeout / tick)
	if maxPolls < 1 {
		maxPolls = 1
	}

	w := &roundabout{
		jobID:    jobID,
		tick:     tick,
		maxPolls: maxPolls,
		stopCh:   make(chan struct{}),
	}

	watched := []string{
		events.TypeWorkerToolStarted,
		events.TypeWorkerToolCompleted,
		events.TypeWorkerToolFailed,
		events.TypeWorkerHeartbeat,
	}
	w.unsub = bus.SubscribeAll(watched, func(ev events.Event) {
		if id, _ := ev.Payload["job_id"].(string); id == jobID {
			w.polls.Store(0)
			w.warned.Store(false)
		}
	})

	go w.loop()
	return w
}

func (w *roundabout) loop() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.polls.Add(1) > w.maxPolls && !w.warned.Swap(true) {
				slog.Warn("worker job shows no progress",
					"job_id", w.jobID,
					"silent_for", time.Duration(w.polls.Load())*w.tick)
			}
		}
	}
}

func (w *roundabout) stop() {
	w.unsub()
	close(w.stopCh)
}
