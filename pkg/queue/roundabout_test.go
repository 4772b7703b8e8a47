package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jarvislabs/jarvisd/pkg/events"
)

func TestRoundaboutResetsOnJobProgress(t *testing.T) {
	bus := events.NewBus()
	w := startRoundabout(bus, "job-1", time.Hour)
	defer w.stop()

	w.polls.Store(5)
	w.warned.Store(true)

	bus.Publish(events.Event{
		Type:    events.TypeWorkerHeartbeat,
		Payload: map[string]any{"job_id": "job-1"},
	})

	assert.Equal(t, int64(0), w.polls.Load())
	assert.False(t, w.warned.Load())
}

func TestRoundaboutIgnoresOtherJobs(t *testing.T) {
	bus := events.NewBus()
	w := startRoundabout(bus, "job-1", time.Hour)
	defer w.stop()

	w.polls.Store(5)

	bus.Publish(events.Event{
		Type:    events.TypeWorkerToolStarted,
		Payload: map[string]any{"job_id": "job-other"},
	})

	assert.Equal(t, int64(5), w.polls.Load())
}

func TestRoundaboutStopUnsubscribes(t *testing.T) {
	bus := events.NewBus()
	w := startRoundabout(bus, "job-1", time.Hour)
	w.stop()

	assert.Equal(t, 0, bus.SubscriberCount(events.TypeWorkerHeartbeat))
}
