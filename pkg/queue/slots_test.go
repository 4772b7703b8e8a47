package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunnerSlotsExclusivity(t *testing.T) {
	slots := NewRunnerSlots()

	assert.True(t, slots.MarkActive("laptop", "job-1"))
	assert.False(t, slots.MarkActive("laptop", "job-2"), "second job on same runner must be refused")
	assert.True(t, slots.MarkActive("desktop", "job-3"))

	busy := slots.Busy()
	assert.ElementsMatch(t, []string{"laptop", "desktop"}, busy)

	slots.ClearActive("laptop")
	assert.True(t, slots.MarkActive("laptop", "job-4"))
}

func TestRunnerSlotsUntargetedJobsUnconstrained(t *testing.T) {
	slots := NewRunnerSlots()

	assert.True(t, slots.MarkActive("", "job-1"))
	assert.True(t, slots.MarkActive("", "job-2"))
	assert.Nil(t, slots.Busy())

	// Clearing the empty runner is a no-op.
	slots.ClearActive("")
	assert.Nil(t, slots.Busy())
}
