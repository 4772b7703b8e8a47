package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/ent"
	testdb "github.com/jarvislabs/jarvisd/test/database"
)

// fixture bundles the services under test with a seeded owner, supervisor
// agent, and thread. Each test gets its own schema via the shared container.
type fixture struct {
	client  *ent.Client
	users   *UserService
	threads *ThreadService
	runs    *RunService
	jobs    *JobService

	owner  *ent.User
	agent  *ent.Agent
	thread *ent.Thread
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := testdb.NewTestClient(t)
	f := &fixture{
		client:  db.Client,
		users:   NewUserService(db.Client),
		threads: NewThreadService(db.Client),
		runs:    NewRunService(db.Client),
		jobs:    NewJobService(db.Client),
	}

	owner, err := f.users.GetOrCreateByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	f.owner = owner

	ag, err := f.threads.GetOrCreateSupervisorAgent(ctx, owner.ID, "", "You are a supervisor.")
	require.NoError(t, err)
	f.agent = ag

	th, err := f.threads.GetOrCreateSupervisorThread(ctx, ag.ID, owner.ID)
	require.NoError(t, err)
	f.thread = th

	return f
}
