// Package app assembles the per-tenant object graph: database client,
// persistence services, event plumbing, and the supervisor engine.
package app

import (
	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/pkg/events"
	"github.com/jarvislabs/jarvisd/pkg/services"
	"github.com/jarvislabs/jarvisd/pkg/supervisor"
)

// Deps are the process-wide collaborators shared by every workspace.
type Deps struct {
	LLM   agent.LLMClient
	Tools *agent.Registry
	Cfg   *config.Config
}

// Workspace is everything needed to serve one tenant. Each workspace owns an
// isolated bus, store, and service set bound to that tenant's schema, so
// events and rows never cross tenants.
type Workspace struct {
	Schema string
	DB     *database.Client

	Bus   *events.Bus
	Store *events.Store
	Seq   *events.SeqRegistry

	Users   *services.UserService
	Threads *services.ThreadService
	Runs    *services.RunService
	Jobs    *services.JobService

	Tasks      *supervisor.TaskRegistry
	Supervisor *supervisor.Service
	Resumer    *supervisor.Resumer
}

// NewWorkspace wires a workspace over an opened (and migrated) tenant client.
func NewWorkspace(schema string, db *database.Client, deps Deps) *Workspace {
	bus := events.NewBus()
	store := events.NewStore(db.Client, bus)
	seq := events.NewSeqRegistry()

	threads := services.NewThreadService(db.Client)
	runs := services.NewRunService(db.Client)
	jobs := services.NewJobService(db.Client)
	tasks := supervisor.NewTaskRegistry()

	svc := supervisor.NewService(threads, runs, jobs, store, seq, deps.LLM, deps.Tools, tasks, supervisor.Config{
		Timeout: deps.Cfg.SupervisorTimeout,
	})

	return &Workspace{
		Schema:     schema,
		DB:         db,
		Bus:        bus,
		Store:      store,
		Seq:        seq,
		Users:      services.NewUserService(db.Client),
		Threads:    threads,
		Runs:       runs,
		Jobs:       jobs,
		Tasks:      tasks,
		Supervisor: svc,
		Resumer:    supervisor.NewResumer(svc),
	}
}

// Close releases the workspace's database resources.
func (w *Workspace) Close() error {
	return w.DB.Close()
}
