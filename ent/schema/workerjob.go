package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WorkerJob holds the schema definition for the WorkerJob entity.
// Durable FIFO of worker jobs; claimed with row-level locks by the dispatcher.
type WorkerJob struct {
	ent.Schema
}

// Fields of the WorkerJob.
func (WorkerJob) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("job_id").
			Unique().
			Immutable(),
		field.String("owner_id").
			Immutable(),
		field.String("supervisor_run_id").
			Optional().
			Nillable().
			Comment("Parent run that spawned this job; drives resume on completion"),
		field.String("runner_id").
			Optional().
			Comment("Logical runner target; at most one running job per runner"),
		field.Text("task"),
		field.String("model"),
		field.JSON("config", map[string]interface{}{}).
			Optional(),
		field.Enum("status").
			Values("queued", "running", "success", "failed", "timeout").
			Default("queued"),
		field.String("worker_id").
			Optional().
			Nillable().
			Comment("Correlation id assigned on claim; keys the artifact directory"),
		field.String("trace_id").
			Optional(),
		field.String("error").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("finished_at").
			Optional().
			Nillable(),
	}
}

// Edges of the WorkerJob.
func (WorkerJob) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("owner", User.Type).
			Ref("worker_jobs").
			Field("owner_id").
			Unique().
			Required().
			Immutable(),
		edge.From("supervisor_run", AgentRun.Type).
			Ref("worker_jobs").
			Field("supervisor_run_id").
			Unique(),
	}
}

// Indexes of the WorkerJob.
func (WorkerJob) Indexes() []ent.Index {
	return []ent.Index{
		// Claim scan: oldest queued first
		index.Fields("status", "created_at"),
		// Orphan detection
		index.Fields("status", "started_at"),
		index.Fields("supervisor_run_id"),
	}
}
