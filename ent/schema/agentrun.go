package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentRun holds the schema definition for the AgentRun entity.
// One execution attempt of a supervisor or worker conversation.
type AgentRun struct {
	ent.Schema
}

// Fields of the AgentRun.
func (AgentRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("thread_id").
			Immutable(),
		field.String("owner_id").
			Immutable(),
		field.Enum("status").
			Values("running", "waiting", "success", "failed", "deferred", "cancelled").
			Default("running"),
		field.Enum("trigger").
			Values("api", "schedule", "manual").
			Default("api"),
		field.String("trace_id").
			Optional(),
		field.Time("started_at").
			Default(time.Now),
		field.Time("finished_at").
			Optional().
			Nillable(),
		field.String("error").
			Optional().
			Nillable(),
	}
}

// Edges of the AgentRun.
func (AgentRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("runs").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.From("thread", Thread.Type).
			Ref("runs").
			Field("thread_id").
			Unique().
			Required().
			Immutable(),
		edge.From("owner", User.Type).
			Ref("runs").
			Field("owner_id").
			Unique().
			Required().
			Immutable(),
		edge.To("events", RunEvent.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("worker_jobs", WorkerJob.Type).
			Annotations(entsql.OnDelete(entsql.SetNull)),
	}
}

// Indexes of the AgentRun.
func (AgentRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("owner_id", "status"),
		index.Fields("status", "started_at"),
		index.Fields("thread_id"),
	}
}
