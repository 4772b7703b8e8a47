package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Thread holds the schema definition for the Thread entity.
// One long-lived supervisor thread exists per user.
type Thread struct {
	ent.Schema
}

// Fields of the Thread.
func (Thread) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("thread_id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("owner_id").
			Immutable(),
		field.String("title").
			Optional(),
		field.Bool("active").
			Default(true),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Thread.
func (Thread) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("threads").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.To("messages", ThreadMessage.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("runs", AgentRun.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Thread.
func (Thread) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("owner_id", "active"),
		index.Fields("agent_id"),
	}
}
