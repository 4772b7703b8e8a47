package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Agent holds the schema definition for the Agent entity.
// The supervisor agent is singleton-per-owner and created lazily.
type Agent struct {
	ent.Schema
}

// Fields of the Agent.
func (Agent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("agent_id").
			Unique().
			Immutable(),
		field.String("owner_id").
			Immutable(),
		field.Enum("kind").
			Values("supervisor", "worker").
			Default("worker"),
		field.String("name"),
		field.String("model"),
		field.Text("instructions").
			Optional().
			Comment("System/task instructions prepended to every turn"),
		field.JSON("allowed_tools", []string{}).
			Optional().
			Comment("Nil means all registered tools are available"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Agent.
func (Agent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("owner", User.Type).
			Ref("agents").
			Field("owner_id").
			Unique().
			Required().
			Immutable(),
		edge.To("threads", Thread.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("runs", AgentRun.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Agent.
func (Agent) Indexes() []ent.Index {
	return []ent.Index{
		// Singleton supervisor lookup
		index.Fields("owner_id", "kind"),
	}
}
