package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RunEvent holds the schema definition for the RunEvent entity.
// Append-only event log per run; the auto-increment id is the SSE cursor.
type RunEvent struct {
	ent.Schema
}

// Fields of the RunEvent.
// The default ent int id (bigserial) provides the strictly-increasing
// event id used for replay cursors.
func (RunEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("run_id").
			Immutable(),
		field.String("event_type").
			Immutable(),
		field.JSON("payload", map[string]interface{}{}),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the RunEvent.
func (RunEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", AgentRun.Type).
			Ref("events").
			Field("run_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the RunEvent.
func (RunEvent) Indexes() []ent.Index {
	return []ent.Index{
		// Replay: events for a run, ordered by the primary key
		index.Fields("run_id"),
		index.Fields("run_id", "event_type"),
		index.Fields("created_at"),
	}
}
