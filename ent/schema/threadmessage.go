package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/jarvislabs/jarvisd/pkg/models"
)

// ThreadMessage holds the schema definition for the ThreadMessage entity.
type ThreadMessage struct {
	ent.Schema
}

// Fields of the ThreadMessage.
func (ThreadMessage) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("message_id").
			Unique().
			Immutable(),
		field.String("thread_id").
			Immutable(),
		field.Enum("role").
			Values("user", "assistant", "tool", "system"),
		field.Text("content"),
		field.JSON("tool_calls", []models.ToolCall{}).
			Optional().
			Comment("Assistant messages only"),
		field.String("tool_call_id").
			Optional().
			Nillable().
			Comment("Tool messages only; pairs the result with the assistant tool call"),
		field.String("parent_id").
			Optional().
			Nillable().
			Comment("Tool messages link back to the assistant message that issued the call"),
		field.Bool("processed").
			Default(false).
			Comment("Whether this message has already been fed into the LLM"),
		field.Bool("internal").
			Default(false).
			Comment("Hidden from the user-facing transcript"),
		field.Time("sent_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ThreadMessage.
func (ThreadMessage) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("thread", Thread.Type).
			Ref("messages").
			Field("thread_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ThreadMessage.
func (ThreadMessage) Indexes() []ent.Index {
	return []ent.Index{
		// Transcript ordering
		index.Fields("thread_id", "sent_at"),
		// Tool-message idempotency: at most one tool result per call id per thread
		index.Fields("thread_id", "role", "tool_call_id").
			Unique().
			Annotations(entsql.IndexWhere("role = 'tool' AND tool_call_id IS NOT NULL")),
	}
}
