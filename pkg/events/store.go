package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/runevent"
)

// Store durably records every event emitted for a run and republishes it on
// the bus once the row is committed. The auto-increment row id is the replay
// cursor handed to SSE clients.
type Store struct {
	client *ent.Client
	bus    *Bus
}

// NewStore creates a Store around a (tenant-scoped) ent client.
func NewStore(client *ent.Client, bus *Bus) *Store {
	return &Store{client: client, bus: bus}
}

// Append persists the event, then publishes it to live subscribers with the
// assigned id injected as payload["event_id"]. Publishing strictly after the
// commit is what makes replay-then-live gap-free: any event a live client
// sees is already readable by EventsAfter.
func (s *Store) Append(ctx context.Context, runID, ownerID, eventType string, payload map[string]any) (int64, error) {
	if IsTransient(eventType) {
		return 0, fmt.Errorf("transient event type %q must not be persisted", eventType)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["run_id"] = runID
	payload["owner_id"] = ownerID

	row, err := s.client.RunEvent.Create().
		SetRunID(runID).
		SetEventType(eventType).
		SetPayload(payload).
		SetCreatedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to persist event %s for run %s: %w", eventType, runID, err)
	}

	eventID := int64(row.ID)
	wire := clonePayload(payload)
	wire["event_id"] = eventID

	s.bus.Publish(Event{
		Type:      eventType,
		RunID:     runID,
		OwnerID:   ownerID,
		EventID:   eventID,
		Payload:   wire,
		Timestamp: row.CreatedAt,
	})
	return eventID, nil
}

// PublishTransient fans out a bus-only event (heartbeats) with no id.
func (s *Store) PublishTransient(runID, ownerID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["run_id"] = runID
	payload["owner_id"] = ownerID
	s.bus.Publish(Event{
		Type:      eventType,
		RunID:     runID,
		OwnerID:   ownerID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// Bus exposes the underlying bus for subscribers.
func (s *Store) Bus() *Bus {
	return s.bus
}

// EventsAfter returns the persisted events of a run with id strictly greater
// than afterID, in id order. Token events are filtered out unless requested.
// Callers use a short-lived context; the query must complete before the SSE
// stream yields anything, so the stream never pins a DB connection.
func (s *Store) EventsAfter(ctx context.Context, runID string, afterID int64, includeTokens bool) ([]Event, error) {
	query := s.client.RunEvent.Query().
		Where(
			runevent.RunIDEQ(runID),
			runevent.IDGT(int(afterID)),
		)
	if !includeTokens {
		query = query.Where(runevent.EventTypeNEQ(TypeSupervisorToken))
	}

	rows, err := query.Order(ent.Asc(runevent.FieldID)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for run %s: %w", runID, err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		eventID := int64(row.ID)
		wire := clonePayload(row.Payload)
		wire["event_id"] = eventID
		out = append(out, Event{
			Type:      row.EventType,
			RunID:     row.RunID,
			OwnerID:   payloadOwner(row.Payload),
			EventID:   eventID,
			Payload:   wire,
			Timestamp: row.CreatedAt,
		})
	}
	return out, nil
}

// LatestEventID returns the id of the newest persisted event for a run,
// zero when the run has none.
func (s *Store) LatestEventID(ctx context.Context, runID string) (int64, error) {
	row, err := s.client.RunEvent.Query().
		Where(runevent.RunIDEQ(runID)).
		Order(ent.Desc(runevent.FieldID)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query latest event for run %s: %w", runID, err)
	}
	return int64(row.ID), nil
}

// DeleteForRun removes all persisted events of a run. Retention only; the
// log is append-only in normal operation.
func (s *Store) DeleteForRun(ctx context.Context, runID string) (int, error) {
	n, err := s.client.RunEvent.Delete().
		Where(runevent.RunIDEQ(runID)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events for run %s: %w", runID, err)
	}
	if n > 0 {
		slog.Debug("deleted run events", "run_id", runID, "count", n)
	}
	return n, nil
}

// DeleteOlderThan removes persisted events created before the cutoff for the
// given runs. Used by the retention sweeper.
func (s *Store) DeleteOlderThan(ctx context.Context, runIDs []string, cutoff time.Time) (int, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	n, err := s.client.RunEvent.Delete().
		Where(
			runevent.RunIDIn(runIDs...),
			runevent.CreatedAtLT(cutoff),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return n, nil
}

func clonePayload(payload map[string]any) map[string]any {
	wire := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		wire[k] = v
	}
	return wire
}

func payloadOwner(payload map[string]any) string {
	if owner, ok := payload["owner_id"].(string); ok {
		return owner
	}
	return ""
}
