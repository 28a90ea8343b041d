package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/taskrelay/board/event"
)

// Event log access. Rows are written inside the same transaction as the
// data change they describe (tool surface invariant) and consumed
// independently by the broadcaster and the trigger processor. Rows are
// never deleted by the core.

// EmitEvent inserts an event row for the payload and returns its id. The
// caller owns the transaction, so the event commits atomically with the
// data writes of the operation that produced it.
func (t *Tx) EmitEvent(p event.Payload, at time.Time) (string, error) {
	data, err := event.Marshal(p)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = t.q.ExecContext(t.ctx,
		"INSERT INTO events (id, type, payload, created_at) VALUES (?, ?, ?, ?)",
		id, string(event.TypeOf(p)), string(data), fmtTime(at))
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// queryEvents scans event rows, decoding payloads. Rows whose payload
// fails to decode are returned with a nil Payload; consumers consume and
// skip them.
func (t *Tx) queryEvents(query string, args ...any) ([]event.Event, error) {
	rows, err := t.q.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []event.Event
	for rows.Next() {
		var (
			ev                 event.Event
			typ, payload       string
			createdAt          string
			broadcast, trigger int
		)
		if err := rows.Scan(&ev.ID, &typ, &payload, &createdAt, &broadcast, &trigger); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.ConsumedByBroadcaster = broadcast != 0
		ev.ConsumedByTrigger = trigger != 0
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if decoded, err := event.Unmarshal(ev.Type, []byte(payload)); err == nil {
			ev.Payload = decoded
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const eventCols = "id, type, payload, created_at, consumed_by_broadcaster, consumed_by_trigger"

// UnconsumedBroadcastEvents returns every event not yet consumed by the
// broadcaster, in insertion order.
func (t *Tx) UnconsumedBroadcastEvents() ([]event.Event, error) {
	return t.queryEvents(
		"SELECT " + eventCols + " FROM events WHERE consumed_by_broadcaster = 0 ORDER BY created_at, rowid")
}

// UnconsumedTriggerEvents returns events of the given types not yet
// consumed by the trigger processor, in insertion order.
func (t *Tx) UnconsumedTriggerEvents(types []event.Type) ([]event.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
	args := make([]any, len(types))
	for i, typ := range types {
		args[i] = string(typ)
	}
	// #nosec G201 -- placeholders are "?" marks only, not user input
	query := fmt.Sprintf(
		"SELECT %s FROM events WHERE consumed_by_trigger = 0 AND type IN (%s) ORDER BY created_at, rowid",
		eventCols, placeholders)
	return t.queryEvents(query, args...)
}

// MarkBroadcastConsumed advances the broadcaster cursor past one event.
func (t *Tx) MarkBroadcastConsumed(eventID string) error {
	if _, err := t.q.ExecContext(t.ctx,
		"UPDATE events SET consumed_by_broadcaster = 1 WHERE id = ?", eventID); err != nil {
		return fmt.Errorf("failed to mark event broadcast-consumed: %w", err)
	}
	return nil
}

// MarkTriggerConsumed advances the trigger cursor past one event.
func (t *Tx) MarkTriggerConsumed(eventID string) error {
	if _, err := t.q.ExecContext(t.ctx,
		"UPDATE events SET consumed_by_trigger = 1 WHERE id = ?", eventID); err != nil {
		return fmt.Errorf("failed to mark event trigger-consumed: %w", err)
	}
	return nil
}

// EventCount returns the total number of event rows.
func (t *Tx) EventCount() (int, error) {
	var n int
	if err := t.q.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
