package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/renholm/stagehand/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
// A write-intent statement is issued first so the transaction holds the write
// lock before the sequence is read; otherwise a deferred transaction in WAL
// mode could let two writers read the same MAX(sequence).
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := nullRaw(event.Payload)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, state, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.State), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// Replay reconstructs the per-state execution log of a run from its events.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) ([]schema.LogEntry, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrKindStorage,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var log []schema.LogEntry
	open := -1 // index of the entry awaiting completion

	for _, e := range events {
		switch e.Type {
		case schema.EventActionStarted:
			var kind struct {
				Action schema.ActionKind `json:"action"`
			}
			if len(e.Payload) > 0 {
				_ = json.Unmarshal(e.Payload, &kind)
			}
			log = append(log, schema.LogEntry{
				State:     e.State,
				Kind:      kind.Action,
				StartedAt: e.Timestamp,
			})
			open = len(log) - 1

		case schema.EventActionComplete:
			if open >= 0 {
				log[open].EndedAt = e.Timestamp
				log[open].Outcome = e.Payload
				open = -1
			}

		case schema.EventActionFailed:
			if open >= 0 {
				log[open].EndedAt = e.Timestamp
				if len(e.Payload) > 0 {
					var fe schema.FlowError
					if json.Unmarshal(e.Payload, &fe) == nil {
						log[open].Error = &fe
					}
				}
				open = -1
			}
		}
	}
	return log, nil
}
