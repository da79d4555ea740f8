package postgres

import (
	"context"
	"time"

	"queuematic/internal/models"
	"queuematic/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// The outbox row is written inside the same transaction as the state change
// it describes, so the display feed never observes a transition that did
// not commit.

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"branch_id":    ticket.BranchID,
		"number":       ticket.Number,
		"status":       ticket.Status,
		"created_at":   ticket.CreatedAt,
		"called_at":    ticket.CalledAt,
		"completed_at": ticket.CompletedAt,
		"counter_id":   ticket.CounterID,
	}
	return insertOutboxRow(ctx, tx, ticket.BranchID, eventType, payload)
}

func insertSessionEvent(ctx context.Context, tx pgx.Tx, eventType string, session models.CounterSession) error {
	payload := map[string]interface{}{
		"session_id": session.SessionID,
		"counter_id": session.CounterID,
		"branch_id":  session.BranchID,
		"started_at": session.StartedAt,
		"ended_at":   session.EndedAt,
	}
	return insertOutboxRow(ctx, tx, session.BranchID, eventType, payload)
}

func insertOutboxRow(ctx context.Context, tx pgx.Tx, branchID, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := jsonBytes(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, branch_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), branchID, eventType, payloadJSON, time.Now().UTC())
	return err
}

// ListOutboxEvents pages forward by (created_at, event_id) keyset so the
// broadcaster never re-reads or skips an event.
func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, branch_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.BranchID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
