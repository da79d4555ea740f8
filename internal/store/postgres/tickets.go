package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"queuematic/internal/models"
	"queuematic/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = `
	ticket_id, branch_id, number, status, request_id,
	created_at, called_at, served_at, completed_at, counter_id, session_id
`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var requestID sql.NullString
	var calledAt, servedAt, completedAt sql.NullTime
	var counterID, sessionID sql.NullString
	if err := row.Scan(
		&ticket.TicketID, &ticket.BranchID, &ticket.Number, &ticket.Status, &requestID,
		&ticket.CreatedAt, &calledAt, &servedAt, &completedAt, &counterID, &sessionID,
	); err != nil {
		return models.Ticket{}, err
	}
	if requestID.Valid {
		ticket.RequestID = requestID.String
	}
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.ServedAt = nullTimePtr(servedAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	ticket.CounterID = nullStringPtr(counterID)
	ticket.SessionID = nullStringPtr(sessionID)
	return ticket, nil
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var ticket models.Ticket
	err := s.withClaimRetry(ctx, func() error {
		var err error
		ticket, err = s.issueTicketOnce(ctx, input)
		return err
	})
	return ticket, err
}

func (s *Store) issueTicketOnce(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, err2 := findTicketByRequestID(ctx, tx, input.RequestID)
		if err2 != nil {
			err = err2
			return models.Ticket{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, err
			}
			return existing, nil
		}
	}

	var active bool
	row := tx.QueryRow(ctx, `
		SELECT active FROM branches WHERE branch_id = $1
	`, input.BranchID)
	if err = row.Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrBranchNotFound
		}
		return models.Ticket{}, err
	}
	if !active {
		err = store.ErrBranchInactive
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	number, err := nextTicketNumber(ctx, tx, input.BranchID, createdAt)
	if err != nil {
		return models.Ticket{}, err
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, branch_id, number, day, status, request_id, created_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		RETURNING `+ticketColumns, uuid.NewString(), input.BranchID, number, createdAt, models.StatusWaiting, nullIfEmpty(input.RequestID), createdAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// nextTicketNumber bumps the per-(branch, day) counter atomically. Two
// customers on the same branch can never observe the same number, and
// numbering restarts at 1 each calendar day.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, branchID string, createdAt time.Time) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (branch_id, day, next_number)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (branch_id, day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, branchID, createdAt)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var ticket models.Ticket
	err := s.withClaimRetry(ctx, func() error {
		var err error
		ticket, err = s.callNextOnce(ctx, input)
		return err
	})
	return ticket, err
}

func (s *Store) callNextOnce(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, empty, err2 := findActionRequest(ctx, tx, "call_next", input.RequestID)
		if err2 != nil {
			err = err2
			return models.Ticket{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, err
			}
			if empty {
				return models.Ticket{}, store.ErrNoTicket
			}
			return existing, nil
		}
	}

	// Lock the session row so call-next, complete, and end-session for the
	// same counter serialize against each other.
	var sessionID, branchID, holderID string
	row := tx.QueryRow(ctx, `
		SELECT session_id, branch_id, user_id
		FROM counter_sessions
		WHERE counter_id = $1 AND ended_at IS NULL
		FOR UPDATE
	`, input.CounterID)
	if err = row.Scan(&sessionID, &branchID, &holderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoSession
		}
		return models.Ticket{}, err
	}
	if holderID != input.UserID {
		err = store.ErrForbidden
		return models.Ticket{}, err
	}

	var busy bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE session_id = $1 AND status IN ($2, $3)
		)
	`, sessionID, models.StatusCalled, models.StatusServing)
	if err = row.Scan(&busy); err != nil {
		return models.Ticket{}, err
	}
	if busy {
		err = store.ErrServiceBusy
		return models.Ticket{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	// Oldest waiting ticket first; SKIP LOCKED makes concurrent claims on
	// the same branch take distinct rows instead of blocking or doubling up.
	row = tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE branch_id = $1 AND status = $2
			ORDER BY created_at ASC, number ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = $3,
			counter_id = $4,
			session_id = $5,
			called_at = $6
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+prefixedTicketColumns("tickets"), branchID, models.StatusWaiting, models.StatusCalled, input.CounterID, sessionID, calledAt)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if input.RequestID != "" {
				if err = insertActionRequest(ctx, tx, "call_next", input.RequestID, ""); err != nil {
					return models.Ticket{}, err
				}
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, err
			}
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}

	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, "call_next", input.RequestID, ticket.TicketID); err != nil {
			return models.Ticket{}, err
		}
	}
	if err = insertOutboxEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) StartServing(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, input, "start_serving", []string{models.StatusCalled}, models.StatusServing, "ticket.serving", "served_at")
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, input, "complete", []string{models.StatusCalled, models.StatusServing}, models.StatusCompleted, "ticket.completed", "completed_at")
}

// updateTicketStatus is the shared owner-checked conditional transition:
// the WHERE clause names the allowed source states, so terminal tickets and
// lost races fall out as zero updated rows and get diagnosed afterwards.
func (s *Store) updateTicketStatus(ctx context.Context, input store.TicketActionInput, action string, fromStatuses []string, toStatus, eventType, stampColumn string) (models.Ticket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	stamp := ""
	if stampColumn != "" {
		stamp = ", " + stampColumn + " = $5"
	}
	query := `
		UPDATE tickets
		SET status = $1` + stamp + `
		WHERE ticket_id = $2 AND status = ANY($3)
			AND session_id IN (
				SELECT session_id FROM counter_sessions WHERE user_id = $4
			)
		RETURNING ` + ticketColumns
	args := []interface{}{toStatus, input.TicketID, fromStatuses, input.UserID}
	if stampColumn != "" {
		args = append(args, occurredAt)
	}

	row := tx.QueryRow(ctx, query, args...)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.diagnoseTicketAction(ctx, tx, input, action)
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// diagnoseTicketAction explains a zero-row conditional update: missing
// ticket, disallowed state, or an actor that does not own the serving
// session.
func (s *Store) diagnoseTicketAction(ctx context.Context, tx pgx.Tx, input store.TicketActionInput, action string) error {
	var status string
	var sessionID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT status, session_id FROM tickets WHERE ticket_id = $1
	`, input.TicketID)
	if err := row.Scan(&status, &sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if !store.ValidTransition(action, status) {
		return store.ErrInvalidState
	}
	return store.ErrForbidden
}

// CancelTicket discards a ticket that is still waiting. Tickets already at
// a counter go through completion or forced session termination instead.
func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if input.Role != models.RoleAdmin {
		return models.Ticket{}, store.ErrForbidden
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1
		WHERE ticket_id = $2 AND status = $3
		RETURNING `+ticketColumns, models.StatusCancelled, input.TicketID, models.StatusWaiting)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err = tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)
			`, input.TicketID).Scan(&exists); err != nil {
				return models.Ticket{}, err
			}
			if !exists {
				err = store.ErrTicketNotFound
				return models.Ticket{}, err
			}
			err = store.ErrInvalidState
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.cancelled", ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// CancelStaleTickets sweeps waiting tickets older than maxAge, batch-limited.
// SKIP LOCKED keeps concurrent sweepers and in-flight claims out of each
// other's way.
func (s *Store) CancelStaleTickets(ctx context.Context, maxAge time.Duration, batchSize int) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := tx.Query(ctx, `
		WITH stale AS (
			SELECT ticket_id
			FROM tickets
			WHERE status = $1 AND created_at <= $2
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE tickets
		SET status = $4
		FROM stale
		WHERE tickets.ticket_id = stale.ticket_id
		RETURNING `+prefixedTicketColumns("tickets"), models.StatusWaiting, cutoff, batchSize, models.StatusCancelled)
	if err != nil {
		return 0, err
	}

	var cancelled []models.Ticket
	for rows.Next() {
		ticket, err2 := scanTicket(rows)
		if err2 != nil {
			rows.Close()
			err = err2
			return 0, err
		}
		cancelled = append(cancelled, ticket)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	for _, ticket := range cancelled {
		if err = insertOutboxEvent(ctx, tx, "ticket.cancelled", ticket); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(cancelled), nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Ticket, bool, bool, error) {
	var ticketID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_id FROM action_requests WHERE action = $1 AND request_id = $2
	`, action, requestID)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, false, nil
		}
		return models.Ticket{}, false, false, err
	}
	if !ticketID.Valid || ticketID.String == "" {
		return models.Ticket{}, true, true, nil
	}
	row = tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1
	`, ticketID.String)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, false, err
	}
	return ticket, true, false, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, ticketID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (action, request_id, ticket_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, action, requestID, nullIfEmpty(ticketID), time.Now().UTC())
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func prefixedTicketColumns(alias string) string {
	return alias + `.ticket_id, ` + alias + `.branch_id, ` + alias + `.number, ` + alias + `.status, ` + alias + `.request_id,
		` + alias + `.created_at, ` + alias + `.called_at, ` + alias + `.served_at, ` + alias + `.completed_at, ` + alias + `.counter_id, ` + alias + `.session_id`
}
