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

// StartSession opens a counter session for a clerk. Exclusivity (one open
// session per counter, one per user) is enforced by partial unique indexes,
// so two racing claims can never both commit.
func (s *Store) StartSession(ctx context.Context, counterID, userID string) (models.CounterSession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CounterSession{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var branchID string
	var counterActive, branchActive bool
	row := tx.QueryRow(ctx, `
		SELECT c.branch_id, c.active, b.active
		FROM counters c
		JOIN branches b ON b.branch_id = c.branch_id
		WHERE c.counter_id = $1
	`, counterID)
	if err = row.Scan(&branchID, &counterActive, &branchActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCounterNotFound
		}
		return models.CounterSession{}, err
	}
	if !branchActive {
		err = store.ErrBranchInactive
		return models.CounterSession{}, err
	}
	if !counterActive {
		err = store.ErrCounterInactive
		return models.CounterSession{}, err
	}

	session := models.CounterSession{
		SessionID: uuid.NewString(),
		CounterID: counterID,
		BranchID:  branchID,
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO counter_sessions (session_id, counter_id, branch_id, user_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.SessionID, session.CounterID, session.BranchID, session.UserID, session.StartedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			err = store.ErrSessionConflict
		}
		return models.CounterSession{}, err
	}

	if err = insertSessionEvent(ctx, tx, "session.started", session); err != nil {
		return models.CounterSession{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.CounterSession{}, err
	}
	return session, nil
}

// EndSession closes a counter session. A session with a ticket still at the
// counter refuses to close unless the caller is an admin forcing it, in
// which case the ticket is cancelled in the same transaction.
func (s *Store) EndSession(ctx context.Context, input store.EndSessionInput) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var session models.CounterSession
	var endedAt sql.NullTime
	row := tx.QueryRow(ctx, `
		SELECT session_id, counter_id, branch_id, user_id, started_at, ended_at
		FROM counter_sessions
		WHERE session_id = $1
		FOR UPDATE
	`, input.SessionID)
	if err = row.Scan(&session.SessionID, &session.CounterID, &session.BranchID, &session.UserID, &session.StartedAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSessionNotFound
		}
		return err
	}
	if endedAt.Valid {
		err = store.ErrSessionClosed
		return err
	}

	if session.UserID != input.ActorID && input.ActorRole != models.RoleAdmin {
		err = store.ErrForbidden
		return err
	}
	if input.Force && input.ActorRole != models.RoleAdmin {
		err = store.ErrForbidden
		return err
	}

	row = tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE session_id = $1 AND status IN ($2, $3)
		FOR UPDATE
	`, session.SessionID, models.StatusCalled, models.StatusServing)
	openTicket, err := scanTicket(row)
	switch {
	case err == nil:
		if !input.Force {
			err = store.ErrSessionBusy
			return err
		}
		row = tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $1
			WHERE ticket_id = $2
			RETURNING `+ticketColumns, models.StatusCancelled, openTicket.TicketID)
		cancelled, err2 := scanTicket(row)
		if err2 != nil {
			err = err2
			return err
		}
		if err = insertOutboxEvent(ctx, tx, "ticket.cancelled", cancelled); err != nil {
			return err
		}
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	default:
		return err
	}

	when := input.EndedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		UPDATE counter_sessions SET ended_at = $1 WHERE session_id = $2
	`, when, session.SessionID); err != nil {
		return err
	}
	session.EndedAt = &when

	if err = insertSessionEvent(ctx, tx, "session.ended", session); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResumeSession is the reconnect path: a pure read of the caller's open
// session, if any.
func (s *Store) ResumeSession(ctx context.Context, userID string) (models.CounterSession, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var session models.CounterSession
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, counter_id, branch_id, user_id, started_at
		FROM counter_sessions
		WHERE user_id = $1 AND ended_at IS NULL
	`, userID)
	if err := row.Scan(&session.SessionID, &session.CounterID, &session.BranchID, &session.UserID, &session.StartedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CounterSession{}, false, nil
		}
		return models.CounterSession{}, false, err
	}
	return session, true, nil
}

// LastAvailableCounter finds the counter the user most recently worked that
// is still active and presently unoccupied. It never opens a session; the
// clerk surface decides whether to claim it.
func (s *Store) LastAvailableCounter(ctx context.Context, userID string) (models.Counter, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		SELECT c.counter_id, c.branch_id, c.number, c.active
		FROM counter_sessions s
		JOIN counters c ON c.counter_id = s.counter_id
		WHERE s.user_id = $1 AND s.ended_at IS NOT NULL
			AND c.active = TRUE
			AND NOT EXISTS (
				SELECT 1 FROM counter_sessions open
				WHERE open.counter_id = c.counter_id AND open.ended_at IS NULL
			)
		ORDER BY s.ended_at DESC
		LIMIT 1
	`, userID)
	if err := row.Scan(&counter.CounterID, &counter.BranchID, &counter.Number, &counter.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, false, nil
		}
		return models.Counter{}, false, err
	}
	return counter, true, nil
}
