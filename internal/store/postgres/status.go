package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"queuematic/internal/models"
	"queuematic/internal/store"

	"github.com/jackc/pgx/v5"
)

const recentCompletedLimit = 5

func (s *Store) BranchStatus(ctx context.Context, branchID string) (store.BranchStatus, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var status store.BranchStatus
	status.BranchID = branchID

	row := s.pool.QueryRow(ctx, `
		SELECT name FROM branches WHERE branch_id = $1
	`, branchID)
	if err := row.Scan(&status.BranchName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BranchStatus{}, store.ErrBranchNotFound
		}
		return store.BranchStatus{}, err
	}

	row = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4)
		FROM tickets
		WHERE branch_id = $1 AND status IN ($2, $3, $4)
	`, branchID, models.StatusWaiting, models.StatusCalled, models.StatusServing)
	if err := row.Scan(&status.WaitingCount, &status.CalledCount, &status.ServingCount); err != nil {
		return store.BranchStatus{}, err
	}

	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM counter_sessions
		WHERE branch_id = $1 AND ended_at IS NULL
	`, branchID)
	if err := row.Scan(&status.ActiveCounters); err != nil {
		return store.BranchStatus{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.number, t.number, t.status
		FROM tickets t
		JOIN counters c ON c.counter_id = t.counter_id
		WHERE t.branch_id = $1 AND t.status IN ($2, $3)
		ORDER BY c.number ASC
	`, branchID, models.StatusCalled, models.StatusServing)
	if err != nil {
		return store.BranchStatus{}, err
	}
	for rows.Next() {
		var entry store.ServingEntry
		if err := rows.Scan(&entry.CounterNumber, &entry.TicketNumber, &entry.Status); err != nil {
			rows.Close()
			return store.BranchStatus{}, err
		}
		status.NowServing = append(status.NowServing, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.BranchStatus{}, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT number FROM tickets
		WHERE branch_id = $1 AND status = $2 AND day = CURRENT_DATE
		ORDER BY completed_at DESC
		LIMIT $3
	`, branchID, models.StatusCompleted, recentCompletedLimit)
	if err != nil {
		return store.BranchStatus{}, err
	}
	for rows.Next() {
		var number int
		if err := rows.Scan(&number); err != nil {
			rows.Close()
			return store.BranchStatus{}, err
		}
		status.RecentCompleted = append(status.RecentCompleted, number)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.BranchStatus{}, err
	}
	if len(status.RecentCompleted) > 0 {
		status.LastCompletedNumber = status.RecentCompleted[0]
	}

	var avgSeconds sql.NullFloat64
	row = s.pool.QueryRow(ctx, `
		SELECT EXTRACT(EPOCH FROM AVG(completed_at - called_at))
		FROM tickets
		WHERE branch_id = $1 AND status = $2 AND day = CURRENT_DATE
			AND called_at IS NOT NULL AND completed_at IS NOT NULL
	`, branchID, models.StatusCompleted)
	if err := row.Scan(&avgSeconds); err != nil {
		return store.BranchStatus{}, err
	}
	avg := s.defaultServiceTime
	if avgSeconds.Valid && avgSeconds.Float64 > 0 {
		avg = time.Duration(avgSeconds.Float64 * float64(time.Second))
	}
	status.EstimatedWait = estimateWait(status.WaitingCount, avg, status.ActiveCounters)

	return status, nil
}

// estimateWait spreads the waiting load over the open counters. With no
// counter open the estimate still assumes one, so the display shows a
// finite (if optimistic) figure rather than dividing by zero.
func estimateWait(waiting int, avgService time.Duration, activeCounters int) time.Duration {
	if waiting <= 0 {
		return 0
	}
	if activeCounters < 1 {
		activeCounters = 1
	}
	return time.Duration(waiting) * avgService / time.Duration(activeCounters)
}

func (s *Store) ListCounters(ctx context.Context, branchID string) ([]store.CounterOccupancy, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.counter_id, c.branch_id, c.number, c.active,
			s.session_id, s.user_id, s.started_at,
			u.username, u.name
		FROM counters c
		LEFT JOIN counter_sessions s ON s.counter_id = c.counter_id AND s.ended_at IS NULL
		LEFT JOIN users u ON u.user_id = s.user_id
		WHERE c.branch_id = $1
		ORDER BY c.number ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []store.CounterOccupancy
	for rows.Next() {
		var entry store.CounterOccupancy
		var sessionID, userID, username, name sql.NullString
		var startedAt sql.NullTime
		if err := rows.Scan(
			&entry.Counter.CounterID, &entry.Counter.BranchID, &entry.Counter.Number, &entry.Counter.Active,
			&sessionID, &userID, &startedAt, &username, &name,
		); err != nil {
			return nil, err
		}
		if sessionID.Valid {
			entry.Session = &models.CounterSession{
				SessionID: sessionID.String,
				CounterID: entry.Counter.CounterID,
				BranchID:  entry.Counter.BranchID,
				UserID:    userID.String,
				StartedAt: startedAt.Time,
			}
			entry.User = &models.User{
				UserID:   userID.String,
				Username: username.String,
				Name:     name.String,
			}
		}
		counters = append(counters, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

// ServiceHistory is the clerk work-history read: completed tickets joined
// to the session and counter that served them.
func (s *Store) ServiceHistory(ctx context.Context, userID string, day time.Time) ([]store.ServiceRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixedTicketColumns("t")+`, c.number
		FROM tickets t
		JOIN counter_sessions s ON s.session_id = t.session_id
		JOIN counters c ON c.counter_id = t.counter_id
		WHERE s.user_id = $1 AND t.status = $2 AND t.day = $3::date
		ORDER BY t.completed_at DESC
	`, userID, models.StatusCompleted, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.ServiceRecord
	for rows.Next() {
		var record store.ServiceRecord
		var ticket models.Ticket
		var requestID sql.NullString
		var calledAt, servedAt, completedAt sql.NullTime
		var counterID, sessionID sql.NullString
		if err := rows.Scan(
			&ticket.TicketID, &ticket.BranchID, &ticket.Number, &ticket.Status, &requestID,
			&ticket.CreatedAt, &calledAt, &servedAt, &completedAt, &counterID, &sessionID,
			&record.CounterNumber,
		); err != nil {
			return nil, err
		}
		if requestID.Valid {
			ticket.RequestID = requestID.String
		}
		ticket.CalledAt = nullTimePtr(calledAt)
		ticket.ServedAt = nullTimePtr(servedAt)
		ticket.CompletedAt = nullTimePtr(completedAt)
		ticket.CounterID = nullStringPtr(counterID)
		ticket.SessionID = nullStringPtr(sessionID)

		record.Ticket = ticket
		record.UserID = userID
		record.ServiceDuration = ticket.ServiceDuration()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
