package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"queuematic/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	claimRetryLimit   = 3
	claimRetryBackoff = 25 * time.Millisecond
)

type Store struct {
	pool               *pgxpool.Pool
	defaultServiceTime time.Duration
	authSessionTTL     time.Duration
	opTimeout          time.Duration
}

type Options struct {
	// DefaultServiceTime seeds the wait estimate before the day has any
	// completed tickets to average over.
	DefaultServiceTime time.Duration
	AuthSessionTTL     time.Duration
	OpTimeout          time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	defaultServiceTime := options.DefaultServiceTime
	if defaultServiceTime <= 0 {
		defaultServiceTime = 5 * time.Minute
	}
	authSessionTTL := options.AuthSessionTTL
	if authSessionTTL <= 0 {
		authSessionTTL = 8 * time.Hour
	}
	opTimeout := options.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Store{
		pool:               pool,
		defaultServiceTime: defaultServiceTime,
		authSessionTTL:     authSessionTTL,
		opTimeout:          opTimeout,
	}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// withClaimRetry re-runs fn on transient contention failures. Losing a race
// for the same row is expected under load and is not surfaced before the
// retry budget is spent.
func (s *Store) withClaimRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < claimRetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return store.ErrTransient
			case <-time.After(claimRetryBackoff << uint(attempt-1)):
			}
		}
		err = fn()
		if err == nil || (!isTransient(err) && !isIdempotencyRace(err)) {
			return err
		}
	}
	return store.ErrTransient
}

// isIdempotencyRace reports a unique violation from two in-flight calls
// carrying the same request_id: the replay lookup runs before the winner
// commits, so the loser's insert trips the constraint instead. The rerun
// sees the committed row and replays it.
func isIdempotencyRace(err error) bool {
	return isUniqueViolation(err, "tickets_request_id_key") ||
		isUniqueViolation(err, "action_requests_pkey")
}

// isTransient classifies serialization failures, deadlocks, lock timeouts,
// and expired op deadlines as retryable.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func jsonBytes(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
