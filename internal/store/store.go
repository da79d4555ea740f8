package store

import (
	"context"
	"encoding/json"
	"time"

	"queuematic/internal/models"
)

type IssueTicketInput struct {
	RequestID string
	BranchID  string
	CreatedAt time.Time
}

type CallNextInput struct {
	RequestID string
	CounterID string
	UserID    string
	CalledAt  time.Time
}

type TicketActionInput struct {
	TicketID   string
	UserID     string
	Role       string
	OccurredAt time.Time
}

type EndSessionInput struct {
	SessionID string
	ActorID   string
	ActorRole string
	Force     bool
	EndedAt   time.Time
}

type LoginInput struct {
	Username string
	Password string
}

type LoginResult struct {
	User    models.User
	Session models.AuthSession
}

// CounterOccupancy pairs a counter with whoever holds it right now, for the
// admin counter board and the clerk counter picker.
type CounterOccupancy struct {
	Counter models.Counter         `json:"counter"`
	Session *models.CounterSession `json:"session,omitempty"`
	User    *models.User           `json:"user,omitempty"`
}

// ServingEntry is one counter currently announcing a ticket.
type ServingEntry struct {
	CounterNumber int    `json:"counter_number"`
	TicketNumber  int    `json:"ticket_number"`
	Status        string `json:"status"`
}

type BranchStatus struct {
	BranchID            string         `json:"branch_id"`
	BranchName          string         `json:"branch_name"`
	WaitingCount        int            `json:"waiting_count"`
	CalledCount         int            `json:"called_count"`
	ServingCount        int            `json:"serving_count"`
	ActiveCounters      int            `json:"active_counters"`
	LastCompletedNumber int            `json:"last_completed_number"`
	NowServing          []ServingEntry `json:"now_serving"`
	RecentCompleted     []int          `json:"recent_completed"`
	EstimatedWait       time.Duration  `json:"estimated_wait_seconds"`
}

// ServiceRecord is the historical read of a completed ticket joined to the
// session and clerk that served it.
type ServiceRecord struct {
	Ticket          models.Ticket `json:"ticket"`
	CounterNumber   int           `json:"counter_number"`
	UserID          string        `json:"user_id"`
	ServiceDuration time.Duration `json:"service_duration_seconds"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	BranchID  string          `json:"branch_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the single source of truth. Every mutating method is atomic with
// respect to concurrent callers; callers never compose two mutations into
// one logical operation.
type Store interface {
	IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CancelStaleTickets(ctx context.Context, maxAge time.Duration, batchSize int) (int, error)

	StartSession(ctx context.Context, counterID, userID string) (models.CounterSession, error)
	EndSession(ctx context.Context, input EndSessionInput) error
	ResumeSession(ctx context.Context, userID string) (models.CounterSession, bool, error)
	LastAvailableCounter(ctx context.Context, userID string) (models.Counter, bool, error)

	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	StartServing(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)

	BranchStatus(ctx context.Context, branchID string) (BranchStatus, error)
	ListCounters(ctx context.Context, branchID string) ([]CounterOccupancy, error)
	ServiceHistory(ctx context.Context, userID string, day time.Time) ([]ServiceRecord, error)

	ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]OutboxEvent, error)

	Login(ctx context.Context, input LoginInput) (LoginResult, error)
	GetAuthSession(ctx context.Context, token string) (models.AuthSession, error)
}
