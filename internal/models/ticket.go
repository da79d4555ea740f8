package models

import "time"

type Ticket struct {
	TicketID  string `json:"ticket_id"`
	BranchID  string `json:"branch_id"`
	Number    int    `json:"number"`
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	ServedAt    *time.Time `json:"served_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CounterID *string `json:"counter_id,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ServiceDuration is how long the customer was at the counter, from the
// moment the ticket was called until completion. Zero for tickets that
// never completed.
func (t Ticket) ServiceDuration() time.Duration {
	if t.CalledAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.CalledAt)
}

// Terminal reports whether the ticket can never transition again.
func (t Ticket) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}
