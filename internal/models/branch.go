package models

import "time"

type Branch struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

type Counter struct {
	CounterID string `json:"counter_id"`
	BranchID  string `json:"branch_id"`
	Number    int    `json:"number"`
	Active    bool   `json:"active"`
}

// CounterSession is the open interval during which one clerk occupies one
// counter. EndedAt is nil while the session is open.
type CounterSession struct {
	SessionID string     `json:"session_id"`
	CounterID string     `json:"counter_id"`
	BranchID  string     `json:"branch_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s CounterSession) Open() bool {
	return s.EndedAt == nil
}
