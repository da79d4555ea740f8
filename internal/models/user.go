package models

import "time"

type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleClerk = "clerk"
	RoleAdmin = "admin"
)

// AuthSession is an opaque login token row, distinct from CounterSession.
type AuthSession struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
