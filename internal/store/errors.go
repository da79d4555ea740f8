package store

import "errors"

var (
	ErrBranchNotFound  = errors.New("branch not found")
	ErrBranchInactive  = errors.New("branch inactive")
	ErrCounterNotFound = errors.New("counter not found")
	ErrCounterInactive = errors.New("counter inactive")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict: the counter already has an open session, or the
	// user already holds one elsewhere.
	ErrSessionConflict = errors.New("session conflict")
	// ErrSessionBusy: the session has a ticket in called/serving state.
	ErrSessionBusy = errors.New("session has open ticket")
	// ErrServiceBusy: call-next while a previous ticket is still open.
	ErrServiceBusy = errors.New("current ticket not completed")
	// ErrSessionClosed: acting on a session that already ended.
	ErrSessionClosed = errors.New("session already closed")
	// ErrInvalidState: the ticket's status does not allow the action.
	ErrInvalidState = errors.New("invalid ticket state")

	// ErrNoTicket is the normal empty result of call-next, not a failure.
	ErrNoTicket = errors.New("no ticket waiting")

	ErrNoSession = errors.New("no open session for counter")
	ErrForbidden = errors.New("forbidden")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthSessionExpired = errors.New("auth session expired")

	// ErrTransient: datastore contention or timeout; safe to retry.
	ErrTransient = errors.New("transient datastore failure")
)
