package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"queuematic/internal/models"
	"queuematic/internal/store"
)

type fakeStore struct {
	issueFn        func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error)
	getTicketFn    func(ctx context.Context, ticketID string) (models.Ticket, error)
	cancelStaleFn  func(ctx context.Context, maxAge time.Duration, batchSize int) (int, error)
	startSessionFn func(ctx context.Context, counterID, userID string) (models.CounterSession, error)
	endSessionFn   func(ctx context.Context, input store.EndSessionInput) error
	resumeFn       func(ctx context.Context, userID string) (models.CounterSession, bool, error)
	lastCounterFn  func(ctx context.Context, userID string) (models.Counter, bool, error)
	callNextFn     func(ctx context.Context, input store.CallNextInput) (models.Ticket, error)
	startServingFn func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	completeFn     func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	cancelFn       func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	branchStatusFn func(ctx context.Context, branchID string) (store.BranchStatus, error)
	listCountersFn func(ctx context.Context, branchID string) ([]store.CounterOccupancy, error)
	historyFn      func(ctx context.Context, userID string, day time.Time) ([]store.ServiceRecord, error)
	outboxFn       func(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error)
	loginFn        func(ctx context.Context, input store.LoginInput) (store.LoginResult, error)
	authSessionFn  func(ctx context.Context, token string) (models.AuthSession, error)
}

func (f fakeStore) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
	if f.issueFn == nil {
		return models.Ticket{}, nil
	}
	return f.issueFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) CancelStaleTickets(ctx context.Context, maxAge time.Duration, batchSize int) (int, error) {
	if f.cancelStaleFn == nil {
		return 0, nil
	}
	return f.cancelStaleFn(ctx, maxAge, batchSize)
}

func (f fakeStore) StartSession(ctx context.Context, counterID, userID string) (models.CounterSession, error) {
	if f.startSessionFn == nil {
		return models.CounterSession{}, nil
	}
	return f.startSessionFn(ctx, counterID, userID)
}

func (f fakeStore) EndSession(ctx context.Context, input store.EndSessionInput) error {
	if f.endSessionFn == nil {
		return nil
	}
	return f.endSessionFn(ctx, input)
}

func (f fakeStore) ResumeSession(ctx context.Context, userID string) (models.CounterSession, bool, error) {
	if f.resumeFn == nil {
		return models.CounterSession{}, false, nil
	}
	return f.resumeFn(ctx, userID)
}

func (f fakeStore) LastAvailableCounter(ctx context.Context, userID string) (models.Counter, bool, error) {
	if f.lastCounterFn == nil {
		return models.Counter{}, false, nil
	}
	return f.lastCounterFn(ctx, userID)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, nil
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) StartServing(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.startServingFn == nil {
		return models.Ticket{}, nil
	}
	return f.startServingFn(ctx, input)
}

func (f fakeStore) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, input)
}

func (f fakeStore) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, input)
}

func (f fakeStore) BranchStatus(ctx context.Context, branchID string) (store.BranchStatus, error) {
	if f.branchStatusFn == nil {
		return store.BranchStatus{}, nil
	}
	return f.branchStatusFn(ctx, branchID)
}

func (f fakeStore) ListCounters(ctx context.Context, branchID string) ([]store.CounterOccupancy, error) {
	if f.listCountersFn == nil {
		return nil, nil
	}
	return f.listCountersFn(ctx, branchID)
}

func (f fakeStore) ServiceHistory(ctx context.Context, userID string, day time.Time) ([]store.ServiceRecord, error) {
	if f.historyFn == nil {
		return nil, nil
	}
	return f.historyFn(ctx, userID, day)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, afterID, limit)
}

func (f fakeStore) Login(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	if f.loginFn == nil {
		return store.LoginResult{}, nil
	}
	return f.loginFn(ctx, input)
}

func (f fakeStore) GetAuthSession(ctx context.Context, token string) (models.AuthSession, error) {
	if f.authSessionFn == nil {
		return models.AuthSession{}, store.ErrSessionNotFound
	}
	return f.authSessionFn(ctx, token)
}

const (
	testBranchID  = "8f2e2b3a-6f7c-4a4e-bb1e-0a2f9f1a1101"
	testCounterID = "8f2e2b3a-6f7c-4a4e-bb1e-0a2f9f1a1102"
	testTicketID  = "8f2e2b3a-6f7c-4a4e-bb1e-0a2f9f1a1103"
	testSessionID = "8f2e2b3a-6f7c-4a4e-bb1e-0a2f9f1a1104"
	testUserID    = "8f2e2b3a-6f7c-4a4e-bb1e-0a2f9f1a1105"
)

func authedStore(f fakeStore, role string) fakeStore {
	f.authSessionFn = func(ctx context.Context, token string) (models.AuthSession, error) {
		if token != "valid-token" {
			return models.AuthSession{}, store.ErrSessionNotFound
		}
		return models.AuthSession{
			Token:     token,
			UserID:    testUserID,
			Role:      role,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}
	return f
}

func serveAuthed(f fakeStore, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer valid-token")
	recorder := httptest.NewRecorder()
	handler := AuthMiddleware(f, NewHandler(f).Routes())
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestIssueTicket(t *testing.T) {
	f := fakeStore{
		issueFn: func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
			if input.BranchID != testBranchID {
				t.Fatalf("unexpected branch id %q", input.BranchID)
			}
			return models.Ticket{TicketID: testTicketID, BranchID: input.BranchID, Number: 7, Status: models.StatusWaiting}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"branch_id": testBranchID})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(recorder.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Number != 7 || ticket.Status != models.StatusWaiting {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestIssueTicketRejectsBadBranch(t *testing.T) {
	f := fakeStore{}
	body, _ := json.Marshal(map[string]string{"branch_id": "not-a-uuid"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestIssueTicketBranchInactive(t *testing.T) {
	f := fakeStore{
		issueFn: func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrBranchInactive
		},
	}
	body, _ := json.Marshal(map[string]string{"branch_id": testBranchID})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestCallNextReturnsTicket(t *testing.T) {
	f := authedStore(fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			if input.CounterID != testCounterID || input.UserID != testUserID {
				t.Fatalf("unexpected input %+v", input)
			}
			return models.Ticket{TicketID: testTicketID, Number: 3, Status: models.StatusCalled}, nil
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodPost, "/api/counters/"+testCounterID+"/call-next", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		Status string        `json:"status"`
		Ticket models.Ticket `json:"ticket"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "called" || resp.Ticket.Number != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCallNextNoneWaiting(t *testing.T) {
	f := authedStore(fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNoTicket
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodPost, "/api/counters/"+testCounterID+"/call-next", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty queue, got %d", recorder.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "none_waiting" {
		t.Fatalf("expected none_waiting, got %q", resp.Status)
	}
}

func TestCallNextServiceBusy(t *testing.T) {
	f := authedStore(fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrServiceBusy
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodPost, "/api/counters/"+testCounterID+"/call-next", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestCallNextRequiresAuth(t *testing.T) {
	f := fakeStore{}
	req := httptest.NewRequest(http.MethodPost, "/api/counters/"+testCounterID+"/call-next", nil)
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStartSessionConflict(t *testing.T) {
	f := authedStore(fakeStore{
		startSessionFn: func(ctx context.Context, counterID, userID string) (models.CounterSession, error) {
			return models.CounterSession{}, store.ErrSessionConflict
		},
	}, models.RoleClerk)

	body, _ := json.Marshal(map[string]string{"counter_id": testCounterID})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestEndSessionBusy(t *testing.T) {
	f := authedStore(fakeStore{
		endSessionFn: func(ctx context.Context, input store.EndSessionInput) error {
			if input.Force {
				t.Fatalf("force must not be set by default")
			}
			return store.ErrSessionBusy
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+testSessionID, nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestEndSessionForceFlag(t *testing.T) {
	var gotForce bool
	f := authedStore(fakeStore{
		endSessionFn: func(ctx context.Context, input store.EndSessionInput) error {
			gotForce = input.Force
			return nil
		},
	}, models.RoleAdmin)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+testSessionID+"?force=1", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !gotForce {
		t.Fatalf("expected force flag to reach the store")
	}
}

func TestResumeSessionEmpty(t *testing.T) {
	f := authedStore(fakeStore{}, models.RoleClerk)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/current", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var resp struct {
		Session *models.CounterSession `json:"session"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Session != nil {
		t.Fatalf("expected null session, got %+v", resp.Session)
	}
}

func TestCompleteTicketConflict(t *testing.T) {
	f := authedStore(fakeStore{
		completeFn: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+testTicketID+"/complete", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestCancelTicketForbiddenForClerk(t *testing.T) {
	f := authedStore(fakeStore{
		cancelFn: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
			if input.Role != models.RoleClerk {
				t.Fatalf("expected clerk role, got %q", input.Role)
			}
			return models.Ticket{}, store.ErrForbidden
		},
	}, models.RoleClerk)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+testTicketID+"/cancel", nil)
	recorder := serveAuthed(f, req)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestBranchStatusPublic(t *testing.T) {
	f := fakeStore{
		branchStatusFn: func(ctx context.Context, branchID string) (store.BranchStatus, error) {
			return store.BranchStatus{
				BranchID:     branchID,
				BranchName:   "Main Street",
				WaitingCount: 4,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/branches/"+testBranchID+"/status", nil)
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var status store.BranchStatus
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.WaitingCount != 4 || status.BranchName != "Main Street" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestBranchUnknownViewSkipsStore(t *testing.T) {
	var projected bool
	f := fakeStore{
		branchStatusFn: func(ctx context.Context, branchID string) (store.BranchStatus, error) {
			projected = true
			return store.BranchStatus{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/branches/"+testBranchID+"/bogus", nil)
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown view, got %d", recorder.Code)
	}
	if projected {
		t.Fatalf("expected the projection not to run for an unknown view")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := fakeStore{
		loginFn: func(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		},
	}

	body, _ := json.Marshal(map[string]string{"username": "clerk1", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	AuthMiddleware(f, NewHandler(f).Routes()).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}
