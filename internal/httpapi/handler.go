package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"queuematic/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.Store
}

func NewHandler(s store.Store) *Handler {
	return &Handler{store: s}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.HandleFunc("/api/tickets", h.handleIssueTicket)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/sessions", h.handleStartSession)
	mux.HandleFunc("/api/sessions/current", h.handleResumeSession)
	mux.HandleFunc("/api/sessions/last-counter", h.handleLastCounter)
	mux.HandleFunc("/api/sessions/", h.handleEndSession)
	mux.HandleFunc("/api/counters", h.handleListCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterActions)
	mux.HandleFunc("/api/branches/", h.handleBranches)
	mux.HandleFunc("/api/history", h.handleHistory)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	result, err := h.store.Login(r.Context(), store.LoginInput{Username: req.Username, Password: req.Password})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      result.Session.Token,
		"expires_at": result.Session.ExpiresAt,
		"user":       result.User,
	})
}

type issueTicketRequest struct {
	RequestID string `json:"request_id"`
	BranchID  string `json:"branch_id"`
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.BranchID = strings.TrimSpace(req.BranchID)

	if req.BranchID == "" || !isValidUUID(req.BranchID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	ticket, err := h.store.IssueTicket(r.Context(), store.IssueTicketInput{
		RequestID: req.RequestID,
		BranchID:  req.BranchID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleTicketActions serves GET /api/tickets/{id} and
// POST /api/tickets/{id}/(serve|complete|cancel).
func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
		return
	}
	ticketID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.store.GetTicket(r.Context(), ticketID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	input := store.TicketActionInput{
		TicketID:   ticketID,
		UserID:     auth.UserID,
		Role:       auth.Role,
		OccurredAt: time.Now().UTC(),
	}

	var err error
	var payload interface{}
	switch parts[1] {
	case "serve":
		payload, err = h.store.StartServing(r.Context(), input)
	case "complete":
		payload, err = h.store.CompleteTicket(r.Context(), input)
	case "cancel":
		payload, err = h.store.CancelTicket(r.Context(), input)
	default:
		writeError(w, "", http.StatusNotFound, "not_found", "unknown ticket action")
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type startSessionRequest struct {
	CounterID string `json:"counter_id"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req startSessionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.CounterID = strings.TrimSpace(req.CounterID)
	if req.CounterID == "" || !isValidUUID(req.CounterID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter_id must be a UUID")
		return
	}

	session, err := h.store.StartSession(r.Context(), req.CounterID, auth.UserID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleEndSession serves DELETE /api/sessions/{id}. Admins may pass
// ?force=1 to cancel an in-flight ticket along with the session.
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session id must be a UUID")
		return
	}
	force := r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true"

	err := h.store.EndSession(r.Context(), store.EndSessionInput{
		SessionID: sessionID,
		ActorID:   auth.UserID,
		ActorRole: auth.Role,
		Force:     force,
		EndedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *Handler) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	session, found, err := h.store.ResumeSession(r.Context(), auth.UserID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *Handler) handleLastCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	counter, found, err := h.store.LastAvailableCounter(r.Context(), auth.UserID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"counter": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counter": counter})
}

func (h *Handler) handleListCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := authFromContext(r.Context()); !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if branchID == "" || !isValidUUID(branchID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	counters, err := h.store.ListCounters(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counters": counters})
}

type callNextRequest struct {
	RequestID string `json:"request_id"`
}

// handleCounterActions serves POST /api/counters/{id}/call-next.
func (h *Handler) handleCounterActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "call-next" {
		writeError(w, "", http.StatusNotFound, "not_found", "unknown counter action")
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(parts[0]) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter id must be a UUID")
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	// An empty body is fine: request_id is optional for call-next.
	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		RequestID: req.RequestID,
		CounterID: parts[0],
		UserID:    auth.UserID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			// Empty queue is a normal outcome, not a failure.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"request_id": req.RequestID,
				"status":     "none_waiting",
			})
			return
		}
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": req.RequestID,
		"status":     "called",
		"ticket":     ticket,
	})
}

// handleBranches serves GET /api/branches/{id}/status and
// GET /api/branches/{id}/display.
func (h *Handler) handleBranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/branches/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || !isValidUUID(parts[0]) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "branch id must be a UUID")
		return
	}

	view := parts[1]
	if view != "status" && view != "display" {
		writeError(w, "", http.StatusNotFound, "not_found", "unknown branch view")
		return
	}

	status, err := h.store.BranchStatus(r.Context(), parts[0])
	if err != nil {
		code, errCode, msg := mapError(err)
		writeError(w, "", code, errCode, msg)
		return
	}

	if view == "display" {
		// The lobby screen renders a trimmed view of the same projection.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"branch_name":            status.BranchName,
			"now_serving":            status.NowServing,
			"waiting_count":          status.WaitingCount,
			"last_completed_number":  status.LastCompletedNumber,
			"recent_completed":       status.RecentCompleted,
			"estimated_wait_seconds": int(status.EstimatedWait.Seconds()),
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	records, err := h.store.ServiceHistory(r.Context(), auth.UserID, day)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrBranchInactive):
		return http.StatusUnprocessableEntity, "branch_inactive", "branch is not accepting tickets"
	case errors.Is(err, store.ErrCounterInactive):
		return http.StatusUnprocessableEntity, "counter_inactive", "counter is not active"
	case errors.Is(err, store.ErrSessionConflict):
		return http.StatusConflict, "session_conflict", "counter or clerk already has an open session"
	case errors.Is(err, store.ErrSessionBusy):
		return http.StatusConflict, "session_busy", "session has a ticket in progress"
	case errors.Is(err, store.ErrServiceBusy):
		return http.StatusConflict, "service_busy", "complete the current ticket first"
	case errors.Is(err, store.ErrSessionClosed):
		return http.StatusConflict, "session_closed", "session already ended"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden", "actor does not own this resource"
	case errors.Is(err, store.ErrNoSession):
		return http.StatusForbidden, "no_session", "no open session for this counter"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case errors.Is(err, store.ErrAuthSessionExpired):
		return http.StatusUnauthorized, "session_expired", "login session expired"
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, "transient", "datastore busy, retry shortly"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
