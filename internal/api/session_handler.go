package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidgateway/internal/api/shared"
	"vidgateway/internal/pool"
	"vidgateway/internal/redact"
)

// SessionHandler serves the session pool admin endpoints. Credentials only
// ever leave the server in masked form.
type SessionHandler struct {
	pool   *pool.Manager
	logger *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *pool.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		pool:   manager,
		logger: logger.With(slog.String("component", "session_handler")),
	}
}

// CreateSession handles POST /api/v1/sessions.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	session, err := h.pool.Add(r.Context(), req.Label, req.Credential, req.Capacity)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, NewSessionResponse(session))
}

// ListSessions handles GET /api/v1/sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.pool.List(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, NewSessionResponse(session))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	session, err := h.pool.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewSessionResponse(session))
}

// UpdateSession handles PATCH /api/v1/sessions/{id}. Only the enabled flag
// is mutable; re-enabling restores the healthy flag.
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req UpdateSessionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	session, err := h.pool.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewSessionResponse(session))
}

// DeleteSession handles DELETE /api/v1/sessions/{id}?force=. Without force,
// a session with active reservations is refused with 409.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid force flag")
			return
		}
		force = parsed
	}

	if err := h.pool.Remove(r.Context(), id, force); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestSession handles POST /api/v1/sessions/{id}/test: a one-off health
// probe whose result is reflected in the session's health state.
func (h *SessionHandler) TestSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	probeErr := h.pool.Probe(r.Context(), id)

	session, err := h.pool.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := struct {
		OK      bool            `json:"ok"`
		Error   string          `json:"error,omitempty"`
		Session SessionResponse `json:"session"`
	}{
		OK:      probeErr == nil,
		Session: NewSessionResponse(session),
	}
	if probeErr != nil {
		resp.Error = redact.Error(probeErr)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}
