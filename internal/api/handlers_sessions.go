package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/rolechat-memory/internal/memory"
	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// SessionHandler serves the session lifecycle and per-turn endpoints.
type SessionHandler struct {
	svc *memory.Service
}

func NewSessionHandler(svc *memory.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// GetOrCreate handles POST /sessions
func (h *SessionHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.CharacterName == "" {
		writeError(w, http.StatusBadRequest, "user_id and character_name are required")
		return
	}

	sess, isNew, err := h.svc.GetOrCreateSession(r.Context(), req.UserID, req.CharacterName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, models.SessionResponse{Session: sess, IsNew: isNew})
}

// End handles POST /sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Context handles POST /context
func (h *SessionHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req models.ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.CharacterName == "" {
		writeError(w, http.StatusBadRequest, "user_id and character_name are required")
		return
	}

	sess, _, err := h.svc.GetOrCreateSession(r.Context(), req.UserID, req.CharacterName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	assembled, err := h.svc.AssembleContext(r.Context(), req.UserID, req.CharacterName,
		req.CharacterProfile, req.CurrentMessage, sess)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ContextResponse{
		SessionID:  sess.ID,
		Context:    assembled,
		FullPrompt: assembled.FullPrompt(),
	})
}

// Exchange handles POST /exchanges
func (h *SessionHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req models.ExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.CharacterName == "" {
		writeError(w, http.StatusBadRequest, "user_id and character_name are required")
		return
	}
	if req.UserMessage == "" || req.AssistantResponse == "" {
		writeError(w, http.StatusBadRequest, "user_message and assistant_response are required")
		return
	}

	sess, err := h.svc.RecordTurn(r.Context(), req.UserID, req.CharacterName,
		req.UserMessage, req.AssistantResponse, req.UserTokens, req.AssistantTokens)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
