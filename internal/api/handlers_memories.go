package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/rolechat-memory/internal/memory"
	"github.com/iammorganparry/rolechat-memory/internal/models"
)

const (
	defaultListLimit   = 50
	defaultEntityLimit = 20
)

type MemoryHandler struct {
	svc *memory.Service
}

func NewMemoryHandler(svc *memory.Service) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

func scope(r *http.Request) (string, string) {
	return chi.URLParam(r, "userID"), chi.URLParam(r, "character")
}

func queryLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// Summary handles GET /users/{userID}/characters/{character}/summary
func (h *MemoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, character := scope(r)
	summary, err := h.svc.GetConversationSummary(r.Context(), userID, character)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// List handles GET /users/{userID}/characters/{character}/memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, character := scope(r)
	list, err := h.svc.ListMemories(r.Context(), userID, character, queryLimit(r, defaultListLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Memory{}
	}
	writeJSON(w, http.StatusOK, models.ListMemoriesResponse{Memories: list, Total: len(list)})
}

// Entities handles GET /users/{userID}/characters/{character}/entities
func (h *MemoryHandler) Entities(w http.ResponseWriter, r *http.Request) {
	userID, character := scope(r)
	list, err := h.svc.ListEntities(r.Context(), userID, character, queryLimit(r, defaultEntityLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Entity{}
	}
	writeJSON(w, http.StatusOK, models.ListEntitiesResponse{Entities: list})
}

// Clear handles DELETE /users/{userID}/characters/{character}/memories
func (h *MemoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, character := scope(r)
	n, err := h.svc.ClearUserMemories(r.Context(), userID, character)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ClearResponse{Deleted: n})
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.DeleteMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
