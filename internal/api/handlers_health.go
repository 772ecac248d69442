package api

import (
	"context"
	"net/http"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/store"
	"github.com/iammorganparry/rolechat-memory/internal/vectorstore"
)

const healthTimeout = 3 * time.Second

// HealthChecker is implemented by dependencies that report their own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db    *store.DB
	index vectorstore.Index
	llm   HealthChecker
}

// NewHealthHandler creates the health handler. llm may be nil when the
// configured provider has no cheap health check.
func NewHealthHandler(db *store.DB, index vectorstore.Index, llm HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, index: index, llm: llm}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := models.HealthResponse{
		Status: "ok",
	}

	resp.VectorIndex = check(ctx, h.index, &resp)
	if h.llm != nil {
		resp.LLM = check(ctx, h.llm, &resp)
	} else {
		resp.LLM = models.ServiceCheck{Status: "ok", Message: "not checked"}
	}

	count, err := h.db.MemoryCount()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func check(ctx context.Context, c HealthChecker, resp *models.HealthResponse) models.ServiceCheck {
	if err := c.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		return models.ServiceCheck{Status: "error", Message: err.Error()}
	}
	return models.ServiceCheck{Status: "ok"}
}
