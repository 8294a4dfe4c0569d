package admin

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/spend"
)

// spendCapRequest is the JSON request body for creating a spend cap.
type spendCapRequest struct {
	ProjectID string  `json:"project_id"`
	TokenID   string  `json:"token_id,omitempty"`
	Window    string  `json:"window"`
	LimitUSD  float64 `json:"limit_usd"`
}

type spendCapResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TokenID   string    `json:"token_id,omitempty"`
	Window    string    `json:"window"`
	LimitUSD  float64   `json:"limit_usd"`
	UsageUSD  float64   `json:"usage_usd"`
	ResetAt   time.Time `json:"reset_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSpendCapResponse(c *spend.Cap) spendCapResponse {
	return spendCapResponse{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		TokenID:   c.TokenID,
		Window:    string(c.Window),
		LimitUSD:  c.LimitUSD,
		UsageUSD:  c.UsageUSD,
		ResetAt:   c.ResetAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// handleGetSpendCap returns a single spend cap by ID.
// GET /api/v1/spend-caps/{id}
func (h *AdminAPIHandler) handleGetSpendCap(w http.ResponseWriter, r *http.Request) {
	if h.spendStore == nil {
		h.respondError(w, http.StatusInternalServerError, "spend store not configured")
		return
	}
	id := h.pathParam(r, "id")
	c, err := h.spendStore.GetCap(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "spend cap not found")
		return
	}
	h.respondJSON(w, http.StatusOK, toSpendCapResponse(c))
}

// handleCreateSpendCap registers a new spend cap scoped to a project or,
// if token_id is set, a single token within it.
// POST /api/v1/spend-caps
func (h *AdminAPIHandler) handleCreateSpendCap(w http.ResponseWriter, r *http.Request) {
	if h.spendStore == nil {
		h.respondError(w, http.StatusInternalServerError, "spend store not configured")
		return
	}
	var req spendCapRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" {
		h.respondError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if req.LimitUSD <= 0 {
		h.respondError(w, http.StatusBadRequest, "limit_usd must be positive")
		return
	}

	window := spend.Window(req.Window)
	switch window {
	case spend.WindowDaily, spend.WindowMonthly, spend.WindowLifetime:
	default:
		h.respondError(w, http.StatusBadRequest, "window must be daily, monthly, or lifetime")
		return
	}

	now := time.Now().UTC()
	c := &spend.Cap{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		TokenID:   req.TokenID,
		Window:    window,
		LimitUSD:  req.LimitUSD,
		ResetAt:   spend.NextResetAt(window, now),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.spendStore.SaveCap(r.Context(), c); err != nil {
		h.logger.Error("failed to save spend cap", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save spend cap")
		return
	}
	h.recordCompliance(r, audit.EventTypeServiceUpdate, c.ID, "spend_cap", c.ProjectID)

	h.respondJSON(w, http.StatusCreated, toSpendCapResponse(c))
}
