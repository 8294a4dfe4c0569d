package admin

import (
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/hitl"
)

// approvalResponse is the JSON response for a single pending approval.
type approvalResponse struct {
	ID        string `json:"id"`
	TokenID   string `json:"token_id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Model     string `json:"model,omitempty"`
	ProjectID string `json:"project_id"`
	TeamID    string `json:"team_id,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

func toApprovalResponse(req *hitl.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ID:        req.ID,
		TokenID:   req.TokenID,
		Method:    req.Summary.Method,
		Path:      req.Summary.Path,
		Model:     req.Summary.Model,
		ProjectID: req.Summary.ProjectID,
		TeamID:    req.Summary.TeamID,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt.Format(time.RFC3339),
		ExpiresAt: req.ExpiresAt.Format(time.RFC3339),
	}
}

// handleListApprovals returns every still-pending HITL approval, oldest
// first. Resolved requests are queryable through the audit log instead.
// GET /api/v1/approvals
func (h *AdminAPIHandler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.hitlStore == nil {
		h.respondJSON(w, http.StatusOK, []approvalResponse{})
		return
	}

	pending, err := h.hitlStore.ListPending(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending approvals", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list pending approvals")
		return
	}
	result := make([]approvalResponse, len(pending))
	for i, req := range pending {
		result[i] = toApprovalResponse(req)
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleApproveRequest approves a pending approval, waking any goroutine
// blocked in hitl.Queue.Wait for it.
// POST /api/v1/approvals/{id}/approve
func (h *AdminAPIHandler) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	if h.hitlQueue == nil {
		h.respondError(w, http.StatusInternalServerError, "approval queue not configured")
		return
	}

	id := h.pathParam(r, "id")
	if err := h.hitlQueue.Approve(id, time.Now().UTC()); err != nil {
		switch err {
		case hitl.ErrNotFound:
			h.respondError(w, http.StatusNotFound, "approval not found")
		case hitl.ErrNotPending:
			h.respondError(w, http.StatusConflict, "approval already resolved")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.recordCompliance(r, audit.EventTypePermissionGrant, id, "approval", "")

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "approved", "id": id})
}

// rejectRequest is the JSON request body for rejecting an approval.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// handleRejectRequest rejects a pending approval with an optional reason.
// POST /api/v1/approvals/{id}/reject
func (h *AdminAPIHandler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	if h.hitlQueue == nil {
		h.respondError(w, http.StatusInternalServerError, "approval queue not configured")
		return
	}

	id := h.pathParam(r, "id")
	var req rejectRequest
	_ = h.readJSON(r, &req) // reason is optional; a bad/empty body just means no reason

	reason := req.Reason
	if reason == "" {
		reason = "rejected by admin"
	}

	if err := h.hitlQueue.Reject(id, reason, time.Now().UTC()); err != nil {
		switch err {
		case hitl.ErrNotFound:
			h.respondError(w, http.StatusNotFound, "approval not found")
		case hitl.ErrNotPending:
			h.respondError(w, http.StatusConflict, "approval already resolved")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.recordCompliance(r, audit.EventTypePermissionRevoke, id, "approval", reason)

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "rejected", "id": id, "reason": reason})
}
