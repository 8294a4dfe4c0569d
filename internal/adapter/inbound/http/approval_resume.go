package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ailink/gateway/internal/domain/proxy"
)

// ApprovalResumeHandler serves GET /v1/proxy/approvals/{id}: it long-polls
// a HITL request to resolution and, once approved, returns the real
// response produced by replaying the suspended call. A still-pending
// request (the poll's own context deadline elapsed before a reviewer
// acted) comes back as 202 so a client's SDK can call again.
type ApprovalResumeHandler struct {
	pipeline *proxy.Pipeline
}

// NewApprovalResumeHandler wraps pipeline as an http.Handler for the
// approval-resume surface.
func NewApprovalResumeHandler(pipeline *proxy.Pipeline) *ApprovalResumeHandler {
	return &ApprovalResumeHandler{pipeline: pipeline}
}

func (h *ApprovalResumeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported on this path")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/proxy/approvals/"), "/")
	if id == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "approval id required")
		return
	}

	bearer, _ := r.Context().Value(BearerKey).(string)
	if bearer == "" {
		writeAPIError(w, http.StatusUnauthorized, "missing_api_key", "Authorization: Bearer <token> header required")
		return
	}
	resolved, err := h.pipeline.Tokens.ResolveToken(r.Context(), bearer)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	areq, err := h.pipeline.Approvals.Get(id)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	if areq.TokenID != resolved.Token.ID {
		writeAPIError(w, http.StatusForbidden, "forbidden", "approval request does not belong to this token")
		return
	}

	resp, err := h.pipeline.ResumeApproval(r.Context(), areq)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	if resp.ApprovalID != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"approval_id": resp.ApprovalID,
			"status":      "pending_approval",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
