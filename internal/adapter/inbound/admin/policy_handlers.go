package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/policy"
)

// ruleRequest is the JSON request body for a single rule: a CEL `when`
// expression paired with a tagged-union `then` effect, matching the
// (kind, data) shape the sqlite store persists.
type ruleRequest struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Priority int             `json:"priority"`
	When     string          `json:"when"`
	Then     json.RawMessage `json:"then"`
	ThenKind string          `json:"then_kind"`
}

// policyRequest is the JSON request body for creating/updating a policy.
type policyRequest struct {
	ProjectID   string        `json:"project_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Mode        string        `json:"mode"`
	Phase       string        `json:"phase"`
	Enabled     bool          `json:"enabled"`
	Rules       []ruleRequest `json:"rules"`
}

type ruleResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	When      string          `json:"when"`
	Then      json.RawMessage `json:"then"`
	ThenKind  string          `json:"then_kind"`
	CreatedAt time.Time       `json:"created_at"`
}

type policyResponse struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Mode        string         `json:"mode"`
	Phase       string         `json:"phase"`
	Enabled     bool           `json:"enabled"`
	Version     int            `json:"version"`
	Rules       []ruleResponse `json:"rules"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// effectFromWire decodes a (kind, data) pair into the matching
// policy.RuleEffect concrete type, mirroring the sqlite adapter's
// encodeEffect/decodeEffect pair (unexported there, so the admin API
// carries its own copy of the same tagged-union mapping for the wire).
func effectFromWire(kind string, data json.RawMessage) (policy.RuleEffect, error) {
	switch kind {
	case "allow":
		return policy.Allow{}, nil
	case "deny":
		var e policy.Deny
		return e, json.Unmarshal(data, &e)
	case "require_approval":
		var w struct {
			TTLSeconds     float64 `json:"ttl_seconds"`
			IdempotencyKey string  `json:"idempotency_key"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return policy.RequireApproval{
			TTL:            time.Duration(w.TTLSeconds * float64(time.Second)),
			IdempotencyKey: w.IdempotencyKey,
		}, nil
	case "redact":
		var e policy.Redact
		return e, json.Unmarshal(data, &e)
	case "rate_limit":
		var e policy.RateLimit
		return e, json.Unmarshal(data, &e)
	case "route":
		var e policy.Route
		return e, json.Unmarshal(data, &e)
	case "split":
		var e policy.Split
		return e, json.Unmarshal(data, &e)
	case "log_level":
		var e policy.LogLevel
		return e, json.Unmarshal(data, &e)
	case "content_filter":
		var e policy.ContentFilter
		return e, json.Unmarshal(data, &e)
	default:
		return nil, fmt.Errorf("unknown rule effect kind %q", kind)
	}
}

// effectToWire reverses effectFromWire for responses.
func effectToWire(effect policy.RuleEffect) (kind string, data json.RawMessage) {
	switch e := effect.(type) {
	case policy.Allow:
		return "allow", json.RawMessage("{}")
	case policy.Deny:
		b, _ := json.Marshal(e)
		return "deny", b
	case policy.RequireApproval:
		b, _ := json.Marshal(map[string]any{"ttl_seconds": e.TTL.Seconds(), "idempotency_key": e.IdempotencyKey})
		return "require_approval", b
	case policy.Redact:
		b, _ := json.Marshal(e)
		return "redact", b
	case policy.RateLimit:
		b, _ := json.Marshal(e)
		return "rate_limit", b
	case policy.Route:
		b, _ := json.Marshal(e)
		return "route", b
	case policy.Split:
		b, _ := json.Marshal(e)
		return "split", b
	case policy.LogLevel:
		b, _ := json.Marshal(e)
		return "log_level", b
	case policy.ContentFilter:
		b, _ := json.Marshal(e)
		return "content_filter", b
	default:
		return "", nil
	}
}

func toPolicyResponse(p *policy.Policy) policyResponse {
	rules := make([]ruleResponse, len(p.Rules))
	for i, rule := range p.Rules {
		kind, data := effectToWire(rule.Then)
		rules[i] = ruleResponse{
			ID:        rule.ID,
			Name:      rule.Name,
			Priority:  rule.Priority,
			When:      rule.WhenExpr,
			ThenKind:  kind,
			Then:      data,
			CreatedAt: rule.CreatedAt,
		}
	}
	return policyResponse{
		ID:          p.ID,
		ProjectID:   p.ProjectID,
		Name:        p.Name,
		Description: p.Description,
		Mode:        string(p.Mode),
		Phase:       string(p.Phase),
		Enabled:     p.Enabled,
		Version:     p.Version,
		Rules:       rules,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// toDomainPolicy converts a request body to a domain policy, compiling
// each rule's CEL `when` expression and decoding its `then` effect.
func (h *AdminAPIHandler) toDomainPolicy(req policyRequest) (*policy.Policy, error) {
	if h.celCompiler == nil {
		return nil, fmt.Errorf("CEL compiler not configured")
	}
	rules := make([]policy.Rule, len(req.Rules))
	now := time.Now().UTC()
	for i, rr := range req.Rules {
		pred, err := h.celCompiler.CompilePredicate(rr.When)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid when expression: %w", rr.Name, err)
		}
		effect, err := effectFromWire(rr.ThenKind, rr.Then)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid then effect: %w", rr.Name, err)
		}
		rules[i] = policy.Rule{
			ID:        rr.ID,
			Name:      rr.Name,
			Priority:  rr.Priority,
			When:      pred,
			WhenExpr:  rr.When,
			Then:      effect,
			CreatedAt: now,
		}
	}

	mode := policy.Mode(req.Mode)
	if mode == "" {
		mode = policy.ModeEnforce
	}
	phase := policy.Phase(req.Phase)
	if phase == "" {
		phase = policy.PhasePre
	}

	return &policy.Policy{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Mode:        mode,
		Phase:       phase,
		Rules:       rules,
		Enabled:     req.Enabled,
	}, nil
}

// handleGetPolicy returns a single policy by ID.
// GET /api/v1/policies/{id}
func (h *AdminAPIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyStore == nil {
		h.respondError(w, http.StatusInternalServerError, "policy store not configured")
		return
	}
	id := h.pathParam(r, "id")
	p, err := h.policyStore.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "policy not found")
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(p))
}

// handleCreatePolicy creates a new policy from the request body.
// POST /api/v1/policies
func (h *AdminAPIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyStore == nil {
		h.respondError(w, http.StatusInternalServerError, "policy store not configured")
		return
	}
	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == "" || req.ProjectID == "" {
		h.respondError(w, http.StatusBadRequest, "project_id and name are required")
		return
	}

	p, err := h.toDomainPolicy(req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = uuid.New().String()
	for i := range p.Rules {
		if p.Rules[i].ID == "" {
			p.Rules[i].ID = uuid.New().String()
		}
	}
	p.Version = 1
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := h.policyStore.SavePolicy(r.Context(), p); err != nil {
		h.logger.Error("failed to create policy", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create policy")
		return
	}
	h.recordCompliance(r, audit.EventTypePolicyCreate, p.ID, "policy", p.Name)

	h.respondJSON(w, http.StatusCreated, toPolicyResponse(p))
}

// handleUpdatePolicy saves a new version of an existing policy; policies
// are never mutated in place.
// PUT /api/v1/policies/{id}
func (h *AdminAPIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyStore == nil {
		h.respondError(w, http.StatusInternalServerError, "policy store not configured")
		return
	}
	id := h.pathParam(r, "id")
	existing, err := h.policyStore.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "policy not found")
		return
	}

	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	updated, err := h.toDomainPolicy(req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated.ID = existing.ID
	for i := range updated.Rules {
		if updated.Rules[i].ID == "" {
			updated.Rules[i].ID = uuid.New().String()
		}
	}
	updated.Version = existing.Version + 1
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := h.policyStore.SavePolicy(r.Context(), updated); err != nil {
		h.logger.Error("failed to update policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}
	h.recordCompliance(r, audit.EventTypePolicyUpdate, updated.ID, "policy", updated.Name)

	h.respondJSON(w, http.StatusOK, toPolicyResponse(updated))
}

// handleDeletePolicy removes a policy by ID.
// DELETE /api/v1/policies/{id}
func (h *AdminAPIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyStore == nil {
		h.respondError(w, http.StatusInternalServerError, "policy store not configured")
		return
	}
	id := h.pathParam(r, "id")
	existing, err := h.policyStore.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "policy not found")
		return
	}
	if err := h.policyStore.DeletePolicy(r.Context(), id); err != nil {
		h.logger.Error("failed to delete policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}
	h.recordCompliance(r, audit.EventTypePolicyDelete, id, "policy", existing.Name)
	w.WriteHeader(http.StatusNoContent)
}
