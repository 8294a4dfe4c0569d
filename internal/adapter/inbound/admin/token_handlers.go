package admin

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/token"
)

// tokenRequest is the JSON request body for creating/updating a token.
type tokenRequest struct {
	ProjectID     string            `json:"project_id"`
	TeamID        string            `json:"team_id"`
	Name          string            `json:"name"`
	CredentialID  string            `json:"credential_id"`
	Upstreams     []upstreamRefWire `json:"upstreams"`
	FallbackURL   string            `json:"fallback_url"`
	PolicyIDs     []string          `json:"policy_ids"`
	AllowedModels []string          `json:"allowed_models"`
	LogLevel      int               `json:"log_level"`
	Tags          []string          `json:"tags"`
}

type upstreamRefWire struct {
	URL          string `json:"url"`
	Weight       int    `json:"weight"`
	Priority     int    `json:"priority"`
	CredentialID string `json:"credential_id"`
}

// tokenResponse is the JSON representation of a token record (never
// includes the plaintext bearer value, which only exists at creation).
type tokenResponse struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	TeamID        string            `json:"team_id"`
	Name          string            `json:"name"`
	CredentialID  string            `json:"credential_id"`
	Upstreams     []upstreamRefWire `json:"upstreams"`
	FallbackURL   string            `json:"fallback_url"`
	PolicyIDs     []string          `json:"policy_ids"`
	AllowedModels []string          `json:"allowed_models"`
	LogLevel      int               `json:"log_level"`
	Tags          []string          `json:"tags"`
	Active        bool              `json:"active"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// createTokenResponse additionally carries the cleartext bearer value,
// returned exactly once and never again retrievable or logged.
type createTokenResponse struct {
	tokenResponse
	CleartextToken string `json:"cleartext_token"`
}

func toTokenResponse(rec *token.Record) tokenResponse {
	refs := make([]upstreamRefWire, len(rec.Upstreams))
	for i, u := range rec.Upstreams {
		refs[i] = upstreamRefWire{URL: u.URL, Weight: u.Weight, Priority: u.Priority, CredentialID: u.CredentialID}
	}
	return tokenResponse{
		ID:            rec.ID,
		ProjectID:     rec.ProjectID,
		TeamID:        rec.TeamID,
		Name:          rec.Name,
		CredentialID:  rec.CredentialID,
		Upstreams:     refs,
		FallbackURL:   rec.FallbackURL,
		PolicyIDs:     rec.PolicyIDs,
		AllowedModels: rec.AllowedModels,
		LogLevel:      int(rec.LogLevel),
		Tags:          rec.Tags,
		Active:        rec.Active,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func fromTokenRequest(req tokenRequest) *token.Record {
	refs := make([]token.UpstreamRef, len(req.Upstreams))
	for i, u := range req.Upstreams {
		refs[i] = token.UpstreamRef{URL: u.URL, Weight: u.Weight, Priority: u.Priority, CredentialID: u.CredentialID}
	}
	return &token.Record{
		ProjectID:     req.ProjectID,
		TeamID:        req.TeamID,
		Name:          req.Name,
		CredentialID:  req.CredentialID,
		Upstreams:     refs,
		FallbackURL:   req.FallbackURL,
		PolicyIDs:     req.PolicyIDs,
		AllowedModels: req.AllowedModels,
		LogLevel:      token.LogLevel(req.LogLevel),
		Tags:          req.Tags,
		Active:        true,
	}
}

// generateTokenPlaintext returns a new "ailink_v1_"-prefixed bearer value
// with 32 bytes of crypto/rand entropy, hex-encoded.
func generateTokenPlaintext() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return token.Prefix + hex.EncodeToString(b), nil
}

// handleListTokens returns every token for a project.
// GET /api/v1/tokens?project_id=...
func (h *AdminAPIHandler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if h.tokenStore == nil {
		h.respondError(w, http.StatusInternalServerError, "token store not configured")
		return
	}
	projectID := r.URL.Query().Get("project_id")
	recs, err := h.tokenStore.List(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list tokens", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	result := make([]tokenResponse, len(recs))
	for i := range recs {
		result[i] = toTokenResponse(&recs[i])
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateToken creates a new virtual token, returning its cleartext
// bearer value exactly once.
// POST /api/v1/tokens
func (h *AdminAPIHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if h.tokenStore == nil {
		h.respondError(w, http.StatusInternalServerError, "token store not configured")
		return
	}
	var req tokenRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" {
		h.respondError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	plaintext, err := generateTokenPlaintext()
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	rec := fromTokenRequest(req)
	rec.ID = token.HashKey(plaintext)
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	if err := h.tokenStore.Create(r.Context(), rec); err != nil {
		h.logger.Error("failed to create token", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	h.recordCompliance(r, audit.EventTypeTokenCreate, rec.ID, "token", rec.Name)

	h.respondJSON(w, http.StatusCreated, createTokenResponse{
		tokenResponse:  toTokenResponse(rec),
		CleartextToken: plaintext,
	})
}

// handleUpdateToken updates an existing token's configuration. The
// identity (ID) and plaintext bearer value never change; callers revoke
// and recreate to rotate the bearer value itself.
// PUT /api/v1/tokens/{id}
func (h *AdminAPIHandler) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	if h.tokenStore == nil {
		h.respondError(w, http.StatusInternalServerError, "token store not configured")
		return
	}
	id := h.pathParam(r, "id")
	existing, err := h.tokenStore.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "token not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to load token")
		return
	}

	var req tokenRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated := fromTokenRequest(req)
	updated.ID = existing.ID
	updated.Active = existing.Active
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := h.tokenStore.Update(r.Context(), updated); err != nil {
		h.logger.Error("failed to update token", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to update token")
		return
	}
	if h.tokenCache != nil {
		h.tokenCache.Invalidate(id)
	}
	h.recordCompliance(r, audit.EventTypeTokenUpdate, updated.ID, "token", updated.Name)

	h.respondJSON(w, http.StatusOK, toTokenResponse(updated))
}

// handleRevokeToken soft-deletes a token and invalidates its cache entry
// so in-flight requests stop being admitted immediately.
// DELETE /api/v1/tokens/{id}
func (h *AdminAPIHandler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if h.tokenStore == nil {
		h.respondError(w, http.StatusInternalServerError, "token store not configured")
		return
	}
	id := h.pathParam(r, "id")
	if err := h.tokenStore.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "token not found")
			return
		}
		h.logger.Error("failed to revoke token", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	if h.tokenCache != nil {
		h.tokenCache.Invalidate(id)
	}
	h.recordCompliance(r, audit.EventTypeTokenRevoke, id, "token", "")
	w.WriteHeader(http.StatusNoContent)
}

// handleFlushTokenCache drops every cached token record so the next
// request for each re-reads the Store, picking up any out-of-band write.
// POST /api/v1/tokens/flush_cache
func (h *AdminAPIHandler) handleFlushTokenCache(w http.ResponseWriter, r *http.Request) {
	if h.tokenStore == nil {
		h.respondError(w, http.StatusInternalServerError, "token store not configured")
		return
	}
	flusher, ok := h.tokenCache.(interface{ Flush() })
	if !ok {
		h.respondError(w, http.StatusNotImplemented, "configured token cache does not support bulk flush")
		return
	}
	flusher.Flush()
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
