package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/vault"
)

// credentialRequest is the JSON request body for sealing a new credential.
// Plaintext is accepted once, encrypted immediately, and never stored or
// echoed back.
type credentialRequest struct {
	ProjectID       string `json:"project_id"`
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	InjectionMode   string `json:"injection_mode"`
	InjectionHeader string `json:"injection_header"`
	Plaintext       string `json:"plaintext"`
}

// rotateCredentialRequest is the JSON request body for rotating a
// credential's secret.
type rotateCredentialRequest struct {
	Plaintext string `json:"plaintext"`
}

// credentialResponse is the JSON representation of a credential's
// metadata. EncryptedSecret, its nonce, and the wrapped DEK never leave
// the process.
type credentialResponse struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Name            string    `json:"name"`
	Provider        string    `json:"provider"`
	Version         int       `json:"version"`
	InjectionMode   string    `json:"injection_mode"`
	InjectionHeader string    `json:"injection_header,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toCredentialResponse(c *vault.Credential) credentialResponse {
	return credentialResponse{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		Name:            c.Name,
		Provider:        c.Provider,
		Version:         c.Version,
		InjectionMode:   string(c.InjectionMode),
		InjectionHeader: c.InjectionHeader,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// handleCreateCredential seals a new provider secret into the vault.
// POST /api/v1/credentials
func (h *AdminAPIHandler) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	if h.vault == nil {
		h.respondError(w, http.StatusInternalServerError, "vault not configured")
		return
	}
	var req credentialRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.Name == "" || req.Provider == "" || req.Plaintext == "" {
		h.respondError(w, http.StatusBadRequest, "project_id, name, provider, and plaintext are required")
		return
	}

	cred, err := h.vault.Seal(r.Context(), req.ProjectID, req.Name, req.Provider,
		vault.InjectionMode(req.InjectionMode), req.InjectionHeader, req.Plaintext)
	if err != nil {
		h.logger.Error("failed to seal credential", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to seal credential")
		return
	}
	h.recordCompliance(r, audit.EventTypeCredentialCreate, cred.ID, "credential", cred.Name)

	h.respondJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

// handleGetCredential returns a credential's metadata. There is no list
// endpoint: credentials are referenced by ID (handed out at creation and
// stored on the owning token), not enumerated wholesale.
// GET /api/v1/credentials/{id}
func (h *AdminAPIHandler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	if h.vaultStore == nil {
		h.respondError(w, http.StatusInternalServerError, "vault store not configured")
		return
	}
	id := h.pathParam(r, "id")
	cred, err := h.vaultStore.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "credential not found")
		return
	}
	h.respondJSON(w, http.StatusOK, toCredentialResponse(cred))
}

// handleRotateCredential rotates a credential's secret in place, keeping
// the prior version decryptable for in-flight requests still using it.
// POST /api/v1/credentials/{id}/rotate
func (h *AdminAPIHandler) handleRotateCredential(w http.ResponseWriter, r *http.Request) {
	if h.vault == nil || h.vaultStore == nil {
		h.respondError(w, http.StatusInternalServerError, "vault not configured")
		return
	}
	id := h.pathParam(r, "id")
	var req rotateCredentialRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Plaintext == "" {
		h.respondError(w, http.StatusBadRequest, "plaintext is required")
		return
	}

	current, _, err := h.vault.Rotate(r.Context(), id, req.Plaintext)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "credential not found")
			return
		}
		h.logger.Error("failed to rotate credential", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to rotate credential")
		return
	}
	h.recordCompliance(r, audit.EventTypeCredentialRotate, current.ID, "credential", current.Name)

	h.respondJSON(w, http.StatusOK, toCredentialResponse(current))
}
