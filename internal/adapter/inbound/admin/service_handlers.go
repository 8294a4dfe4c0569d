package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/upstream"
)

// serviceRequest is the JSON request body for registering a Service: a
// named, swappable proxy target reachable at /v1/proxy/services/{name}.
type serviceRequest struct {
	ProjectID    string `json:"project_id"`
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	Type         string `json:"type"`
	CredentialID string `json:"credential_id"`
}

type serviceResponse struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	BaseURL      string    `json:"base_url"`
	Type         string    `json:"type"`
	CredentialID string    `json:"credential_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toServiceResponse(s *upstream.Service) serviceResponse {
	return serviceResponse{
		ID:           s.ID,
		ProjectID:    s.ProjectID,
		Name:         s.Name,
		BaseURL:      s.BaseURL,
		Type:         string(s.Type),
		CredentialID: s.CredentialID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// modelAliasRequest is the JSON request body for registering a ModelAlias.
type modelAliasRequest struct {
	ProjectID      string `json:"project_id"`
	Alias          string `json:"alias"`
	TargetModel    string `json:"target_model"`
	TargetProvider string `json:"target_provider"`
}

type modelAliasResponse struct {
	ProjectID      string `json:"project_id"`
	Alias          string `json:"alias"`
	TargetModel    string `json:"target_model"`
	TargetProvider string `json:"target_provider"`
}

func toModelAliasResponse(m *upstream.ModelAlias) modelAliasResponse {
	return modelAliasResponse{
		ProjectID:      m.ProjectID,
		Alias:          m.Alias,
		TargetModel:    m.TargetModel,
		TargetProvider: m.TargetProvider,
	}
}

// handleListServices lists every service registered for a project.
// GET /api/v1/services?project_id=...
func (h *AdminAPIHandler) handleListServices(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	projectID := r.URL.Query().Get("project_id")
	services, err := h.upstreamStore.ListServices(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list services", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	result := make([]serviceResponse, len(services))
	for i := range services {
		result[i] = toServiceResponse(&services[i])
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateService registers a new Service.
// POST /api/v1/services
func (h *AdminAPIHandler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	var req serviceRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := time.Now().UTC()
	svc := &upstream.Service{
		ID:           uuid.New().String(),
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		Type:         upstream.ServiceType(req.Type),
		CredentialID: req.CredentialID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if svc.Type == "" {
		svc.Type = upstream.ServiceTypeLLM
	}
	if err := svc.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.upstreamStore.SaveService(r.Context(), svc); err != nil {
		if errors.Is(err, upstream.ErrDuplicateName) {
			h.respondError(w, http.StatusConflict, "a service with that name already exists")
			return
		}
		h.logger.Error("failed to save service", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save service")
		return
	}
	h.recordCompliance(r, audit.EventTypeServiceUpdate, svc.ID, "service", svc.Name)

	h.respondJSON(w, http.StatusCreated, toServiceResponse(svc))
}

// handleDeleteService removes a service by project and name.
// DELETE /api/v1/services/{name}?project_id=...
func (h *AdminAPIHandler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	name := h.pathParam(r, "name")
	projectID := r.URL.Query().Get("project_id")
	if err := h.upstreamStore.DeleteService(r.Context(), projectID, name); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("failed to delete service", "error", err, "name", name)
		h.respondError(w, http.StatusInternalServerError, "failed to delete service")
		return
	}
	h.recordCompliance(r, audit.EventTypeServiceUpdate, name, "service", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleListModelAliases lists every model alias registered for a project.
// GET /api/v1/model-aliases?project_id=...
func (h *AdminAPIHandler) handleListModelAliases(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	projectID := r.URL.Query().Get("project_id")
	aliases, err := h.upstreamStore.ListModelAliases(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list model aliases", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list model aliases")
		return
	}
	result := make([]modelAliasResponse, len(aliases))
	for i := range aliases {
		result[i] = toModelAliasResponse(&aliases[i])
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateModelAlias registers a new ModelAlias.
// POST /api/v1/model-aliases
func (h *AdminAPIHandler) handleCreateModelAlias(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	var req modelAliasRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alias := &upstream.ModelAlias{
		ProjectID:      req.ProjectID,
		Alias:          req.Alias,
		TargetModel:    req.TargetModel,
		TargetProvider: req.TargetProvider,
	}
	if err := alias.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.upstreamStore.SaveModelAlias(r.Context(), alias); err != nil {
		h.logger.Error("failed to save model alias", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save model alias")
		return
	}
	h.recordCompliance(r, audit.EventTypeServiceUpdate, alias.Alias, "model_alias", alias.Alias)

	h.respondJSON(w, http.StatusCreated, toModelAliasResponse(alias))
}

// handleDeleteModelAlias removes a model alias by project and name.
// DELETE /api/v1/model-aliases/{alias}?project_id=...
func (h *AdminAPIHandler) handleDeleteModelAlias(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	alias := h.pathParam(r, "alias")
	projectID := r.URL.Query().Get("project_id")
	if err := h.upstreamStore.DeleteModelAlias(r.Context(), projectID, alias); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "model alias not found")
			return
		}
		h.logger.Error("failed to delete model alias", "error", err, "alias", alias)
		h.respondError(w, http.StatusInternalServerError, "failed to delete model alias")
		return
	}
	h.recordCompliance(r, audit.EventTypeServiceUpdate, alias, "model_alias", alias)
	w.WriteHeader(http.StatusNoContent)
}
