// Package admin provides the management API: a JSON CRUD surface under
// /api/v1/* for tokens, credentials, policies, services, model aliases,
// spend caps, and HITL approvals, plus audit queries and system info.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/adapter/outbound/cel"
	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/hitl"
	"github.com/ailink/gateway/internal/domain/policy"
	"github.com/ailink/gateway/internal/domain/spend"
	"github.com/ailink/gateway/internal/domain/token"
	"github.com/ailink/gateway/internal/domain/upstream"
	"github.com/ailink/gateway/internal/domain/vault"
)

// CELCompiler compiles a rule's `when` CEL source into a policy.Predicate.
type CELCompiler interface {
	CompilePredicate(expr string) (policy.Predicate, error)
}

// celEvaluatorAdapter narrows *cel.Evaluator's CompilePredicate (which
// returns the concrete *cel.CompiledPredicate) down to the CELCompiler
// port, since Go interface satisfaction requires an exact return type
// match rather than the covariant one CompiledPredicate's policy.Predicate
// implementation would otherwise allow.
type celEvaluatorAdapter struct {
	eval *cel.Evaluator
}

func (a celEvaluatorAdapter) CompilePredicate(expr string) (policy.Predicate, error) {
	return a.eval.CompilePredicate(expr)
}

// WithCELEvaluator wires a *cel.Evaluator in as the handler's CELCompiler.
func WithCELEvaluator(eval *cel.Evaluator) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.celCompiler = celEvaluatorAdapter{eval: eval} }
}

// AdminAPIHandler provides JSON API endpoints for the management surface.
type AdminAPIHandler struct {
	adminResolver   *token.Resolver
	tokenStore      token.Store
	tokenCache      token.Cache
	vault           *vault.Vault
	vaultStore      vault.Store
	policyStore     policy.Store
	celCompiler     CELCompiler
	upstreamStore   upstream.Store
	spendStore      spend.Store
	hitlQueue       *hitl.Queue
	hitlStore       hitl.Store
	auditQuery      audit.QueryStore
	complianceStore audit.ComplianceStore
	breakerRegistry *breaker.Registry
	buildInfo       *BuildInfo
	logger          *slog.Logger
	startTime       time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

func WithAdminResolver(r *token.Resolver) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.adminResolver = r }
}

func WithTokenStore(s token.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.tokenStore = s }
}

func WithTokenCache(c token.Cache) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.tokenCache = c }
}

func WithVault(v *vault.Vault) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.vault = v }
}

func WithVaultStore(s vault.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.vaultStore = s }
}

func WithPolicyStore(s policy.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.policyStore = s }
}

func WithCELCompiler(c CELCompiler) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.celCompiler = c }
}

func WithUpstreamStore(s upstream.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.upstreamStore = s }
}

func WithSpendStore(s spend.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.spendStore = s }
}

func WithHITLQueue(q *hitl.Queue) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.hitlQueue = q }
}

func WithHITLStore(s hitl.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.hitlStore = s }
}

func WithAuditQueryStore(s audit.QueryStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditQuery = s }
}

// WithComplianceStore wires the SOC2-style compliance event log every
// mutating admin handler appends to on success.
func WithComplianceStore(s audit.ComplianceStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.complianceStore = s }
}

func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all management API routes
// registered, each wrapped with the scope its action requires.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Tokens.
	mux.HandleFunc("GET /api/v1/tokens", h.requireScope(token.ScopeTokensRead, h.handleListTokens))
	mux.HandleFunc("POST /api/v1/tokens", h.requireScope(token.ScopeTokensWrite, h.handleCreateToken))
	mux.HandleFunc("PUT /api/v1/tokens/{id}", h.requireScope(token.ScopeTokensWrite, h.handleUpdateToken))
	mux.HandleFunc("DELETE /api/v1/tokens/{id}", h.requireScope(token.ScopeTokensWrite, h.handleRevokeToken))
	mux.HandleFunc("POST /api/v1/tokens/flush_cache", h.requireScope(token.ScopeTokensWrite, h.handleFlushTokenCache))

	// Credentials.
	mux.HandleFunc("POST /api/v1/credentials", h.requireScope(token.ScopeCredentialsWrite, h.handleCreateCredential))
	mux.HandleFunc("GET /api/v1/credentials/{id}", h.requireScope(token.ScopeCredentialsWrite, h.handleGetCredential))
	mux.HandleFunc("POST /api/v1/credentials/{id}/rotate", h.requireScope(token.ScopeCredentialsWrite, h.handleRotateCredential))

	// Policies.
	mux.HandleFunc("GET /api/v1/policies/{id}", h.requireScope(token.ScopePoliciesWrite, h.handleGetPolicy))
	mux.HandleFunc("POST /api/v1/policies", h.requireScope(token.ScopePoliciesWrite, h.handleCreatePolicy))
	mux.HandleFunc("PUT /api/v1/policies/{id}", h.requireScope(token.ScopePoliciesWrite, h.handleUpdatePolicy))
	mux.HandleFunc("DELETE /api/v1/policies/{id}", h.requireScope(token.ScopePoliciesWrite, h.handleDeletePolicy))

	// Services and model aliases.
	mux.HandleFunc("GET /api/v1/services", h.requireScope(token.ScopeTokensRead, h.handleListServices))
	mux.HandleFunc("POST /api/v1/services", h.requireScope(token.ScopeTokensWrite, h.handleCreateService))
	mux.HandleFunc("DELETE /api/v1/services/{name}", h.requireScope(token.ScopeTokensWrite, h.handleDeleteService))
	mux.HandleFunc("GET /api/v1/model-aliases", h.requireScope(token.ScopeTokensRead, h.handleListModelAliases))
	mux.HandleFunc("POST /api/v1/model-aliases", h.requireScope(token.ScopeTokensWrite, h.handleCreateModelAlias))
	mux.HandleFunc("DELETE /api/v1/model-aliases/{alias}", h.requireScope(token.ScopeTokensWrite, h.handleDeleteModelAlias))

	// Spend caps.
	mux.HandleFunc("GET /api/v1/spend-caps/{id}", h.requireScope(token.ScopeTokensRead, h.handleGetSpendCap))
	mux.HandleFunc("POST /api/v1/spend-caps", h.requireScope(token.ScopeTokensWrite, h.handleCreateSpendCap))

	// HITL approvals.
	mux.HandleFunc("GET /api/v1/approvals", h.requireScope(token.ScopeApprovalsWrite, h.handleListApprovals))
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", h.requireScope(token.ScopeApprovalsWrite, h.handleApproveRequest))
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", h.requireScope(token.ScopeApprovalsWrite, h.handleRejectRequest))

	// Audit.
	mux.HandleFunc("GET /api/v1/audit", h.requireScope(token.ScopeAuditRead, h.handleQueryAudit))
	mux.HandleFunc("GET /api/v1/audit/stats", h.requireScope(token.ScopeAuditRead, h.handleAuditStats))

	// System info and upstream health, available to any scope holder.
	mux.HandleFunc("GET /api/v1/system", h.requireScope(token.ScopeAdmin, h.handleSystemInfo))
	mux.HandleFunc("GET /api/v1/health/upstreams", h.requireScope(token.ScopeAdmin, h.handleUpstreamHealth))

	rateLimited := apiRateLimitMiddleware(60, time.Minute, mux)
	return cspMiddleware(rateLimited)
}

// --- JSON helper methods ---

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *AdminAPIHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// recordCompliance appends one SOC2-style compliance event for a
// successful admin mutation. Best-effort: a store failure is logged, not
// surfaced to the caller, since the mutation itself already succeeded.
func (h *AdminAPIHandler) recordCompliance(r *http.Request, eventType, targetID, targetType, targetName string) {
	if h.complianceStore == nil {
		return
	}
	actorID, actorType := "unknown", audit.ActorTypeSystem
	if key, ok := r.Context().Value(AdminKeyContextKey).(*token.AdminKey); ok && key != nil {
		actorID, actorType = key.ID, audit.ActorTypeAdmin
	}
	rec := audit.ComplianceAuditRecord{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		RequestID:  r.Header.Get("X-Request-Id"),
		ActorID:    actorID,
		ActorType:  actorType,
		TargetID:   targetID,
		TargetType: targetType,
		TargetName: targetName,
		SourceIP:   r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := h.complianceStore.Append(r.Context(), rec); err != nil {
		h.logger.Error("failed to append compliance record", "error", err, "event_type", eventType)
	}
}
