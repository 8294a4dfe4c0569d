// Package proxy orchestrates the gateway's request pipeline: the ordered
// stages from token resolution through audit emission described in
// spec.md §2, generalized from the teacher's MessageInterceptor chain
// into a single Pipeline that drives one virtual-token-authorized call
// per invocation.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/hitl"
	"github.com/ailink/gateway/internal/domain/policy"
	"github.com/ailink/gateway/internal/domain/ratelimit"
	"github.com/ailink/gateway/internal/domain/spend"
	"github.com/ailink/gateway/internal/domain/token"
	"github.com/ailink/gateway/internal/domain/translator"
	"github.com/ailink/gateway/internal/domain/upstream"
	"github.com/ailink/gateway/internal/domain/vault"
)

// Transport is the outbound port for making the actual call to a
// selected upstream. An adapter implements this with a real net/http
// client (connection pooling, TLS config, timeouts); the pipeline never
// touches net/http directly, matching the hexagonal split the teacher's
// own proxy/httpgw packages already draw between domain and transport.
type Transport interface {
	Do(ctx context.Context, req OutboundRequest) (OutboundResponse, error)
}

// OutboundRequest is a fully translated request ready to send upstream.
type OutboundRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// OutboundResponse is the raw result of an outbound call, before
// response-side translation back to OpenAI shape.
type OutboundResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	// Err classifies a transport-level failure (refused connection, TLS
	// handshake, timeout) distinctly from a non-2xx status code, both of
	// which the circuit breaker needs per spec.md §4.4.
	Err error
}

// Request is the inbound call the pipeline must authorize, route, and
// account for.
type Request struct {
	RawBearer       string
	RealAuthHeader  string // X-Real-Authorization, for BYOK passthrough tokens
	Method          string
	Path            string
	Headers         map[string]string
	Body            []byte
	NoCache         bool
	RequestReceived time.Time
}

// Response is the pipeline's outcome for a non-streaming call.
type Response struct {
	StatusCode   int
	Body         []byte
	CircuitState breaker.State
	UpstreamURL  string
	// ApprovalID is set when the request was routed to the HITL queue;
	// StatusCode is 202 and Body is empty in that case.
	ApprovalID string
}

// ErrDenied is returned when a policy's terminal effect is deny.
type ErrDenied struct {
	Reason string
	Status int
}

func (e *ErrDenied) Error() string { return fmt.Sprintf("proxy: denied: %s", e.Reason) }

// ErrCapExceeded is returned when the spend ledger rejects the request
// on entry because a cap was already at or over its limit.
var ErrCapExceeded = spend.ErrCapExceeded

// Pipeline wires every domain port into the ordered stage sequence from
// spec.md §2.
type Pipeline struct {
	Tokens      *token.Resolver
	Policies    policy.Store
	Engine      policy.Engine
	Vault       *vault.Vault
	Upstreams   *upstream.Selector
	Services    upstream.Store
	Translators *translator.Resolver
	Spend       *spend.Ledger
	Approvals   *hitl.Queue
	RateLimiter ratelimit.RateLimiter
	Audit       *audit.Emitter
	Transport   Transport
	// Guardrails holds the compiled content-filter presets a ContentFilter
	// effect references by name. Nil disables guardrail scanning entirely
	// (scanContentFilters is then a no-op), which is only expected in tests
	// that don't exercise policies with content_filter rules.
	Guardrails *policy.PresetRegistry
}

// Handle runs the full non-streaming pipeline for req. Streaming calls
// share the same pre-phase/selection/translation setup through
// prepare(); see stream.go for the SSE-driving loop.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Response, error) {
	ctx, prep, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if prep.approvalID != "" {
		return &Response{StatusCode: 202, ApprovalID: prep.approvalID}, nil
	}

	outReq, err := prep.translator.TranslateRequest(ctx, prep.selection.URL, prep.model, prep.body)
	if err != nil {
		return nil, fmt.Errorf("proxy: translate request: %w", err)
	}
	p.injectCredential(ctx, &outReq, prep.credentialID)

	start := time.Now()
	outResp, err := p.Transport.Do(ctx, OutboundRequest{Method: outReq.Method, URL: outReq.URL, Headers: outReq.Headers, Body: outReq.Body})
	latency := time.Since(start)

	outcome := breaker.Outcome{StatusCode: outResp.StatusCode, Err: err}
	p.Upstreams.RecordOutcome(prep.tokenRec, prep.selection, outcome)

	rec := audit.Record{
		Timestamp:      req.RequestReceived,
		RequestID:      requestID(req),
		TokenID:        prep.tokenRec.ID,
		ProjectID:      prep.tokenRec.ProjectID,
		TeamID:         prep.tokenRec.TeamID,
		Model:          prep.model,
		UpstreamURL:    prep.selection.URL,
		LatencyMillis:  latency.Milliseconds(),
		StatusCode:     outResp.StatusCode,
		PolicyResult:   audit.PolicyResultAllow,
		FieldsRedacted: prep.redactedPointers,
		ExperimentName: prep.experimentName,
		VariantName:    prep.variantName,
	}

	if err != nil {
		rec.ErrorType = "transport_error"
		p.Audit.Emit(rec)
		return nil, fmt.Errorf("proxy: upstream call failed: %w", err)
	}
	if breaker.IsFailure(outcome) {
		rec.ErrorType = "upstream_error"
	}

	translated, realModel, promptTokens, completionTokens, finishReason, err := prep.translator.TranslateResponse(ctx, outResp.Body)
	if err != nil {
		p.Audit.Emit(rec)
		return nil, fmt.Errorf("proxy: translate response: %w", err)
	}
	if realModel == "" {
		realModel = prep.model
	}

	cost, overCapIDs, err := p.Spend.RecordCompletion(ctx, prep.tokenRec.ProjectID, prep.tokenRec.ID, string(prep.provider), realModel, promptTokens, completionTokens, time.Now())
	if err != nil {
		rec.CostUSD = 0
	} else {
		rec.CostUSD = cost
		rec.OverCapCapIDs = overCapIDs
	}
	rec.PromptTokens = promptTokens
	rec.CompletionTokens = completionTokens
	rec.FinishReason = finishReason

	scanHolder := audit.ScanResultFromContext(ctx)
	postOutcome, err := p.evaluatePostPhase(ctx, req, prep, translated, finishReason, scanHolder)
	if err != nil {
		rec.ErrorType = "post_phase_error"
		rec.ResponseBody = translated
		p.Audit.Emit(rec)
		return nil, err
	}
	if postOutcome.denied != nil {
		rec.PolicyResult = audit.PolicyResultDeny
		rec.ErrorType = "post_phase_denied"
		rec.StatusCode = postOutcome.denied.Status
		rec.ResponseBody = translated
		p.Audit.Emit(rec)
		return nil, postOutcome.denied
	}
	translated = postOutcome.body
	rec.FieldsRedacted = append(rec.FieldsRedacted, postOutcome.redactedPointers...)
	if scanHolder != nil && scanHolder.Detections > 0 {
		rec.FieldsRedacted = append(rec.FieldsRedacted, "guardrail:"+scanHolder.Types)
	}
	rec.ResponseBody = translated

	p.Audit.Emit(rec)

	return &Response{
		StatusCode:   outResp.StatusCode,
		Body:         translated,
		CircuitState: prep.selection.CircuitState,
		UpstreamURL:  prep.selection.URL,
	}, nil
}

// preparation is the shared pre-flight state both the non-streaming and
// streaming paths need once the upstream is selected and the request is
// translated.
type preparation struct {
	tokenRec         *token.Record
	model            string
	body             []byte
	provider         translator.Provider
	translator       translator.Translator
	selection        upstream.Selection
	credentialID     string
	approvalID       string
	redactedPointers []string
	// policies is the token's loaded policy set, carried forward so the
	// post-phase evaluation in Handle/HandleStream can run the same rules
	// against the response without reloading them from the Store.
	policies       []policy.Policy
	experimentName string
	variantName    string
}

func (p *Pipeline) prepare(ctx context.Context, req Request) (context.Context, *preparation, error) {
	ctx, scanHolder := audit.NewScanResultContext(ctx)

	resolved, err := p.Tokens.ResolveToken(ctx, req.RawBearer)
	if err != nil {
		return ctx, nil, err
	}
	rec := resolved.Token

	model := gjson.GetBytes(req.Body, "model").String()
	if !rec.AllowsModel(model) {
		return ctx, nil, &ErrDenied{Reason: "model not allowed for this token", Status: 403}
	}

	if err := p.Spend.CheckAdmission(ctx, rec.ProjectID, rec.ID, time.Now()); err != nil {
		return ctx, nil, err
	}

	reqCtx := policy.RequestContext{
		TokenID:         rec.ID,
		ProjectID:       rec.ProjectID,
		TeamID:          rec.TeamID,
		RequestTime:     req.RequestReceived,
		Method:          req.Method,
		Path:            req.Path,
		Model:           model,
		Headers:         req.Headers,
		EstimatedTokens: estimateTokens(req.Body),
	}

	var policies []policy.Policy
	for _, id := range rec.PolicyIDs {
		pol, err := p.Policies.GetPolicy(ctx, id)
		if err != nil {
			return ctx, nil, fmt.Errorf("proxy: load policy %s: %w", id, err)
		}
		policies = append(policies, *pol)
	}

	decision, err := p.Engine.Evaluate(ctx, policies, policy.PhasePre, reqCtx)
	if err != nil {
		return ctx, nil, fmt.Errorf("proxy: evaluate policy: %w", err)
	}

	for _, rl := range decision.RateLimits {
		result, err := p.RateLimiter.Allow(ctx, rl.BucketKey, ratelimit.RateLimitConfig{Rate: rl.Capacity, Burst: rl.Capacity, Period: time.Second})
		if err != nil {
			return ctx, nil, fmt.Errorf("proxy: rate limit check: %w", err)
		}
		if !result.Allowed {
			return ctx, nil, &ErrDenied{Reason: "rate limit exceeded", Status: 429}
		}
	}

	switch t := decision.Terminal.(type) {
	case policy.Deny:
		return ctx, nil, &ErrDenied{Reason: t.Reason, Status: t.Status}
	case policy.RequireApproval:
		summary := hitl.RequestSummary{Method: req.Method, Path: req.Path, Model: model, Body: req.Body, ProjectID: rec.ProjectID, TeamID: rec.TeamID}
		approval := p.Approvals.Create(rec.ID, t.IdempotencyKey, summary, t.TTL, req.RequestReceived)
		return ctx, &preparation{tokenRec: rec, approvalID: approval.ID, policies: policies}, nil
	}

	body := req.Body
	var redactedPointers []string
	for _, redact := range decision.Redactions {
		body = applyRedactions(body, redact)
		redactedPointers = append(redactedPointers, redact.JSONPointers...)
	}

	filters := append(decision.ContentFilters, headerContentFilters(req.Headers)...)
	body, denied := p.scanContentFilters(filters, body, scanHolder)
	if denied != nil {
		return ctx, nil, denied
	}

	experimentName, variantName, transform := pickVariant(decision.Splits)
	if transform != nil {
		body = applySplitTransform(body, transform)
	}

	selection, err := p.selectUpstream(ctx, rec, decision)
	if err != nil {
		return ctx, nil, err
	}
	if alias := routedAlias(decision); alias != "" {
		if resolvedModel, ok := p.resolveModelAlias(ctx, rec.ProjectID, alias); ok {
			model = resolvedModel
			body, err = sjsonSet(body, "model", model)
			if err != nil {
				return ctx, nil, fmt.Errorf("proxy: rewrite model for alias %q: %w", alias, err)
			}
		}
	}

	isGeneric := p.isGenericService(ctx, rec.ProjectID, selection.URL)
	provider := translator.DetectProvider(model, selection.URL, isGeneric)

	tr, err := p.Translators.Resolve(provider, selection.URL)
	if err != nil {
		return ctx, nil, err
	}

	return ctx, &preparation{
		tokenRec:         rec,
		model:            model,
		body:             body,
		provider:         provider,
		translator:       tr,
		selection:        selection,
		credentialID:     selection.CredentialID,
		redactedPointers: redactedPointers,
		policies:         policies,
		experimentName:   experimentName,
		variantName:      variantName,
	}, nil
}

// selectUpstream honors a policy's route override before falling back to
// the token's own weighted-priority upstream list. A route naming a
// registered Service resolves straight to that Service's BaseURL; a
// route naming a ModelAlias instead falls through to the token's normal
// weighted pick (the alias only rewrites which model is requested, not
// which upstream serves it — see resolveModelAlias and routedAlias,
// applied by the caller once the model has been decided).
func (p *Pipeline) selectUpstream(ctx context.Context, rec *token.Record, decision policy.Decision) (upstream.Selection, error) {
	for _, route := range decision.Routes {
		if route.UpstreamURL != "" {
			return upstream.Selection{URL: route.UpstreamURL, CredentialID: rec.CredentialID, IsFallback: true}, nil
		}
		if route.Alias != "" && p.Services != nil {
			if svc, err := p.Services.GetService(ctx, rec.ProjectID, route.Alias); err == nil {
				credentialID := svc.CredentialID
				if credentialID == "" {
					credentialID = rec.CredentialID
				}
				return upstream.Selection{URL: svc.BaseURL, CredentialID: credentialID, IsFallback: true}, nil
			}
		}
	}
	return p.Upstreams.Select(rec)
}

// routedAlias returns the Alias named by a policy's route effect, if
// any, regardless of whether it resolved to a Service (selectUpstream
// already handled that) or a ModelAlias (still unresolved here).
func routedAlias(decision policy.Decision) string {
	for _, route := range decision.Routes {
		if route.Alias != "" {
			return route.Alias
		}
	}
	return ""
}

// resolveModelAlias looks up a registered ModelAlias by name and
// returns the concrete model it maps to. Reports ok=false when no such
// alias exists (it was either a Service name, already resolved by
// selectUpstream, or a typo) so the caller leaves the requested model
// untouched.
func (p *Pipeline) resolveModelAlias(ctx context.Context, projectID, alias string) (model string, ok bool) {
	if p.Services == nil {
		return "", false
	}
	ma, err := p.Services.GetModelAlias(ctx, projectID, alias)
	if err != nil {
		return "", false
	}
	return ma.TargetModel, true
}

// injectCredential attaches the resolved credential's decrypted secret to
// outReq per its injection mode, or leaves outReq's headers untouched
// when credentialID is empty (a BYOK passthrough token, whose own
// X-Real-Authorization header was already copied through by the caller).
func (p *Pipeline) injectCredential(ctx context.Context, outReq *translator.RequestTranslation, credentialID string) {
	if credentialID == "" {
		return
	}
	secret, cred, err := p.Vault.Decrypt(ctx, credentialID)
	if err != nil {
		return
	}
	if outReq.Headers == nil {
		outReq.Headers = make(map[string]string)
	}
	_ = vault.Apply(cred.InjectionMode, cred.InjectionHeader, secret, vault.InjectionTarget{
		Header: func(key, value string) { outReq.Headers[key] = value },
	})
}

// isGenericService reports whether selectedURL matches a registered
// Service whose type is "generic", the step-3 override in spec.md
// §4.5's provider-detection order.
func (p *Pipeline) isGenericService(ctx context.Context, projectID, selectedURL string) bool {
	if p.Services == nil {
		return false
	}
	services, err := p.Services.ListServices(ctx, projectID)
	if err != nil {
		return false
	}
	for _, svc := range services {
		if svc.BaseURL == selectedURL {
			return svc.Type == upstream.ServiceTypeGeneric
		}
	}
	return false
}

// applyRedactions rewrites the JSON pointers named by redact with masked
// or tokenized values, generalizing the teacher's sensitive-key
// redaction helper (audit.RedactSensitiveFields) from a flat map walk to
// arbitrary JSON-pointer targeting via sjson.
func applyRedactions(body []byte, redact policy.Redact) []byte {
	out := body
	for _, ptr := range redact.JSONPointers {
		path := jsonPointerToSjsonPath(ptr)
		if path == "" {
			continue
		}
		replacement := "[REDACTED]"
		if redact.Strategy == policy.RedactTokenize {
			replacement = tokenizeValue(gjson.GetBytes(out, path).String())
		}
		if updated, err := sjsonSet(out, path, replacement); err == nil {
			out = updated
		}
	}
	return out
}

func estimateTokens(body []byte) int {
	// A rough, fast pre-call estimate (not the billed figure, which
	// comes from the upstream's own usage block after the call
	// completes): character count over four, the common
	// English-text-per-token rule of thumb.
	return len(body) / 4
}

func requestID(req Request) string {
	if id, ok := req.Headers["X-Request-Id"]; ok && id != "" {
		return id
	}
	return fmt.Sprintf("req-%d", req.RequestReceived.UnixNano())
}
