package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/hitl"
	"github.com/ailink/gateway/internal/domain/translator"
)

// ResumeApproval waits for a HITL request's resolution (it may already be
// resolved, in which case Wait returns immediately) and, once approved,
// replays the original call through translation and transport to produce
// the real response. Rejected and expired requests surface as ErrDenied;
// a request still pending when ctx is done (a client's long-poll tick)
// comes back as a 202 so the caller can poll again.
func (p *Pipeline) ResumeApproval(ctx context.Context, areq *hitl.ApprovalRequest) (*Response, error) {
	switch p.Approvals.Wait(ctx, areq) {
	case hitl.StatusApproved:
		return p.replayApproved(ctx, areq)
	case hitl.StatusRejected:
		return nil, &ErrDenied{Reason: fmt.Sprintf("request rejected: %s", areq.RejectReason), Status: 403}
	case hitl.StatusExpired:
		return nil, &ErrDenied{Reason: "approval request expired", Status: 410}
	default:
		return &Response{StatusCode: 202, ApprovalID: areq.ID}, nil
	}
}

// replayApproved resolves the token that submitted areq by its stored
// hash (the plaintext bearer was never persisted — see
// token.Resolver.ResolveByID) and re-runs the suspended call's
// translation/transport/post-phase stages against the RequestSummary
// captured at suspend time. It deliberately skips pre-phase policy
// evaluation: the request was already evaluated once (that evaluation is
// what produced the RequireApproval effect in the first place), and a
// reviewer's approval is the final word on whether it proceeds.
func (p *Pipeline) replayApproved(ctx context.Context, areq *hitl.ApprovalRequest) (*Response, error) {
	ctx, scanHolder := audit.NewScanResultContext(ctx)

	resolved, err := p.Tokens.ResolveByID(ctx, areq.TokenID)
	if err != nil {
		return nil, err
	}
	rec := resolved.Token
	summary := areq.Summary

	selection, err := p.Upstreams.Select(rec)
	if err != nil {
		return nil, err
	}
	isGeneric := p.isGenericService(ctx, rec.ProjectID, selection.URL)
	provider := translator.DetectProvider(summary.Model, selection.URL, isGeneric)

	tr, err := p.Translators.Resolve(provider, selection.URL)
	if err != nil {
		return nil, err
	}

	prep := &preparation{
		tokenRec:     rec,
		model:        summary.Model,
		body:         summary.Body,
		provider:     provider,
		translator:   tr,
		selection:    selection,
		credentialID: selection.CredentialID,
	}

	outReq, err := prep.translator.TranslateRequest(ctx, prep.selection.URL, prep.model, prep.body)
	if err != nil {
		return nil, fmt.Errorf("proxy: translate resumed request: %w", err)
	}
	p.injectCredential(ctx, &outReq, prep.credentialID)

	req := Request{Method: summary.Method, Path: summary.Path, RequestReceived: areq.CreatedAt}

	start := time.Now()
	outResp, err := p.Transport.Do(ctx, OutboundRequest{Method: outReq.Method, URL: outReq.URL, Headers: outReq.Headers, Body: outReq.Body})
	latency := time.Since(start)

	p.Upstreams.RecordOutcome(prep.tokenRec, prep.selection, breaker.Outcome{StatusCode: outResp.StatusCode, Err: err})

	rec2 := audit.Record{
		Timestamp:     areq.CreatedAt,
		RequestID:     areq.ID,
		TokenID:       rec.ID,
		ProjectID:     rec.ProjectID,
		TeamID:        rec.TeamID,
		Model:         prep.model,
		UpstreamURL:   selection.URL,
		LatencyMillis: latency.Milliseconds(),
		StatusCode:    outResp.StatusCode,
		PolicyResult:  audit.PolicyResultApprovalGranted,
	}
	if err != nil {
		rec2.ErrorType = "transport_error"
		p.Audit.Emit(rec2)
		return nil, fmt.Errorf("proxy: upstream call failed: %w", err)
	}

	translated, realModel, promptTokens, completionTokens, finishReason, err := prep.translator.TranslateResponse(ctx, outResp.Body)
	if err != nil {
		p.Audit.Emit(rec2)
		return nil, fmt.Errorf("proxy: translate resumed response: %w", err)
	}
	if realModel == "" {
		realModel = prep.model
	}

	cost, overCapIDs, err := p.Spend.RecordCompletion(ctx, rec.ProjectID, rec.ID, string(provider), realModel, promptTokens, completionTokens, time.Now())
	if err == nil {
		rec2.CostUSD = cost
		rec2.OverCapCapIDs = overCapIDs
	}
	rec2.PromptTokens = promptTokens
	rec2.CompletionTokens = completionTokens
	rec2.FinishReason = finishReason

	postOutcome, err := p.evaluatePostPhase(ctx, req, prep, translated, finishReason, scanHolder)
	if err != nil {
		rec2.ErrorType = "post_phase_error"
		rec2.ResponseBody = translated
		p.Audit.Emit(rec2)
		return nil, err
	}
	if postOutcome.denied != nil {
		rec2.PolicyResult = audit.PolicyResultDeny
		rec2.ErrorType = "post_phase_denied"
		rec2.StatusCode = postOutcome.denied.Status
		rec2.ResponseBody = translated
		p.Audit.Emit(rec2)
		return nil, postOutcome.denied
	}
	translated = postOutcome.body
	rec2.FieldsRedacted = postOutcome.redactedPointers
	if scanHolder != nil && scanHolder.Detections > 0 {
		rec2.FieldsRedacted = append(rec2.FieldsRedacted, "guardrail:"+scanHolder.Types)
	}
	rec2.ResponseBody = translated

	p.Audit.Emit(rec2)

	return &Response{
		StatusCode:   outResp.StatusCode,
		Body:         translated,
		CircuitState: selection.CircuitState,
		UpstreamURL:  selection.URL,
	}, nil
}
