package proxy

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/policy"
)

// extractCompletionText pulls the assistant message's text out of a
// translated OpenAI-shape chat completion body, for feeding PhasePost
// policy evaluation.
func extractCompletionText(body []byte) string {
	return gjson.GetBytes(body, "choices.0.message.content").String()
}

// extractToolCalls pulls the assistant message's tool_calls array out of a
// translated OpenAI-shape chat completion body. TranslateResponse doesn't
// return tool calls as a distinct value, so PhasePost evaluation parses
// them back out of the already-translated JSON instead.
func extractToolCalls(body []byte) []map[string]interface{} {
	arr := gjson.GetBytes(body, "choices.0.message.tool_calls").Array()
	if len(arr) == 0 {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.Value().(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// postPhaseOutcome is what evaluatePostPhase produces: the (possibly
// redacted/filtered) response body plus whatever the caller needs to
// finish building the audit record.
type postPhaseOutcome struct {
	body             []byte
	redactedPointers []string
	denied           *ErrDenied
}

// evaluatePostPhase runs prep's already-loaded policies against the
// translated completion, mirroring prepare()'s pre-phase handling: Deny
// short-circuits, Redact rewrites JSON pointers in the response body, and
// ContentFilters are scanned the same way the pre-phase request body is.
// RequireApproval, RateLimit, Route, and Split effects are meaningless
// once the upstream has already answered, so the engine still accumulates
// them but this stage ignores them.
func (p *Pipeline) evaluatePostPhase(ctx context.Context, req Request, prep *preparation, translated []byte, finishReason string, holder *audit.ScanResultHolder) (*postPhaseOutcome, error) {
	postCtx := policy.RequestContext{
		TokenID:        prep.tokenRec.ID,
		ProjectID:      prep.tokenRec.ProjectID,
		TeamID:         prep.tokenRec.TeamID,
		Attribution:    prep.tokenRec.ID,
		RequestTime:    req.RequestReceived,
		Method:         req.Method,
		Path:           req.Path,
		Model:          prep.model,
		Headers:        req.Headers,
		CompletionText: extractCompletionText(translated),
		ToolCalls:      extractToolCalls(translated),
		FinishReason:   finishReason,
	}

	decision, err := p.Engine.Evaluate(ctx, prep.policies, policy.PhasePost, postCtx)
	if err != nil {
		return nil, fmt.Errorf("proxy: evaluate post-phase policy: %w", err)
	}

	if deny, ok := decision.Terminal.(policy.Deny); ok {
		return &postPhaseOutcome{denied: &ErrDenied{Reason: deny.Reason, Status: deny.Status}}, nil
	}

	out := translated
	var redactedPointers []string
	for _, redact := range decision.Redactions {
		out = applyRedactions(out, redact)
		redactedPointers = append(redactedPointers, redact.JSONPointers...)
	}

	filters := append(decision.ContentFilters, headerContentFilters(req.Headers)...)
	filtered, denied := p.scanContentFilters(filters, out, holder)
	if denied != nil {
		return &postPhaseOutcome{body: out, redactedPointers: redactedPointers, denied: denied}, nil
	}

	return &postPhaseOutcome{body: filtered, redactedPointers: redactedPointers}, nil
}

// extractStreamDeltaText pulls one SSE chunk's incremental content out of a
// translated OpenAI-shape chat-completion-chunk payload.
func extractStreamDeltaText(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return gjson.GetBytes(data, "choices.0.delta.content").String()
}

// extractStreamFinishReason pulls the finish_reason carried on the last
// non-terminal chunk of a stream, if the upstream set one.
func extractStreamFinishReason(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return gjson.GetBytes(data, "choices.0.finish_reason").String()
}

// evaluateStreamPostPhase runs PhasePost policy evaluation for a completed
// stream, using the concatenation of every delta chunk as CompletionText.
// Unlike evaluatePostPhase, a stream's chunks are already on the wire by
// the time the full completion is known, so a post-phase Deny or
// ContentFilter match here can only be reflected in the audit record
// (PolicyResult/guardrail detections) — it cannot retroactively redact or
// block content the client already received. Errors are logged onto the
// eventual audit record rather than returned, since by this point the
// stream has already finished successfully from the client's perspective.
func (p *Pipeline) evaluateStreamPostPhase(ctx context.Context, req Request, prep *preparation, completionText, finishReason string) (denied bool, scanAction string) {
	if len(prep.policies) == 0 {
		return false, ""
	}
	postCtx := policy.RequestContext{
		TokenID:        prep.tokenRec.ID,
		ProjectID:      prep.tokenRec.ProjectID,
		TeamID:         prep.tokenRec.TeamID,
		Attribution:    prep.tokenRec.ID,
		RequestTime:    req.RequestReceived,
		Method:         req.Method,
		Path:           req.Path,
		Model:          prep.model,
		Headers:        req.Headers,
		CompletionText: completionText,
		FinishReason:   finishReason,
	}
	decision, err := p.Engine.Evaluate(ctx, prep.policies, policy.PhasePost, postCtx)
	if err != nil {
		return false, ""
	}
	if _, ok := decision.Terminal.(policy.Deny); ok {
		denied = true
	}
	filters := append(decision.ContentFilters, headerContentFilters(req.Headers)...)
	if len(filters) > 0 {
		holder := audit.ScanResultFromContext(ctx)
		_, streamDenied := p.scanContentFilters(filters, []byte(completionText), holder)
		if streamDenied != nil {
			denied = true
		}
		if holder != nil {
			scanAction = holder.Action
		}
	}
	return denied, scanAction
}
