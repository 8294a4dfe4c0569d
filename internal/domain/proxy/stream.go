package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/translator"
)

// StreamTransport is the outbound port for a streaming call. A Transport
// adapter that can open a live response body (rather than only buffering
// a complete one) implements this in addition to Transport; Pipeline
// falls back to a non-streaming call translated chunk-at-once when a
// Transport doesn't support it.
type StreamTransport interface {
	DoStream(ctx context.Context, req OutboundRequest) (body io.ReadCloser, statusCode int, err error)
}

// StreamChunk is one event HandleStream emits to its caller, already
// framed as `data: ...\n\n` SSE bytes, or the terminal `data: [DONE]\n\n`
// line when Done is true.
type StreamChunk struct {
	Data []byte
	Done bool
	Err  error
}

// HandleStream runs the pipeline for a streaming completion request,
// writing translated SSE chunks to emit as they arrive from the
// upstream. It shares prepare() with Handle so token resolution, policy
// evaluation, redaction, upstream selection, and HITL short-circuiting
// are identical between the two paths; only the transport call and
// response-side translation differ.
func (p *Pipeline) HandleStream(ctx context.Context, req Request, emit func(StreamChunk) error) error {
	ctx, prep, err := p.prepare(ctx, req)
	if err != nil {
		return err
	}
	if prep.approvalID != "" {
		return emit(StreamChunk{Err: &ErrDenied{Reason: "approval required", Status: 202}})
	}

	// prepare() resolves the non-streaming Translator; swap in the
	// stateful streaming variant (Anthropic/Bedrock carry per-stream
	// decode state the non-streaming translator doesn't need) now that
	// we know this call is a stream.
	if streamTr, err := p.Translators.ResolveStreaming(prep.provider, prep.selection.URL); err == nil {
		prep.translator = streamTr
	}

	outReq, err := prep.translator.TranslateRequest(ctx, prep.selection.URL, prep.model, prep.body)
	if err != nil {
		return fmt.Errorf("proxy: translate request: %w", err)
	}
	p.injectCredential(ctx, &outReq, prep.credentialID)

	streamTransport, ok := p.Transport.(StreamTransport)
	if !ok {
		return p.handleStreamViaBuffer(ctx, prep, outReq, req, emit)
	}

	start := time.Now()
	body, statusCode, err := streamTransport.DoStream(ctx, OutboundRequest{Method: outReq.Method, URL: outReq.URL, Headers: outReq.Headers, Body: outReq.Body})
	if err != nil {
		p.Upstreams.RecordOutcome(prep.tokenRec, prep.selection, breaker.Outcome{Err: err})
		p.emitStreamAudit(ctx, req, prep, statusCode, time.Since(start), "transport_error", nil)
		return emit(StreamChunk{Err: fmt.Errorf("proxy: upstream call failed: %w", err)})
	}
	defer func() { _ = body.Close() }()

	p.Upstreams.RecordOutcome(prep.tokenRec, prep.selection, breaker.Outcome{StatusCode: statusCode})

	var lastUsage translator.StreamChunk
	var completion bytes.Buffer
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var streamErr error
	cancelled := false
scanLoop:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			cancelled = true
			break scanLoop
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		chunks, terr := prep.translator.TranslateStream(ctx, line)
		if terr != nil {
			streamErr = terr
			break
		}
		for _, c := range chunks {
			if c.Err != nil {
				streamErr = c.Err
				break
			}
			if c.Done {
				if err := emit(StreamChunk{Done: true}); err != nil {
					return err
				}
				continue
			}
			lastUsage = c
			completion.WriteString(extractStreamDeltaText(c.Data))
			if err := emit(StreamChunk{Data: c.Data}); err != nil {
				return err
			}
		}
		if streamErr != nil {
			break
		}
	}
	if scanErr := scanner.Err(); scanErr != nil && streamErr == nil {
		streamErr = scanErr
	}

	latency := time.Since(start)
	if cancelled {
		p.emitStreamAuditCancelled(ctx, req, prep, statusCode, latency)
		return ctx.Err()
	}
	if streamErr != nil {
		p.emitStreamAudit(ctx, req, prep, statusCode, latency, "stream_error", nil)
		return emit(StreamChunk{Err: streamErr})
	}

	errType := ""
	if denied, _ := p.evaluateStreamPostPhase(ctx, req, prep, completion.String(), extractStreamFinishReason(lastUsage.Data)); denied {
		errType = "post_phase_denied"
	}
	p.emitStreamAudit(ctx, req, prep, statusCode, latency, errType, lastUsage.Data)
	return nil
}

// handleStreamViaBuffer falls back to a full non-streaming upstream call
// and replays the translated body as a single SSE chunk, used only when
// the configured Transport doesn't implement StreamTransport (e.g. a
// test fake).
func (p *Pipeline) handleStreamViaBuffer(ctx context.Context, prep *preparation, outReq translator.RequestTranslation, req Request, emit func(StreamChunk) error) error {
	start := time.Now()
	outResp, err := p.Transport.Do(ctx, OutboundRequest{Method: outReq.Method, URL: outReq.URL, Headers: outReq.Headers, Body: outReq.Body})
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			p.emitStreamAuditCancelled(ctx, req, prep, 0, latency)
			return ctx.Err()
		}
		p.emitStreamAudit(ctx, req, prep, 0, latency, "transport_error", nil)
		return emit(StreamChunk{Err: fmt.Errorf("proxy: upstream call failed: %w", err)})
	}
	translated, _, _, _, finishReason, err := prep.translator.TranslateResponse(ctx, outResp.Body)
	if err != nil {
		p.emitStreamAudit(ctx, req, prep, outResp.StatusCode, latency, "translate_error", nil)
		return emit(StreamChunk{Err: err})
	}

	scanHolder := audit.ScanResultFromContext(ctx)
	outcome, err := p.evaluatePostPhase(ctx, req, prep, translated, finishReason, scanHolder)
	if err != nil {
		p.emitStreamAudit(ctx, req, prep, outResp.StatusCode, latency, "post_phase_error", nil)
		return emit(StreamChunk{Err: err})
	}
	if outcome.denied != nil {
		p.emitStreamAudit(ctx, req, prep, outResp.StatusCode, latency, "post_phase_denied", nil)
		return emit(StreamChunk{Err: outcome.denied})
	}
	translated = outcome.body
	prep.redactedPointers = append(prep.redactedPointers, outcome.redactedPointers...)

	p.emitStreamAudit(ctx, req, prep, outResp.StatusCode, latency, "", translated)
	if err := emit(StreamChunk{Data: translated}); err != nil {
		return err
	}
	return emit(StreamChunk{Done: true})
}

func (p *Pipeline) emitStreamAudit(ctx context.Context, req Request, prep *preparation, statusCode int, latency time.Duration, errType string, lastBody []byte) {
	rec := audit.Record{
		Timestamp:      req.RequestReceived,
		RequestID:      requestID(req),
		TokenID:        prep.tokenRec.ID,
		ProjectID:      prep.tokenRec.ProjectID,
		TeamID:         prep.tokenRec.TeamID,
		Model:          prep.model,
		UpstreamURL:    prep.selection.URL,
		LatencyMillis:  latency.Milliseconds(),
		StatusCode:     statusCode,
		PolicyResult:   audit.PolicyResultAllow,
		FieldsRedacted: prep.redactedPointers,
		ErrorType:      errType,
		ExperimentName: prep.experimentName,
		VariantName:    prep.variantName,
	}
	if errType == "post_phase_denied" {
		rec.PolicyResult = audit.PolicyResultDeny
	}
	if scanHolder := audit.ScanResultFromContext(ctx); scanHolder != nil && scanHolder.Detections > 0 {
		rec.FieldsRedacted = append(rec.FieldsRedacted, "guardrail:"+scanHolder.Types)
	}
	if errType == "" || errType == "post_phase_denied" {
		cost, overCapIDs, err := p.Spend.RecordCompletion(context.Background(), prep.tokenRec.ProjectID, prep.tokenRec.ID, string(prep.provider), prep.model, 0, 0, time.Now())
		if err == nil {
			rec.CostUSD = cost
			rec.OverCapCapIDs = overCapIDs
		}
	}
	p.Audit.Emit(rec)
}

// emitStreamAuditCancelled records an audit row for a stream the client
// disconnected from before it finished, with LatencyMillis measured up to
// the point of cancellation rather than stream completion.
func (p *Pipeline) emitStreamAuditCancelled(ctx context.Context, req Request, prep *preparation, statusCode int, latency time.Duration) {
	rec := audit.Record{
		Timestamp:      req.RequestReceived,
		RequestID:      requestID(req),
		TokenID:        prep.tokenRec.ID,
		ProjectID:      prep.tokenRec.ProjectID,
		TeamID:         prep.tokenRec.TeamID,
		Model:          prep.model,
		UpstreamURL:    prep.selection.URL,
		LatencyMillis:  latency.Milliseconds(),
		StatusCode:     statusCode,
		PolicyResult:   audit.PolicyResultAllow,
		FieldsRedacted: prep.redactedPointers,
		ErrorType:      "cancelled",
		Cancelled:      true,
		ExperimentName: prep.experimentName,
		VariantName:    prep.variantName,
	}
	p.Audit.Emit(rec)
}
