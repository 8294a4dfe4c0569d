package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ailink/gateway/internal/domain/hitl"
	"github.com/ailink/gateway/internal/domain/proxy"
	"github.com/ailink/gateway/internal/domain/spend"
	"github.com/ailink/gateway/internal/domain/token"
)

// maxRequestBodySize is the maximum allowed request body size (10 MB,
// generous enough for a chat request with embedded images/documents
// without letting a client exhaust memory).
const maxRequestBodySize = 10 << 20

// ProxyHandler serves the OpenAI-compatible client-facing surface
// (/v1/chat/completions, /v1/completions, /v1/embeddings, and any other
// /v1/* path a registered upstream understands), driving every call
// through the proxy.Pipeline. It is the client-facing analogue of what
// the teacher's mcpHandler does for JSON-RPC, generalized from a single
// MCP method dispatch into an arbitrary-path reverse proxy in front of
// the pipeline's own routing.
type ProxyHandler struct {
	pipeline *proxy.Pipeline
}

// NewProxyHandler wraps pipeline as an http.Handler.
func NewProxyHandler(pipeline *proxy.Pipeline) *ProxyHandler {
	return &ProxyHandler{pipeline: pipeline}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported on this path")
		return
	}

	bearer, _ := r.Context().Value(BearerKey).(string)
	realAuth, _ := r.Context().Value(RealAuthKey).(string)
	if bearer == "" {
		writeAPIError(w, http.StatusUnauthorized, "missing_api_key", "Authorization: Bearer <token> header required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	req := proxy.Request{
		RawBearer:       bearer,
		RealAuthHeader:  realAuth,
		Method:          r.Method,
		Path:            r.URL.Path,
		Headers:         headers,
		Body:            body,
		NoCache:         r.Header.Get("Cache-Control") == "no-cache",
		RequestReceived: time.Now().UTC(),
	}

	if gjson.GetBytes(body, "stream").Bool() {
		h.serveStream(w, r, req)
		return
	}
	h.serveNonStream(w, r, req)
}

func (h *ProxyHandler) serveNonStream(w http.ResponseWriter, r *http.Request, req proxy.Request) {
	resp, err := h.pipeline.Handle(r.Context(), req)
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

func (h *ProxyHandler) serveStream(w http.ResponseWriter, r *http.Request, req proxy.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming responses")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	headerWritten := false
	emit := func(chunk proxy.StreamChunk) error {
		if chunk.Err != nil {
			if !headerWritten {
				writeProxyError(w, chunk.Err)
				return nil
			}
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", sseErrorPayload(chunk.Err))
			flusher.Flush()
			return nil
		}
		if !headerWritten {
			w.WriteHeader(http.StatusOK)
			headerWritten = true
		}
		if chunk.Done {
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		} else {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk.Data)
		}
		flusher.Flush()
		return nil
	}

	if err := h.pipeline.HandleStream(r.Context(), req, emit); err != nil {
		if !headerWritten {
			writeProxyError(w, err)
		}
	}
}

func sseErrorPayload(err error) string {
	b, marshalErr := json.Marshal(map[string]string{"message": err.Error(), "type": "upstream_error"})
	if marshalErr != nil {
		return `{"message":"internal error"}`
	}
	return string(b)
}

// writeProxyError maps a proxy/domain error to the OpenAI-shaped error
// envelope clients expect, choosing the status code from the error's own
// type rather than always returning 500.
func writeProxyError(w http.ResponseWriter, err error) {
	var denied *proxy.ErrDenied
	switch {
	case errors.As(err, &denied):
		writeAPIError(w, denied.Status, "policy_denied", denied.Reason)
	case errors.Is(err, token.ErrInvalid):
		writeAPIError(w, http.StatusUnauthorized, "invalid_api_key", "the provided token is invalid, expired, or revoked")
	case errors.Is(err, spend.ErrCapExceeded):
		writeAPIError(w, http.StatusTooManyRequests, "spend_cap_exceeded", "a spend cap for this token or project has been reached")
	case errors.Is(err, hitl.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "not_found", "approval request not found")
	default:
		writeAPIError(w, http.StatusBadGateway, "upstream_error", safeErrorMessage(err))
	}
}

// safeErrorMessage strips anything that looks like it might carry an
// internal URL or stack context before it reaches a client response.
func safeErrorMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "://"); idx >= 0 {
		return "upstream call failed"
	}
	return msg
}

type apiErrorBody struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeAPIError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorBody{Error: apiErrorDetail{Message: message, Type: errType}})
}

// handleOptions handles CORS preflight requests for the /v1 surface.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Real-Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}
