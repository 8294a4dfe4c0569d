// Package translator implements the Protocol Translator: provider
// detection and request/response/stream rewriting between the client's
// OpenAI-compatible wire format and each upstream's native protocol.
package translator

import (
	"context"
	"net/url"
	"strings"
)

// Provider identifies the upstream wire protocol a request must be
// translated to/from.
type Provider string

const (
	ProviderOpenAICompatible Provider = "openai_compatible" // includes OpenAI itself
	ProviderAnthropic        Provider = "anthropic"
	ProviderGemini           Provider = "gemini"
	ProviderBedrock          Provider = "bedrock"
)

// modelPrefixes maps a model-name prefix to its provider, checked before
// any URL-host heuristic per spec's detection order.
var modelPrefixes = []struct {
	prefix   string
	provider Provider
}{
	{"gpt-", ProviderOpenAICompatible},
	{"o1-", ProviderOpenAICompatible},
	{"o3-", ProviderOpenAICompatible},
	{"o4-", ProviderOpenAICompatible},
	{"claude-", ProviderAnthropic},
	{"gemini-", ProviderGemini},
	{"anthropic.", ProviderBedrock},
	{"meta.", ProviderBedrock},
	{"amazon.", ProviderBedrock},
	{"cohere.", ProviderBedrock},
	{"mistral.", ProviderBedrock},
	{"ai21.", ProviderBedrock},
}

// hostHints maps a substring of the upstream URL's host to its provider,
// the fallback when the model name alone doesn't disambiguate (e.g. an
// OpenAI-compatible reseller fronting a differently-named model).
var hostHints = []struct {
	substr   string
	provider Provider
}{
	{"anthropic.com", ProviderAnthropic},
	{"generativelanguage.googleapis.com", ProviderGemini},
	{"bedrock-runtime", ProviderBedrock},
	{"azure.com", ProviderOpenAICompatible},
	{"groq.com", ProviderOpenAICompatible},
	{"mistral.ai", ProviderOpenAICompatible},
	{"together.xyz", ProviderOpenAICompatible},
	{"together.ai", ProviderOpenAICompatible},
	{"cohere.ai", ProviderOpenAICompatible},
	{"cohere.com", ProviderOpenAICompatible},
	// A bare "ollama" hint only ever shows up in a self-hosted base URL
	// a project operator chose, not a public DNS suffix.
	{"ollama", ProviderOpenAICompatible},
}

// ServiceIsGeneric is passed as DetectProvider's isGenericService
// argument when the request was routed through a registered Service
// whose service_type is "generic": such a service carries no native LLM
// protocol to translate into, so detection stops there regardless of
// what the model name or host would otherwise suggest.
const ServiceIsGeneric = true

// DetectProvider resolves a Provider using the three-step order from
// spec.md §4.5: model-name prefix, then URL host match, then the
// explicit `service_type` on a registered Service — a "generic" service
// type overrides both heuristics and forces plain passthrough, since a
// generic proxy target has no native protocol to translate into.
func DetectProvider(model, upstreamURL string, isGenericService bool) Provider {
	if isGenericService {
		return ProviderOpenAICompatible
	}

	for _, m := range modelPrefixes {
		if strings.HasPrefix(model, m.prefix) {
			return m.provider
		}
	}

	if u, err := url.Parse(upstreamURL); err == nil {
		host := strings.ToLower(u.Host)
		for _, h := range hostHints {
			if strings.Contains(host, h.substr) {
				return h.provider
			}
		}
	}

	return ProviderOpenAICompatible
}

// StreamChunk is one translated Server-Sent Event ready to forward to
// the client, already in OpenAI chat-completion-chunk shape.
type StreamChunk struct {
	// Data is the JSON payload for a `data: ...` SSE line. Empty Data
	// with Done=true signals the caller to write the terminal
	// `data: [DONE]` line.
	Data []byte
	Done bool
	// Err, if set, means the upstream stream failed mid-flight; the
	// caller must emit one SSE `error` event with Err's message and then
	// close, never replaying partial content as a complete response.
	Err error
}

// RequestTranslation is the outcome of translating a client's
// OpenAI-shaped request into an upstream's native wire format.
type RequestTranslation struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Translator converts between the client-facing OpenAI-compatible wire
// format and one upstream provider's native protocol.
type Translator interface {
	// TranslateRequest rewrites an OpenAI-shaped request body for
	// upstreamURL/model into the provider's native request.
	TranslateRequest(ctx context.Context, upstreamURL, model string, body []byte) (RequestTranslation, error)

	// TranslateResponse converts a complete, non-streaming upstream
	// response body back into an OpenAI chat-completion JSON body. The
	// realModel return value is the upstream's own reported model id,
	// used for pricing lookups — never the client-requested alias.
	TranslateResponse(ctx context.Context, upstreamBody []byte) (openAIBody []byte, realModel string, promptTokens, completionTokens int, finishReason string, err error)

	// TranslateStream converts one raw chunk read from the upstream
	// stream into zero or more OpenAI SSE chunks. The translator must
	// buffer at most one source frame across calls — never the whole
	// response — so state carried between calls is the implementation's
	// own business, not this method's caller's.
	TranslateStream(ctx context.Context, raw []byte) ([]StreamChunk, error)
}
