package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// OpenAICompatible handles providers that already speak the OpenAI
// chat-completions wire format (OpenAI itself, Azure OpenAI, Groq,
// Together, self-hosted vLLM/Ollama front ends, ...). It rewrites only
// the scheme/host/path, never the body.
type OpenAICompatible struct {
	// PathSuffix is appended to the upstream base URL, e.g.
	// "/v1/chat/completions". Defaults to that path if empty.
	PathSuffix string
}

func NewOpenAICompatible() *OpenAICompatible {
	return &OpenAICompatible{PathSuffix: "/chat/completions"}
}

func (t *OpenAICompatible) TranslateRequest(_ context.Context, upstreamURL, _ string, body []byte) (RequestTranslation, error) {
	u, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil {
		return RequestTranslation{}, fmt.Errorf("translator: parse upstream url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + t.PathSuffix

	return RequestTranslation{
		Method:  "POST",
		URL:     u.String(),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

func (t *OpenAICompatible) TranslateResponse(_ context.Context, upstreamBody []byte) ([]byte, string, int, int, string, error) {
	realModel := gjson.GetBytes(upstreamBody, "model").String()
	promptTokens := int(gjson.GetBytes(upstreamBody, "usage.prompt_tokens").Int())
	completionTokens := int(gjson.GetBytes(upstreamBody, "usage.completion_tokens").Int())
	finishReason := gjson.GetBytes(upstreamBody, "choices.0.finish_reason").String()
	return upstreamBody, realModel, promptTokens, completionTokens, finishReason, nil
}

// TranslateStream passes SSE frames through unchanged: the raw chunk
// already is `data: {...}\n\n` in OpenAI shape.
func (t *OpenAICompatible) TranslateStream(_ context.Context, raw []byte) ([]StreamChunk, error) {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		return nil, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return []StreamChunk{{Done: true}}, nil
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("translator: invalid json in openai stream frame")
	}
	return []StreamChunk{{Data: []byte(payload)}}, nil
}
