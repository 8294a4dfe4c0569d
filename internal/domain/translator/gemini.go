package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Gemini translates between the OpenAI chat-completions wire format and
// Google's generateContent API.
type Gemini struct {
	// Streaming selects streamGenerateContent over generateContent and
	// is set per-request from the client's `stream` field.
	Streaming bool
}

func NewGemini() *Gemini { return &Gemini{} }

func (t *Gemini) TranslateRequest(_ context.Context, upstreamURL, model string, body []byte) (RequestTranslation, error) {
	u, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil {
		return RequestTranslation{}, fmt.Errorf("translator: parse upstream url: %w", err)
	}

	streaming := gjson.GetBytes(body, "stream").Bool()
	method := "generateContent"
	if streaming {
		method = "streamGenerateContent"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/v1beta/models/%s:%s", model, method)
	q := u.Query()
	if streaming {
		q.Set("alt", "sse")
	}
	u.RawQuery = q.Encode()

	out := []byte(`{}`)

	var systemParts []string
	var contents []map[string]any
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "system" {
			systemParts = append(systemParts, msg.Get("content").String())
			return true
		}
		contents = append(contents, map[string]any{
			"role":  mapGeminiRole(role),
			"parts": geminiParts(msg.Get("content")),
		})
		return true
	})
	out, _ = sjson.SetBytes(out, "contents", contents)
	if len(systemParts) > 0 {
		out, _ = sjson.SetBytes(out, "systemInstruction.parts.0.text", strings.Join(systemParts, "\n\n"))
	}

	genConfig := map[string]any{}
	if maxTok := gjson.GetBytes(body, "max_tokens"); maxTok.Exists() {
		genConfig["maxOutputTokens"] = maxTok.Int()
	}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		genConfig["temperature"] = temp.Num
	}
	if len(genConfig) > 0 {
		out, _ = sjson.SetBytes(out, "generationConfig", genConfig)
	}

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		var decls []map[string]any
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := tool.Get("function")
			decls = append(decls, map[string]any{
				"name":        fn.Get("name").String(),
				"description": fn.Get("description").String(),
				"parameters":  json.RawMessage(fn.Get("parameters").Raw),
			})
			return true
		})
		out, _ = sjson.SetBytes(out, "tools.0.functionDeclarations", decls)
	}

	return RequestTranslation{
		Method:  "POST",
		URL:     u.String(),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    out,
	}, nil
}

func mapGeminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func geminiParts(content gjson.Result) []map[string]any {
	if content.Type == gjson.String {
		return []map[string]any{{"text": content.String()}}
	}
	var parts []map[string]any
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": part.Get("text").String()})
		case "image_url":
			url := part.Get("image_url.url").String()
			if strings.HasPrefix(url, "data:") {
				mime, data, ok := parseDataURL(url)
				if ok {
					parts = append(parts, map[string]any{
						"inlineData": map[string]any{"mimeType": mime, "data": data},
					})
				}
			} else {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{"fileUri": url},
				})
			}
		}
		return true
	})
	return parts
}

// parseDataURL splits a "data:<mime>;base64,<data>" URL into its mime
// type and base64 payload.
func parseDataURL(raw string) (mime, data string, ok bool) {
	rest, found := strings.CutPrefix(raw, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	return mime, payload, true
}

func (t *Gemini) TranslateResponse(_ context.Context, upstreamBody []byte) ([]byte, string, int, int, string, error) {
	realModel := gjson.GetBytes(upstreamBody, "modelVersion").String()
	promptTokens := int(gjson.GetBytes(upstreamBody, "usageMetadata.promptTokenCount").Int())
	completionTokens := int(gjson.GetBytes(upstreamBody, "usageMetadata.candidatesTokenCount").Int())

	candidate := gjson.GetBytes(upstreamBody, "candidates.0")
	finishReason := mapGeminiFinishReason(candidate.Get("finishReason").String())

	var textParts []string
	var toolCalls []map[string]any
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			textParts = append(textParts, text.String())
		}
		if call := part.Get("functionCall"); call.Exists() {
			args, _ := json.Marshal(json.RawMessage(call.Get("args").Raw))
			toolCalls = append(toolCalls, map[string]any{
				"id":   fmt.Sprintf("call_%d", len(toolCalls)),
				"type": "function",
				"function": map[string]any{
					"name":      call.Get("name").String(),
					"arguments": string(args),
				},
			})
		}
		return true
	})

	message := map[string]any{"role": "assistant", "content": strings.Join(textParts, "")}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	out := []byte(`{"object":"chat.completion"}`)
	out, _ = sjson.SetBytes(out, "model", realModel)
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message", message)
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", finishReason)
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", promptTokens)
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", completionTokens)
	out, _ = sjson.SetBytes(out, "usage.total_tokens", promptTokens+completionTokens)

	return out, realModel, promptTokens, completionTokens, finishReason, nil
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

func (t *Gemini) TranslateStream(_ context.Context, raw []byte) ([]StreamChunk, error) {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		return nil, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil, nil
	}

	candidate := gjson.Get(payload, "candidates.0")
	var text string
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		text += part.Get("text").String()
		return true
	})

	finishReason := ""
	if reason := candidate.Get("finishReason"); reason.Exists() {
		finishReason = mapGeminiFinishReason(reason.String())
	}

	chunk := openAIDeltaChunk(map[string]any{"content": text}, finishReason)
	chunks := []StreamChunk{{Data: chunk}}
	if finishReason != "" {
		chunks = append(chunks, StreamChunk{Done: true})
	}
	return chunks, nil
}
