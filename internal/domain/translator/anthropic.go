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

const anthropicVersion = "2023-06-01"

// Anthropic translates between the OpenAI chat-completions wire format
// and Anthropic's Messages API (POST /v1/messages).
type Anthropic struct{}

func NewAnthropic() *Anthropic { return &Anthropic{} }

func (t *Anthropic) TranslateRequest(_ context.Context, upstreamURL, model string, body []byte) (RequestTranslation, error) {
	u, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil {
		return RequestTranslation{}, fmt.Errorf("translator: parse upstream url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/messages"

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)

	var system []string
	var messages []map[string]any
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")
		if role == "system" {
			system = append(system, content.String())
			return true
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": anthropicContentBlocks(content),
		})
		return true
	})
	if len(system) > 0 {
		out, _ = sjson.SetBytes(out, "system", strings.Join(system, "\n\n"))
	}
	out, _ = sjson.SetBytes(out, "messages", messages)

	if maxTok := gjson.GetBytes(body, "max_tokens"); maxTok.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", maxTok.Int())
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", 4096)
	}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		out, _ = sjson.SetBytes(out, "temperature", temp.Num)
	}
	if stream := gjson.GetBytes(body, "stream"); stream.Exists() {
		out, _ = sjson.SetBytes(out, "stream", stream.Bool())
	}

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		var anthropicTools []map[string]any
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := tool.Get("function")
			anthropicTools = append(anthropicTools, map[string]any{
				"name":         fn.Get("name").String(),
				"description":  fn.Get("description").String(),
				"input_schema": json.RawMessage(fn.Get("parameters").Raw),
			})
			return true
		})
		out, _ = sjson.SetBytes(out, "tools", anthropicTools)
	}
	if choice := gjson.GetBytes(body, "tool_choice"); choice.Exists() {
		out, _ = sjson.SetBytes(out, "tool_choice", anthropicToolChoice(choice))
	}

	return RequestTranslation{
		Method: "POST",
		URL:    u.String(),
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"anthropic-version": anthropicVersion,
		},
		Body: out,
	}, nil
}

func anthropicContentBlocks(content gjson.Result) any {
	if content.Type == gjson.String {
		return content.String()
	}
	var blocks []map[string]any
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Get("text").String()})
		case "image_url":
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type": "url",
					"url":  part.Get("image_url.url").String(),
				},
			})
		}
		return true
	})
	return blocks
}

func anthropicToolChoice(choice gjson.Result) any {
	if choice.Type == gjson.String {
		switch choice.String() {
		case "none":
			return nil
		case "required":
			return map[string]any{"type": "any"}
		default:
			return map[string]any{"type": "auto"}
		}
	}
	if name := choice.Get("function.name"); name.Exists() {
		return map[string]any{"type": "tool", "name": name.String()}
	}
	return map[string]any{"type": "auto"}
}

func (t *Anthropic) TranslateResponse(_ context.Context, upstreamBody []byte) ([]byte, string, int, int, string, error) {
	realModel := gjson.GetBytes(upstreamBody, "model").String()
	promptTokens := int(gjson.GetBytes(upstreamBody, "usage.input_tokens").Int())
	completionTokens := int(gjson.GetBytes(upstreamBody, "usage.output_tokens").Int())

	var textParts []string
	var toolCalls []map[string]any
	gjson.GetBytes(upstreamBody, "content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, block.Get("text").String())
		case "tool_use":
			args, _ := json.Marshal(json.RawMessage(block.Get("input").Raw))
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": string(args),
				},
			})
		}
		return true
	})

	finishReason := mapAnthropicStopReason(gjson.GetBytes(upstreamBody, "stop_reason").String())

	message := map[string]any{"role": "assistant", "content": strings.Join(textParts, "")}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	out := []byte(`{"object":"chat.completion"}`)
	out, _ = sjson.SetBytes(out, "id", gjson.GetBytes(upstreamBody, "id").String())
	out, _ = sjson.SetBytes(out, "model", realModel)
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message", message)
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", finishReason)
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", promptTokens)
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", completionTokens)
	out, _ = sjson.SetBytes(out, "usage.total_tokens", promptTokens+completionTokens)

	return out, realModel, promptTokens, completionTokens, finishReason, nil
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// anthropicStreamState tracks the in-flight content block across
// TranslateStream calls so tool-call argument deltas can be reassembled
// into the single JSON fragment each OpenAI chunk expects.
type anthropicStreamState struct {
	blockType string
	toolID    string
	toolName  string
}

// AnthropicStream wraps Anthropic for the streaming case, since mapping
// Anthropic's block-oriented SSE events onto OpenAI's flat delta chunks
// needs state carried between frames.
type AnthropicStream struct {
	*Anthropic
	state anthropicStreamState
}

func NewAnthropicStream() *AnthropicStream {
	return &AnthropicStream{Anthropic: NewAnthropic()}
}

func (t *AnthropicStream) TranslateStream(_ context.Context, raw []byte) ([]StreamChunk, error) {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		return nil, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil, nil
	}

	eventType := gjson.Get(payload, "type").String()
	switch eventType {
	case "content_block_start":
		block := gjson.Get(payload, "content_block")
		t.state.blockType = block.Get("type").String()
		t.state.toolID = block.Get("id").String()
		t.state.toolName = block.Get("name").String()
		return nil, nil

	case "content_block_delta":
		delta := gjson.Get(payload, "delta")
		switch delta.Get("type").String() {
		case "text_delta":
			chunk := openAIDeltaChunk(map[string]any{"content": delta.Get("text").String()}, "")
			return []StreamChunk{{Data: chunk}}, nil
		case "input_json_delta":
			chunk := openAIDeltaChunk(map[string]any{
				"tool_calls": []map[string]any{{
					"index": 0,
					"id":    t.state.toolID,
					"type":  "function",
					"function": map[string]any{
						"name":      t.state.toolName,
						"arguments": delta.Get("partial_json").String(),
					},
				}},
			}, "")
			return []StreamChunk{{Data: chunk}}, nil
		}
		return nil, nil

	case "message_delta":
		reason := mapAnthropicStopReason(gjson.Get(payload, "delta.stop_reason").String())
		if reason == "" {
			return nil, nil
		}
		chunk := openAIDeltaChunk(map[string]any{}, reason)
		return []StreamChunk{{Data: chunk}}, nil

	case "message_stop":
		return []StreamChunk{{Done: true}}, nil

	case "error":
		return []StreamChunk{{Err: fmt.Errorf("anthropic stream error: %s", gjson.Get(payload, "error.message").String())}}, nil
	}

	return nil, nil
}

func openAIDeltaChunk(delta map[string]any, finishReason string) []byte {
	out := []byte(`{"object":"chat.completion.chunk"}`)
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.delta", delta)
	if finishReason != "" {
		out, _ = sjson.SetBytes(out, "choices.0.finish_reason", finishReason)
	} else {
		out, _ = sjson.SetBytes(out, "choices.0.finish_reason", nil)
	}
	return out
}
