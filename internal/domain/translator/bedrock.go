package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ailink/gateway/internal/domain/vault"
)

// Bedrock translates between the OpenAI chat-completions wire format and
// the AWS Bedrock Runtime Converse API, including SigV4 request signing
// and binary event-stream decoding for the streaming variant.
type Bedrock struct {
	Secret vault.SigV4Secret
}

func NewBedrock(secret vault.SigV4Secret) *Bedrock {
	return &Bedrock{Secret: secret}
}

func (t *Bedrock) TranslateRequest(ctx context.Context, upstreamURL, model string, body []byte) (RequestTranslation, error) {
	u, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil {
		return RequestTranslation{}, fmt.Errorf("translator: parse upstream url: %w", err)
	}

	streaming := gjson.GetBytes(body, "stream").Bool()
	op := "converse"
	if streaming {
		op = "converse-stream"
	}
	u.Path = fmt.Sprintf("/model/%s/%s", url.PathEscape(model), op)

	out := []byte(`{}`)
	var system []map[string]any
	var messages []map[string]any
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "system" {
			system = append(system, map[string]any{"text": msg.Get("content").String()})
			return true
		}
		if role == "assistant" {
			role = "assistant"
		} else {
			role = "user"
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": bedrockContentBlocks(msg.Get("content")),
		})
		return true
	})
	out, _ = sjson.SetBytes(out, "messages", messages)
	if len(system) > 0 {
		out, _ = sjson.SetBytes(out, "system", system)
	}

	inferenceConfig := map[string]any{}
	if maxTok := gjson.GetBytes(body, "max_tokens"); maxTok.Exists() {
		inferenceConfig["maxTokens"] = maxTok.Int()
	}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		inferenceConfig["temperature"] = temp.Num
	}
	if len(inferenceConfig) > 0 {
		out, _ = sjson.SetBytes(out, "inferenceConfig", inferenceConfig)
	}

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		var toolSpecs []map[string]any
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := tool.Get("function")
			toolSpecs = append(toolSpecs, map[string]any{
				"toolSpec": map[string]any{
					"name":        fn.Get("name").String(),
					"description": fn.Get("description").String(),
					"inputSchema": map[string]any{"json": json.RawMessage(fn.Get("parameters").Raw)},
				},
			})
			return true
		})
		out, _ = sjson.SetBytes(out, "toolConfig.tools", toolSpecs)
	}

	headers, err := vault.SigV4Headers(ctx, t.Secret, "POST", u.String(), out)
	if err != nil {
		return RequestTranslation{}, fmt.Errorf("translator: sign bedrock request: %w", err)
	}
	headers["Content-Type"] = "application/json"

	return RequestTranslation{Method: "POST", URL: u.String(), Headers: headers, Body: out}, nil
}

func bedrockContentBlocks(content gjson.Result) []map[string]any {
	if content.Type == gjson.String {
		return []map[string]any{{"text": content.String()}}
	}
	var blocks []map[string]any
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, map[string]any{"text": part.Get("text").String()})
		case "image_url":
			if mime, data, ok := parseDataURL(part.Get("image_url.url").String()); ok {
				format := strings.TrimPrefix(mime, "image/")
				blocks = append(blocks, map[string]any{
					"image": map[string]any{
						"format": format,
						"source": map[string]any{"bytes": data},
					},
				})
			}
		}
		return true
	})
	return blocks
}

func (t *Bedrock) TranslateResponse(_ context.Context, upstreamBody []byte) ([]byte, string, int, int, string, error) {
	promptTokens := int(gjson.GetBytes(upstreamBody, "usage.inputTokens").Int())
	completionTokens := int(gjson.GetBytes(upstreamBody, "usage.outputTokens").Int())
	finishReason := mapBedrockStopReason(gjson.GetBytes(upstreamBody, "stopReason").String())

	var textParts []string
	var toolCalls []map[string]any
	gjson.GetBytes(upstreamBody, "output.message.content").ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text"); text.Exists() {
			textParts = append(textParts, text.String())
		}
		if use := block.Get("toolUse"); use.Exists() {
			args, _ := json.Marshal(json.RawMessage(use.Get("input").Raw))
			toolCalls = append(toolCalls, map[string]any{
				"id":   use.Get("toolUseId").String(),
				"type": "function",
				"function": map[string]any{
					"name":      use.Get("name").String(),
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
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message", message)
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", finishReason)
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", promptTokens)
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", completionTokens)
	out, _ = sjson.SetBytes(out, "usage.total_tokens", promptTokens+completionTokens)

	// Bedrock responses don't report the resolved model id separately
	// from the one the caller requested, so TranslateRequest's model
	// argument is used as-is for pricing by the caller.
	return out, "", promptTokens, completionTokens, finishReason, nil
}

func mapBedrockStopReason(reason string) string {
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

// decodeEventStreamFrame parses one `application/vnd.amazon.eventstream`
// binary message from raw, validating both the prelude and message CRCs,
// and returns the JSON payload of the frame along with its
// :event-type/:message-type headers. Bedrock's streaming transport emits
// one such frame per chunk already delimited by the HTTP transport, so
// raw here is expected to hold exactly one complete frame.
func decodeEventStreamFrame(raw []byte) (payload []byte, eventType string, err error) {
	decoder := eventstream.NewDecoder()
	msg, err := decoder.Decode(bytes.NewReader(raw), nil)
	if err != nil {
		return nil, "", fmt.Errorf("translator: decode bedrock event-stream frame: %w", err)
	}

	for _, h := range msg.Headers {
		switch h.Name {
		case ":event-type":
			eventType = headerStringValue(h.Value)
		case ":message-type":
			if headerStringValue(h.Value) == "exception" {
				return nil, "", fmt.Errorf("translator: bedrock event-stream exception frame: %s", string(msg.Payload))
			}
		}
	}
	return msg.Payload, eventType, nil
}

// headerStringValue extracts a header's string content regardless of
// which concrete eventstream.Value type carries it; Bedrock's
// :event-type/:message-type headers are always string-typed, but the
// field arrives as the package's generic Value interface.
func headerStringValue(v eventstream.Value) string {
	if sv, ok := v.(eventstream.StringValue); ok {
		return string(sv)
	}
	return fmt.Sprintf("%v", v)
}

// BedrockStream wraps Bedrock for streaming Converse responses, decoding
// the AWS binary event-stream framing before dispatching on frame type.
type BedrockStream struct {
	*Bedrock
}

func NewBedrockStream(secret vault.SigV4Secret) *BedrockStream {
	return &BedrockStream{Bedrock: NewBedrock(secret)}
}

func (t *BedrockStream) TranslateStream(_ context.Context, raw []byte) ([]StreamChunk, error) {
	payload, eventType, err := decodeEventStreamFrame(raw)
	if err != nil {
		return []StreamChunk{{Err: err}}, nil
	}

	switch eventType {
	case "contentBlockDelta":
		text := gjson.GetBytes(payload, "delta.text").String()
		if text == "" {
			return nil, nil
		}
		return []StreamChunk{{Data: openAIDeltaChunk(map[string]any{"content": text}, "")}}, nil

	case "messageStop":
		reason := mapBedrockStopReason(gjson.GetBytes(payload, "stopReason").String())
		chunks := []StreamChunk{{Data: openAIDeltaChunk(map[string]any{}, reason)}}
		return append(chunks, StreamChunk{Done: true}), nil

	case "messageStart", "contentBlockStart", "contentBlockStop", "metadata":
		return nil, nil

	default:
		return nil, nil
	}
}
