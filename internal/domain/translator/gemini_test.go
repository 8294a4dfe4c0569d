package translator

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"
)

func TestGemini_TranslateRequest_RewritesURLAndRoles(t *testing.T) {
	tr := NewGemini()
	body := []byte(`{"messages":[{"role":"system","content":"be terse"},{"role":"assistant","content":"ok"},{"role":"user","content":"hi"}]}`)

	got, err := tr.TranslateRequest(context.Background(), "https://generativelanguage.googleapis.com", "gemini-1.5-pro", body)
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	want := "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent"
	if got.URL != want {
		t.Errorf("URL = %q, want %q", got.URL, want)
	}
	if gjson.GetBytes(got.Body, "systemInstruction.parts.0.text").String() != "be terse" {
		t.Errorf("systemInstruction missing: %s", got.Body)
	}
	if gjson.GetBytes(got.Body, "contents.0.role").String() != "model" {
		t.Errorf("assistant role not mapped to model: %s", got.Body)
	}
}

func TestGemini_TranslateRequest_StreamingUsesSSEPath(t *testing.T) {
	tr := NewGemini()
	body := []byte(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	got, err := tr.TranslateRequest(context.Background(), "https://generativelanguage.googleapis.com", "gemini-1.5-pro", body)
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if want := "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:streamGenerateContent?alt=sse"; got.URL != want {
		t.Errorf("URL = %q, want %q", got.URL, want)
	}
}

func TestGemini_TranslateResponse_MapsFunctionCall(t *testing.T) {
	tr := NewGemini()
	body := []byte(`{
		"modelVersion":"gemini-1.5-pro-002",
		"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":3},
		"candidates":[{"finishReason":"STOP","content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]}}]
	}`)

	out, model, prompt, completion, finish, err := tr.TranslateResponse(context.Background(), body)
	if err != nil {
		t.Fatalf("TranslateResponse: %v", err)
	}
	if model != "gemini-1.5-pro-002" || prompt != 8 || completion != 3 || finish != "stop" {
		t.Errorf("got model=%q prompt=%d completion=%d finish=%q", model, prompt, completion, finish)
	}
	if gjson.GetBytes(out, "choices.0.message.tool_calls.0.function.name").String() != "lookup" {
		t.Errorf("function call not mapped: %s", out)
	}
}

func TestParseDataURL(t *testing.T) {
	mime, data, ok := parseDataURL("data:image/png;base64,aGVsbG8=")
	if !ok || mime != "image/png" || data != "aGVsbG8=" {
		t.Errorf("parseDataURL = %q %q %v", mime, data, ok)
	}

	if _, _, ok := parseDataURL("https://example.com/img.png"); ok {
		t.Error("expected non-data URL to fail")
	}
}
