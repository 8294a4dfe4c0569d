package translator

import "testing"

func TestDetectProvider_ModelPrefixTakesPriority(t *testing.T) {
	got := DetectProvider("claude-3-5-sonnet-20241022", "https://my-reseller.example.com", false)
	if got != ProviderAnthropic {
		t.Errorf("DetectProvider = %q, want anthropic", got)
	}
}

func TestDetectProvider_FallsBackToHostHint(t *testing.T) {
	got := DetectProvider("custom-finetune-v3", "https://generativelanguage.googleapis.com/v1beta", false)
	if got != ProviderGemini {
		t.Errorf("DetectProvider = %q, want gemini", got)
	}
}

func TestDetectProvider_GenericServiceOverridesHostHint(t *testing.T) {
	got := DetectProvider("custom-finetune-v3", "https://generativelanguage.googleapis.com/v1beta", true)
	if got != ProviderOpenAICompatible {
		t.Errorf("DetectProvider = %q, want openai_compatible (generic service overrides heuristics)", got)
	}
}

func TestDetectProvider_DefaultsToOpenAICompatible(t *testing.T) {
	got := DetectProvider("custom-model", "https://internal.example.com", false)
	if got != ProviderOpenAICompatible {
		t.Errorf("DetectProvider = %q, want openai_compatible", got)
	}
}

func TestDetectProvider_BedrockModelPrefix(t *testing.T) {
	got := DetectProvider("anthropic.claude-3-5-sonnet-20241022-v2:0", "https://bedrock-runtime.us-east-1.amazonaws.com", false)
	if got != ProviderBedrock {
		t.Errorf("DetectProvider = %q, want bedrock", got)
	}
}
