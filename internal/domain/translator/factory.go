package translator

import (
	"fmt"

	"github.com/ailink/gateway/internal/domain/vault"
)

// Resolver builds the Translator for a detected Provider, supplying
// whatever per-upstream credentials a provider's wire format needs (only
// Bedrock's SigV4 signing requires one today).
type Resolver struct {
	// BedrockSecret resolves the SigV4 signing secret for a given
	// upstream URL. Only called when DetectProvider returns
	// ProviderBedrock.
	BedrockSecret func(upstreamURL string) (vault.SigV4Secret, error)
}

func NewResolver(bedrockSecret func(upstreamURL string) (vault.SigV4Secret, error)) *Resolver {
	return &Resolver{BedrockSecret: bedrockSecret}
}

// Resolve returns the non-streaming Translator for provider.
func (r *Resolver) Resolve(provider Provider, upstreamURL string) (Translator, error) {
	switch provider {
	case ProviderOpenAICompatible:
		return NewOpenAICompatible(), nil
	case ProviderAnthropic:
		return NewAnthropic(), nil
	case ProviderGemini:
		return NewGemini(), nil
	case ProviderBedrock:
		secret, err := r.bedrockSecret(upstreamURL)
		if err != nil {
			return nil, err
		}
		return NewBedrock(secret), nil
	default:
		return nil, fmt.Errorf("translator: unknown provider %q", provider)
	}
}

// ResolveStreaming returns the streaming-capable Translator for
// provider, which carries per-stream state an OpenAICompatible or
// Gemini translator doesn't need but Anthropic/Bedrock do.
func (r *Resolver) ResolveStreaming(provider Provider, upstreamURL string) (Translator, error) {
	switch provider {
	case ProviderOpenAICompatible:
		return NewOpenAICompatible(), nil
	case ProviderAnthropic:
		return NewAnthropicStream(), nil
	case ProviderGemini:
		return NewGemini(), nil
	case ProviderBedrock:
		secret, err := r.bedrockSecret(upstreamURL)
		if err != nil {
			return nil, err
		}
		return NewBedrockStream(secret), nil
	default:
		return nil, fmt.Errorf("translator: unknown provider %q", provider)
	}
}

func (r *Resolver) bedrockSecret(upstreamURL string) (vault.SigV4Secret, error) {
	if r.BedrockSecret == nil {
		return vault.SigV4Secret{}, fmt.Errorf("translator: bedrock provider selected but no secret resolver configured")
	}
	return r.BedrockSecret(upstreamURL)
}
