package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderGemini    Provider = "gemini"
	ProviderMock      Provider = "mock"
)

// ParseModelString splits a model string into provider and model name.
//
// Supported formats:
//
//	"bedrock/anthropic.claude-3-sonnet-20240229-v1:0" → (bedrock, "anthropic.claude-3-...")
//	"anthropic.claude-3-haiku-20240307-v1:0"          → (bedrock, same)
//	"claude-sonnet-4-20250514"                        → (anthropic, same)
//	"gemini-2.0-flash"                                → (gemini, same)
//	"llama3.2"                                        → (bedrock, same) fallback
func ParseModelString(model string) (Provider, string) {
	if p, name, ok := splitProviderPrefix(model); ok {
		return p, name
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "anthropic."):
		return ProviderBedrock, model
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, model
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini, model
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return ProviderAnthropic, model
	}
	return ProviderBedrock, model
}

func splitProviderPrefix(model string) (Provider, string, bool) {
	i := strings.Index(model, "/")
	if i <= 0 {
		return "", model, false
	}
	switch p := Provider(strings.ToLower(model[:i])); p {
	case ProviderAnthropic, ProviderBedrock, ProviderGemini, ProviderMock:
		return p, model[i+1:], true
	}
	return "", model, false
}

// ResolveProvider picks the provider for a configured provider and model.
// A known "provider/" prefix on the model wins; otherwise an explicit
// provider is used as given; otherwise the provider is inferred from the
// model name.
func ResolveProvider(provider Provider, model string) (Provider, string) {
	if p, name, ok := splitProviderPrefix(model); ok {
		return p, name
	}
	if provider != "" {
		return Provider(strings.ToLower(string(provider))), model
	}
	return ParseModelString(model)
}

// ClientOptions selects and configures a provider client.
type ClientOptions struct {
	Provider Provider
	Model    string
	APIKey   string
	Region   string
}

// NewClient creates the client chosen by ResolveProvider and returns the
// model name to send.
//
// Environment variables used:
//
//	ANTHROPIC_API_KEY Anthropic API key (read by SDK automatically)
//	GOOGLE_API_KEY    Gemini API key
//	AWS_*             Bedrock credentials via the default AWS chain
func NewClient(ctx context.Context, opts ClientOptions) (Client, string, error) {
	provider, model := ResolveProvider(opts.Provider, opts.Model)

	switch provider {
	case ProviderAnthropic:
		if opts.APIKey != "" {
			return NewAnthropicClientWithKey(opts.APIKey), model, nil
		}
		return NewAnthropicClient(), model, nil

	case ProviderBedrock:
		c, err := NewBedrockClient(ctx, opts.Region)
		if err != nil {
			return nil, "", err
		}
		return c, model, nil

	case ProviderGemini:
		c, err := NewGeminiClient(ctx, opts.APIKey)
		if err != nil {
			return nil, "", err
		}
		return c, model, nil

	case ProviderMock:
		return NewMockClient(MockResponse{Content: "mock reply", StopReason: StopEndTurn}), model, nil

	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", provider)
	}
}
