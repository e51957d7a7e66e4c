package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Factory builds providers by name
type Factory struct {
	getenv func(string) string
}

// NewFactory creates a factory that reads fallback credentials from the environment
func NewFactory() *Factory {
	return &Factory{getenv: os.Getenv}
}

// ListProviders returns the provider names Create understands
func (f *Factory) ListProviders() []string {
	return []string{"gcp", "openai", "polly"}
}

// Create builds the named provider. Cloud providers authenticate through
// their SDK credential chains; OpenAI falls back to OPENAI_API_KEY.
func (f *Factory) Create(ctx context.Context, name string, settings Settings) (Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		apiKey := settings.APIKey
		if apiKey == "" {
			apiKey = f.getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key not found in config or OPENAI_API_KEY environment variable", ErrPermanent)
		}
		p := NewOpenAIProvider(apiKey)
		if settings.BaseURL != "" {
			p.baseURL = strings.TrimRight(settings.BaseURL, "/")
		}
		return p, nil
	case "polly":
		return NewPollyProvider(ctx, settings.Region, settings.Language)
	case "gcp":
		var opts []GCPProviderOption
		if settings.Voice != "" {
			opts = append(opts, WithGCPVoice(settings.Voice))
		}
		if settings.Language != "" {
			opts = append(opts, WithGCPLanguage(settings.Language))
		}
		return NewGCPProvider(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
