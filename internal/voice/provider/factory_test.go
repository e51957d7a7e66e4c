package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_ListProviders(t *testing.T) {
	assert.Equal(t, []string{"gcp", "openai", "polly"}, NewFactory().ListProviders())
}

func TestFactory_Create(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewFactory().Create(context.Background(), "elevenlabs", Settings{})
		assert.EqualError(t, err, "unknown provider: elevenlabs")
	})

	t.Run("openai from settings", func(t *testing.T) {
		f := &Factory{getenv: func(string) string { return "" }}
		p, err := f.Create(context.Background(), "OpenAI", Settings{APIKey: "sk-test", BaseURL: "https://proxy.local/v1/"})
		require.NoError(t, err)
		openai := p.(*OpenAIProvider)
		assert.Equal(t, "sk-test", openai.apiKey)
		assert.Equal(t, "https://proxy.local/v1", openai.baseURL)
	})

	t.Run("openai falls back to environment", func(t *testing.T) {
		f := &Factory{getenv: func(key string) string {
			if key == "OPENAI_API_KEY" {
				return "sk-env"
			}
			return ""
		}}
		p, err := f.Create(context.Background(), "openai", Settings{})
		require.NoError(t, err)
		assert.Equal(t, "sk-env", p.(*OpenAIProvider).apiKey)
	})

	t.Run("openai without key is permanent", func(t *testing.T) {
		f := &Factory{getenv: func(string) string { return "" }}
		_, err := f.Create(context.Background(), "openai", Settings{})
		assert.ErrorIs(t, err, ErrPermanent)
	})
}
