package generation

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Modes
const (
	ModeAPI   = "api"
	ModeLocal = "local"
)

// Config selects and configures a backend
type Config struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	NCtx     int    `json:"n_ctx"`
	Params   Params `json:"generation"`
}

// DefaultConfig returns the stock backend configuration
func DefaultConfig() Config {
	return Config{
		Mode:     ModeAPI,
		Provider: "anthropic",
		Model:    AnthropicDefaultModel,
		NCtx:     4096,
		Params:   DefaultParams(),
	}
}

// Validate returns a list of configuration problems
func (c Config) Validate() []string {
	var errs []string
	// same normalization and defaults as NewFromConfig
	switch strings.ToLower(c.Mode) {
	case ModeAPI, "":
		if p := strings.ToLower(c.Provider); p != "anthropic" && p != "openai" && p != "" {
			errs = append(errs, fmt.Sprintf("unsupported llm provider: %s", c.Provider))
		}
	case ModeLocal:
	default:
		errs = append(errs, fmt.Sprintf("unsupported llm mode: %s (backends: %s)", c.Mode, strings.Join(ListProviders(), ", ")))
	}
	if c.NCtx <= 0 {
		errs = append(errs, "llm n_ctx must be positive")
	}
	if c.Params.MaxTokens <= 0 {
		errs = append(errs, "llm max_tokens must be positive")
	}
	return errs
}

// ListProviders returns available backend names
func ListProviders() []string {
	return []string{"anthropic", "openai", "local"}
}

// NewFromConfig builds the configured backend wrapped in Serialized. API keys
// fall back to ANTHROPIC_API_KEY or OPENAI_API_KEY.
func NewFromConfig(cfg Config) (*Serialized, error) {
	var backend Generator

	switch strings.ToLower(cfg.Mode) {
	case ModeLocal:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = LocalBaseURL
		}
		backend = NewOpenAIBackend(cfg.APIKey, baseURL, cfg.Model)

	case ModeAPI, "":
		switch strings.ToLower(cfg.Provider) {
		case "anthropic", "":
			apiKey := cfg.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("anthropic API key not found in config or ANTHROPIC_API_KEY environment variable")
			}
			b := NewAnthropicBackend(apiKey, cfg.Model)
			if cfg.BaseURL != "" {
				b.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
			}
			backend = b

		case "openai":
			apiKey := cfg.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("OpenAI API key not found in config or OPENAI_API_KEY environment variable")
			}
			backend = NewOpenAIBackend(apiKey, cfg.BaseURL, cfg.Model)

		default:
			return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
		}

	default:
		return nil, fmt.Errorf("unknown llm mode: %s", cfg.Mode)
	}

	log.Debug().Str("backend", backend.Name()).Str("model", cfg.Model).Msg("Created generation backend")
	return NewSerialized(backend), nil
}
