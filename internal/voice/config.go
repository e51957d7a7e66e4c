// Package voice narrates finalized turns through a text-to-speech provider
// and a local audio player. It runs beside the conversation loop and never
// feeds anything back into it.
package voice

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/robertdcurrier/dive-bar/internal/voice/provider"
)

const (
	DefaultProvider  = "openai"
	DefaultQueueSize = 8
)

// ProviderConfig represents provider-specific configuration
type ProviderConfig struct {
	// Common options
	APIKey   string  `json:"api_key,omitempty"`
	BaseURL  string  `json:"base_url,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Model    string  `json:"model,omitempty"`
	Format   string  `json:"format,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
	Language string  `json:"language,omitempty"`

	// Amazon Polly options
	Region     string `json:"region,omitempty"`
	Engine     string `json:"engine,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
}

// Settings converts the construction-time fields for the provider factory
func (pc ProviderConfig) Settings() provider.Settings {
	return provider.Settings{
		APIKey:   pc.APIKey,
		BaseURL:  pc.BaseURL,
		Region:   pc.Region,
		Voice:    pc.Voice,
		Language: pc.Language,
	}
}

// Config is the "voice" section of divebar.json
type Config struct {
	Enabled         bool                      `json:"enabled"`
	DefaultProvider string                    `json:"default_provider,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers,omitempty"`
	QueueSize       int                       `json:"queue_size,omitempty"`
	Player          string                    `json:"player,omitempty"` // audio player command; detected when empty
}

// DefaultConfig returns narration settings with voice turned off
func DefaultConfig() Config {
	return Config{
		DefaultProvider: DefaultProvider,
		QueueSize:       DefaultQueueSize,
	}
}

// ProviderConfig returns configuration for a specific provider
func (c Config) ProviderConfig(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}

// EffectiveProvider returns the provider to use (explicit or default)
func (c Config) EffectiveProvider(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c.DefaultProvider != "" {
		return c.DefaultProvider
	}
	return DefaultProvider
}

var awsRegion = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-\d$`)

// Validate returns a list of configuration problems
func (c Config) Validate() []string {
	var problems []string
	known := provider.NewFactory().ListProviders()

	if c.DefaultProvider != "" && !slices.Contains(known, c.DefaultProvider) {
		problems = append(problems, fmt.Sprintf("voice: unknown default_provider %q", c.DefaultProvider))
	}
	if c.QueueSize < 0 {
		problems = append(problems, "voice: queue_size must not be negative")
	}

	for name, pc := range c.Providers {
		if !slices.Contains(known, name) {
			problems = append(problems, fmt.Sprintf("voice: unknown provider %q", name))
			continue
		}
		problems = append(problems, validateProviderConfig(name, pc)...)
	}
	slices.Sort(problems)
	return problems
}

func validateProviderConfig(name string, pc ProviderConfig) []string {
	var problems []string

	if name == "polly" && pc.Region != "" && !awsRegion.MatchString(pc.Region) {
		problems = append(problems, fmt.Sprintf("%s: region '%s' may not be valid", name, pc.Region))
	}
	if pc.Speed != 0 && (pc.Speed < 0.25 || pc.Speed > 4.0) {
		problems = append(problems, fmt.Sprintf("%s: speed must be between 0.25 and 4.0", name))
	}
	if pc.Volume != 0 && (pc.Volume < 0 || pc.Volume > 2.0) {
		problems = append(problems, fmt.Sprintf("%s: volume must be between 0.0 and 2.0", name))
	}
	return problems
}

// MaskSecrets returns a copy safe for display. It only shows that a key is
// present, never its contents.
func (c Config) MaskSecrets() Config {
	masked := c
	masked.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		if pc.APIKey != "" {
			pc.APIKey = fmt.Sprintf("[set, %d chars]", len(pc.APIKey))
		}
		masked.Providers[name] = pc
	}
	return masked
}
