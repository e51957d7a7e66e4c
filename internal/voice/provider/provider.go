// Package provider wraps the cloud text-to-speech services used to narrate
// the bar.
package provider

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrEmptyText is returned when there is nothing to say
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrPermanent marks failures that will not go away on retry, such as
	// bad credentials or a rejected voice
	ErrPermanent = errors.New("permanent provider failure")
)

// Provider defines the interface for TTS providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListVoices returns available voices for this provider
	ListVoices(ctx context.Context) ([]Voice, error)

	// Synthesize generates audio from text and returns an audio stream
	Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error)

	// IsAvailable checks if the provider can be used
	IsAvailable(ctx context.Context) bool
}

// Voice represents a voice option
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`
}

// SynthesizeOptions contains options for text synthesis
type SynthesizeOptions struct {
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed,omitempty"`  // multiplier, 0.25-4.0
	Volume     float64 `json:"volume,omitempty"` // linear gain, 1.0 is unchanged
	Format     string  `json:"format,omitempty"` // mp3, ogg, wav
	Language   string  `json:"language,omitempty"`
	Model      string  `json:"model,omitempty"`
	Engine     string  `json:"engine,omitempty"`
	SampleRate string  `json:"sample_rate,omitempty"`
}

// Settings configures a provider at construction time
type Settings struct {
	APIKey   string
	BaseURL  string
	Region   string
	Voice    string
	Language string
}

func clampSpeed(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1.0
	case speed < 0.25:
		return 0.25
	case speed > 4.0:
		return 4.0
	}
	return speed
}
