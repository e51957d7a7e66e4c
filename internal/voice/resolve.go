package voice

import (
	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/voice/provider"
)

// Resolve merges the configuration sources for one speaker into a provider
// name and synthesis options.
//
// Priority (highest → lowest):
//  1. the persona's own voice settings
//  2. cfg.Providers[provider]
//  3. hard-coded defaults
//
// A nil persona voice (bartender, strangers) uses the provider defaults.
func Resolve(pv *persona.VoiceConfig, cfg Config) (string, provider.SynthesizeOptions) {
	opts := provider.SynthesizeOptions{
		Speed:  1.0,
		Volume: 1.0,
		Format: "mp3",
	}

	explicit := ""
	if pv != nil {
		explicit = pv.Provider
	}
	name := cfg.EffectiveProvider(explicit)

	pc := cfg.ProviderConfig(name)
	if pc.Voice != "" {
		opts.Voice = pc.Voice
	}
	if pc.Model != "" {
		opts.Model = pc.Model
	}
	if pc.Format != "" {
		opts.Format = pc.Format
	}
	if pc.Speed > 0 {
		opts.Speed = pc.Speed
	}
	if pc.Volume > 0 {
		opts.Volume = pc.Volume
	}
	opts.Language = pc.Language
	opts.Engine = pc.Engine
	opts.SampleRate = pc.SampleRate

	if pv != nil {
		if pv.Voice != "" {
			opts.Voice = pv.Voice
		}
		if pv.Speed > 0 {
			opts.Speed = pv.Speed
		}
		if pv.Volume > 0 {
			opts.Volume = pv.Volume
		}
	}

	log.Debug().
		Str("provider", name).
		Str("voice", opts.Voice).
		Float64("volume", opts.Volume).
		Float64("speed", opts.Speed).
		Msg("Resolved voice config")

	return name, opts
}
