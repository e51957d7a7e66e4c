package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/voice"
	"github.com/robertdcurrier/dive-bar/internal/voice/provider"
)

func handleVoice(ctx context.Context, c *cli.Command) error {
	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	if problems := file.Voice.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid voice configuration: %s", strings.Join(problems, "; "))
	}

	pv, err := speakerVoice(c, file.Voice)
	if err != nil {
		return err
	}
	providerName, opts := voice.Resolve(pv, file.Voice)

	p, err := provider.NewFactory().Create(ctx, providerName, file.Voice.ProviderConfig(providerName).Settings())
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", providerName, err)
	}
	if closer, ok := p.(io.Closer); ok {
		defer closer.Close()
	}
	if !p.IsAvailable(ctx) {
		return fmt.Errorf("%s provider is not available, check its credentials", providerName)
	}

	// Handle list voices
	if c.Bool("list-voices") {
		voices, err := p.ListVoices(ctx)
		if err != nil {
			return fmt.Errorf("failed to list voices: %w", err)
		}
		if len(voices) == 0 {
			fmt.Println("No voices available")
			return nil
		}
		fmt.Printf("Available voices for provider '%s':\n", providerName)
		for _, v := range voices {
			fmt.Printf("  - %s (%s) - %s\n", v.ID, v.Language, v.Description)
		}
		return nil
	}

	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		log.Debug().Msg("Reading plain text from stdin")
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("no text provided")
	}

	audio, err := p.Synthesize(ctx, text, opts)
	if err != nil {
		return fmt.Errorf("failed to synthesize voice: %w", err)
	}
	defer audio.Close()

	outputPath := c.String("output")
	var out *os.File
	if outputPath != "" {
		out, err = os.Create(outputPath)
	} else {
		out, err = os.CreateTemp("", "divebar-*."+opts.Format)
	}
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	if _, err := io.Copy(out, audio); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to save audio: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to save audio: %w", err)
	}

	if outputPath != "" {
		fmt.Fprintf(os.Stderr, "Audio saved to: %s\n", outputPath)
		return nil
	}
	defer os.Remove(out.Name())

	player, err := voice.DetectPlayer(file.Voice.Player)
	if err != nil {
		return err
	}
	return player.Play(ctx, out.Name())
}

// speakerVoice picks the voice settings for --persona, switching provider
// when --provider names a different one. The persona's voice id only
// carries over when the provider stays the same.
func speakerVoice(c *cli.Command, cfg voice.Config) (*persona.VoiceConfig, error) {
	var pv *persona.VoiceConfig
	if name := c.String("persona"); name != "" {
		roster, _, err := loadRoster(c)
		if err != nil {
			return nil, err
		}
		p, ok := roster.Find(name)
		if !ok {
			return nil, fmt.Errorf("persona '%s' is not in the roster", name)
		}
		pv = p.Voice
	}

	explicit := c.String("provider")
	if explicit == "" {
		return pv, nil
	}
	override := persona.VoiceConfig{Provider: explicit}
	if pv != nil && cfg.EffectiveProvider(pv.Provider) == explicit {
		override = *pv
		override.Provider = explicit
	}
	return &override, nil
}
