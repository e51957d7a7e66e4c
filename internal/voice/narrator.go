package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/voice/provider"
)

// CreateFunc builds a provider by name
type CreateFunc func(ctx context.Context, name string, settings provider.Settings) (provider.Provider, error)

type job struct {
	speaker  string
	text     string
	provider string
	opts     provider.SynthesizeOptions
}

// Narrator is an orchestrator.Sink that speaks finalized turns. Turns are
// queued without blocking the tick; when the queue is full the turn is
// skipped. A single worker started by Run synthesizes and plays them in order.
type Narrator struct {
	cfg    Config
	roster persona.Roster
	create CreateFunc
	player Player
	jobs   chan job

	mu       sync.Mutex
	closed   bool
	lastText map[string]string
	dropped  int

	// owned by the Run goroutine
	providers map[string]provider.Provider
	disabled  map[string]bool
	tempDir   string
}

var _ orchestrator.Sink = (*Narrator)(nil)

// NewNarrator creates a narrator. Providers are created on first use.
func NewNarrator(cfg Config, roster persona.Roster, create CreateFunc, player Player) *Narrator {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Narrator{
		cfg:       cfg,
		roster:    roster,
		create:    create,
		player:    player,
		jobs:      make(chan job, size),
		lastText:  make(map[string]string),
		providers: make(map[string]provider.Provider),
		disabled:  make(map[string]bool),
	}
}

// TurnFinalized queues the turn for narration
func (n *Narrator) TurnFinalized(turn conversation.Turn) {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return
	}

	var pv *persona.VoiceConfig
	if turn.Kind == conversation.KindPersona {
		if p, ok := n.roster.Find(turn.Speaker); ok {
			pv = p.Voice
		}
	}
	name, opts := Resolve(pv, n.cfg)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.lastText[turn.Speaker] == text {
		log.Debug().Str("speaker", turn.Speaker).Msg("Skipping repeated narration")
		return
	}
	n.lastText[turn.Speaker] = text

	select {
	case n.jobs <- job{speaker: turn.Speaker, text: text, provider: name, opts: opts}:
	default:
		n.dropped++
		log.Warn().Str("speaker", turn.Speaker).Int("seq", turn.Seq).Msg("Narration queue full, skipping turn")
	}
}

func (n *Narrator) Regenerated(orchestrator.RegenerationRecord) {}

func (n *Narrator) PatternRecorded(orchestrator.PatternUpsert) {}

// Dropped returns how many turns were skipped because the queue was full
func (n *Narrator) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops accepting turns. Run finishes the queued ones and returns.
func (n *Narrator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
}

// Run speaks queued turns until Close is called or ctx is done
func (n *Narrator) Run(ctx context.Context) error {
	defer n.closeProviders()
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-n.jobs:
			if !ok {
				return nil
			}
			if err := n.speak(ctx, j); err != nil {
				log.Warn().Err(err).Str("speaker", j.speaker).Str("provider", j.provider).Msg("Narration failed")
			}
		}
	}
}

func (n *Narrator) speak(ctx context.Context, j job) error {
	if n.disabled[j.provider] {
		return nil
	}
	p, err := n.provider(ctx, j.provider)
	if err != nil {
		n.disable(j.provider, err)
		return err
	}

	audio, err := p.Synthesize(ctx, j.text, j.opts)
	if err != nil {
		if errors.Is(err, provider.ErrPermanent) {
			n.disable(j.provider, err)
		}
		return err
	}
	defer audio.Close()

	path, err := n.save(audio, j.opts.Format)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	log.Debug().Str("speaker", j.speaker).Str("file", path).Msg("Playing narration")
	return n.player.Play(ctx, path)
}

func (n *Narrator) provider(ctx context.Context, name string) (provider.Provider, error) {
	if p, ok := n.providers[name]; ok {
		return p, nil
	}
	p, err := n.create(ctx, name, n.cfg.ProviderConfig(name).Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s voice provider: %w", name, err)
	}
	n.providers[name] = p
	return p, nil
}

func (n *Narrator) disable(name string, err error) {
	n.disabled[name] = true
	log.Warn().Err(err).Str("provider", name).Msg("Voice provider disabled for this session")
}

func (n *Narrator) save(audio io.Reader, format string) (string, error) {
	if format == "" {
		format = "mp3"
	}
	f, err := os.CreateTemp(n.tempDir, "divebar-*."+format)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, audio); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return f.Name(), nil
}

func (n *Narrator) closeProviders() {
	for name, p := range n.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Debug().Err(err).Str("provider", name).Msg("Failed to close voice provider")
			}
		}
	}
}
