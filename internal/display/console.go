// Package display renders the bar to a terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
)

// Config controls what the console shows
type Config struct {
	// ShowMeta adds the selection reason, score and rejected candidates
	ShowMeta   bool `json:"show_meta"`
	Timestamps bool `json:"timestamps"`
	NoColor    bool `json:"no_color"`
}

// DefaultConfig returns the stock display settings
func DefaultConfig() Config {
	return Config{ShowMeta: true}
}

var palette = []color.Attribute{
	color.FgCyan,
	color.FgYellow,
	color.FgGreen,
	color.FgMagenta,
	color.FgBlue,
	color.FgHiRed,
	color.FgHiCyan,
	color.FgHiYellow,
}

// Console is an orchestrator.Sink that prints turns as a script
type Console struct {
	mu  sync.Mutex
	out io.Writer
	cfg Config

	speakers  map[string]*color.Color
	bartender *color.Color
	stranger  *color.Color
	meta      *color.Color
	warn      *color.Color
	title     cases.Caser
}

var _ orchestrator.Sink = (*Console)(nil)

// NewConsole creates a console. Each name gets a stable color in roster order.
func NewConsole(out io.Writer, names []string, cfg Config) *Console {
	c := &Console{
		out:       out,
		cfg:       cfg,
		speakers:  make(map[string]*color.Color, len(names)),
		bartender: color.New(color.FgRed, color.Bold),
		stranger:  color.New(color.FgWhite, color.Italic),
		meta:      color.New(color.Faint),
		warn:      color.New(color.FgYellow),
		title:     cases.Title(language.English, cases.NoLower),
	}
	for i, name := range names {
		c.speakers[name] = color.New(palette[i%len(palette)], color.Bold)
	}
	if cfg.NoColor {
		for _, col := range c.all() {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) all() []*color.Color {
	out := []*color.Color{c.bartender, c.stranger, c.meta, c.warn}
	for _, col := range c.speakers {
		out = append(out, col)
	}
	return out
}

func (c *Console) labelColor(turn conversation.Turn) *color.Color {
	switch turn.Kind {
	case conversation.KindBartender:
		return c.bartender
	case conversation.KindStranger:
		return c.stranger
	}
	if col, ok := c.speakers[turn.Speaker]; ok {
		return col
	}
	return c.meta
}

// TurnFinalized prints the line and, with ShowMeta, how it was chosen
func (c *Console) TurnFinalized(turn conversation.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if turn.Meta.Subject != "" && turn.Kind == conversation.KindPersona {
		c.meta.Fprintf(c.out, "  -- new subject: %s --\n", turn.Meta.Subject)
	}

	if c.cfg.Timestamps && !turn.At.IsZero() {
		c.meta.Fprintf(c.out, "[%s] ", turn.At.Format("15:04:05"))
	}
	c.labelColor(turn).Fprintf(c.out, "%s:", c.title.String(turn.Speaker))
	fmt.Fprintf(c.out, " %s\n", turn.Text)

	if !c.cfg.ShowMeta || turn.Kind != conversation.KindPersona {
		return
	}
	parts := []string{turn.Meta.Reason, fmt.Sprintf("score %.2f", turn.Meta.DiversityScore)}
	switch turn.Meta.Attempts {
	case 0:
	case 1:
		parts = append(parts, "1 regen")
	default:
		parts = append(parts, fmt.Sprintf("%d regens", turn.Meta.Attempts))
	}
	if len(turn.Meta.Problems) > 0 {
		parts = append(parts, "accepted with: "+strings.Join(turn.Meta.Problems, "; "))
	}
	c.meta.Fprintf(c.out, "    (%s)\n", strings.Join(parts, ", "))
}

// Regenerated prints a rejected candidate when ShowMeta is on
func (c *Console) Regenerated(rec orchestrator.RegenerationRecord) {
	if !c.cfg.ShowMeta {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warn.Fprintf(c.out, "    x %s #%d (%.2f): %q %s\n",
		rec.Persona, rec.Attempt, rec.Score, rec.Rejected, strings.Join(rec.Problems, "; "))
}

// PatternRecorded prints nothing; patterns show up through the CLI
func (c *Console) PatternRecorded(orchestrator.PatternUpsert) {}
