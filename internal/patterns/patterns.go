// Package patterns remembers phrasing that forced a regeneration so it can be
// fed back into prompts as wording to avoid.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category classifies a learned pattern
type Category string

const (
	CategoryRepeatedPhrase  Category = "repeated_phrase"
	CategoryFormulaicOpener Category = "formulaic_opener"
)

var (
	// ErrInvalidCategory is returned for categories other than the known two
	ErrInvalidCategory = errors.New("invalid pattern category")
	// ErrEmptyPattern is returned when the pattern text is blank
	ErrEmptyPattern = errors.New("pattern text cannot be empty")
)

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryRepeatedPhrase, CategoryFormulaicOpener:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidCategory, s)
	}
}

// Pattern is a learned piece of overused phrasing
type Pattern struct {
	Text      string    `json:"text"`
	Category  Category  `json:"category"`
	Hits      int       `json:"hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Personas  []string  `json:"personas"`
}

// personaKey is how both stores compare persona names
func personaKey(persona string) string {
	return strings.ToLower(strings.TrimSpace(persona))
}

// UsedBy reports whether the persona has produced this pattern. Names match
// without regard to case.
func (p Pattern) UsedBy(persona string) bool {
	key := personaKey(persona)
	for _, name := range p.Personas {
		if personaKey(name) == key {
			return true
		}
	}
	return false
}

// Store persists patterns. Implementations accumulate until Prune is called.
type Store interface {
	// Record upserts a pattern: an existing one gains a hit and the persona
	Record(ctx context.Context, text string, category Category, persona string) (Pattern, error)

	// Suppressions returns the patterns worth steering persona away from
	Suppressions(ctx context.Context, persona string, limit int) ([]Pattern, error)

	// Top returns the most frequent patterns overall
	Top(ctx context.Context, limit int) ([]Pattern, error)

	// Prune removes patterns with fewer than minHits last seen before olderThan
	Prune(ctx context.Context, minHits int, olderThan time.Time) (int, error)
}

// Texts returns the text of each pattern
func Texts(ps []Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Text
	}
	return out
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func validate(text string, category Category) (string, error) {
	norm := normalizeText(text)
	if norm == "" {
		return "", ErrEmptyPattern
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return "", err
	}
	return norm, nil
}

// byHits orders patterns by hits, most recent first on ties
func byHits(ps []Pattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Hits != ps[j].Hits {
			return ps[i].Hits > ps[j].Hits
		}
		return ps[i].LastSeen.After(ps[j].LastSeen)
	})
}

// selectSuppressions picks the persona's own patterns first, then fills the
// remaining slots with patterns shared by at least two personas.
func selectSuppressions(all []Pattern, persona string, limit int) []Pattern {
	if limit <= 0 {
		return nil
	}
	byHits(all)

	var own, shared []Pattern
	for _, p := range all {
		switch {
		case p.UsedBy(persona):
			own = append(own, p)
		case len(p.Personas) >= 2:
			shared = append(shared, p)
		}
	}

	out := own
	if len(out) > limit {
		return out[:limit]
	}
	for _, p := range shared {
		if len(out) == limit {
			break
		}
		out = append(out, p)
	}
	return out
}

func limitPatterns(ps []Pattern, limit int) []Pattern {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}
