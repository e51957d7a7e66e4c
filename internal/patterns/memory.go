package patterns

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	text     string
	category Category
}

// MemoryStore keeps patterns in process memory
type MemoryStore struct {
	mu       sync.Mutex
	patterns map[memoryKey]*Pattern
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[memoryKey]*Pattern),
		now:      time.Now,
	}
}

// Record upserts a pattern
func (s *MemoryStore) Record(ctx context.Context, text string, category Category, persona string) (Pattern, error) {
	norm, err := validate(text, category)
	if err != nil {
		return Pattern{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := memoryKey{text: norm, category: category}
	p, ok := s.patterns[key]
	if !ok {
		p = &Pattern{Text: norm, Category: category, FirstSeen: now}
		s.patterns[key] = p
	}
	p.Hits++
	p.LastSeen = now
	if persona != "" && !p.UsedBy(persona) {
		p.Personas = append(p.Personas, persona)
	}
	return clonePattern(p), nil
}

// Suppressions returns patterns to avoid for persona
func (s *MemoryStore) Suppressions(ctx context.Context, persona string, limit int) ([]Pattern, error) {
	return selectSuppressions(s.snapshot(), persona, limit), nil
}

// Top returns the most frequent patterns
func (s *MemoryStore) Top(ctx context.Context, limit int) ([]Pattern, error) {
	all := s.snapshot()
	byHits(all)
	return limitPatterns(all, limit), nil
}

// Prune removes rarely seen, stale patterns
func (s *MemoryStore) Prune(ctx context.Context, minHits int, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, p := range s.patterns {
		if p.Hits >= minHits {
			continue
		}
		if !olderThan.IsZero() && !p.LastSeen.Before(olderThan) {
			continue
		}
		delete(s.patterns, key)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) snapshot() []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, clonePattern(p))
	}
	return out
}

func clonePattern(p *Pattern) Pattern {
	c := *p
	c.Personas = append([]string(nil), p.Personas...)
	return c
}
