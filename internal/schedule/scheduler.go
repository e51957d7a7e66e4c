// Package schedule picks the next speaker from the roster.
package schedule

import (
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/persona"
)

// Selection reasons
const (
	ReasonNamed           = "named"
	ReasonWeighted        = "weighted"
	ReasonNamedPairLocked = "named-pair-locked"
)

// Config holds scoring weights and limits
type Config struct {
	WeightRecency    float64 `json:"weight_recency"`
	WeightChattiness float64 `json:"weight_chattiness"`
	WeightNamed      float64 `json:"weight_named"`
	WeightRandom     float64 `json:"weight_random"`
	SilenceThreshold int     `json:"silence_threshold"`
	SilenceBoost     float64 `json:"silence_boost"`
	RecencyCap       int     `json:"recency_cap"`
	MaxPairStreak    int     `json:"max_pair_streak"`
	Seed             uint64  `json:"seed"`
}

// DefaultConfig returns the stock scheduler weights
func DefaultConfig() Config {
	return Config{
		WeightRecency:    0.35,
		WeightChattiness: 0.25,
		WeightNamed:      0.30,
		WeightRandom:     0.10,
		SilenceThreshold: 7,
		SilenceBoost:     0.25,
		RecencyCap:       10,
		MaxPairStreak:    2,
	}
}

// Validate returns a list of configuration problems
func (c Config) Validate() []string {
	var errs []string
	for name, w := range map[string]float64{
		"weight_recency":    c.WeightRecency,
		"weight_chattiness": c.WeightChattiness,
		"weight_named":      c.WeightNamed,
		"weight_random":     c.WeightRandom,
		"silence_boost":     c.SilenceBoost,
	} {
		if w < 0 {
			errs = append(errs, "scheduler "+name+" cannot be negative")
		}
	}
	if c.RecencyCap <= 0 {
		errs = append(errs, "scheduler recency_cap must be positive")
	}
	if c.MaxPairStreak <= 0 {
		errs = append(errs, "scheduler max_pair_streak must be positive")
	}
	sort.Strings(errs)
	return errs
}

// Selection is the scheduler's decision for one tick
type Selection struct {
	Name   string
	Reason string
	Scores map[string]float64
}

// Scheduler selects speakers. It never generates text and never mutates
// conversation state.
type Scheduler struct {
	cfg   Config
	rng   *rand.Rand
	rngMu sync.Mutex
}

// New creates a scheduler. A zero seed draws one from the clock.
func New(cfg Config) *Scheduler {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewWithRand(cfg, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// NewWithRand creates a scheduler with an injected random source
func NewWithRand(cfg Config, rng *rand.Rand) *Scheduler {
	if cfg.RecencyCap <= 0 {
		cfg.RecencyCap = DefaultConfig().RecencyCap
	}
	if cfg.MaxPairStreak <= 0 {
		cfg.MaxPairStreak = DefaultConfig().MaxPairStreak
	}
	return &Scheduler{cfg: cfg, rng: rng}
}

// SelectNext picks who speaks after last. A last turn that names exactly one
// other persona hands them the floor unless that pair has been ping-ponging.
// Otherwise the highest weighted score wins, excluding whoever just spoke.
func (s *Scheduler) SelectNext(personas persona.Roster, state *conversation.State, last *conversation.Turn) Selection {
	if len(personas) == 0 {
		return Selection{}
	}

	reason := ReasonWeighted
	named := Named(personas, last)
	if len(named) == 1 {
		target := named[0]
		if !s.pairLocked(state, last.Speaker, target) {
			log.Debug().Str("persona", target).Msg("Selected named persona")
			return Selection{Name: target, Reason: ReasonNamed}
		}
		reason = ReasonNamedPairLocked
		log.Debug().Str("speaker", last.Speaker).Str("persona", target).Msg("Pair streak reached, ignoring name")
	}

	namedSet := make(map[string]bool, len(named))
	for _, n := range named {
		namedSet[n] = true
	}

	eligible := personas
	if len(personas) >= 2 && last != nil {
		if others := personas.Others(last.Speaker); len(others) > 0 {
			eligible = others
		}
	}

	scores := make(map[string]float64, len(eligible))
	best := math.Inf(-1)
	var leaders []string
	for _, p := range eligible {
		score := s.score(p, state, namedSet[p.Name])
		scores[p.Name] = score
		switch {
		case score > best:
			best = score
			leaders = []string{p.Name}
		case score == best:
			leaders = append(leaders, p.Name)
		}
	}

	winner := leaders[0]
	if len(leaders) > 1 {
		winner = leaders[s.randIntN(len(leaders))]
	}
	log.Debug().Str("persona", winner).Float64("score", best).Str("reason", reason).Msg("Selected persona")
	return Selection{Name: winner, Reason: reason, Scores: scores}
}

// Score returns one persona's weighted score with the random term drawn fresh
func (s *Scheduler) Score(p persona.Persona, state *conversation.State, named bool) float64 {
	return s.score(p, state, named)
}

func (s *Scheduler) score(p persona.Persona, state *conversation.State, named bool) float64 {
	since := 0
	spoken := false
	if state != nil {
		since = state.TurnsSince[p.Name]
		spoken = state.HasSpoken(p.Name)
	}

	recency := 1.0
	if spoken {
		recency = math.Min(float64(since)/float64(s.cfg.RecencyCap), 1)
	}
	namedTerm := 0.0
	if named {
		namedTerm = p.Responsiveness
	}

	score := s.cfg.WeightRecency*recency +
		s.cfg.WeightChattiness*p.Chattiness +
		s.cfg.WeightNamed*namedTerm +
		s.cfg.WeightRandom*s.randFloat()
	if since > s.cfg.SilenceThreshold {
		score += s.cfg.SilenceBoost
	}
	return score
}

// pairLocked reports whether the last MaxPairStreak exchanges were all
// between speaker and target, in either direction.
func (s *Scheduler) pairLocked(state *conversation.State, speaker, target string) bool {
	if state == nil {
		return false
	}
	pairs := state.RecentPairs(s.cfg.MaxPairStreak)
	if len(pairs) < s.cfg.MaxPairStreak {
		return false
	}
	dyad := conversation.Pair{From: speaker, To: target}
	for _, p := range pairs {
		if !p.SameDyad(dyad) {
			return false
		}
	}
	return true
}

func (s *Scheduler) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Scheduler) randIntN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// Named returns the personas, other than the speaker, whose name appears as a
// whole word in the turn text. Matching ignores case.
func Named(personas persona.Roster, last *conversation.Turn) []string {
	if last == nil {
		return nil
	}
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(last.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	}) {
		words[strings.TrimSuffix(strings.Trim(w, "'-"), "'s")] = true
	}

	var named []string
	for _, p := range personas {
		if strings.EqualFold(p.Name, last.Speaker) {
			continue
		}
		if mentions(words, last.Text, p.Name) {
			named = append(named, p.Name)
		}
	}
	return named
}

// mentions checks single-word names against the word set and multi-word
// names against the lowered text with word boundaries.
func mentions(words map[string]bool, text, name string) bool {
	lname := strings.ToLower(strings.TrimSpace(name))
	if lname == "" {
		return false
	}
	if !strings.ContainsFunc(lname, unicode.IsSpace) {
		return words[lname]
	}

	ltext := strings.ToLower(text)
	for i := 0; ; {
		j := strings.Index(ltext[i:], lname)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(lname)
		if boundary(ltext, start-1) && boundary(ltext, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := rune(s[i])
	return !unicode.IsLetter(c) && !unicode.IsDigit(c)
}
