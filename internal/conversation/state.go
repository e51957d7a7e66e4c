// Package conversation holds the shared dialogue state: the append-only turn
// log and the per-persona counters the scheduler and topic controller read.
package conversation

import (
	"strings"
	"time"
)

// Kind identifies who produced a turn
type Kind string

const (
	KindPersona   Kind = "persona"
	KindBartender Kind = "bartender"
	KindStranger  Kind = "stranger"
)

const (
	BartenderName = "Bartender"
	StrangerName  = "A stranger"

	DefaultRecentSubjects = 5
)

// Meta carries per-turn bookkeeping recorded at finalization
type Meta struct {
	Attempts         int           `json:"attempts"`
	DiversityScore   float64       `json:"diversity_score"`
	Problems         []string      `json:"problems,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Subject          string        `json:"subject,omitempty"`
	Directive        string        `json:"directive,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Latency          time.Duration `json:"latency,omitempty"`
}

// Turn is one finalized utterance. Turns are never edited once appended.
type Turn struct {
	Seq     int       `json:"seq"`
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
	Kind    Kind      `json:"kind"`
	Meta    Meta      `json:"meta"`
}

// Pair is an exchange between the previous speaker and the one who answered
type Pair struct {
	From string
	To   string
}

// SameDyad reports whether both pairs involve the same two speakers in either direction
func (p Pair) SameDyad(o Pair) bool {
	return (strings.EqualFold(p.From, o.From) && strings.EqualFold(p.To, o.To)) ||
		(strings.EqualFold(p.From, o.To) && strings.EqualFold(p.To, o.From))
}

// State is the single-writer conversation state owned by the orchestrator
type State struct {
	Turns          []Turn
	TurnsSince     map[string]int
	SubjectCount   int
	Subject        string
	RecentSubjects []string
	Paused         bool

	spoken map[string]bool
}

// NewState creates state for the given roster. Every persona starts with a
// zero counter and is treated as never having spoken.
func NewState(personas []string) *State {
	s := &State{
		TurnsSince: make(map[string]int, len(personas)),
		spoken:     make(map[string]bool, len(personas)),
	}
	for _, name := range personas {
		s.TurnsSince[name] = 0
	}
	return s
}

// Append finalizes a turn: it assigns the sequence number and, for persona
// turns, resets the speaker's counter and advances everyone else's.
func (s *State) Append(t Turn) Turn {
	t.Seq = len(s.Turns)
	if t.At.IsZero() {
		t.At = time.Now()
	}
	if t.Kind == "" {
		t.Kind = KindPersona
	}
	s.Turns = append(s.Turns, t)

	if t.Kind != KindPersona {
		return t
	}
	if s.TurnsSince == nil {
		s.TurnsSince = make(map[string]int)
	}
	if s.spoken == nil {
		s.spoken = make(map[string]bool)
	}
	for name := range s.TurnsSince {
		if name != t.Speaker {
			s.TurnsSince[name]++
		}
	}
	s.TurnsSince[t.Speaker] = 0
	s.spoken[t.Speaker] = true
	return t
}

// HasSpoken reports whether the persona has finalized at least one turn
func (s *State) HasSpoken(name string) bool {
	return s.spoken[name]
}

// Last returns the most recent turn
func (s *State) Last() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Window returns the n most recent turns in chronological order
func (s *State) Window(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	start := len(s.Turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.Turns)-start)
	copy(out, s.Turns[start:])
	return out
}

// LastSpeaker returns the speaker of the most recent persona turn
func (s *State) LastSpeaker() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Kind == KindPersona {
			return s.Turns[i].Speaker
		}
	}
	return ""
}

// RecentPairs returns up to n of the latest exchanges, oldest first. A pair
// is recorded for every persona turn that followed another turn.
func (s *State) RecentPairs(n int) []Pair {
	var pairs []Pair
	for i := len(s.Turns) - 1; i > 0 && len(pairs) < n; i-- {
		if s.Turns[i].Kind != KindPersona {
			continue
		}
		pairs = append(pairs, Pair{From: s.Turns[i-1].Speaker, To: s.Turns[i].Speaker})
	}
	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}
	return pairs
}

// RememberSubject pushes a subject onto the bounded most-recent-first list
func (s *State) RememberSubject(subject string, limit int) {
	if limit <= 0 {
		limit = DefaultRecentSubjects
	}
	s.Subject = subject
	s.RecentSubjects = append([]string{subject}, s.RecentSubjects...)
	if len(s.RecentSubjects) > limit {
		s.RecentSubjects = s.RecentSubjects[:limit]
	}
}

// PersonaTurns counts finalized persona turns
func (s *State) PersonaTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Kind == KindPersona {
			n++
		}
	}
	return n
}
