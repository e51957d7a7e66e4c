// Package topic decides when the conversation has lingered on one subject
// and asks the backend for a fresh one.
package topic

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/generation"
)

const (
	subjectSystemPrompt = "Name a random dive bar conversation topic in 2-5 words. Just the topic, nothing else. " +
		"Be specific and gritty. Examples: 'worst landlord stories', 'dumbest bar fights', " +
		"'jobs that broke you', 'creepy regulars'."
	subjectUserPrompt = "Give me a topic."

	directiveTemplate = "%[1]s completely drops the old subject and brings up %[2]s. " +
		"Do NOT reference anything from the previous conversation. Reply as %[1]s starting fresh on this topic. " +
		"1-2 sentences, first person, no name prefix."
)

// Config controls rotation
type Config struct {
	Limit       int `json:"max_subject_chat"`
	RecentLimit int `json:"recent_subjects"`
	MaxTokens   int `json:"max_tokens"`
}

// DefaultConfig returns the stock rotation settings
func DefaultConfig() Config {
	return Config{
		Limit:       3,
		RecentLimit: conversation.DefaultRecentSubjects,
		MaxTokens:   20,
	}
}

// Controller tracks nothing itself; all counters live in conversation.State
type Controller struct {
	cfg Config
}

// New creates a controller, filling zero values from DefaultConfig
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Controller{cfg: cfg}
}

// ShouldRotate reports whether the current subject has run its course
func (c *Controller) ShouldRotate(state *conversation.State) bool {
	return state.SubjectCount >= c.cfg.Limit
}

// NextSubject asks the backend for a new subject, steering it away from the
// recent ones. An empty subject with a nil error means the answer was unusable.
func (c *Controller) NextSubject(ctx context.Context, gen generation.Generator, state *conversation.State, params generation.Params) (string, error) {
	system := subjectSystemPrompt
	if len(state.RecentSubjects) > 0 {
		system += " Do not pick any of these: " + strings.Join(state.RecentSubjects, ", ") + "."
	}

	params.MaxTokens = c.cfg.MaxTokens
	params.Stop = []string{"\n"}
	res, err := gen.Generate(ctx, generation.Request{System: system, User: subjectUserPrompt, Params: params})
	if err != nil {
		return "", fmt.Errorf("failed to generate subject: %w", err)
	}

	subject := Normalize(res.Text)
	if subject == "" {
		log.Warn().Str("raw", res.Text).Msg("Subject generation returned nothing usable")
		return "", nil
	}
	for _, avoided := range state.RecentSubjects {
		if strings.EqualFold(avoided, subject) {
			log.Info().Str("subject", subject).Msg("Rejected repeated subject")
			return "", nil
		}
	}
	log.Info().Str("subject", subject).Msg("Rotating subject")
	return subject, nil
}

// Remember records a subject as the current one
func (c *Controller) Remember(state *conversation.State, subject string) {
	state.RememberSubject(subject, c.cfg.RecentLimit)
}

// Advance updates the subject counter after a finalized turn. A rotation
// resets it; otherwise it grows but never past the limit.
func (c *Controller) Advance(state *conversation.State, rotated bool) {
	if rotated {
		state.SubjectCount = 0
		return
	}
	if state.SubjectCount < c.cfg.Limit {
		state.SubjectCount++
	}
}

// Directive renders the pivot instruction for the speaker who changes the subject
func Directive(subject, speaker string) string {
	return fmt.Sprintf(directiveTemplate, speaker, subject)
}

// Normalize keeps the first line of a generated subject and strips quotes and
// trailing punctuation.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Topic:")
	s = strings.Trim(s, " \t'\"`“”‘’")
	s = strings.TrimRight(s, ".!?,;: ")
	return strings.TrimSpace(s)
}
