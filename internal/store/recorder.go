package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/generation"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
	"github.com/robertdcurrier/dive-bar/internal/persona"
)

// RecorderOptions describes the generation settings stamped on each message
type RecorderOptions struct {
	Model  string
	Params generation.Params
}

// Recorder is an orchestrator.Sink that writes the event log. Write failures
// are logged and dropped so a broken database never stops the bar.
type Recorder struct {
	ctx       context.Context
	db        *gorm.DB
	roster    persona.Roster
	opts      RecorderOptions
	sessionID string
	now       func() time.Time
}

var _ orchestrator.Sink = (*Recorder)(nil)

// NewRecorder creates a recorder. Call StartSession before the first event.
func NewRecorder(ctx context.Context, db *gorm.DB, roster persona.Roster, opts RecorderOptions) *Recorder {
	return &Recorder{
		ctx:    ctx,
		db:     db,
		roster: roster,
		opts:   opts,
		now:    time.Now,
	}
}

// StartSession inserts a session row and returns its id
func (r *Recorder) StartSession(barName string, config []byte) (string, error) {
	session := Session{
		ID:         uuid.New().String(),
		StartedAt:  r.now().UTC(),
		BarName:    barName,
		AgentCount: len(r.roster),
		ConfigHash: ConfigHash(config),
	}
	if err := r.db.WithContext(r.ctx).Create(&session).Error; err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	r.sessionID = session.ID
	log.Debug().Str("session", session.ID).Str("config_hash", session.ConfigHash).Msg("Session started")
	return session.ID, nil
}

// SessionID returns the current session id, empty before StartSession
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// EndSession stamps the end time on the current session. It uses a fresh
// context so it still runs after the run context is cancelled.
func (r *Recorder) EndSession() error {
	if r.sessionID == "" {
		return nil
	}
	ended := r.now().UTC()
	err := r.db.WithContext(context.Background()).
		Model(&Session{}).
		Where("id = ?", r.sessionID).
		Update("ended_at", ended).Error
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	log.Debug().Str("session", r.sessionID).Msg("Session ended")
	return nil
}

// TurnFinalized writes one message row
func (r *Recorder) TurnFinalized(turn conversation.Turn) {
	msg := Message{
		ID:               uuid.New().String(),
		SessionID:        r.sessionID,
		Seq:              turn.Seq,
		Speaker:          turn.Speaker,
		Kind:             string(turn.Kind),
		Content:          turn.Text,
		PromptTokens:     turn.Meta.PromptTokens,
		CompletionTokens: turn.Meta.CompletionTokens,
		GenerationMS:     float64(turn.Meta.Latency) / float64(time.Millisecond),
		SelectionReason:  turn.Meta.Reason,
		Score:            turn.Meta.DiversityScore,
		Attempts:         turn.Meta.Attempts,
		Subject:          turn.Meta.Subject,
		CreatedAt:        turn.At.UTC(),
	}
	if p, ok := r.roster.Find(turn.Speaker); ok && turn.Kind == conversation.KindPersona {
		msg.Model = r.opts.Model
		if p.ModelOverride != "" {
			msg.Model = p.ModelOverride
		}
		msg.Temperature = r.opts.Params.Temperature
		msg.TopP = r.opts.Params.TopP
		msg.Chattiness = p.Chattiness
	}

	if err := r.db.WithContext(r.ctx).Create(&msg).Error; err != nil {
		log.Warn().Err(err).Int("seq", turn.Seq).Msg("Failed to record turn")
	}
}

// Regenerated writes one regeneration row
func (r *Recorder) Regenerated(rec orchestrator.RegenerationRecord) {
	row := Regeneration{
		ID:        uuid.New().String(),
		SessionID: r.sessionID,
		Seq:       rec.Seq,
		Speaker:   rec.Persona,
		Attempt:   rec.Attempt,
		Rejected:  rec.Rejected,
		Score:     rec.Score,
		Problems:  strings.Join(rec.Problems, "; "),
		CreatedAt: rec.At.UTC(),
	}
	if err := r.db.WithContext(r.ctx).Create(&row).Error; err != nil {
		log.Warn().Err(err).Int("seq", rec.Seq).Msg("Failed to record regeneration")
	}
}

// PatternRecorded is a no-op: patterns are persisted by the pattern store itself
func (r *Recorder) PatternRecorded(up orchestrator.PatternUpsert) {
	log.Debug().Str("pattern", up.Pattern.Text).Int("hits", up.Pattern.Hits).Msg("Pattern recorded")
}
