package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
)

// SessionSummary is a session with its message counts
type SessionSummary struct {
	ID           string
	StartedAt    time.Time
	EndedAt      *time.Time
	BarName      string
	AgentCount   int
	Messages     int
	ActiveAgents int
}

// PersonaStat aggregates one persona's messages
type PersonaStat struct {
	Speaker         string
	Messages        int
	AvgTokens       float64
	AvgGenerationMS float64 `gorm:"column:avg_generation_ms"`
	AvgChars        float64
}

func bySession(q *gorm.DB, prefix string) *gorm.DB {
	if prefix == "" {
		return q
	}
	return q.Where("session_id LIKE ?", prefix+"%")
}

// Messages returns finalized turns in order, optionally limited to sessions
// whose id starts with prefix.
func Messages(ctx context.Context, db *gorm.DB, prefix string) ([]Message, error) {
	var msgs []Message
	err := bySession(db.WithContext(ctx), prefix).
		Order("created_at, seq").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return msgs, nil
}

// Regenerations returns regeneration events in order
func Regenerations(ctx context.Context, db *gorm.DB, prefix string) ([]Regeneration, error) {
	var regens []Regeneration
	err := bySession(db.WithContext(ctx), prefix).
		Order("created_at, seq, attempt").
		Find(&regens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query regenerations: %w", err)
	}
	return regens, nil
}

// PersonaStats aggregates persona messages by speaker, busiest first
func PersonaStats(ctx context.Context, db *gorm.DB, prefix string) ([]PersonaStat, error) {
	var stats []PersonaStat
	err := bySession(db.WithContext(ctx).Model(&Message{}), prefix).
		Select("speaker, COUNT(*) AS messages, "+
			"AVG(completion_tokens) AS avg_tokens, "+
			"AVG(generation_ms) AS avg_generation_ms, "+
			"AVG(LENGTH(content)) AS avg_chars").
		Where("kind = ?", string(conversation.KindPersona)).
		Group("speaker").
		Order("messages DESC, speaker").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query persona stats: %w", err)
	}
	return stats, nil
}

// SessionSummaries lists every session, oldest first
func SessionSummaries(ctx context.Context, db *gorm.DB) ([]SessionSummary, error) {
	var sessions []Session
	if err := db.WithContext(ctx).Order("started_at").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	type counts struct {
		SessionID    string
		Messages     int
		ActiveAgents int
	}
	var rows []counts
	err := db.WithContext(ctx).Model(&Message{}).
		Select("session_id, COUNT(*) AS messages, COUNT(DISTINCT speaker) AS active_agents").
		Where("kind = ?", string(conversation.KindPersona)).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count session messages: %w", err)
	}
	bySID := make(map[string]counts, len(rows))
	for _, c := range rows {
		bySID[c.SessionID] = c
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		c := bySID[s.ID]
		out = append(out, SessionSummary{
			ID:           s.ID,
			StartedAt:    s.StartedAt,
			EndedAt:      s.EndedAt,
			BarName:      s.BarName,
			AgentCount:   s.AgentCount,
			Messages:     c.Messages,
			ActiveAgents: c.ActiveAgents,
		})
	}
	return out, nil
}
