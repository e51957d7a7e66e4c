package patterns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type patternRecord struct {
	ID        uint             `gorm:"primaryKey"`
	Text      string           `gorm:"size:500;not null;uniqueIndex:idx_pattern_text_category"`
	Category  string           `gorm:"size:32;not null;uniqueIndex:idx_pattern_text_category"`
	Hits      int              `gorm:"not null;default:0"`
	FirstSeen time.Time        `gorm:"not null"`
	LastSeen  time.Time        `gorm:"not null;index"`
	Personas  []patternPersona `gorm:"foreignKey:PatternID"`
}

func (patternRecord) TableName() string { return "patterns" }

// patternPersona links a persona to a pattern. PersonaKey is the case-folded
// name so "mack" and "Mack" share a row; Persona keeps the first spelling.
type patternPersona struct {
	ID         uint   `gorm:"primaryKey"`
	PatternID  uint   `gorm:"not null;uniqueIndex:idx_pattern_persona"`
	PersonaKey string `gorm:"size:100;not null;uniqueIndex:idx_pattern_persona"`
	Persona    string `gorm:"size:100;not null"`
}

func (patternPersona) TableName() string { return "pattern_personas" }

func (r patternRecord) pattern() Pattern {
	p := Pattern{
		Text:      r.Text,
		Category:  Category(r.Category),
		Hits:      r.Hits,
		FirstSeen: r.FirstSeen,
		LastSeen:  r.LastSeen,
		Personas:  make([]string, 0, len(r.Personas)),
	}
	for _, pp := range r.Personas {
		p.Personas = append(p.Personas, pp.Persona)
	}
	return p
}

// GormStore persists patterns through gorm
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore migrates the pattern tables and returns a store
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&patternRecord{}, &patternPersona{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pattern tables: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Record upserts a pattern inside one transaction
func (s *GormStore) Record(ctx context.Context, text string, category Category, persona string) (Pattern, error) {
	norm, err := validate(text, category)
	if err != nil {
		return Pattern{}, err
	}

	now := s.now().UTC()
	var rec patternRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("text = ? AND category = ?", norm, string(category)).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = patternRecord{Text: norm, Category: string(category), Hits: 1, FirstSeen: now, LastSeen: now}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&rec).Updates(map[string]any{
				"hits":      gorm.Expr("hits + 1"),
				"last_seen": now,
			}).Error; err != nil {
				return err
			}
			rec.Hits++
			rec.LastSeen = now
		}

		if persona != "" {
			var count int64
			if err := tx.Model(&patternPersona{}).
				Where("pattern_id = ? AND persona_key = ?", rec.ID, personaKey(persona)).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				if err := tx.Create(&patternPersona{PatternID: rec.ID, PersonaKey: personaKey(persona), Persona: persona}).Error; err != nil {
					return err
				}
			}
		}
		return tx.Where("pattern_id = ?", rec.ID).Order("id").Find(&rec.Personas).Error
	})
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to record pattern: %w", err)
	}

	log.Debug().Str("pattern", norm).Str("category", string(category)).Int("hits", rec.Hits).Msg("Recorded pattern")
	return rec.pattern(), nil
}

// Suppressions returns patterns to avoid for persona
func (s *GormStore) Suppressions(ctx context.Context, persona string, limit int) ([]Pattern, error) {
	all, err := s.load(ctx, 0)
	if err != nil {
		return nil, err
	}
	return selectSuppressions(all, persona, limit), nil
}

// Top returns the most frequent patterns
func (s *GormStore) Top(ctx context.Context, limit int) ([]Pattern, error) {
	return s.load(ctx, limit)
}

// Prune removes rarely seen, stale patterns and their persona links
func (s *GormStore) Prune(ctx context.Context, minHits int, olderThan time.Time) (int, error) {
	var removed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&patternRecord{}).Where("hits < ?", minHits)
		if !olderThan.IsZero() {
			q = q.Where("last_seen < ?", olderThan.UTC())
		}
		var ids []uint
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("pattern_id IN ?", ids).Delete(&patternPersona{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&patternRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune patterns: %w", err)
	}

	log.Info().Int("removed", removed).Int("min_hits", minHits).Msg("Pruned patterns")
	return removed, nil
}

func (s *GormStore) load(ctx context.Context, limit int) ([]Pattern, error) {
	var recs []patternRecord
	q := s.db.WithContext(ctx).Preload("Personas").Order("hits DESC").Order("last_seen DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	out := make([]Pattern, len(recs))
	for i, r := range recs {
		out[i] = r.pattern()
	}
	return out, nil
}
