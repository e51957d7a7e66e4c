// Package store persists sessions, finalized turns and regeneration events to
// sqlite through gorm. The learned patterns live in the same database, owned
// by patterns.GormStore.
package store

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DefaultPath is where run and analyze look for the database
	DefaultPath = "data/divebar.db"
	// MemoryPath opens a private in-memory database
	MemoryPath = ":memory:"
)

// Session is one run of the bar
type Session struct {
	ID         string `gorm:"primaryKey;size:36"`
	StartedAt  time.Time
	EndedAt    *time.Time
	BarName    string `gorm:"size:200"`
	AgentCount int
	ConfigHash string `gorm:"size:16"`
}

// Message is a finalized turn
type Message struct {
	ID               string `gorm:"primaryKey;size:36"`
	SessionID        string `gorm:"size:36;index"`
	Seq              int    `gorm:"not null"`
	Speaker          string `gorm:"size:100;not null;index"`
	Kind             string `gorm:"size:16;not null"`
	Content          string `gorm:"type:text;not null"`
	Model            string `gorm:"size:100"`
	PromptTokens     int
	CompletionTokens int
	GenerationMS     float64 `gorm:"column:generation_ms"`
	Temperature      float64
	TopP             float64
	SelectionReason  string `gorm:"size:32"`
	Chattiness       float64
	Score            float64
	Attempts         int
	Subject          string    `gorm:"size:200"`
	CreatedAt        time.Time `gorm:"index"`
}

// Regeneration is a rejected candidate that triggered another attempt
type Regeneration struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"size:36;index"`
	Seq       int
	Speaker   string `gorm:"size:100;index"`
	Attempt   int
	Rejected  string `gorm:"type:text"`
	Score     float64
	Problems  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the event tables.
func Open(path string) (*gorm.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if path == MemoryPath {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the event tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Session{}, &Message{}, &Regeneration{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConfigHash fingerprints a configuration so sessions run with the same
// settings can be grouped.
func ConfigHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:16]
}
