package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertdcurrier/dive-bar/internal/config"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
	"github.com/robertdcurrier/dive-bar/internal/store"
)

func TestOpenRunDatabase(t *testing.T) {
	t.Run("unreachable path runs without persistence", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

		file := config.Default()
		file.Database.Path = filepath.Join(blocker, "divebar.db")

		assert.Nil(t, openRunDatabase(file))
	})

	t.Run("disabled", func(t *testing.T) {
		file := config.Default()
		file.Database.Enabled = false

		assert.Nil(t, openRunDatabase(file))
	})

	t.Run("opens the configured file", func(t *testing.T) {
		file := config.Default()
		file.Database.Path = filepath.Join(t.TempDir(), "divebar.db")

		db := openRunDatabase(file)
		require.NotNil(t, db)
		assert.NoError(t, store.Close(db))
	})
}

func TestOpenPatterns(t *testing.T) {
	t.Run("durable store when the database is open", func(t *testing.T) {
		db, err := store.Open(filepath.Join(t.TempDir(), "divebar.db"))
		require.NoError(t, err)
		defer store.Close(db)

		assert.IsType(t, &patterns.GormStore{}, openPatterns(config.Default(), db))
	})

	t.Run("unreachable store falls back to memory", func(t *testing.T) {
		db, err := store.Open(filepath.Join(t.TempDir(), "divebar.db"))
		require.NoError(t, err)
		require.NoError(t, store.Close(db))

		assert.IsType(t, &patterns.MemoryStore{}, openPatterns(config.Default(), db))
	})

	t.Run("memory without a database", func(t *testing.T) {
		assert.IsType(t, &patterns.MemoryStore{}, openPatterns(config.Default(), nil))
	})

	t.Run("disabled", func(t *testing.T) {
		file := config.Default()
		file.Patterns.Enabled = false

		assert.Nil(t, openPatterns(file, nil))
	})
}
