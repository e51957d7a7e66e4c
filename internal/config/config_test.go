package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(dir string, env map[string]string) *Loader {
	return &Loader{
		localDir:   dir,
		globalPath: filepath.Join(dir, "global", FileName),
		lookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefault(t *testing.T) {
	f := Default()
	assert.Equal(t, "The Rusty Nail", f.Bar.Name)
	assert.Equal(t, 5, f.Bar.MaxAgents)
	assert.Equal(t, Duration(2*time.Second), f.Bar.TickInterval)
	assert.Equal(t, 3, f.Topic.Limit)
	assert.True(t, f.Database.Enabled)
	assert.False(t, f.Voice.Enabled)
	assert.NoError(t, f.Validate())
}

func TestLoader_Load(t *testing.T) {
	t.Run("defaults when nothing exists", func(t *testing.T) {
		f, path, err := testLoader(t.TempDir(), nil).Load("")
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, Default(), f)
	})

	t.Run("local file overlays defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `{
			"bar": {"name": "The Blind Tiger", "tick_interval": "500ms"},
			"llm": {"mode": "local", "base_url": "http://127.0.0.1:8080/v1", "api_key": "${LLAMA_KEY}"},
			"diversity": {"threshold": 0.5}
		}`)

		f, path, err := testLoader(dir, map[string]string{"LLAMA_KEY": "secret"}).Load("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, FileName), path)
		assert.Equal(t, "The Blind Tiger", f.Bar.Name)
		assert.Equal(t, Duration(500*time.Millisecond), f.Bar.TickInterval)
		assert.Equal(t, "local", f.LLM.Mode)
		assert.Equal(t, "secret", f.LLM.APIKey)
		assert.Equal(t, 0.5, f.Diversity.Threshold)
		assert.Equal(t, Default().Diversity.Window, f.Diversity.Window, "untouched fields keep defaults")
		assert.Equal(t, 5, f.Bar.MaxAgents)
	})

	t.Run("global file is the fallback", func(t *testing.T) {
		dir := t.TempDir()
		l := testLoader(dir, nil)
		writeFile(t, l.globalPath, `{"bar": {"name": "Global"}}`)

		f, path, err := l.Load("")
		require.NoError(t, err)
		assert.Equal(t, l.globalPath, path)
		assert.Equal(t, "Global", f.Bar.Name)
	})

	t.Run("unset variables expand to empty", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `{"llm": {"api_key": "${MISSING}"}}`)

		f, _, err := testLoader(dir, nil).Load("")
		require.NoError(t, err)
		assert.Empty(t, f.LLM.APIKey)
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		_, _, err := testLoader(t.TempDir(), nil).Load("/nonexistent/divebar.json")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad json is reported", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `{"bar": `)

		_, _, err := testLoader(dir, nil).Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("bad duration is reported", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `{"bar": {"tick_interval": "soon"}}`)

		_, _, err := testLoader(dir, nil).Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid duration "soon"`)
	})
}

func TestFile_Validate(t *testing.T) {
	f := Default()
	f.Bar.Name = " "
	f.Bar.MaxAgents = 1
	f.LLM.Mode = "cloud"
	f.Voice.DefaultProvider = "elevenlabs"

	err := f.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"bar: name cannot be empty",
		"bar: max_agents must be at least 2",
		"unsupported llm mode: cloud",
		`voice: unknown default_provider "elevenlabs"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFile_Orchestrator(t *testing.T) {
	f := Default()
	f.Bar.Name = "Smitty's"
	f.Bar.MaxRetries = 1
	f.Bar.OpenerCategories = []string{"sports"}
	f.LLM.Params.Temperature = 0.4

	cfg := f.Orchestrator()
	assert.Equal(t, "Smitty's", cfg.BarName)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, []string{"sports"}, cfg.OpenerCategories)
	assert.Equal(t, 0.4, cfg.Params.Temperature)
	assert.Equal(t, f.LLM.NCtx, cfg.NCtx)
}

func TestFile_MaskSecretsAndHash(t *testing.T) {
	f := Example()
	f.LLM.APIKey = "sk-ant-123"
	masked := f.MaskSecrets()

	assert.Equal(t, "[set, 10 chars]", masked.LLM.APIKey)
	assert.Equal(t, "[set, 17 chars]", masked.Voice.Providers["openai"].APIKey)
	assert.Equal(t, "sk-ant-123", f.LLM.APIKey)

	other := f
	other.LLM.APIKey = "sk-ant-456"
	assert.Equal(t, f.Hash(), other.Hash())
	assert.Len(t, f.Hash(), 16)

	other.Bar.Name = "Elsewhere"
	assert.NotEqual(t, f.Hash(), other.Hash())
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", FileName)
	require.NoError(t, WriteExample(path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	err = WriteExample(path, false)
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, WriteExample(path, true))

	l := testLoader(t.TempDir(), map[string]string{"ANTHROPIC_API_KEY": "k", "OPENAI_API_KEY": "o"})
	f, err := l.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "k", f.LLM.APIKey)
	assert.Equal(t, "o", f.Voice.Providers["openai"].APIKey)
	assert.NoError(t, f.Validate())
}
