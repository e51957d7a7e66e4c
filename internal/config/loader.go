package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/voice"
)

// Loader finds and reads divebar.json
type Loader struct {
	localDir   string
	globalPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader that searches dir, then ~/.config/divebar
func NewLoader(dir string) *Loader {
	homeDir, _ := os.UserHomeDir()
	return &Loader{
		localDir:   dir,
		globalPath: filepath.Join(homeDir, GlobalDir, FileName),
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads the configuration with priority:
// 1. explicit path (must exist)
// 2. ./divebar.json
// 3. ~/.config/divebar/divebar.json
// 4. built-in defaults
//
// It returns the path that was read, or "" when defaults were used.
func (l *Loader) Load(explicit string) (File, string, error) {
	if explicit != "" {
		f, err := l.LoadFromPath(explicit)
		return f, explicit, err
	}

	for _, path := range []string{filepath.Join(l.localDir, FileName), l.globalPath} {
		f, err := l.LoadFromPath(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return File{}, path, err
		}
		log.Debug().Str("path", path).Msg("Loaded config")
		return f, path, nil
	}

	log.Debug().Msg("No config file found, using defaults")
	return Default(), "", nil
}

// LoadFromPath reads one file on top of the defaults
func (l *Loader) LoadFromPath(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read config file: %w", err)
	}

	f := Default()
	expanded := l.expandEnvVars(string(data))
	if err := json.Unmarshal([]byte(expanded), &f); err != nil {
		return File{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	checkFilePermissions(path)
	return f, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := l.lookupEnv(name); ok {
			return value
		}
		// Don't log variable names: they hint at which secrets are missing
		log.Debug().Msg("Referenced environment variable not set in config")
		return ""
	})
}

func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		log.Warn().
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Str("path", path).
			Msg("Config file may contain API keys but is readable by others. Consider: chmod 600")
	}
}

// Example returns the file written by `divebar init`. Keys reference the
// environment rather than holding secrets.
func Example() File {
	f := Default()
	f.LLM.APIKey = "${ANTHROPIC_API_KEY}"
	f.Voice.Providers = map[string]voice.ProviderConfig{
		"openai": {APIKey: "${OPENAI_API_KEY}", Model: "tts-1", Format: "mp3"},
		"polly":  {Region: "us-east-1", Engine: "neural"},
		"gcp":    {Language: "en-US"},
	}
	return f
}

// WriteExample writes Example to path, refusing to overwrite unless force is set
func WriteExample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(Example(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Debug().Str("path", path).Msg("Wrote example config")
	return nil
}
