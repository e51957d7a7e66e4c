// Package config loads divebar.json, the single file that configures a bar:
// the generation backend, scheduling and diversity knobs, storage, display,
// narration and metrics. Every section starts from its package defaults, so
// a file only needs the values it changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robertdcurrier/dive-bar/internal/display"
	"github.com/robertdcurrier/dive-bar/internal/diversity"
	"github.com/robertdcurrier/dive-bar/internal/generation"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
	"github.com/robertdcurrier/dive-bar/internal/schedule"
	"github.com/robertdcurrier/dive-bar/internal/store"
	"github.com/robertdcurrier/dive-bar/internal/topic"
	"github.com/robertdcurrier/dive-bar/internal/voice"
)

const (
	FileName  = "divebar.json"
	GlobalDir = ".config/divebar"

	DefaultMaxAgents    = 5
	DefaultTickInterval = 2 * time.Second
	DefaultMetricsNS    = "divebar"
)

// Duration is a time.Duration written as "2s" or "1m30s" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// BarConfig holds the bar itself and the turn loop settings
type BarConfig struct {
	Name             string   `json:"name"`
	MaxAgents        int      `json:"max_agents"`
	TickInterval     Duration `json:"tick_interval"`
	MaxRetries       int      `json:"max_retries"`
	RefreshInterval  int      `json:"prompt_refresh_interval"`
	ScriptLines      int      `json:"script_lines"`
	OpenerCategories []string `json:"opener_categories,omitempty"`
	Opener           bool     `json:"opener"`
}

// PatternsConfig controls the learned pattern store
type PatternsConfig struct {
	Enabled          bool `json:"enabled"`
	SuppressionLimit int  `json:"suppression_limit"`
	PruneMinHits     int  `json:"prune_min_hits"`
	PruneAfterDays   int  `json:"prune_after_days"`
}

// DatabaseConfig locates the sqlite database
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig exposes prometheus metrics when Addr is set
type MetricsConfig struct {
	Addr      string `json:"addr,omitempty"`
	Namespace string `json:"namespace"`
}

// File is the whole of divebar.json
type File struct {
	Bar       BarConfig         `json:"bar"`
	LLM       generation.Config `json:"llm"`
	Scheduler schedule.Config   `json:"scheduler"`
	Diversity diversity.Config  `json:"diversity"`
	Topic     topic.Config      `json:"topic"`
	Patterns  PatternsConfig    `json:"patterns"`
	Database  DatabaseConfig    `json:"database"`
	Display   display.Config    `json:"display"`
	Voice     voice.Config      `json:"voice"`
	Metrics   MetricsConfig     `json:"metrics"`
}

// Default returns the configuration used when no file exists
func Default() File {
	orch := orchestrator.DefaultConfig()
	return File{
		Bar: BarConfig{
			Name:             orch.BarName,
			MaxAgents:        DefaultMaxAgents,
			TickInterval:     Duration(DefaultTickInterval),
			MaxRetries:       orch.MaxRetries,
			RefreshInterval:  orch.RefreshInterval,
			ScriptLines:      orch.ScriptLines,
			OpenerCategories: append([]string(nil), orch.OpenerCategories...),
			Opener:           true,
		},
		LLM:       generation.DefaultConfig(),
		Scheduler: schedule.DefaultConfig(),
		Diversity: diversity.DefaultConfig(),
		Topic:     topic.DefaultConfig(),
		Patterns: PatternsConfig{
			Enabled:          true,
			SuppressionLimit: orch.SuppressionLimit,
			PruneMinHits:     2,
			PruneAfterDays:   30,
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    store.DefaultPath,
		},
		Display: display.DefaultConfig(),
		Voice:   voice.DefaultConfig(),
		Metrics: MetricsConfig{Namespace: DefaultMetricsNS},
	}
}

// Validate collects the problems of every section into one error
func (f File) Validate() error {
	var problems []string

	if strings.TrimSpace(f.Bar.Name) == "" {
		problems = append(problems, "bar: name cannot be empty")
	}
	if f.Bar.MaxAgents < 2 {
		problems = append(problems, "bar: max_agents must be at least 2")
	}
	if f.Bar.TickInterval < 0 {
		problems = append(problems, "bar: tick_interval cannot be negative")
	}
	if f.Bar.MaxRetries < 0 {
		problems = append(problems, "bar: max_retries cannot be negative")
	}
	if f.Patterns.SuppressionLimit < 0 {
		problems = append(problems, "patterns: suppression_limit cannot be negative")
	}
	if f.Database.Enabled && f.Database.Path == "" {
		problems = append(problems, "database: path is required when enabled")
	}
	if f.Topic.Limit < 1 {
		problems = append(problems, "topic: max_subject_chat must be at least 1")
	}

	problems = append(problems, f.LLM.Validate()...)
	problems = append(problems, f.Scheduler.Validate()...)
	problems = append(problems, f.Diversity.Validate()...)
	problems = append(problems, f.Voice.Validate()...)

	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = errors.New(p)
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// Orchestrator derives the turn loop configuration
func (f File) Orchestrator() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.BarName = f.Bar.Name
	cfg.MaxRetries = f.Bar.MaxRetries
	cfg.RefreshInterval = f.Bar.RefreshInterval
	cfg.ScriptLines = f.Bar.ScriptLines
	cfg.SuppressionLimit = f.Patterns.SuppressionLimit
	cfg.NCtx = f.LLM.NCtx
	cfg.Params = f.LLM.Params
	if len(f.Bar.OpenerCategories) > 0 {
		cfg.OpenerCategories = f.Bar.OpenerCategories
	}
	return cfg
}

// MaskSecrets returns a copy safe to print
func (f File) MaskSecrets() File {
	masked := f
	if f.LLM.APIKey != "" {
		masked.LLM.APIKey = fmt.Sprintf("[set, %d chars]", len(f.LLM.APIKey))
	}
	masked.Voice = f.Voice.MaskSecrets()
	return masked
}

// Hash identifies the effective configuration of a session. Secrets are
// masked first so key contents never reach the hash.
func (f File) Hash() string {
	data, err := json.Marshal(f.MaskSecrets())
	if err != nil {
		return ""
	}
	return store.ConfigHash(data)
}
