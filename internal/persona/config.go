package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	RosterJSON = "agents.json"
	RosterYAML = "agents.yaml"
	GlobalDir  = ".config/divebar"

	// File permissions
	DirPermission  = 0755 // Directory permission (rwxr-xr-x)
	FilePermission = 0644 // File permission (rw-r--r--)

	defaultChattiness     = 0.5
	defaultResponsiveness = 0.5
	defaultDrink          = "Beer"
)

var (
	// ErrDuplicateName is returned when two personas share a name
	ErrDuplicateName = errors.New("duplicate persona name")
	// ErrEmptyRoster is returned when a roster file has no personas
	ErrEmptyRoster = errors.New("roster has no personas")
)

// rosterFile is the on-disk layout shared by JSON and YAML rosters
type rosterFile struct {
	Agents []rawPersona `json:"agents" yaml:"agents"`
}

// rawPersona distinguishes a missing score from an explicit zero
type rawPersona struct {
	Name           string       `json:"name" yaml:"name"`
	Backstory      string       `json:"backstory" yaml:"backstory"`
	Traits         []string     `json:"personality_traits" yaml:"personality_traits"`
	Chattiness     *float64     `json:"chattiness" yaml:"chattiness"`
	Responsiveness *float64     `json:"responsiveness" yaml:"responsiveness"`
	Drink          string       `json:"drink" yaml:"drink"`
	SpeakingStyle  string       `json:"speaking_style" yaml:"speaking_style"`
	ModelOverride  string       `json:"model_override" yaml:"model_override"`
	Voice          *VoiceConfig `json:"voice" yaml:"voice"`
}

func (r rawPersona) persona() Persona {
	p := Persona{
		Name:           strings.TrimSpace(r.Name),
		Backstory:      strings.TrimSpace(r.Backstory),
		Traits:         r.Traits,
		Chattiness:     defaultChattiness,
		Responsiveness: defaultResponsiveness,
		Drink:          r.Drink,
		SpeakingStyle:  r.SpeakingStyle,
		ModelOverride:  r.ModelOverride,
		Voice:          r.Voice,
	}
	if r.Chattiness != nil {
		p.Chattiness = *r.Chattiness
	}
	if r.Responsiveness != nil {
		p.Responsiveness = *r.Responsiveness
	}
	if p.Drink == "" {
		p.Drink = defaultDrink
	}
	return p
}

// LoadRoster reads a roster from a JSON or YAML file. The format is chosen by
// file extension.
func LoadRoster(path string) (Roster, error) {
	log.Debug().Str("path", path).Msg("Loading roster")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var file rosterFile
	if isYAML(path) {
		err = yaml.Unmarshal(data, &file)
	} else {
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster file: %w", err)
	}

	roster := make(Roster, 0, len(file.Agents))
	for _, raw := range file.Agents {
		roster = append(roster, raw.persona())
	}
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}

	log.Debug().Int("personas", len(roster)).Str("path", path).Msg("Loaded roster")
	return roster, nil
}

// FindRoster returns the first roster file found in dir, then in the global
// config directory. An empty string means no roster exists.
func FindRoster(dir string) (string, error) {
	candidates := rosterCandidates(dir)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	candidates = append(candidates, rosterCandidates(filepath.Join(homeDir, GlobalDir))...)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			log.Debug().Str("path", path).Msg("Found roster")
			return path, nil
		}
	}
	log.Debug().Str("dir", dir).Msg("No roster found")
	return "", nil
}

func rosterCandidates(dir string) []string {
	return []string{
		filepath.Join(dir, RosterJSON),
		filepath.Join(dir, RosterYAML),
		filepath.Join(dir, "agents.yml"),
	}
}

// SaveRoster writes a roster in the format implied by the path's extension
func SaveRoster(path string, roster Roster) error {
	if err := os.MkdirAll(filepath.Dir(path), DirPermission); err != nil {
		return fmt.Errorf("failed to create roster directory: %w", err)
	}

	doc := struct {
		Agents Roster `json:"agents" yaml:"agents"`
	}{Agents: roster}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	if err := os.WriteFile(path, data, FilePermission); err != nil {
		return fmt.Errorf("failed to write roster file: %w", err)
	}

	log.Debug().Str("path", path).Msg("Saved roster")
	return nil
}

// Validate returns the problems with a single persona
func Validate(p Persona) []string {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "persona name cannot be empty")
	}
	if p.Chattiness < 0 || p.Chattiness > 1 {
		errs = append(errs, fmt.Sprintf("%s: chattiness must be between 0 and 1", p.Name))
	}
	if p.Responsiveness < 0 || p.Responsiveness > 1 {
		errs = append(errs, fmt.Sprintf("%s: responsiveness must be between 0 and 1", p.Name))
	}
	if p.Voice != nil && p.Voice.Speed < 0 {
		errs = append(errs, fmt.Sprintf("%s: voice speed cannot be negative", p.Name))
	}
	return errs
}

// ValidateRoster checks every persona and rejects case-insensitive duplicates
func ValidateRoster(r Roster) error {
	if len(r) == 0 {
		return ErrEmptyRoster
	}

	var errs []string
	seen := make(map[string]bool, len(r))
	for _, p := range r {
		errs = append(errs, Validate(p)...)
		key := strings.ToLower(p.Name)
		if p.Name != "" && seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid roster: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Limit returns at most n personas, keeping roster order
func (r Roster) Limit(n int) Roster {
	if n <= 0 || len(r) <= n {
		return r
	}
	log.Warn().Int("personas", len(r)).Int("max_agents", n).Msg("Roster truncated to max agents")
	return r[:n]
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DefaultRoster returns the example regulars written by `divebar init`
func DefaultRoster() Roster {
	return Roster{
		{
			Name:           "Mack",
			Backstory:      "Retired longshoreman who has been coming here since the jukebox took quarters.",
			Traits:         []string{"gruff", "nostalgic", "stubborn"},
			Chattiness:     0.7,
			Responsiveness: 0.6,
			Drink:          "Pabst, no glass",
			SpeakingStyle:  "short declarative sentences, old dock slang",
			Voice:          &VoiceConfig{Voice: "onyx"},
		},
		{
			Name:           "Rosa",
			Backstory:      "Night-shift ER nurse who stops in after work to decompress.",
			Traits:         []string{"sarcastic", "blunt", "warm underneath"},
			Chattiness:     0.6,
			Responsiveness: 0.8,
			Drink:          "Well whiskey, neat",
			SpeakingStyle:  "dry one-liners, medical gallows humor",
			Voice:          &VoiceConfig{Voice: "nova"},
		},
		{
			Name:           "Dale",
			Backstory:      "Sells used cars on the strip and is always one deal away from making it.",
			Traits:         []string{"boastful", "optimistic", "easily wounded"},
			Chattiness:     0.8,
			Responsiveness: 0.5,
			Drink:          "Rum and Coke",
			SpeakingStyle:  "salesman patter, lots of 'buddy' and 'listen'",
			Voice:          &VoiceConfig{Voice: "echo"},
		},
		{
			Name:           "Lou",
			Backstory:      "Owns the laundromat next door and hears every rumor in the neighborhood.",
			Traits:         []string{"nosy", "chatty", "superstitious"},
			Chattiness:     0.5,
			Responsiveness: 0.7,
			Drink:          "White wine spritzer",
			SpeakingStyle:  "gossip, rhetorical questions",
			Voice:          &VoiceConfig{Voice: "shimmer"},
		},
		{
			Name:           "Earl",
			Backstory:      "Quiet drywall contractor who only talks when something really bugs him.",
			Traits:         []string{"laconic", "observant", "deadpan"},
			Chattiness:     0.1,
			Responsiveness: 0.4,
			Drink:          "Coffee with a shot in it",
			SpeakingStyle:  "few words, deadpan",
			Voice:          &VoiceConfig{Voice: "fable"},
		},
	}
}
