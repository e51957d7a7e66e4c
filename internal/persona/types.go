package persona

import "strings"

// Persona is a bar regular. Only Chattiness and Responsiveness affect
// scheduling; the remaining fields are folded into the system prompt.
type Persona struct {
	Name           string       `json:"name" yaml:"name"`
	Backstory      string       `json:"backstory" yaml:"backstory"`
	Traits         []string     `json:"personality_traits" yaml:"personality_traits"`
	Chattiness     float64      `json:"chattiness" yaml:"chattiness"`
	Responsiveness float64      `json:"responsiveness" yaml:"responsiveness"`
	Drink          string       `json:"drink" yaml:"drink"`
	SpeakingStyle  string       `json:"speaking_style" yaml:"speaking_style"`
	ModelOverride  string       `json:"model_override,omitempty" yaml:"model_override,omitempty"`
	Voice          *VoiceConfig `json:"voice,omitempty" yaml:"voice,omitempty"`
}

// VoiceConfig represents voice synthesis settings for a persona
type VoiceConfig struct {
	Provider string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Voice    string  `json:"voice" yaml:"voice"`
	Speed    float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Volume   float64 `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// Roster is the ordered set of personas at the bar
type Roster []Persona

// Names returns persona names in roster order
func (r Roster) Names() []string {
	names := make([]string, len(r))
	for i, p := range r {
		names[i] = p.Name
	}
	return names
}

// Find looks up a persona by name, ignoring case
func (r Roster) Find(name string) (Persona, bool) {
	for _, p := range r {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Persona{}, false
}

// Others returns every persona except the named one
func (r Roster) Others(name string) Roster {
	out := make(Roster, 0, len(r))
	for _, p := range r {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	return out
}
