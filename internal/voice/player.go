package voice

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrNoPlayer is returned when no supported audio player is installed
var ErrNoPlayer = errors.New("no audio player found")

// Player plays an audio file to completion
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer plays audio with an external program
type CommandPlayer struct {
	Command string
	Args    []string // placed before the file path
}

// knownPlayers are tried in order. aplay and paplay only handle raw or wav
// audio, so they come last.
var knownPlayers = []CommandPlayer{
	{Command: "afplay"},
	{Command: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	{Command: "mpg123", Args: []string{"-q"}},
	{Command: "paplay"},
	{Command: "aplay", Args: []string{"-q"}},
}

var lookPath = exec.LookPath

// DetectPlayer returns the preferred player when it is installed, otherwise
// the first known player found on PATH.
func DetectPlayer(preferred string) (*CommandPlayer, error) {
	if preferred != "" {
		if _, err := lookPath(preferred); err != nil {
			return nil, fmt.Errorf("audio player %q not found: %w", preferred, err)
		}
		for _, p := range knownPlayers {
			if p.Command == preferred {
				return &p, nil
			}
		}
		return &CommandPlayer{Command: preferred}, nil
	}

	for _, p := range knownPlayers {
		if _, err := lookPath(p.Command); err == nil {
			return &p, nil
		}
	}
	return nil, ErrNoPlayer
}

// Play blocks until the player exits or ctx is cancelled
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string{}, p.Args...), path)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to play audio with %s: %w (%s)", p.Command, err, out)
	}
	return nil
}
