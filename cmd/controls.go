package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
)

// parseCommand maps one line of keyboard input to a control command
func parseCommand(line string) (orchestrator.Command, bool) {
	text := strings.TrimSpace(line)
	switch strings.ToLower(text) {
	case "":
		return orchestrator.Command{}, false
	case "p", "pause":
		return orchestrator.Command{Kind: orchestrator.CmdTogglePause}, true
	case "+", "faster":
		return orchestrator.Command{Kind: orchestrator.CmdSpeedUp}, true
	case "-", "slower":
		return orchestrator.Command{Kind: orchestrator.CmdSlowDown}, true
	case "q", "quit":
		return orchestrator.Command{Kind: orchestrator.CmdQuit}, true
	}
	return orchestrator.Command{Kind: orchestrator.CmdStranger, Text: text}, true
}

// readCommands forwards parsed input lines until r is exhausted or ctx is
// done. End of input is not a quit: the bar keeps going without controls.
func readCommands(ctx context.Context, r io.Reader, cmds chan<- orchestrator.Command) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, ok := parseCommand(scanner.Text())
		if !ok {
			continue
		}
		select {
		case cmds <- cmd:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("Stopped reading controls")
	}
}
