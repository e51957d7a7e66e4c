package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/robertdcurrier/dive-bar/internal/persona"
)

// loadRoster reads the roster named by --agents, or the first one found in
// the working directory or ~/.config/divebar. With no file at all the house
// regulars are used and the returned path is empty.
func loadRoster(c *cli.Command) (persona.Roster, string, error) {
	path := c.String("agents")
	if path == "" {
		workDir, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get working directory: %w", err)
		}
		found, err := persona.FindRoster(workDir)
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	if path == "" {
		log.Info().Msg("No roster file found, using the house regulars")
		return persona.DefaultRoster(), "", nil
	}

	roster, err := persona.LoadRoster(path)
	if err != nil {
		return nil, path, err
	}
	return roster, path, nil
}

func handlePersonasList(ctx context.Context, c *cli.Command) error {
	roster, path, err := loadRoster(c)
	if err != nil {
		return err
	}

	if path != "" {
		fmt.Printf("Regulars from %s:\n", path)
	} else {
		fmt.Println("House regulars (run 'divebar init' to customize):")
	}
	for _, p := range roster {
		voice := "-"
		if p.Voice != nil && p.Voice.Voice != "" {
			voice = p.Voice.Voice
			if p.Voice.Provider != "" {
				voice = p.Voice.Provider + "/" + voice
			}
		}
		fmt.Printf("  - %-12s drinks %-14s chattiness %.2f  responsiveness %.2f  voice %s\n",
			p.Name, p.Drink, p.Chattiness, p.Responsiveness, voice)
	}
	return nil
}

func handlePersonasShow(ctx context.Context, c *cli.Command) error {
	name := c.Args().Get(0)
	if name == "" {
		return fmt.Errorf("persona name is required")
	}

	roster, _, err := loadRoster(c)
	if err != nil {
		return err
	}
	p, ok := roster.Find(name)
	if !ok {
		return fmt.Errorf("persona '%s' is not in the roster (have: %s)", name, strings.Join(roster.Names(), ", "))
	}

	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}

	fmt.Printf("Name:           %s\n", p.Name)
	fmt.Printf("Drink:          %s\n", p.Drink)
	fmt.Printf("Traits:         %s\n", strings.Join(p.Traits, ", "))
	fmt.Printf("Chattiness:     %.2f\n", p.Chattiness)
	fmt.Printf("Responsiveness: %.2f\n", p.Responsiveness)
	if p.ModelOverride != "" {
		fmt.Printf("Model:          %s\n", p.ModelOverride)
	}
	fmt.Println("\nSystem prompt:")
	fmt.Println(persona.BuildSystemPrompt(p, file.Bar.Name, nil))
	return nil
}

func handlePersonasEdit(ctx context.Context, c *cli.Command) error {
	_, path, err := loadRoster(c)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("no roster file to edit, create one with 'divebar init'")
	}

	// Get editor from environment
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.CommandContext(ctx, editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}

	if _, err := persona.LoadRoster(path); err != nil {
		return fmt.Errorf("roster no longer loads: %w", err)
	}
	fmt.Printf("Edited roster: %s\n", path)
	return nil
}
