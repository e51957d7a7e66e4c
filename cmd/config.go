package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/robertdcurrier/dive-bar/internal/config"
	"github.com/robertdcurrier/dive-bar/internal/persona"
)

// loadConfig reads divebar.json and applies the global flag overrides
func loadConfig(c *cli.Command) (config.File, string, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return config.File{}, "", fmt.Errorf("failed to get working directory: %w", err)
	}

	file, path, err := config.NewLoader(workDir).Load(c.String("config"))
	if err != nil {
		return config.File{}, path, err
	}
	if dbPath := c.String("db"); dbPath != "" {
		file.Database.Path = dbPath
	}
	if c.Bool("no-color") {
		file.Display.NoColor = true
	}
	return file, path, nil
}

func handleInit(ctx context.Context, c *cli.Command) error {
	force := c.Bool("force")

	if err := config.WriteExample(config.FileName, force); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", config.FileName)

	rosterPath := persona.RosterJSON
	if _, err := os.Stat(rosterPath); err == nil && !force {
		log.Warn().Str("path", rosterPath).Msg("Roster already exists, leaving it alone")
	} else {
		if err := persona.SaveRoster(rosterPath, persona.DefaultRoster()); err != nil {
			return err
		}
		fmt.Printf("Created %s with the house regulars\n", rosterPath)
	}

	fmt.Println("\nSet ANTHROPIC_API_KEY (or point llm.base_url at a local server) and run 'divebar run'.")
	return nil
}

func handleConfigShow(ctx context.Context, c *cli.Command) error {
	file, path, err := loadConfig(c)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(file.MaskSecrets(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}

	if path == "" {
		fmt.Println("No configuration file found, showing defaults.")
	} else {
		abs, _ := filepath.Abs(path)
		fmt.Printf("Configuration from %s (secrets masked):\n", abs)
	}
	fmt.Println(string(output))
	fmt.Printf("Config hash: %s\n", file.Hash())
	return nil
}

func handleConfigValidate(ctx context.Context, c *cli.Command) error {
	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}

	var problems []error
	if err := file.Validate(); err != nil {
		problems = append(problems, err)
	}
	if _, _, err := loadRoster(c); err != nil {
		problems = append(problems, err)
	}

	if len(problems) == 0 {
		fmt.Println("Configuration is valid.")
		return nil
	}

	fmt.Println("Configuration has errors:")
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return errors.New("configuration validation failed")
}
