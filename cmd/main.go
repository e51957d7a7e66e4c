package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/robertdcurrier/dive-bar/internal/analysis"
)

var (
	version  = "dev"
	revision = "none"
)

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:  "divebar",
		Usage: "Run a dive bar full of LLM regulars who take turns talking",
		Description: `divebar schedules who speaks next, generates each line through an LLM
backend and rejects lines that repeat what the bar has already heard.
Every session is logged to sqlite so the repetition can be analyzed later.`,
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to divebar.json (default: ./divebar.json, then ~/.config/divebar/divebar.json)",
			},
			&cli.StringFlag{
				Name:    "agents",
				Aliases: []string{"a"},
				Usage:   "Path to the roster file (agents.json or agents.yaml)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the sqlite database (overrides database.path)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "init",
				Usage:   "Write an example divebar.json and agents.json to the current directory",
				Action:  handleInit,
				Aliases: []string{"i"},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Overwrite existing files",
					},
				},
			},
			{
				Name:   "run",
				Usage:  "Open the bar and let the regulars talk",
				Action: handleRun,
				Description: `Controls while running (type and press enter):
  p   pause or resume
  +   speed up
  -   slow down
  q   last call
Anything else is said to the bar by "A stranger".`,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "turns",
						Aliases: []string{"n"},
						Usage:   "Stop after this many persona turns (0 runs until quit)",
					},
					&cli.StringFlag{
						Name:  "speed",
						Usage: "Playback speed multiplier (0.25-4.0)",
						Value: "1.0",
					},
					&cli.IntFlag{
						Name:  "seed",
						Usage: "Random seed for speaker selection (0 seeds from the clock)",
					},
					&cli.BoolFlag{
						Name:  "no-db",
						Usage: "Do not record the session; learned patterns stay in memory",
					},
					&cli.BoolFlag{
						Name:  "no-open",
						Usage: "Skip the bartender's opening line",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve prometheus metrics on this address, e.g. :9090",
					},
					&cli.BoolFlag{
						Name:  "voice",
						Usage: "Narrate finalized turns through the configured voice providers",
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Hide selection reasons and diversity scores",
					},
				},
			},
			{
				Name:    "personas",
				Usage:   "Manage the roster",
				Aliases: []string{"p"},
				Action:  handlePersonasList,
				Commands: []*cli.Command{
					{
						Name:    "list",
						Usage:   "List the regulars",
						Aliases: []string{"ls"},
						Action:  handlePersonasList,
					},
					{
						Name:      "show",
						Usage:     "Show a persona and its system prompt",
						Action:    handlePersonasShow,
						ArgsUsage: "<persona>",
					},
					{
						Name:   "edit",
						Usage:  "Open the roster file in $EDITOR",
						Action: handlePersonasEdit,
					},
				},
			},
			{
				Name:  "config",
				Usage: "Inspect divebar.json",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective configuration with secrets masked",
						Action: handleConfigShow,
					},
					{
						Name:   "validate",
						Usage:  "Validate the configuration and roster",
						Action: handleConfigValidate,
					},
				},
			},
			{
				Name:  "patterns",
				Usage: "Inspect and maintain learned overused phrasing",
				Commands: []*cli.Command{
					{
						Name:    "list",
						Usage:   "List learned patterns, most hits first",
						Aliases: []string{"ls"},
						Action:  handlePatternsList,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum patterns to show",
								Value: 20,
							},
						},
					},
					{
						Name:   "prune",
						Usage:  "Delete rarely seen patterns that have gone stale",
						Action: handlePatternsPrune,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "min-hits",
								Usage: "Keep patterns with at least this many hits (default: patterns.prune_min_hits)",
							},
							&cli.IntFlag{
								Name:  "days",
								Usage: "Only delete patterns not seen for this many days (default: patterns.prune_after_days)",
							},
						},
					},
				},
			},
			{
				Name:      "analyze",
				Usage:     "Report repetition across recorded sessions",
				Action:    handleAnalyze,
				ArgsUsage: fmt.Sprintf("[%s]", strings.Join(analysis.Sections, "|")),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "session",
						Aliases: []string{"s"},
						Usage:   "Limit to sessions whose id starts with this prefix",
					},
				},
			},
			{
				Name:      "voice",
				Usage:     "Speak a line in a persona's voice, or list provider voices",
				Action:    handleVoice,
				ArgsUsage: "[text]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "persona",
						Usage: "Speak with this persona's voice settings",
					},
					&cli.StringFlag{
						Name:  "provider",
						Usage: "TTS provider: openai, polly, gcp (default: voice.default_provider)",
					},
					&cli.BoolFlag{
						Name:  "list-voices",
						Usage: "List available voices for the selected provider",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Save audio to this file instead of playing it",
					},
				},
			},
		},
		Before: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			if c.Bool("no-color") {
				color.NoColor = true
			}
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}
