package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/robertdcurrier/dive-bar/internal/analysis"
	"github.com/robertdcurrier/dive-bar/internal/store"
)

func handleAnalyze(ctx context.Context, c *cli.Command) error {
	section := c.Args().Get(0)
	if section == "" {
		section = analysis.SectionAll
	}

	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(file)
	if err != nil {
		return err
	}
	defer store.Close(db)

	rep, err := analysis.Build(ctx, db, section, c.String("session"))
	if err != nil {
		return err
	}
	analysis.NewRenderer(os.Stdout, file.Display.NoColor).Render(rep)
	return nil
}
