package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/robertdcurrier/dive-bar/internal/config"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
	"github.com/robertdcurrier/dive-bar/internal/store"
)

// openDatabase opens the configured database for the maintenance commands
func openDatabase(file config.File) (*gorm.DB, error) {
	if _, err := os.Stat(file.Database.Path); err != nil {
		return nil, fmt.Errorf("no database at %s, run 'divebar run' first: %w", file.Database.Path, err)
	}
	return store.Open(file.Database.Path)
}

func handlePatternsList(ctx context.Context, c *cli.Command) error {
	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(file)
	if err != nil {
		return err
	}
	defer store.Close(db)

	s, err := patterns.NewGormStore(db)
	if err != nil {
		return err
	}
	top, err := s.Top(ctx, int(c.Int("limit")))
	if err != nil {
		return err
	}

	if len(top) == 0 {
		fmt.Println("No patterns learned yet.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HITS\tCATEGORY\tLAST SEEN\tPERSONAS\tTEXT")
	for _, p := range top {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			p.Hits, p.Category, p.LastSeen.Local().Format("2006-01-02 15:04"), strings.Join(p.Personas, ", "), p.Text)
	}
	return tw.Flush()
}

func handlePatternsPrune(ctx context.Context, c *cli.Command) error {
	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}

	minHits := file.Patterns.PruneMinHits
	if c.IsSet("min-hits") {
		minHits = int(c.Int("min-hits"))
	}
	days := file.Patterns.PruneAfterDays
	if c.IsSet("days") {
		days = int(c.Int("days"))
	}
	if minHits < 1 || days < 0 {
		return fmt.Errorf("--min-hits must be at least 1 and --days cannot be negative")
	}

	db, err := openDatabase(file)
	if err != nil {
		return err
	}
	defer store.Close(db)

	s, err := patterns.NewGormStore(db)
	if err != nil {
		return err
	}
	olderThan := time.Now().AddDate(0, 0, -days)
	removed, err := s.Prune(ctx, minHits, olderThan)
	if err != nil {
		return err
	}

	log.Debug().Int("min_hits", minHits).Time("older_than", olderThan).Msg("Pruned patterns")
	fmt.Printf("Removed %d pattern(s) with fewer than %d hits not seen for %d days\n", removed, minHits, days)
	return nil
}
