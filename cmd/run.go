package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/robertdcurrier/dive-bar/internal/config"
	"github.com/robertdcurrier/dive-bar/internal/display"
	"github.com/robertdcurrier/dive-bar/internal/diversity"
	"github.com/robertdcurrier/dive-bar/internal/generation"
	"github.com/robertdcurrier/dive-bar/internal/metrics"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/schedule"
	"github.com/robertdcurrier/dive-bar/internal/store"
	"github.com/robertdcurrier/dive-bar/internal/tokenizer"
	"github.com/robertdcurrier/dive-bar/internal/topic"
	"github.com/robertdcurrier/dive-bar/internal/voice"
	"github.com/robertdcurrier/dive-bar/internal/voice/provider"
)

const shutdownTimeout = 5 * time.Second

func handleRun(ctx context.Context, c *cli.Command) error {
	file, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	speed, err := applyRunFlags(&file, c)
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}

	roster, _, err := loadRoster(c)
	if err != nil {
		return err
	}
	if len(roster) > file.Bar.MaxAgents {
		log.Info().Int("roster", len(roster)).Int("max_agents", file.Bar.MaxAgents).Msg("Roster truncated")
		roster = roster.Limit(file.Bar.MaxAgents)
	}

	gen, err := generation.NewFromConfig(file.LLM)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks orchestrator.Fanout
	sinks = append(sinks, display.NewConsole(os.Stdout, roster.Names(), file.Display))

	var recorder *store.Recorder
	db := openRunDatabase(file)
	if db != nil {
		defer func() {
			if err := store.Close(db); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		}()

		// writes must outlive ctx so the last turns and the session end land
		recorder = store.NewRecorder(context.WithoutCancel(ctx), db, roster, store.RecorderOptions{
			Model:  file.LLM.Model,
			Params: file.LLM.Params,
		})
		masked, err := json.Marshal(file.MaskSecrets())
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if _, err := recorder.StartSession(file.Bar.Name, masked); err != nil {
			log.Warn().Err(err).Msg("Session not recorded")
			recorder = nil
		} else {
			defer func() {
				if err := recorder.EndSession(); err != nil {
					log.Warn().Err(err).Msg("Failed to end session")
				}
			}()
			sinks = append(sinks, recorder)
		}
	}

	patternStore := openPatterns(file, db)

	var collector *metrics.Collector
	if file.Metrics.Addr != "" {
		collector = metrics.NewCollector(file.Metrics.Namespace)
		sinks = append(sinks, collector)
	}

	narrator := newNarrator(file, roster)
	if narrator != nil {
		sinks = append(sinks, narrator)
	}

	orch := orchestrator.New(file.Orchestrator(), orchestrator.Deps{
		Roster:    roster,
		Generator: gen,
		Scheduler: schedule.New(file.Scheduler),
		Scorer:    diversity.NewScorer(file.Diversity),
		Topics:    topic.New(file.Topic),
		Patterns:  patternStore,
		Sink:      sinks,
		Rand:      seededRand(file.Scheduler.Seed),
		Tokens:    tokenizer.ForModel(file.LLM.Model, tokenizer.DefaultCharsPerToken),
	})

	opts := orchestrator.RunOptions{
		TickInterval: time.Duration(file.Bar.TickInterval),
		Speed:        speed,
		MaxTurns:     int(c.Int("turns")),
		Open:         file.Bar.Opener && !c.Bool("no-open"),
	}

	log.Info().
		Str("bar", file.Bar.Name).
		Strs("regulars", roster.Names()).
		Str("backend", gen.Name()).
		Msg("Bar is open")

	cmds := make(chan orchestrator.Command)
	go readCommands(ctx, os.Stdin, cmds)

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		defer close(loopDone)
		if narrator != nil {
			defer narrator.Close()
		}
		err := orch.Run(gctx, opts, cmds)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if narrator != nil {
		// ctx rather than gctx: queued lines are still spoken after last call
		g.Go(func() error { return narrator.Run(ctx) })
	}

	if collector != nil {
		srv := metricsServer(file.Metrics.Addr, collector)
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-loopDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	event := log.Info().Int("turns", len(orch.State().Turns))
	if recorder != nil {
		event = event.Str("session", recorder.SessionID())
	}
	if narrator != nil {
		event = event.Int("narration_dropped", narrator.Dropped())
	}
	event.Msg("Bar closed")
	return err
}

// applyRunFlags overrides file values with the run command's flags and
// returns the starting speed
func applyRunFlags(file *config.File, c *cli.Command) (float64, error) {
	speed, err := strconv.ParseFloat(c.String("speed"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --speed %q: %w", c.String("speed"), err)
	}
	if speed < orchestrator.MinSpeed || speed > orchestrator.MaxSpeed {
		return 0, fmt.Errorf("--speed must be between %.2f and %.2f", orchestrator.MinSpeed, orchestrator.MaxSpeed)
	}
	if c.Int("turns") < 0 {
		return 0, fmt.Errorf("--turns cannot be negative")
	}

	if c.IsSet("seed") {
		file.Scheduler.Seed = uint64(c.Int("seed"))
	}
	if c.Bool("no-db") {
		file.Database.Enabled = false
	}
	if addr := c.String("metrics-addr"); addr != "" {
		file.Metrics.Addr = addr
	}
	if c.Bool("voice") {
		file.Voice.Enabled = true
	}
	if c.Bool("quiet") {
		file.Display.ShowMeta = false
	}
	return speed, nil
}

// openRunDatabase returns nil when persistence is off or the database cannot
// be opened. The bar still opens without it.
func openRunDatabase(file config.File) *gorm.DB {
	if !file.Database.Enabled {
		return nil
	}
	db, err := store.Open(file.Database.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", file.Database.Path).Msg("Database unavailable, running without persistence")
		return nil
	}
	return db
}

// openPatterns picks the durable store when a database is open and an
// in-memory one otherwise, including when the durable store cannot be
// reached. A nil store disables suppression.
func openPatterns(file config.File, db *gorm.DB) patterns.Store {
	if !file.Patterns.Enabled {
		return nil
	}
	if db == nil {
		return patterns.NewMemoryStore()
	}
	s, err := patterns.NewGormStore(db)
	if err != nil {
		log.Warn().Err(err).Msg("Pattern store unavailable, learning in memory only")
		return patterns.NewMemoryStore()
	}
	return s
}

// newNarrator returns nil when narration is off or cannot play audio
func newNarrator(file config.File, roster persona.Roster) *voice.Narrator {
	if !file.Voice.Enabled {
		return nil
	}
	player, err := voice.DetectPlayer(file.Voice.Player)
	if err != nil {
		log.Warn().Err(err).Msg("Narration disabled")
		return nil
	}
	return voice.NewNarrator(file.Voice, roster, provider.NewFactory().Create, player)
}

func metricsServer(addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}
}

// seededRand makes the orchestrator's own draws repeatable alongside the
// scheduler's. Zero leaves both seeded from the clock.
func seededRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, seed>>1))
}
