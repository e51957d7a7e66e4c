package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	MinSpeed  = 0.25
	MaxSpeed  = 4.0
	SpeedStep = 0.25
)

// CommandKind identifies a control command
type CommandKind int

const (
	CmdTogglePause CommandKind = iota
	CmdSpeedUp
	CmdSlowDown
	CmdStranger
	CmdQuit
)

// Command is a control message applied between ticks
type Command struct {
	Kind CommandKind
	Text string
}

// RunOptions controls the loop
type RunOptions struct {
	TickInterval time.Duration
	Speed        float64
	MaxTurns     int // persona turns to produce; 0 runs until cancelled
	Open         bool
}

// Run ticks until the context is cancelled, a quit command arrives or
// MaxTurns persona turns have been produced. Commands are only read between
// ticks, so an in-flight generation always completes first. Tick failures
// are logged and the next tick proceeds.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions, cmds <-chan Command) error {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 2 * time.Second
	}
	speed := clampSpeed(opts.Speed)

	if opts.Open && len(o.state.Turns) == 0 {
		o.Open(ctx)
	}

	produced := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-cmds:
			if !ok {
				cmds = nil
				continue
			}
			switch cmd.Kind {
			case CmdTogglePause:
				o.state.Paused = !o.state.Paused
				log.Info().Bool("paused", o.state.Paused).Msg("Pause toggled")
			case CmdSpeedUp:
				speed = clampSpeed(speed + SpeedStep)
				log.Info().Float64("speed", speed).Msg("Speed changed")
			case CmdSlowDown:
				speed = clampSpeed(speed - SpeedStep)
				log.Info().Float64("speed", speed).Msg("Speed changed")
			case CmdStranger:
				o.Inject(cmd.Text)
			case CmdQuit:
				log.Info().Msg("Last call")
				return nil
			}

		case <-timer.C:
			if !o.state.Paused {
				turn, err := o.Tick(ctx)
				switch {
				case err == nil:
					produced++
					log.Debug().Int("seq", turn.Seq).Str("persona", turn.Speaker).Msg("Turn finalized")
				case ctx.Err() != nil:
					return ctx.Err()
				case errors.Is(err, ErrDegenerate):
					log.Warn().Err(err).Msg("Tick produced nothing usable")
				default:
					log.Error().Err(err).Msg("Tick failed")
				}
				if opts.MaxTurns > 0 && produced >= opts.MaxTurns {
					return nil
				}
			}
			timer.Reset(time.Duration(float64(opts.TickInterval) / speed))
		}
	}
}

func clampSpeed(s float64) float64 {
	if s <= 0 {
		return 1
	}
	return math.Max(MinSpeed, math.Min(MaxSpeed, s))
}
