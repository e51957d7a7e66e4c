package orchestrator

import (
	"time"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
)

// RegenerationRecord describes one rejected candidate
type RegenerationRecord struct {
	Seq      int // sequence number of the turn that was finally accepted
	Persona  string
	Attempt  int // 1-based index of the regeneration this rejection triggered
	Rejected string
	Score    float64
	Problems []string
	At       time.Time
}

// PatternUpsert is a pattern store write caused by a rejection
type PatternUpsert struct {
	Seq     int
	Persona string
	Pattern patterns.Pattern
}

// Sink receives finalized events. The orchestrator never reads a sink back,
// and sinks must not block for long: they run on the tick path.
type Sink interface {
	TurnFinalized(turn conversation.Turn)
	Regenerated(rec RegenerationRecord)
	PatternRecorded(up PatternUpsert)
}

// Fanout forwards every event to each sink in order
type Fanout []Sink

func (f Fanout) TurnFinalized(turn conversation.Turn) {
	for _, s := range f {
		s.TurnFinalized(turn)
	}
}

func (f Fanout) Regenerated(rec RegenerationRecord) {
	for _, s := range f {
		s.Regenerated(rec)
	}
}

func (f Fanout) PatternRecorded(up PatternUpsert) {
	for _, s := range f {
		s.PatternRecorded(up)
	}
}

// NopSink discards events
type NopSink struct{}

func (NopSink) TurnFinalized(conversation.Turn) {}
func (NopSink) Regenerated(RegenerationRecord) {}
func (NopSink) PatternRecorded(PatternUpsert) {}
