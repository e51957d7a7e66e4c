// Package orchestrator runs the bar: each tick picks a speaker, generates a
// line, screens it for repetition, regenerates a bounded number of times and
// finalizes exactly one turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/diversity"
	"github.com/robertdcurrier/dive-bar/internal/generation"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/schedule"
	"github.com/robertdcurrier/dive-bar/internal/textfeat"
	"github.com/robertdcurrier/dive-bar/internal/tokenizer"
	"github.com/robertdcurrier/dive-bar/internal/topic"
)

var (
	// ErrGenerationFailed wraps a backend failure that aborted a tick
	ErrGenerationFailed = errors.New("generation failed")
	// ErrDegenerate means every attempt in a tick came back empty
	ErrDegenerate = errors.New("no usable response")
	// ErrNoSpeaker means the scheduler had nobody to pick
	ErrNoSpeaker = errors.New("no speaker available")
)

// Config controls the tick loop
type Config struct {
	BarName          string
	MaxRetries       int
	RefreshInterval  int
	SuppressionLimit int
	ScriptLines      int
	CharsPerToken    int
	NCtx             int
	Params           generation.Params
	OpenerCategories []string
	OpenerFallback   string
	OpenerMaxTokens  int
}

// DefaultConfig returns the stock orchestration settings
func DefaultConfig() Config {
	return Config{
		BarName:          "The Rusty Nail",
		MaxRetries:       3,
		RefreshInterval:  20,
		SuppressionLimit: 8,
		ScriptLines:      10,
		CharsPerToken:    4,
		NCtx:             4096,
		Params:           generation.DefaultParams(),
		OpenerCategories: DefaultOpenerCategories,
		OpenerFallback:   DefaultOpenerFallback,
		OpenerMaxTokens:  30,
	}
}

// Deps are the collaborators the orchestrator drives. Patterns and Sink may
// be nil.
type Deps struct {
	Roster    persona.Roster
	Generator generation.Generator
	Scheduler *schedule.Scheduler
	Scorer    *diversity.Scorer
	Topics    *topic.Controller
	Patterns  patterns.Store
	Sink      Sink
	Rand      *rand.Rand
	Tokens    tokenizer.Counter
}

// Orchestrator owns the conversation state. It is not safe for concurrent
// use: Tick, Open, Inject and Run must be called from one goroutine.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	state *conversation.State

	prompts       map[string]string
	lastRefreshAt int
}

// New creates an orchestrator with fresh conversation state
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.SuppressionLimit <= 0 {
		cfg.SuppressionLimit = def.SuppressionLimit
	}
	if cfg.ScriptLines <= 0 {
		cfg.ScriptLines = def.ScriptLines
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = def.CharsPerToken
	}
	if cfg.NCtx <= 0 {
		cfg.NCtx = def.NCtx
	}
	if len(cfg.OpenerCategories) == 0 {
		cfg.OpenerCategories = def.OpenerCategories
	}
	if cfg.OpenerFallback == "" {
		cfg.OpenerFallback = def.OpenerFallback
	}
	if cfg.OpenerMaxTokens <= 0 {
		cfg.OpenerMaxTokens = def.OpenerMaxTokens
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.New(schedule.DefaultConfig())
	}
	if deps.Scorer == nil {
		deps.Scorer = diversity.NewScorer(diversity.DefaultConfig())
	}
	if deps.Topics == nil {
		deps.Topics = topic.New(topic.DefaultConfig())
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Tokens == nil {
		deps.Tokens = tokenizer.NewEstimator(cfg.CharsPerToken)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		state:   conversation.NewState(deps.Roster.Names()),
		prompts: make(map[string]string),
	}
}

// State exposes the conversation state for read-only inspection between ticks
func (o *Orchestrator) State() *conversation.State {
	return o.state
}

// candidate is one generated line and its evaluation
type candidate struct {
	text   string
	result diversity.Result
	usage  generation.Usage
}

// Tick runs one SELECT, GENERATE, EVALUATE, REGENERATE, FINALIZE cycle. On
// error the conversation state is left exactly as it was.
func (o *Orchestrator) Tick(ctx context.Context) (conversation.Turn, error) {
	var last *conversation.Turn
	if t, ok := o.state.Last(); ok {
		last = &t
	}

	sel := o.deps.Scheduler.SelectNext(o.deps.Roster, o.state, last)
	speaker, ok := o.deps.Roster.Find(sel.Name)
	if !ok {
		return conversation.Turn{}, ErrNoSpeaker
	}
	log.Debug().Str("persona", speaker.Name).Str("reason", sel.Reason).Msg("Speaker selected")

	params := o.paramsFor(speaker)

	var subject, directive string
	if o.deps.Topics.ShouldRotate(o.state) {
		s, err := o.deps.Topics.NextSubject(ctx, o.deps.Generator, o.state, params)
		if err != nil {
			return conversation.Turn{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		if s != "" {
			subject = s
			directive = topic.Directive(subject, speaker.Name)
		}
	}

	system := o.systemPrompt(ctx, speaker)
	user := o.turnPrompt(speaker, system, last, directive)
	params.Stop = StopSequences(o.deps.Roster, speaker.Name)

	start := time.Now()
	final, rejected, err := o.generate(ctx, speaker, system, user, params)
	if err != nil {
		return conversation.Turn{}, err
	}

	var usage generation.Usage
	for _, c := range rejected {
		usage.PromptTokens += c.usage.PromptTokens
		usage.CompletionTokens += c.usage.CompletionTokens
	}
	usage.PromptTokens += final.usage.PromptTokens
	usage.CompletionTokens += final.usage.CompletionTokens

	turn := o.state.Append(conversation.Turn{
		Speaker: speaker.Name,
		Text:    final.text,
		Kind:    conversation.KindPersona,
		Meta: conversation.Meta{
			Attempts:         len(rejected),
			DiversityScore:   final.result.Score,
			Problems:         final.result.Problems,
			Reason:           sel.Reason,
			Subject:          subject,
			Directive:        directive,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			Latency:          time.Since(start),
		},
	})
	o.finalize(ctx, turn, subject, rejected)
	return turn, nil
}

// generate produces the accepted candidate plus every rejected one. The
// final regeneration is accepted whatever its score.
func (o *Orchestrator) generate(ctx context.Context, speaker persona.Persona, system, user string, params generation.Params) (candidate, []candidate, error) {
	res, err := o.deps.Generator.Generate(ctx, generation.Request{System: system, User: user, Params: params})
	if err != nil {
		return candidate{}, nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	current := o.evaluate(speaker, res)
	var rejected []candidate
	var usable *candidate
	for {
		if !current.result.Degenerate {
			c := current
			usable = &c
		}
		if current.result.Passed || len(rejected) >= o.cfg.MaxRetries {
			break
		}

		rejected = append(rejected, current)
		attempt := len(rejected)
		log.Info().
			Str("persona", speaker.Name).
			Int("attempt", attempt).
			Float64("score", current.result.Score).
			Strs("problems", current.result.Problems).
			Msg("Regenerating response")

		prompt := user
		if !current.result.Degenerate {
			prompt = RephrasePrompt(current.text, current.result.Problems)
		}
		res, err = o.deps.Generator.Generate(ctx, generation.Request{System: system, User: prompt, Params: params})
		if err != nil {
			if usable == nil {
				return candidate{}, nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
			}
			log.Warn().Err(err).Str("persona", speaker.Name).Int("attempt", attempt).Msg("Regeneration failed, keeping last usable response")
			return *usable, dropCandidate(rejected, usable.text), nil
		}
		current = o.evaluate(speaker, res)
	}

	if current.result.Degenerate {
		if usable == nil {
			return candidate{}, nil, ErrDegenerate
		}
		log.Warn().Str("persona", speaker.Name).Msg("Final attempt was empty, keeping last usable response")
		return *usable, dropCandidate(rejected, usable.text), nil
	}
	return current, rejected, nil
}

// dropCandidate removes the entry whose text was promoted to the accepted line
func dropCandidate(rejected []candidate, text string) []candidate {
	for i := len(rejected) - 1; i >= 0; i-- {
		if rejected[i].text == text {
			return append(rejected[:i:i], rejected[i+1:]...)
		}
	}
	return rejected
}

func (o *Orchestrator) evaluate(speaker persona.Persona, res generation.Result) candidate {
	text := Clean(res.Text)
	window := o.state.Window(o.deps.Scorer.Config().Window)

	var result diversity.Result
	if o.deps.Scorer.Config().Enabled {
		result = o.deps.Scorer.Score(text, window, speaker.Name)
	} else if strings.TrimSpace(text) == "" || !textfeat.HasLetters(text) {
		result = diversity.Result{Degenerate: true, Problems: []string{diversity.ProblemEmpty}}
	} else {
		result = diversity.Result{Score: 1, Passed: true}
	}
	return candidate{text: text, result: result, usage: res.Usage}
}

// finalize applies the post-append bookkeeping and emits events
func (o *Orchestrator) finalize(ctx context.Context, turn conversation.Turn, subject string, rejected []candidate) {
	o.deps.Topics.Advance(o.state, subject != "")
	if subject != "" {
		o.deps.Topics.Remember(o.state, subject)
	}

	var upserts []PatternUpsert
	for _, c := range rejected {
		upserts = append(upserts, o.learn(ctx, turn, c)...)
	}

	if n := o.state.PersonaTurns(); n-o.lastRefreshAt >= o.cfg.RefreshInterval {
		o.refreshPrompts(ctx)
		o.lastRefreshAt = n
	}

	for i, c := range rejected {
		o.deps.Sink.Regenerated(RegenerationRecord{
			Seq:      turn.Seq,
			Persona:  turn.Speaker,
			Attempt:  i + 1,
			Rejected: c.text,
			Score:    c.result.Score,
			Problems: c.result.Problems,
			At:       turn.At,
		})
	}
	for _, up := range upserts {
		o.deps.Sink.PatternRecorded(up)
	}
	o.deps.Sink.TurnFinalized(turn)
}

// learn records the phrasing that got a candidate rejected. Store failures
// are logged and skipped.
func (o *Orchestrator) learn(ctx context.Context, turn conversation.Turn, c candidate) []PatternUpsert {
	if o.deps.Patterns == nil || c.result.Degenerate {
		return nil
	}

	type entry struct {
		text     string
		category patterns.Category
	}
	var entries []entry
	for _, g := range c.result.RepeatedNgrams {
		entries = append(entries, entry{g, patterns.CategoryRepeatedPhrase})
	}
	if c.result.Opener != "" {
		entries = append(entries, entry{c.result.Opener, patterns.CategoryFormulaicOpener})
	}

	var out []PatternUpsert
	for _, e := range entries {
		p, err := o.deps.Patterns.Record(ctx, e.text, e.category, turn.Speaker)
		if err != nil {
			log.Warn().Err(err).Str("pattern", e.text).Msg("Failed to record pattern")
			continue
		}
		out = append(out, PatternUpsert{Seq: turn.Seq, Persona: turn.Speaker, Pattern: p})
	}
	return out
}

func (o *Orchestrator) paramsFor(p persona.Persona) generation.Params {
	params := o.cfg.Params
	params.Stop = nil
	if p.ModelOverride != "" {
		params.Model = p.ModelOverride
	}
	return params
}

// systemPrompt returns the cached prompt, building it on first use
func (o *Orchestrator) systemPrompt(ctx context.Context, p persona.Persona) string {
	if prompt, ok := o.prompts[p.Name]; ok {
		return prompt
	}
	prompt := persona.BuildSystemPrompt(p, o.cfg.BarName, o.suppressions(ctx, p.Name))
	o.prompts[p.Name] = prompt
	return prompt
}

func (o *Orchestrator) refreshPrompts(ctx context.Context) {
	for _, p := range o.deps.Roster {
		o.prompts[p.Name] = persona.BuildSystemPrompt(p, o.cfg.BarName, o.suppressions(ctx, p.Name))
	}
	log.Debug().Int("personas", len(o.deps.Roster)).Msg("Refreshed system prompts")
}

func (o *Orchestrator) suppressions(ctx context.Context, name string) []string {
	if o.deps.Patterns == nil {
		return nil
	}
	ps, err := o.deps.Patterns.Suppressions(ctx, name, o.cfg.SuppressionLimit)
	if err != nil {
		log.Warn().Err(err).Str("persona", name).Msg("Pattern store unavailable, omitting suppressions")
		return nil
	}
	return patterns.Texts(ps)
}

func (o *Orchestrator) turnPrompt(p persona.Persona, system string, last *conversation.Turn, directive string) string {
	budget := o.cfg.NCtx - o.deps.Tokens.CountTokens(system) - o.cfg.Params.MaxTokens - 100
	script := Script(o.state.Turns, o.cfg.ScriptLines, budget, o.deps.Tokens)
	lastSpeaker := ""
	if last != nil {
		lastSpeaker = last.Speaker
	}
	return TurnPrompt(script, p.Name, lastSpeaker, directive)
}

// Open seeds the conversation with a bartender line on a random category.
// Backend failures fall back to a fixed line.
func (o *Orchestrator) Open(ctx context.Context) conversation.Turn {
	category := o.cfg.OpenerCategories[o.deps.Rand.IntN(len(o.cfg.OpenerCategories))]
	system, user := openerPrompts(category)

	params := o.cfg.Params
	params.MaxTokens = o.cfg.OpenerMaxTokens
	params.Stop = []string{"\n"}

	text := o.cfg.OpenerFallback
	res, err := o.deps.Generator.Generate(ctx, generation.Request{System: system, User: user, Params: params})
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Opener generation failed, using fallback")
	default:
		if cleaned := trimQuotes(strings.TrimSpace(res.Text)); textfeat.HasLetters(cleaned) {
			text = cleaned
		}
	}

	turn := o.state.Append(conversation.Turn{
		Speaker: conversation.BartenderName,
		Text:    text,
		Kind:    conversation.KindBartender,
		Meta:    conversation.Meta{Subject: category},
	})
	log.Info().Str("category", category).Msg("Bar is open")
	o.deps.Sink.TurnFinalized(turn)
	return turn
}

// Inject adds a line from a stranger walking up to the bar
func (o *Orchestrator) Inject(text string) (conversation.Turn, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Turn{}, false
	}
	turn := o.state.Append(conversation.Turn{
		Speaker: conversation.StrangerName,
		Text:    text,
		Kind:    conversation.KindStranger,
	})
	o.deps.Sink.TurnFinalized(turn)
	return turn, true
}
