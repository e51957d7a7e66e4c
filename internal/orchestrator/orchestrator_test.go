package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/generation"
	"github.com/robertdcurrier/dive-bar/internal/patterns"
	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/schedule"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, req generation.Request) (generation.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(generation.Result), args.Error(1)
}

type funcGenerator func(req generation.Request) (generation.Result, error)

func (f funcGenerator) Name() string { return "func" }

func (f funcGenerator) Generate(ctx context.Context, req generation.Request) (generation.Result, error) {
	return f(req)
}

type recordingSink struct {
	mu      sync.Mutex
	turns   []conversation.Turn
	regens  []RegenerationRecord
	upserts []PatternUpsert
}

func (s *recordingSink) TurnFinalized(t conversation.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

func (s *recordingSink) Regenerated(r RegenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regens = append(s.regens, r)
}

func (s *recordingSink) PatternRecorded(u PatternUpsert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, u)
}

func testRoster() persona.Roster {
	return persona.Roster{
		{Name: "Mack", Chattiness: 0.6, Responsiveness: 0.6, Drink: "Pabst"},
		{Name: "Rosa", Chattiness: 0.5, Responsiveness: 0.9, Drink: "Whiskey"},
	}
}

func newTestOrchestrator(gen generation.Generator, roster persona.Roster, store patterns.Store, sink Sink) *Orchestrator {
	return New(DefaultConfig(), Deps{
		Roster:    roster,
		Generator: gen,
		Scheduler: schedule.NewWithRand(schedule.DefaultConfig(), rand.New(rand.NewPCG(1, 2))),
		Patterns:  store,
		Sink:      sink,
		Rand:      rand.New(rand.NewPCG(3, 4)),
	})
}

func line(text string) generation.Result {
	return generation.Result{Text: text, Usage: generation.Usage{PromptTokens: 10, CompletionTokens: 5}}
}

func TestTick_AcceptsFreshLine(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generation.Request) bool {
		return strings.Contains(req.System, "dive bar called The Rusty Nail") &&
			len(req.Params.Stop) == 4
	})).Return(line("Rosa: Evening, everybody."), nil).Once()

	sink := &recordingSink{}
	o := newTestOrchestrator(gen, testRoster(), nil, sink)

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	gen.AssertExpectations(t)

	assert.Equal(t, "Evening, everybody.", turn.Text)
	assert.Equal(t, 0, turn.Seq)
	assert.Equal(t, 0, turn.Meta.Attempts)
	assert.Equal(t, schedule.ReasonWeighted, turn.Meta.Reason)
	assert.Equal(t, 10, turn.Meta.PromptTokens)
	assert.Equal(t, 0, o.State().TurnsSince[turn.Speaker])
	assert.Equal(t, 1, o.State().SubjectCount)
	require.Len(t, sink.turns, 1)
	assert.Empty(t, sink.regens)
}

func TestTick_RegeneratesRepeatedLine(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(line("the bar was quiet tonight, again"), nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generation.Request) bool {
		return strings.HasPrefix(req.User, `You just said: "the bar was quiet tonight, again"`) &&
			strings.Contains(req.User, "- repeated phrases:")
	})).Return(line("Somebody stole the dartboard last Tuesday."), nil).Once()

	store := patterns.NewMemoryStore()
	sink := &recordingSink{}
	o := newTestOrchestrator(gen, testRoster(), store, sink)
	o.Inject("the bar was quiet tonight")

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	gen.AssertExpectations(t)

	assert.Equal(t, "Somebody stole the dartboard last Tuesday.", turn.Text)
	assert.Equal(t, 1, turn.Meta.Attempts)
	assert.Equal(t, 20, turn.Meta.PromptTokens, "usage sums across attempts")

	require.Len(t, sink.regens, 1)
	assert.Equal(t, "the bar was quiet tonight, again", sink.regens[0].Rejected)
	assert.Equal(t, 1, sink.regens[0].Attempt)
	assert.Equal(t, turn.Seq, sink.regens[0].Seq)
	assert.NotEmpty(t, sink.upserts)

	top, err := store.Top(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, patterns.Texts(top), "the bar was quiet tonight")
	for _, p := range top {
		assert.Equal(t, []string{turn.Speaker}, p.Personas)
	}
}

func TestTick_LastAttemptAlwaysAccepted(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(line("the bar was quiet tonight"), nil).Times(4)

	sink := &recordingSink{}
	o := newTestOrchestrator(gen, testRoster(), patterns.NewMemoryStore(), sink)
	o.Inject("the bar was quiet tonight")

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	gen.AssertExpectations(t)

	assert.Equal(t, "the bar was quiet tonight", turn.Text)
	assert.Equal(t, 3, turn.Meta.Attempts)
	assert.Less(t, turn.Meta.DiversityScore, 0.6)
	assert.Len(t, sink.regens, 3)
}

func TestTick_GenerationFailureLeavesStateUntouched(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(generation.Result{}, &generation.Error{Backend: "mock", Status: 529, Message: "overloaded", Retryable: true}).Once()

	sink := &recordingSink{}
	o := newTestOrchestrator(gen, testRoster(), nil, sink)
	o.Inject("anybody here?")
	before := snapshot(o.State())
	sink.turns = nil

	_, err := o.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, generation.ErrTransient)

	assert.Equal(t, before, snapshot(o.State()))
	assert.Empty(t, sink.turns)
}

func TestTick_AllEmptyIsDegenerate(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(line("..."), nil).Times(4)

	o := newTestOrchestrator(gen, testRoster(), nil, nil)
	before := snapshot(o.State())

	_, err := o.Tick(context.Background())
	assert.ErrorIs(t, err, ErrDegenerate)
	assert.Equal(t, before, snapshot(o.State()))
	gen.AssertExpectations(t)
}

func TestTick_EmptyThenUsable(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(line(""), nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generation.Request) bool {
		return strings.Contains(req.User, "Now reply as")
	})).Return(line("My landlord finally fixed the sink."), nil).Once()

	o := newTestOrchestrator(gen, testRoster(), nil, nil)

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "My landlord finally fixed the sink.", turn.Text)
	assert.Equal(t, 1, turn.Meta.Attempts)
}

func TestTick_RegenerationFailureKeepsUsable(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(line("the bar was quiet tonight, again"), nil).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return(generation.Result{}, errors.New("connection reset")).Once()

	sink := &recordingSink{}
	o := newTestOrchestrator(gen, testRoster(), nil, sink)
	o.Inject("the bar was quiet tonight")

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "the bar was quiet tonight, again", turn.Text)
	assert.Equal(t, 0, turn.Meta.Attempts)
	assert.Empty(t, sink.regens)
	assert.Len(t, o.State().Turns, 2)
}

func TestTick_TopicRotation(t *testing.T) {
	var users []string
	gen := funcGenerator(func(req generation.Request) (generation.Result, error) {
		if req.Params.MaxTokens == 20 {
			assert.Equal(t, []string{"\n"}, req.Params.Stop)
			return line(`"Worst tattoos."`), nil
		}
		users = append(users, req.User)
		return line("I got a tattoo of a carburetor once."), nil
	})

	o := newTestOrchestrator(gen, testRoster(), nil, nil)
	o.State().SubjectCount = 3

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Worst tattoos", turn.Meta.Subject)
	require.Len(t, users, 1)
	assert.Contains(t, users[0], turn.Speaker+" completely drops the old subject and brings up Worst tattoos.")
	assert.Equal(t, 0, o.State().SubjectCount)
	assert.Equal(t, []string{"Worst tattoos"}, o.State().RecentSubjects)
}

func TestTick_NamedPersonaAnswers(t *testing.T) {
	roster := persona.Roster{
		{Name: "Mack", Chattiness: 1, Responsiveness: 1},
		{Name: "Rosa", Chattiness: 0, Responsiveness: 0},
		{Name: "Dale", Chattiness: 1, Responsiveness: 1},
	}
	gen := funcGenerator(func(req generation.Request) (generation.Result, error) {
		return line("Honestly? Dartboard needs new darts."), nil
	})
	o := newTestOrchestrator(gen, roster, nil, nil)
	o.Inject("Rosa, what do you think?")

	turn, err := o.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Rosa", turn.Speaker)
	assert.Equal(t, schedule.ReasonNamed, turn.Meta.Reason)
}

func TestTick_SuppressionsReachSystemPrompt(t *testing.T) {
	ctx := context.Background()
	store := patterns.NewMemoryStore()
	_, err := store.Record(ctx, "back in my day", patterns.CategoryRepeatedPhrase, "Mack")
	require.NoError(t, err)

	lines := []string{
		"My truck died on Route 9 again.",
		"Anybody catch the game last night?",
		"Rent went up forty bucks, unbelievable.",
		"The jukebox ate my quarter twice.",
	}
	var systems []string
	gen := funcGenerator(func(req generation.Request) (generation.Result, error) {
		systems = append(systems, req.System)
		return line(lines[(len(systems)-1)%len(lines)]), nil
	})

	cfg := DefaultConfig()
	cfg.RefreshInterval = 1
	o := New(cfg, Deps{Roster: testRoster()[:1], Generator: gen, Patterns: store})

	_, err = o.Tick(ctx)
	require.NoError(t, err)
	assert.Contains(t, systems[0], `- "back in my day"`)

	// the prompt was rebuilt at the end of the first tick, so a new pattern
	// shows up one refresh later
	_, err = store.Record(ctx, "the jukebox is broken", patterns.CategoryRepeatedPhrase, "Mack")
	require.NoError(t, err)
	_, err = o.Tick(ctx)
	require.NoError(t, err)
	assert.NotContains(t, systems[len(systems)-1], "the jukebox is broken")

	_, err = o.Tick(ctx)
	require.NoError(t, err)
	assert.Contains(t, systems[len(systems)-1], `- "the jukebox is broken"`)
}

var errStoreDown = errors.New("database is locked")

// downStore fails every call, like a pattern database that went away
type downStore struct{}

func (downStore) Record(context.Context, string, patterns.Category, string) (patterns.Pattern, error) {
	return patterns.Pattern{}, errStoreDown
}

func (downStore) Suppressions(context.Context, string, int) ([]patterns.Pattern, error) {
	return nil, errStoreDown
}

func (downStore) Top(context.Context, int) ([]patterns.Pattern, error) {
	return nil, errStoreDown
}

func (downStore) Prune(context.Context, int, time.Time) (int, error) {
	return 0, errStoreDown
}

func TestTick_PatternStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	var systems []string
	gen := funcGenerator(func(req generation.Request) (generation.Result, error) {
		systems = append(systems, req.System)
		if len(systems) == 1 {
			return line("the bar was quiet tonight, again"), nil
		}
		return line(fmt.Sprintf("Somebody stole dartboard number %d last Tuesday.", len(systems))), nil
	})

	cfg := DefaultConfig()
	cfg.RefreshInterval = 1
	sink := &recordingSink{}
	o := New(cfg, Deps{
		Roster:    testRoster(),
		Generator: gen,
		Scheduler: schedule.NewWithRand(schedule.DefaultConfig(), rand.New(rand.NewPCG(1, 2))),
		Patterns:  downStore{},
		Sink:      sink,
		Rand:      rand.New(rand.NewPCG(3, 4)),
	})
	o.Inject("the bar was quiet tonight")
	before := len(o.State().Turns)

	turn, err := o.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Somebody stole dartboard number 2 last Tuesday.", turn.Text)
	assert.Len(t, sink.regens, 1, "rejection still regenerates without the store")

	for range 3 {
		_, err := o.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, o.State().Turns, before+4, "every tick finalizes a turn")
	assert.Empty(t, sink.upserts)
	for _, system := range systems {
		assert.NotContains(t, system, "worn out at this bar")
	}
}

func TestOpen(t *testing.T) {
	t.Run("generated opener", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generation.Request) bool {
			return req.Params.MaxTokens == 30 && strings.Contains(req.System, "You are a bartender")
		})).Return(line(`"Gas is five bucks now, can you believe it?"`), nil).Once()

		sink := &recordingSink{}
		o := newTestOrchestrator(gen, testRoster(), nil, sink)

		turn := o.Open(context.Background())
		assert.Equal(t, conversation.BartenderName, turn.Speaker)
		assert.Equal(t, conversation.KindBartender, turn.Kind)
		assert.Equal(t, "Gas is five bucks now, can you believe it?", turn.Text)
		assert.Contains(t, DefaultOpenerCategories, turn.Meta.Subject)
		assert.Len(t, sink.turns, 1)
	})

	t.Run("fallback on failure", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return(generation.Result{}, errors.New("down")).Once()

		o := newTestOrchestrator(gen, testRoster(), nil, nil)
		turn := o.Open(context.Background())
		assert.Equal(t, DefaultOpenerFallback, turn.Text)
	})
}

func TestInject(t *testing.T) {
	o := newTestOrchestrator(funcGenerator(nil), testRoster(), nil, nil)

	_, ok := o.Inject("   ")
	assert.False(t, ok)

	turn, ok := o.Inject("Who's buying?")
	assert.True(t, ok)
	assert.Equal(t, conversation.StrangerName, turn.Speaker)
	assert.Equal(t, conversation.KindStranger, turn.Kind)
	assert.Equal(t, 0, o.State().TurnsSince["Mack"], "stranger lines do not advance persona counters")
}

func TestTick_OneTurnPerTickProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := 0
		gen := funcGenerator(func(req generation.Request) (generation.Result, error) {
			n++
			switch rapid.IntRange(0, 5).Draw(rt, "outcome") {
			case 0:
				return generation.Result{}, &generation.Error{Backend: "fake", Message: "flaky", Retryable: true}
			case 1:
				return line(""), nil
			case 2:
				return line("the bar was quiet tonight"), nil
			default:
				return line(fmt.Sprintf("I counted %d pickup trucks in the lot tonight.", n)), nil
			}
		})
		o := newTestOrchestrator(gen, testRoster(), patterns.NewMemoryStore(), nil)
		o.Inject("the bar was quiet tonight")

		ticks := rapid.IntRange(1, 15).Draw(rt, "ticks")
		for i := 0; i < ticks; i++ {
			before := snapshot(o.State())
			turn, err := o.Tick(context.Background())
			if err != nil {
				if !errors.Is(err, ErrGenerationFailed) && !errors.Is(err, ErrDegenerate) {
					rt.Fatalf("unexpected error: %v", err)
				}
				if !assert.ObjectsAreEqual(before, snapshot(o.State())) {
					rt.Fatalf("failed tick mutated state")
				}
				continue
			}
			if len(o.State().Turns) != before.turns+1 {
				rt.Fatalf("expected exactly one new turn, got %d", len(o.State().Turns)-before.turns)
			}
			if turn.Meta.Attempts < 0 || turn.Meta.Attempts > DefaultConfig().MaxRetries {
				rt.Fatalf("attempts %d out of bounds", turn.Meta.Attempts)
			}
			if strings.TrimSpace(turn.Text) == "" {
				rt.Fatalf("finalized an empty turn")
			}
			if o.State().TurnsSince[turn.Speaker] != 0 {
				rt.Fatalf("speaker counter not reset")
			}
		}
	})
}

func TestRun(t *testing.T) {
	newGen := func() generation.Generator {
		n := 0
		return funcGenerator(func(req generation.Request) (generation.Result, error) {
			n++
			return line(fmt.Sprintf("Round %d is on the house, says nobody ever.", n)), nil
		})
	}

	t.Run("stops after max turns", func(t *testing.T) {
		o := newTestOrchestrator(newGen(), testRoster(), nil, nil)
		err := o.Run(context.Background(), RunOptions{TickInterval: time.Millisecond, MaxTurns: 3, Open: true}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, o.State().PersonaTurns())
		assert.Equal(t, conversation.KindBartender, o.State().Turns[0].Kind)
	})

	t.Run("applies commands then quits", func(t *testing.T) {
		o := newTestOrchestrator(newGen(), testRoster(), nil, nil)
		cmds := make(chan Command, 2)
		cmds <- Command{Kind: CmdStranger, Text: "Is the kitchen open?"}
		cmds <- Command{Kind: CmdQuit}

		err := o.Run(context.Background(), RunOptions{TickInterval: time.Hour}, cmds)
		require.NoError(t, err)

		var strangers int
		for _, turn := range o.State().Turns {
			if turn.Kind == conversation.KindStranger {
				strangers++
				assert.Equal(t, "Is the kitchen open?", turn.Text)
			}
		}
		assert.Equal(t, 1, strangers)
	})

	t.Run("paused bar produces nothing", func(t *testing.T) {
		o := newTestOrchestrator(newGen(), testRoster(), nil, nil)
		o.State().Paused = true

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := o.Run(ctx, RunOptions{TickInterval: time.Millisecond}, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, o.State().PersonaTurns())
	})
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, 1.0, clampSpeed(0))
	assert.Equal(t, MinSpeed, clampSpeed(0.1))
	assert.Equal(t, MaxSpeed, clampSpeed(9))
	assert.Equal(t, 1.5, clampSpeed(1.5))
}

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b, NopSink{}}

	f.TurnFinalized(conversation.Turn{Speaker: "Mack"})
	f.Regenerated(RegenerationRecord{Persona: "Mack"})
	f.PatternRecorded(PatternUpsert{Persona: "Mack"})

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.turns, 1)
		assert.Len(t, s.regens, 1)
		assert.Len(t, s.upserts, 1)
	}
}

type stateSnapshot struct {
	turns          int
	turnsSince     map[string]int
	subjectCount   int
	recentSubjects []string
}

func snapshot(s *conversation.State) stateSnapshot {
	since := make(map[string]int, len(s.TurnsSince))
	for k, v := range s.TurnsSince {
		since[k] = v
	}
	return stateSnapshot{
		turns:          len(s.Turns),
		turnsSince:     since,
		subjectCount:   s.SubjectCount,
		recentSubjects: append([]string(nil), s.RecentSubjects...),
	}
}
