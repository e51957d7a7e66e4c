package diversity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
)

func turns(speaker string, texts ...string) []conversation.Turn {
	out := make([]conversation.Turn, len(texts))
	for i, text := range texts {
		out[i] = conversation.Turn{Seq: i, Speaker: speaker, Text: text, Kind: conversation.KindPersona}
	}
	return out
}

func TestScorer_RepeatedSixGram(t *testing.T) {
	s := NewScorer(DefaultConfig())
	window := turns("Rosa", " the bar was quiet tonight")

	res := s.Score("the bar was quiet tonight, again", window, "Mack")

	assert.InDelta(t, 0.6, res.OverlapRatio, 1e-9)
	assert.False(t, res.Passed)
	assert.Less(t, res.Score, 0.6)
	assert.Contains(t, res.RepeatedNgrams, "the bar was quiet tonight")
	assert.Equal(t, "the bar was quiet tonight", res.RepeatedNgrams[0], "longest phrase first")
	require.NotEmpty(t, res.Problems)
	assert.True(t, strings.HasPrefix(res.Problems[0], "repeated phrases:"))
}

func TestScorer_FormulaicOpener(t *testing.T) {
	s := NewScorer(DefaultConfig())

	t.Run("identical opener history", func(t *testing.T) {
		window := turns("Mack", "You ever notice how...", "You ever notice how...")
		res := s.Score("You ever notice how the ice machine never works?", window, "Mack")

		assert.Equal(t, "you ever notice how the ice", res.Opener)
		assert.False(t, res.Passed)
		assert.Contains(t, res.Problems, `repeated opener: "you ever notice how the ice"`)
	})

	t.Run("flagged even without phrase overlap", func(t *testing.T) {
		window := append(turns("Mack", "You ever notice how my truck?", "You ever notice how my truck?"),
			conversation.Turn{Seq: 2, Speaker: "Rosa", Text: "Last call came an hour early tonight.", Kind: conversation.KindPersona},
			conversation.Turn{Seq: 3, Speaker: "Dale", Text: "Somebody fix that jukebox already.", Kind: conversation.KindPersona},
		)
		res := s.Score("You ever notice how my truck smells like pennies after it rains on a hot summer afternoon", window, "Mack")

		assert.Less(t, res.OverlapRatio, DefaultConfig().OverlapFlag)
		assert.Empty(t, res.RepeatedNgrams)
		assert.Equal(t, "you ever notice how my truck", res.Opener)
		assert.Contains(t, res.Problems, `repeated opener: "you ever notice how my truck"`)
		for _, p := range res.Problems {
			assert.False(t, strings.HasPrefix(p, "repeated phrases:"), p)
		}
	})

	t.Run("other personas' openers do not count", func(t *testing.T) {
		window := turns("Rosa", "You ever notice how...", "You ever notice how...")
		res := s.Score("You ever notice how the ice machine never works?", window, "Mack")

		assert.Empty(t, res.Opener)
	})

	t.Run("one prior use is allowed", func(t *testing.T) {
		window := turns("Mack", "You ever notice how...")
		res := s.Score("You ever notice how the ice machine never works?", window, "Mack")

		assert.Empty(t, res.Opener)
	})

	t.Run("short shared prefix is not an opener", func(t *testing.T) {
		window := turns("Mack", "I mean, whatever.", "I mean it.")
		res := s.Score("I mean the whole town is broke", window, "Mack")

		assert.Empty(t, res.Opener)
	})
}

func TestScorer_StructuralSimilarity(t *testing.T) {
	s := NewScorer(DefaultConfig())
	window := turns("Dale", "Nah man, that truck is junk.", "Nah dude, this beer is warm.")

	res := s.Score("Yeah pal, your dog is ugly.", window, "Dale")

	assert.InDelta(t, 1.0, res.StructuralSimilarity, 1e-9)
	assert.Contains(t, res.Problems, ProblemStructure)
	assert.InDelta(t, 0.75, res.Score, 1e-9)
	assert.True(t, res.Passed, "structure alone does not fail a turn")
}

func TestScorer_FreshCandidatePasses(t *testing.T) {
	s := NewScorer(DefaultConfig())
	window := turns("Rosa", "My landlord raised the rent again.", "Hockey season cannot come soon enough.")

	res := s.Score("Somebody stole the dartboard last Tuesday and nobody cares.", window, "Mack")

	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Problems)
	assert.Zero(t, res.OverlapRatio)
}

func TestScorer_Degenerate(t *testing.T) {
	s := NewScorer(DefaultConfig())

	for _, text := range []string{"", "   ", "...", "!!! 42"} {
		res := s.Score(text, nil, "Mack")
		assert.True(t, res.Degenerate, "text %q", text)
		assert.False(t, res.Passed)
		assert.Zero(t, res.Score)
		assert.Equal(t, []string{ProblemEmpty}, res.Problems)
	}
}

func TestScorer_ShortExactDuplicate(t *testing.T) {
	s := NewScorer(DefaultConfig())
	window := turns("Rosa", "ok sure")

	res := s.Score("Ok, sure!", window, "Mack")

	assert.Equal(t, 1.0, res.OverlapRatio)
	assert.False(t, res.Passed)
}

func TestScorer_WindowIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 2
	s := NewScorer(cfg)

	window := turns("Rosa", "the bar was quiet tonight", "pool table is busted", "who parked the truck outside")
	res := s.Score("the bar was quiet tonight", window, "Mack")

	assert.Zero(t, res.OverlapRatio, "turns outside the window are ignored")
}

func TestConfig_Validate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Threshold = 1.5
	cfg.WeightNgram = 0.9
	errs := cfg.Validate()
	assert.Len(t, errs, 2)
}

func TestScorer_HistoryDuplicateProperty(t *testing.T) {
	s := NewScorer(DefaultConfig())
	words := []string{"beer", "truck", "rent", "jukebox", "dog", "boss", "rain", "wife", "game", "tab"}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		parts := make([]string, n)
		for i := range parts {
			parts[i] = rapid.SampledFrom(words).Draw(rt, "word")
		}
		text := strings.Join(parts, " ")
		speaker := rapid.SampledFrom([]string{"Mack", "Rosa"}).Draw(rt, "speaker")

		res := s.Score(text, turns(speaker, "something else entirely here", text), "Mack")

		if res.OverlapRatio < 0.30 {
			rt.Fatalf("overlap %.3f below flag for %q", res.OverlapRatio, text)
		}
		if res.Passed {
			rt.Fatalf("duplicate %q passed with score %.3f", text, res.Score)
		}
	})
}
