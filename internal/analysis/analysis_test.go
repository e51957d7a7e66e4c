package analysis

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/store"
)

var base = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

func lines(speakerText ...string) []store.Message {
	var msgs []store.Message
	for i := 0; i+1 < len(speakerText); i += 2 {
		kind := conversation.KindPersona
		if speakerText[i] == "Bartender" {
			kind = conversation.KindBartender
		}
		seq := len(msgs) + 1
		msgs = append(msgs, store.Message{
			ID:        fmt.Sprintf("m%d", seq),
			SessionID: "s1",
			Seq:       seq,
			Speaker:   speakerText[i],
			Kind:      string(kind),
			Content:   speakerText[i+1],
			CreatedAt: base.Add(time.Duration(seq) * time.Second),
		})
	}
	return msgs
}

func TestEchoes(t *testing.T) {
	t.Run("phrase shared across personas", func(t *testing.T) {
		msgs := lines(
			"Mack", "I swear the jukebox ate my quarter again.",
			"Rosa", "Honestly the jukebox ate my quarter too.",
			"Dale", "That jukebox ate my quarter last week.",
		)
		assert.Equal(t, []Echo{
			{Phrase: "jukebox ate quarter", Count: 3, Personas: []string{"Dale", "Mack", "Rosa"}},
		}, Echoes(msgs))
	})

	t.Run("one persona repeating itself is not an echo", func(t *testing.T) {
		msgs := lines(
			"Mack", "The jukebox ate my quarter.",
			"Mack", "The jukebox ate my quarter.",
			"Mack", "The jukebox ate my quarter.",
		)
		assert.Empty(t, Echoes(msgs))
	})

	t.Run("shorter phrases inside a reported one are dropped", func(t *testing.T) {
		msgs := lines(
			"Mack", "The jukebox ate my quarter again.",
			"Mack", "The jukebox ate my quarter again!",
			"Rosa", "Jukebox ate my quarter again, unbelievable.",
		)
		assert.Equal(t, []Echo{
			{Phrase: "jukebox ate quarter again", Count: 3, Personas: []string{"Mack", "Rosa"}},
		}, Echoes(msgs))
	})

	t.Run("bartender lines are ignored", func(t *testing.T) {
		msgs := lines(
			"Bartender", "The jukebox ate my quarter.",
			"Bartender", "The jukebox ate my quarter.",
			"Mack", "The jukebox ate my quarter.",
		)
		assert.Empty(t, Echoes(msgs))
	})
}

func TestDropSubPhrases(t *testing.T) {
	assert.Equal(t, []string{"a b c d", "x b c"}, dropSubPhrases([]string{"a b c", "x b c", "a b c d"}))
	assert.ElementsMatch(t, []string{"bar beer tab", "ar be ta"}, dropSubPhrases([]string{"ar be ta", "bar beer tab"}), "matches whole words only")

	in := []string{"a b c", "x b c", "a b c d"}
	dropSubPhrases(in)
	assert.Equal(t, []string{"a b c", "x b c", "a b c d"}, in, "caller's slice is left alone")
}

func TestOpeners(t *testing.T) {
	msgs := lines(
		"Dale", "Listen, buddy, I got a deal on a Buick.",
		"Dale", "Listen, buddy, I got a deal you won't believe.",
		"Dale", "Listen buddy I got a deal, trust me.",
		"Mack", "Back in my day we paid cash.",
		"Mack", "Back in my day we walked.",
		"Rosa", "Yeah. Sure.",
		"Rosa", "Yeah. Sure.",
		"Rosa", "Yeah. Sure.",
	)
	assert.Equal(t, []Opener{{Persona: "Dale", Opener: "listen buddy i got a deal", Count: 3}}, Openers(msgs))

	dashed := lines(
		"Rosa", "Oh man -- listen to this one.",
		"Rosa", "Oh, man, listen to this one!",
		"Rosa", "oh man ... listen to this one, seriously",
	)
	assert.Equal(t, []Opener{{Persona: "Rosa", Opener: "oh man listen to this one", Count: 3}}, Openers(dashed), "bare punctuation takes no word slot")

}

func TestDuplicates(t *testing.T) {
	long := strings.Repeat("same old story ", 8)
	msgs := lines(
		"Mack", "Another round!",
		"Rosa", "another   round!",
		"Bartender", "Another round!",
		"Dale", long,
		"Lou", long,
		"Earl", "Nope.",
	)

	dupes := Duplicates(msgs)
	require.Len(t, dupes, 2)
	assert.Equal(t, Duplicate{Text: "another round!", Count: 3, Personas: []string{"Bartender", "Mack", "Rosa"}}, dupes[0])
	assert.Equal(t, 2, dupes[1].Count)
	assert.Len(t, dupes[1].Text, DuplicateTextLen)
	assert.Equal(t, []string{"Dale", "Lou"}, dupes[1].Personas)
}

func TestTopicReports(t *testing.T) {
	t.Run("stale stretch", func(t *testing.T) {
		msgs := lines(
			"Mack", "The jukebox is broken.",
			"Rosa", "Fix the jukebox already.",
			"Dale", "Who kicked the jukebox?",
			"Lou", "My cousin sells jukebox parts.",
			"Earl", "Jukebox.",
			"Mack", "Anyway, beer.",
		)
		assert.Equal(t, []Stretch{{StartSeq: 1, EndSeq: 5, Word: "jukebox", Count: 5}}, StaleStretches(msgs))
	})

	t.Run("too few turns", func(t *testing.T) {
		assert.Empty(t, StaleStretches(lines("Mack", "jukebox jukebox jukebox jukebox jukebox")))
	})

	t.Run("vocabulary and top words", func(t *testing.T) {
		msgs := lines("Mack", "Beer, beer and wine.", "Bartender", "Whiskey whiskey whiskey.")
		assert.Equal(t, Vocabulary{TotalWords: 3, UniqueWords: 2, Ratio: 0.6667}, VocabularyOf(msgs))
		assert.Equal(t, []WordCount{{Word: "beer", Count: 2}, {Word: "wine", Count: 1}}, TopWords(msgs, 20))
		assert.Len(t, TopWords(msgs, 1), 1)
		assert.Equal(t, Vocabulary{}, VocabularyOf(nil))
	})
}

func TestRegens(t *testing.T) {
	regens := []store.Regeneration{
		{SessionID: "s1", Seq: 4, Speaker: "Mack", Attempt: 1},
		{SessionID: "s1", Seq: 4, Speaker: "Mack", Attempt: 2},
		{SessionID: "s1", Seq: 9, Speaker: "Rosa", Attempt: 1},
	}

	stats := Regens(regens, 10)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, map[string]int{"Mack": 1, "Rosa": 1}, stats.ByPersona)
	assert.Equal(t, 1.5, stats.AvgAttempts)
	assert.Equal(t, []RegenEvent{
		{SessionID: "s1", Seq: 4, Persona: "Mack", Attempts: 2},
		{SessionID: "s1", Seq: 9, Persona: "Rosa", Attempts: 1},
	}, stats.Recent)

	assert.Equal(t, []RegenEvent{{SessionID: "s1", Seq: 9, Persona: "Rosa", Attempts: 1}}, Regens(regens, 1).Recent)

	empty := Regens(nil, 10)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.AvgAttempts)
}

func TestBuildAndRender(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "divebar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	require.NoError(t, db.Create(&store.Session{ID: "s1-session", StartedAt: base, BarName: "The Rusty Nail", AgentCount: 3}).Error)
	msgs := lines(
		"Mack", "I swear the jukebox ate my quarter again.",
		"Rosa", "Honestly the jukebox ate my quarter too.",
		"Dale", "That jukebox ate my quarter last week.",
	)
	for i := range msgs {
		msgs[i].SessionID = "s1-session"
	}
	require.NoError(t, db.Create(&msgs).Error)
	require.NoError(t, db.Create(&store.Regeneration{ID: "r1", SessionID: "s1-session", Seq: 2, Speaker: "Rosa", Attempt: 1, CreatedAt: base}).Error)

	ctx := context.Background()

	_, err = Build(ctx, db, "gossip", "")
	assert.ErrorContains(t, err, `unknown report section "gossip"`)

	rep, err := Build(ctx, db, SectionAll, "s1")
	require.NoError(t, err)
	assert.Len(t, rep.Echoes, 1)
	assert.Len(t, rep.Personas, 3)
	require.Len(t, rep.Sessions, 1)
	assert.Equal(t, 3, rep.Sessions[0].Messages)
	assert.Equal(t, 1, rep.Regens.Total)

	var buf bytes.Buffer
	NewRenderer(&buf, true).Render(rep)
	out := buf.String()
	for _, want := range []string{
		"== Echo Detection ==",
		"jukebox ate quarter",
		"No repeated openers.",
		"No exact duplicates.",
		"== Persona Statistics ==",
		"== Topic Analysis ==",
		"s1-sessi",
		"Total: 1 regens, avg 1.00 attempts each",
	} {
		assert.Contains(t, out, want)
	}

	only, err := Build(ctx, db, SectionSessions, "")
	require.NoError(t, err)
	assert.Empty(t, only.Echoes)
	buf.Reset()
	NewRenderer(&buf, true).Render(only)
	assert.NotContains(t, buf.String(), "Echo Detection")
	assert.Contains(t, buf.String(), "The Rusty Nail")
}
