// Package analysis produces the after-the-fact repetition reports behind
// `divebar analyze`: phrases echoed across personas, openers a persona keeps
// reusing, verbatim duplicates, vocabulary and stale stretches, and how often
// the live diversity check had to step in.
package analysis

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/store"
	"github.com/robertdcurrier/dive-bar/internal/textfeat"
)

const (
	EchoMinWords     = 3
	EchoMaxWords     = 6
	EchoMinPersonas  = 2
	EchoMinCount     = 3
	OpenerWords      = 6
	OpenerMinWords   = 3
	OpenerMinCount   = 3
	DuplicateTextLen = 80
	TopWordCount     = 20
	StaleWindow      = 5
)

// Echo is a phrase shared by several personas
type Echo struct {
	Phrase   string
	Count    int
	Personas []string
}

// Opener is a way of starting a line that one persona keeps reaching for
type Opener struct {
	Persona string
	Opener  string
	Count   int
}

// Duplicate is a line said verbatim more than once
type Duplicate struct {
	Text     string
	Count    int
	Personas []string
}

// WordCount pairs a word with its frequency
type WordCount struct {
	Word  string
	Count int
}

// Stretch is a run of turns dominated by one word
type Stretch struct {
	StartSeq int
	EndSeq   int
	Word     string
	Count    int
}

// Vocabulary measures how varied the wording is overall
type Vocabulary struct {
	TotalWords  int
	UniqueWords int
	Ratio       float64
}

// RegenEvent is one accepted turn that needed regenerations
type RegenEvent struct {
	SessionID string
	Seq       int
	Persona   string
	Attempts  int
}

// RegenStats summarizes regeneration activity
type RegenStats struct {
	Total       int
	ByPersona   map[string]int
	AvgAttempts float64
	Recent      []RegenEvent
}

func personaLines(msgs []store.Message) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == string(conversation.KindPersona) {
			out = append(out, m)
		}
	}
	return out
}

func tokens(text string) []string {
	return textfeat.RemoveStopWords(textfeat.Tokenize(text))
}

// Echoes finds 3-6 word phrases used by two or more personas at least three
// times in total. A phrase contained in a longer reported phrase is dropped.
func Echoes(msgs []store.Message) []Echo {
	speakers := make(map[string]map[string]struct{})
	counts := make(map[string]int)
	for _, m := range personaLines(msgs) {
		for _, gram := range textfeat.NgramList(tokens(m.Content), EchoMinWords, EchoMaxWords) {
			if speakers[gram] == nil {
				speakers[gram] = make(map[string]struct{})
			}
			speakers[gram][m.Speaker] = struct{}{}
			counts[gram]++
		}
	}

	var shared []string
	for gram, who := range speakers {
		if len(who) >= EchoMinPersonas && counts[gram] >= EchoMinCount {
			shared = append(shared, gram)
		}
	}

	var out []Echo
	for _, gram := range dropSubPhrases(shared) {
		out = append(out, Echo{Phrase: gram, Count: counts[gram], Personas: sortedKeys(speakers[gram])})
	}
	slices.SortFunc(out, func(a, b Echo) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Phrase, b.Phrase))
	})
	return out
}

// dropSubPhrases keeps the longest phrases, removing any phrase that appears
// word-aligned inside a longer kept one
func dropSubPhrases(grams []string) []string {
	grams = slices.Clone(grams)
	slices.SortFunc(grams, func(a, b string) int {
		return cmp.Or(cmp.Compare(wordCount(b), wordCount(a)), cmp.Compare(a, b))
	})
	var kept []string
	for _, g := range grams {
		sub := false
		for _, k := range kept {
			if wordCount(k) > wordCount(g) && strings.Contains(" "+k+" ", " "+g+" ") {
				sub = true
				break
			}
		}
		if !sub {
			kept = append(kept, g)
		}
	}
	return kept
}

func wordCount(s string) int {
	return strings.Count(s, " ") + 1
}

// Openers finds openings (the first six words) a persona used three or more
// times. Words are counted the way the live scorer counts them, so bare
// punctuation such as "--" is skipped. Lines shorter than three words are
// ignored.
func Openers(msgs []store.Message) []Opener {
	byPersona := make(map[string]map[string]int)
	for _, m := range personaLines(msgs) {
		words := textfeat.OpenerWords(m.Content, OpenerWords)
		if len(words) < OpenerMinWords {
			continue
		}
		opener := strings.Join(words, " ")
		if byPersona[m.Speaker] == nil {
			byPersona[m.Speaker] = make(map[string]int)
		}
		byPersona[m.Speaker][opener]++
	}

	var out []Opener
	for persona, openers := range byPersona {
		for opener, n := range openers {
			if n >= OpenerMinCount {
				out = append(out, Opener{Persona: persona, Opener: opener, Count: n})
			}
		}
	}
	slices.SortFunc(out, func(a, b Opener) int {
		return cmp.Or(cmp.Compare(a.Persona, b.Persona), cmp.Compare(b.Count, a.Count), cmp.Compare(a.Opener, b.Opener))
	})
	return out
}

// Duplicates finds lines repeated verbatim, ignoring case and spacing.
// Every speaker is included so a persona parroting the bartender shows up.
func Duplicates(msgs []store.Message) []Duplicate {
	type entry struct {
		count    int
		speakers map[string]struct{}
	}
	seen := make(map[string]*entry)
	var order []string
	for _, m := range msgs {
		key := strings.Join(strings.Fields(strings.ToLower(m.Content)), " ")
		if key == "" {
			continue
		}
		e, ok := seen[key]
		if !ok {
			e = &entry{speakers: make(map[string]struct{})}
			seen[key] = e
			order = append(order, key)
		}
		e.count++
		e.speakers[m.Speaker] = struct{}{}
	}

	var out []Duplicate
	for _, key := range order {
		e := seen[key]
		if e.count < 2 {
			continue
		}
		out = append(out, Duplicate{Text: truncate(key, DuplicateTextLen), Count: e.count, Personas: sortedKeys(e.speakers)})
	}
	slices.SortStableFunc(out, func(a, b Duplicate) int {
		return cmp.Compare(b.Count, a.Count)
	})
	return out
}

// TopWords returns the most frequent non-filler words
func TopWords(msgs []store.Message, n int) []WordCount {
	counts := make(map[string]int)
	for _, m := range personaLines(msgs) {
		for _, w := range tokens(m.Content) {
			counts[w]++
		}
	}
	out := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, WordCount{Word: w, Count: c})
	}
	slices.SortFunc(out, func(a, b WordCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Word, b.Word))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// StaleStretches finds windows of five persona turns in which a single word
// appears at least five times. Reported windows do not overlap.
func StaleStretches(msgs []store.Message) []Stretch {
	lines := personaLines(msgs)
	var out []Stretch
	for i := 0; i+StaleWindow <= len(lines); {
		chunk := lines[i : i+StaleWindow]
		counts := make(map[string]int)
		for _, m := range chunk {
			for _, w := range tokens(m.Content) {
				counts[w]++
			}
		}
		word, top := "", 0
		for w, c := range counts {
			if c > top || (c == top && w < word) {
				word, top = w, c
			}
		}
		if top >= StaleWindow {
			out = append(out, Stretch{StartSeq: chunk[0].Seq, EndSeq: chunk[len(chunk)-1].Seq, Word: word, Count: top})
			i += StaleWindow
			continue
		}
		i++
	}
	return out
}

// VocabularyOf computes the unique to total word ratio
func VocabularyOf(msgs []store.Message) Vocabulary {
	var total int
	unique := make(map[string]struct{})
	for _, m := range personaLines(msgs) {
		for _, w := range tokens(m.Content) {
			total++
			unique[w] = struct{}{}
		}
	}
	v := Vocabulary{TotalWords: total, UniqueWords: len(unique)}
	if total > 0 {
		v.Ratio = round(float64(len(unique))/float64(total), 4)
	}
	return v
}

// Regens groups rejected candidates into one event per accepted turn. The
// attempt count of an event is its highest regeneration index.
func Regens(regens []store.Regeneration, recent int) RegenStats {
	type key struct {
		session string
		seq     int
	}
	events := make(map[key]*RegenEvent)
	var order []key
	for _, r := range regens {
		k := key{r.SessionID, r.Seq}
		e, ok := events[k]
		if !ok {
			e = &RegenEvent{SessionID: r.SessionID, Seq: r.Seq, Persona: r.Speaker}
			events[k] = e
			order = append(order, k)
		}
		e.Attempts = max(e.Attempts, r.Attempt)
	}

	stats := RegenStats{ByPersona: make(map[string]int)}
	if len(order) == 0 {
		return stats
	}
	var attempts int
	for _, k := range order {
		e := events[k]
		stats.Total++
		stats.ByPersona[e.Persona]++
		attempts += e.Attempts
		stats.Recent = append(stats.Recent, *e)
	}
	stats.AvgAttempts = round(float64(attempts)/float64(stats.Total), 2)
	if recent > 0 && len(stats.Recent) > recent {
		stats.Recent = stats.Recent[len(stats.Recent)-recent:]
	}
	return stats
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
