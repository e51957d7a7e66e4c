// Package textfeat extracts the surface features used to compare dialogue
// turns: normalized tokens, n-gram sets, sentence and punctuation counts and
// the opening words of a line.
package textfeat

import (
	"strings"
	"unicode"
)

const (
	DefaultNgramMin = 3
	DefaultNgramMax = 6
	DefaultOpenerK  = 6
)

// Options controls feature extraction
type Options struct {
	NgramMin      int  // smallest n-gram size (inclusive)
	NgramMax      int  // largest n-gram size (inclusive)
	OpenerWords   int  // number of leading words kept as the opener
	DropStopWords bool // remove filler words before building n-grams
}

// DefaultOptions returns the options used by the diversity scorer
func DefaultOptions() Options {
	return Options{
		NgramMin:    DefaultNgramMin,
		NgramMax:    DefaultNgramMax,
		OpenerWords: DefaultOpenerK,
	}
}

// Punctuation counts the marks that shape how a line reads
type Punctuation struct {
	Questions    int
	Commas       int
	Exclamations int
	Periods      int
}

// Features is the extracted profile of a single piece of text
type Features struct {
	Tokens        []string
	Ngrams        map[string]struct{}
	SentenceCount int
	WordCount     int
	Punctuation   Punctuation
	Opener        []string
	Normalized    string
}

// Extract computes features with the default options
func Extract(text string) Features {
	return ExtractWith(text, DefaultOptions())
}

// ExtractWith computes features with explicit options
func ExtractWith(text string, opts Options) Features {
	opts = opts.normalized()
	tokens := Tokenize(text)
	gramTokens := tokens
	if opts.DropStopWords {
		gramTokens = RemoveStopWords(tokens)
	}

	return Features{
		Tokens:        tokens,
		Ngrams:        NgramSet(gramTokens, opts.NgramMin, opts.NgramMax),
		SentenceCount: CountSentences(text),
		WordCount:     len(strings.Fields(text)),
		Punctuation:   countPunctuation(text),
		Opener:        OpenerWords(text, opts.OpenerWords),
		Normalized:    strings.Join(tokens, " "),
	}
}

// Has reports whether the n-gram is present
func (f Features) Has(gram string) bool {
	_, ok := f.Ngrams[gram]
	return ok
}

// Tokenize lowercases text, drops punctuation and splits on whitespace.
// Apostrophes are removed rather than split so "don't" becomes "dont".
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '\'' || r == '’':
			// collapse contractions
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// Ngrams returns the contiguous n-grams of size n, joined by single spaces
func Ngrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// NgramList returns every n-gram of size min..max in order of appearance
func NgramList(tokens []string, min, max int) []string {
	var out []string
	for n := min; n <= max; n++ {
		out = append(out, Ngrams(tokens, n)...)
	}
	return out
}

// NgramSet returns the set of n-grams of size min..max
func NgramSet(tokens []string, min, max int) map[string]struct{} {
	set := make(map[string]struct{})
	for n := min; n <= max; n++ {
		for _, g := range Ngrams(tokens, n) {
			set[g] = struct{}{}
		}
	}
	return set
}

// CountSentences counts non-empty runs of text separated by . ! or ?
func CountSentences(text string) int {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	count := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			count++
		}
	}
	return count
}

// OpenerWords returns the first k words, lowercased with punctuation removed
func OpenerWords(text string, k int) []string {
	if k <= 0 {
		return nil
	}
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(words) == k {
			break
		}
		cleaned := stripNonWord(w)
		if cleaned == "" {
			// a bare "--" or "..." is not a word and takes no slot
			continue
		}
		words = append(words, cleaned)
	}
	return words
}

// HasLetters reports whether text contains at least one letter
func HasLetters(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func stripNonWord(w string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, w)
}

func countPunctuation(text string) Punctuation {
	return Punctuation{
		Questions:    strings.Count(text, "?"),
		Commas:       strings.Count(text, ","),
		Exclamations: strings.Count(text, "!"),
		Periods:      strings.Count(text, "."),
	}
}

func (o Options) normalized() Options {
	if o.NgramMin <= 0 {
		o.NgramMin = DefaultNgramMin
	}
	if o.NgramMax < o.NgramMin {
		o.NgramMax = o.NgramMin
	}
	if o.OpenerWords <= 0 {
		o.OpenerWords = DefaultOpenerK
	}
	return o
}
