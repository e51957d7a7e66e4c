// Package diversity scores a candidate turn against recent history and
// reports the kinds of repetition it found.
package diversity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/textfeat"
)

// Problem descriptions attached to a failed Result
const (
	ProblemEmpty      = "empty or unusable response"
	ProblemStructure  = "similar structure to recent messages"
	problemPhrasesFmt = "repeated phrases: %s"
	problemOpenerFmt  = "repeated opener: %q"
)

// Config holds scorer weights and thresholds
type Config struct {
	Enabled            bool    `json:"enabled"`
	Threshold          float64 `json:"threshold"`
	Window             int     `json:"window_size"`
	NgramMin           int     `json:"ngram_min"`
	NgramMax           int     `json:"ngram_max"`
	OpenerWords        int     `json:"opener_words"`
	MinOpenerWords     int     `json:"min_opener_words"`
	MaxOpenerRepeats   int     `json:"max_opener_repeats"`
	OverlapFlag        float64 `json:"overlap_flag"`
	OverlapSaturation  float64 `json:"overlap_saturation"`
	StructuralFlag     float64 `json:"structural_flag"`
	StructuralLookback int     `json:"structural_lookback"`
	MaxReportedNgrams  int     `json:"max_reported_ngrams"`
	WeightNgram        float64 `json:"weight_ngram"`
	WeightOpener       float64 `json:"weight_opener"`
	WeightStructure    float64 `json:"weight_structure"`
}

// DefaultConfig returns the stock scorer configuration
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Threshold:          0.6,
		Window:             10,
		NgramMin:           textfeat.DefaultNgramMin,
		NgramMax:           textfeat.DefaultNgramMax,
		OpenerWords:        textfeat.DefaultOpenerK,
		MinOpenerWords:     3,
		MaxOpenerRepeats:   2,
		OverlapFlag:        0.30,
		OverlapSaturation:  0.5,
		StructuralFlag:     0.7,
		StructuralLookback: 3,
		MaxReportedNgrams:  5,
		WeightNgram:        0.50,
		WeightOpener:       0.25,
		WeightStructure:    0.25,
	}
}

// Validate returns a list of configuration problems
func (c Config) Validate() []string {
	var errs []string
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, "diversity threshold must be between 0 and 1")
	}
	if c.Window <= 0 {
		errs = append(errs, "diversity window_size must be positive")
	}
	if c.NgramMin <= 0 || c.NgramMax < c.NgramMin {
		errs = append(errs, "diversity ngram range is invalid")
	}
	if w := c.WeightNgram + c.WeightOpener + c.WeightStructure; math.Abs(w-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("diversity weights must sum to 1 (got %.3f)", w))
	}
	return errs
}

// Result is the outcome of scoring one candidate
type Result struct {
	Score                float64
	Passed               bool
	Problems             []string
	RepeatedNgrams       []string
	Opener               string
	OverlapRatio         float64
	StructuralSimilarity float64
	Degenerate           bool
}

// Scorer evaluates candidates. It is stateless and safe for concurrent use.
type Scorer struct {
	cfg  Config
	opts textfeat.Options
}

// NewScorer creates a scorer, filling zero values from DefaultConfig
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.NgramMin <= 0 {
		cfg.NgramMin = def.NgramMin
	}
	if cfg.NgramMax < cfg.NgramMin {
		cfg.NgramMax = max(def.NgramMax, cfg.NgramMin)
	}
	if cfg.OpenerWords <= 0 {
		cfg.OpenerWords = def.OpenerWords
	}
	if cfg.MinOpenerWords <= 0 {
		cfg.MinOpenerWords = def.MinOpenerWords
	}
	if cfg.MaxOpenerRepeats <= 0 {
		cfg.MaxOpenerRepeats = def.MaxOpenerRepeats
	}
	if cfg.OverlapFlag <= 0 {
		cfg.OverlapFlag = def.OverlapFlag
	}
	if cfg.OverlapSaturation <= 0 {
		cfg.OverlapSaturation = def.OverlapSaturation
	}
	if cfg.StructuralFlag <= 0 {
		cfg.StructuralFlag = def.StructuralFlag
	}
	if cfg.StructuralLookback <= 0 {
		cfg.StructuralLookback = def.StructuralLookback
	}
	if cfg.MaxReportedNgrams <= 0 {
		cfg.MaxReportedNgrams = def.MaxReportedNgrams
	}
	if cfg.WeightNgram == 0 && cfg.WeightOpener == 0 && cfg.WeightStructure == 0 {
		cfg.WeightNgram, cfg.WeightOpener, cfg.WeightStructure = def.WeightNgram, def.WeightOpener, def.WeightStructure
	}

	return &Scorer{
		cfg: cfg,
		opts: textfeat.Options{
			NgramMin:    cfg.NgramMin,
			NgramMax:    cfg.NgramMax,
			OpenerWords: cfg.OpenerWords,
		},
	}
}

// Config returns the effective configuration
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score evaluates candidate, spoken by persona, against the window of recent
// turns. Only the newest cfg.Window turns are considered.
func (s *Scorer) Score(candidate string, window []conversation.Turn, persona string) Result {
	if strings.TrimSpace(candidate) == "" || !textfeat.HasLetters(candidate) {
		return Result{Degenerate: true, Problems: []string{ProblemEmpty}}
	}
	if len(window) > s.cfg.Window {
		window = window[len(window)-s.cfg.Window:]
	}

	cand := textfeat.ExtractWith(candidate, s.opts)
	history := make([]textfeat.Features, len(window))
	for i, t := range window {
		history[i] = textfeat.ExtractWith(t.Text, s.opts)
	}

	var res Result
	var problems []string

	overlap, phrases := s.ngramOverlap(cand, history)
	res.OverlapRatio = overlap
	if overlap > s.cfg.OverlapFlag {
		res.RepeatedNgrams = phrases
		shown := phrases
		if len(shown) > 3 {
			shown = shown[:3]
		}
		problems = append(problems, fmt.Sprintf(problemPhrasesFmt, strings.Join(shown, ", ")))
	}
	ngramScore := 1 - math.Min(1, overlap/s.cfg.OverlapSaturation)

	openerScore := 1.0
	if opener, ok := s.formulaicOpener(cand, window, history, persona); ok {
		res.Opener = opener
		openerScore = 0
		problems = append(problems, fmt.Sprintf(problemOpenerFmt, truncate(opener, 40)))
	}

	sim := s.structuralSimilarity(cand, window, history, persona)
	res.StructuralSimilarity = sim
	if sim > s.cfg.StructuralFlag {
		problems = append(problems, ProblemStructure)
	}
	structScore := 1 - sim

	raw := s.cfg.WeightNgram*ngramScore + s.cfg.WeightOpener*openerScore + s.cfg.WeightStructure*structScore
	res.Score = math.Round(raw*1000) / 1000
	res.Passed = res.Score >= s.cfg.Threshold
	res.Problems = problems
	return res
}

// ngramOverlap returns the fraction of candidate n-grams found anywhere in
// history and the offending phrases, longest first.
func (s *Scorer) ngramOverlap(cand textfeat.Features, history []textfeat.Features) (float64, []string) {
	for _, h := range history {
		if h.Normalized != "" && h.Normalized == cand.Normalized {
			return 1, s.limitPhrases([]string{cand.Normalized})
		}
	}

	grams := textfeat.NgramList(cand.Tokens, s.cfg.NgramMin, s.cfg.NgramMax)
	if len(grams) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{})
	var phrases []string
	hits := 0
	for _, g := range grams {
		for _, h := range history {
			if !h.Has(g) {
				continue
			}
			hits++
			if _, dup := seen[g]; !dup {
				seen[g] = struct{}{}
				phrases = append(phrases, g)
			}
			break
		}
	}

	sort.SliceStable(phrases, func(i, j int) bool {
		return len(strings.Fields(phrases[i])) > len(strings.Fields(phrases[j]))
	})
	return float64(hits) / float64(len(grams)), s.limitPhrases(phrases)
}

func (s *Scorer) limitPhrases(phrases []string) []string {
	if len(phrases) > s.cfg.MaxReportedNgrams {
		return phrases[:s.cfg.MaxReportedNgrams]
	}
	return phrases
}

// formulaicOpener reports the candidate's opener when the persona has already
// used a matching opener MaxOpenerRepeats times in the window.
func (s *Scorer) formulaicOpener(cand textfeat.Features, window []conversation.Turn, history []textfeat.Features, persona string) (string, bool) {
	if len(cand.Opener) == 0 {
		return "", false
	}
	matches := 0
	for i, t := range window {
		if !strings.EqualFold(t.Speaker, persona) {
			continue
		}
		if s.openersMatch(cand.Opener, history[i].Opener) {
			matches++
		}
	}
	if matches >= s.cfg.MaxOpenerRepeats {
		return strings.Join(cand.Opener, " "), true
	}
	return "", false
}

// openersMatch compares the shared prefix of two openers. Prefixes shorter
// than MinOpenerWords never match.
func (s *Scorer) openersMatch(a, b []string) bool {
	n := min(s.cfg.OpenerWords, len(a), len(b))
	if n < s.cfg.MinOpenerWords {
		return false
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// structuralSimilarity averages the fraction of equal structural features
// between the candidate and the persona's last few turns.
func (s *Scorer) structuralSimilarity(cand textfeat.Features, window []conversation.Turn, history []textfeat.Features, persona string) float64 {
	var own []textfeat.Features
	for i := len(window) - 1; i >= 0 && len(own) < s.cfg.StructuralLookback; i-- {
		if strings.EqualFold(window[i].Speaker, persona) {
			own = append(own, history[i])
		}
	}
	if len(own) == 0 {
		return 0
	}

	total := 0.0
	for _, h := range own {
		total += featureSimilarity(cand, h)
	}
	return total / float64(len(own))
}

func featureSimilarity(a, b textfeat.Features) float64 {
	pairs := [][2]int{
		{a.SentenceCount, b.SentenceCount},
		{a.Punctuation.Questions, b.Punctuation.Questions},
		{a.Punctuation.Commas, b.Punctuation.Commas},
		{a.Punctuation.Exclamations, b.Punctuation.Exclamations},
		{a.WordCount, b.WordCount},
	}
	matches := 0
	for _, p := range pairs {
		if p[0] == p[1] {
			matches++
		}
	}
	return float64(matches) / float64(len(pairs))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
