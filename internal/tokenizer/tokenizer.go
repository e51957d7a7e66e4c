// Package tokenizer counts prompt tokens so the transcript handed to the
// model fits its context window.
package tokenizer

import "strings"

// Counter counts the tokens a piece of text costs
type Counter interface {
	CountTokens(text string) int
	Name() string
}

// model prefix to tiktoken encoding, longest prefixes first
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

// DefaultEncoding is used for models with no known encoding. It is a close
// enough stand-in for the Claude and local models the bar talks to.
const DefaultEncoding = "cl100k_base"

// EncodingFor returns the tiktoken encoding for a model name
func EncodingFor(model string) string {
	m := strings.ToLower(model)
	for _, e := range modelEncodings {
		if strings.HasPrefix(m, e.prefix) {
			return e.encoding
		}
	}
	return DefaultEncoding
}

// ForModel returns a tiktoken counter for the model that falls back to the
// character estimator when the encoding cannot be loaded.
func ForModel(model string, charsPerToken int) Counter {
	return NewTiktoken(EncodingFor(model), NewEstimator(charsPerToken))
}
