package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Tiktoken counts with a BPE encoding. The encoding is loaded on first use
// and may need to be downloaded; until it loads, or if it never does, counts
// come from the fallback.
type Tiktoken struct {
	encoding string
	fallback Counter

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error

	// load is swapped out in tests
	load func(encoding string) (*tiktoken.Tiktoken, error)
}

// NewTiktoken creates a counter for the named encoding
func NewTiktoken(encoding string, fallback Counter) *Tiktoken {
	if fallback == nil {
		fallback = NewEstimator(0)
	}
	return &Tiktoken{
		encoding: encoding,
		fallback: fallback,
		load:     tiktoken.GetEncoding,
	}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := t.load(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("failed to load tiktoken encoding %s: %w", t.encoding, err)
			log.Warn().Err(t.initErr).Str("fallback", t.fallback.Name()).Msg("Token counts are estimated")
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens encodes text, deferring to the fallback when the encoding is
// unavailable. It never returns less than one.
func (t *Tiktoken) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil)) + 1
}

// Name reports the encoding in use
func (t *Tiktoken) Name() string {
	if err := t.init(); err != nil {
		return t.fallback.Name()
	}
	return "tiktoken/" + t.encoding
}
