// Package generation issues text generation requests to a language model
// backend. The orchestrator only sees the Generator interface.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransient matches backend failures that may succeed if retried on a
// later tick: rate limits, overload, 5xx responses and transport errors.
var ErrTransient = errors.New("transient generation failure")

// Params are the sampling controls the core passes per request
type Params struct {
	Model            string   `json:"model,omitempty"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             int      `json:"top_k"`
	MinP             float64  `json:"min_p"`
	MaxTokens        int      `json:"max_tokens"`
	RepeatPenalty    float64  `json:"repeat_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	Stop             []string `json:"stop,omitempty"`
}

// DefaultParams returns the stock sampling parameters
func DefaultParams() Params {
	return Params{
		Temperature:   0.85,
		TopP:          0.9,
		TopK:          50,
		MinP:          0.05,
		MaxTokens:     200,
		RepeatPenalty: 1.1,
	}
}

// Request is a single-turn prompt: a system prompt and one user message
type Request struct {
	System string
	User   string
	Params Params
}

// Usage reports token accounting from the backend
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the backend's answer to a Request
type Result struct {
	Text    string
	Usage   Usage
	Latency time.Duration
}

// Generator defines the interface for generation backends
type Generator interface {
	// Name returns the backend name
	Name() string

	// Generate runs one completion
	Generate(ctx context.Context, req Request) (Result, error)
}

// Error is a failed backend call
type Error struct {
	Backend   string
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes retryable errors match ErrTransient
func (e *Error) Is(target error) bool {
	return target == ErrTransient && e.Retryable
}

// statusError classifies an HTTP error response
func statusError(backend string, status int, msg string) *Error {
	retryable := status == 429 || status == 529 || status >= 500
	return &Error{Backend: backend, Status: status, Message: msg, Retryable: retryable}
}

// transportError wraps a failure to reach the backend at all. Context
// cancellation is not transient: the caller asked to stop.
func transportError(backend string, err error) *Error {
	retryable := !errors.Is(err, context.Canceled)
	return &Error{Backend: backend, Message: "request failed", Retryable: retryable, Err: err}
}
