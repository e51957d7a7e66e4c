package generation

import (
	"context"
	"sync"
)

// Serialized allows one in-flight request at a time on the wrapped backend
type Serialized struct {
	mu    sync.Mutex
	inner Generator
}

// NewSerialized wraps a backend
func NewSerialized(inner Generator) *Serialized {
	return &Serialized{inner: inner}
}

// Name returns the wrapped backend's name
func (s *Serialized) Name() string {
	return s.inner.Name()
}

// Generate waits for any in-flight request to finish, then runs req
func (s *Serialized) Generate(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.inner.Generate(ctx, req)
}
