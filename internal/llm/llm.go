// Package llm talks to the language model provider.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers without any content
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one model call. System and User carry the same prompt text for
// providers that only honor one of them.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Model       string
	Temperature float32
}

// DeltaFunc receives each streamed fragment. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

// Provider is a language model backend
type Provider interface {
	// Stream calls onDelta for every fragment and returns the concatenated text
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error)
	// Complete returns the whole response at once
	Complete(ctx context.Context, req Request) (string, error)
}
