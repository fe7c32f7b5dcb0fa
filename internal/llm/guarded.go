package llm

import (
	"context"
	"errors"

	"sentra/backend/pkg/resilience"
)

// GuardedProvider routes every call through a circuit breaker.
// Cancellations by the caller do not count as provider failures.
type GuardedProvider struct {
	next    Provider
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next with breaker
func NewGuarded(next Provider, breaker *resilience.CircuitBreaker) *GuardedProvider {
	return &GuardedProvider{next: next, breaker: breaker}
}

// IsProviderFailure is the breaker failure filter for model calls
func IsProviderFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Stream implements Provider
func (g *GuardedProvider) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	var full string
	err := g.breaker.Execute(func() error {
		var err error
		full, err = g.next.Stream(ctx, req, onDelta)
		return err
	})
	return full, err
}

// Complete implements Provider
func (g *GuardedProvider) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.next.Complete(ctx, req)
		return err
	})
	return out, err
}

// State reports the breaker state for health checks
func (g *GuardedProvider) State() string {
	return string(g.breaker.GetState())
}
