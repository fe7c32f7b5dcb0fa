package llm

import (
	"context"
	"strings"
	"sync"
)

// Fake is a scripted Provider for tests and local development without a model
type Fake struct {
	mu sync.Mutex

	// Deltas are streamed in order; Complete returns them joined
	Deltas []string
	// Err fails the call. For Stream it is returned after FailAfter deltas.
	Err       error
	FailAfter int
	// Panic makes Stream panic after FailAfter deltas
	Panic bool

	Requests []Request
}

// Stream implements Provider
func (f *Fake) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()

	var b strings.Builder
	for i, d := range f.Deltas {
		if (f.Err != nil || f.Panic) && i == f.FailAfter {
			break
		}
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		b.WriteString(d)
		if err := onDelta(d); err != nil {
			return b.String(), err
		}
	}
	if f.Panic {
		panic("fake provider panic")
	}
	if f.Err != nil {
		return b.String(), f.Err
	}
	return b.String(), nil
}

// Complete implements Provider
func (f *Fake) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	return strings.Join(f.Deltas, ""), nil
}

// LastRequest returns the most recent request
func (f *Fake) LastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return Request{}
	}
	return f.Requests[len(f.Requests)-1]
}
