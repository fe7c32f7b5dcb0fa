// Package gateway turns one chat turn into a model call, either streamed as
// start/delta/terminal events or answered in a single response.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentra/backend/internal/llm"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Apology is returned by the non-streaming path when the model call fails
const Apology = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

// Messages sent in terminal error events
const (
	streamErrorMessage   = "Failed to generate response"
	streamTimeoutMessage = "Response timed out"
)

// Options configures the gateway
type Options struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Service is the chat streaming gateway and its non-streaming fallback
type Service struct {
	characters repository.CharacterRepository
	provider   llm.Provider
	examples   prompt.Examples
	opts       Options
	metrics    *observability.Metrics
	tracer     trace.Tracer
	log        *logger.Logger
}

// NewService creates the gateway. metrics may be nil.
func NewService(
	characters repository.CharacterRepository,
	provider llm.Provider,
	examples prompt.Examples,
	opts Options,
	metrics *observability.Metrics,
	log *logger.Logger,
) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Service{
		characters: characters,
		provider:   provider,
		examples:   examples,
		opts:       opts,
		metrics:    metrics,
		tracer:     otel.Tracer("sentra/gateway"),
		log:        log.With("component", "gateway"),
	}
}

// Turn is a validated request with its character resolved
type Turn struct {
	Request   ChatTurnRequest
	Character *models.Character
	LLM       llm.Request
}

// Prepare validates req and resolves the character. Nothing is streamed yet.
func (s *Service) Prepare(ctx context.Context, req ChatTurnRequest) (*Turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	character, err := s.characters.GetByID(ctx, req.CharacterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("load character: %w", err)
	}

	system := prompt.BuildSystemPrompt(character, req.CustomScenario, req.CFMMemories, s.examples)
	return &Turn{
		Request:   req,
		Character: character,
		LLM: llm.Request{
			System:      system,
			User:        prompt.ComposeUserContent(system, req.Messages),
			MaxTokens:   req.TokenLimit.Normalized(),
			Model:       s.opts.Model,
			Temperature: s.opts.Temperature,
		},
	}, nil
}

// Stream prepares and runs one turn. Errors returned here happened before
// the start event; later failures are reported to sink as an error event.
func (s *Service) Stream(ctx context.Context, req ChatTurnRequest, sink EventSink) error {
	turn, err := s.Prepare(ctx, req)
	if err != nil {
		s.observe(observability.OutcomeRejected, 0)
		return err
	}
	return s.Run(ctx, turn, sink)
}

// Run streams a prepared turn into sink. It always ends with exactly one
// terminal event unless the sink itself stops accepting writes.
func (s *Service) Run(ctx context.Context, turn *Turn, sink EventSink) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "gateway.stream", trace.WithAttributes(
		attribute.String("session.id", turn.Request.SessionID),
		attribute.String("character.id", turn.Request.CharacterID),
		attribute.Int("llm.max_tokens", turn.LLM.MaxTokens),
	))
	defer span.End()

	log := logger.FromContext(ctx).With("session_id", turn.Request.SessionID, "character_id", turn.Request.CharacterID)

	if err := sink.Start(); err != nil {
		return fmt.Errorf("write start event: %w", err)
	}

	deltas := 0
	full, err := s.callProvider(ctx, turn.LLM, func(d string) error {
		deltas++
		if s.metrics != nil {
			s.metrics.GatewayDeltas.Inc()
		}
		return sink.Delta(d)
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		log.LogError(err, "Chat stream failed", "deltas", deltas)
		s.observe(observability.OutcomeError, time.Since(started))

		msg := streamErrorMessage
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = streamTimeoutMessage
		}
		if werr := sink.Error(msg); werr != nil {
			return fmt.Errorf("write error event: %w", werr)
		}
		return nil
	}

	s.observe(observability.OutcomeComplete, time.Since(started))
	log.Info("Chat stream completed", "deltas", deltas, "chars", len(full))
	if err := sink.Complete(full); err != nil {
		return fmt.Errorf("write complete event: %w", err)
	}
	return nil
}

// callProvider converts a provider panic into an error so the stream still terminates
func (s *Service) callProvider(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) (full string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return s.provider.Stream(ctx, req, onDelta)
}

func (s *Service) observe(outcome string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.GatewayStreams.WithLabelValues(outcome).Inc()
	if outcome != observability.OutcomeRejected {
		s.metrics.GatewayDuration.Observe(d.Seconds())
	}
}

// Generate answers one turn without streaming. Memories are not injected on this path,
// and model failures turn into the fixed apology instead of an error.
func (s *Service) Generate(ctx context.Context, req ChatTurnRequest) (*GenerateResponse, error) {
	req.CFMMemories = nil
	turn, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	content, err := s.provider.Complete(ctx, turn.LLM)
	if err != nil {
		logger.FromContext(ctx).LogError(err, "Chat completion failed, answering with apology",
			"session_id", req.SessionID,
			"character_id", req.CharacterID,
		)
		content = Apology
	}

	return &GenerateResponse{
		Success:   true,
		AIMessage: models.Message{Role: models.RoleAssistant, Content: content},
	}, nil
}
