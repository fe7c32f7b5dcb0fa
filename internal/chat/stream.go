package chat

import (
	"context"
	"errors"
	"fmt"

	"sentra/backend/internal/gateway"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/pkg/logger"
)

// persistFailedMessage is reported when the reply streamed but could not be saved
const persistFailedMessage = "Failed to save response"

// StreamOptions tune one generation
type StreamOptions struct {
	// TokenLimit overrides the user's stored preference when non-zero
	TokenLimit int
}

// SendAndStream appends content as a user message and streams the reply
func (s *Service) SendAndStream(ctx context.Context, userID, username, chatID, content string, opts StreamOptions, cb gateway.Callbacks) error {
	if err := s.tracker.Begin(chatID); err != nil {
		return err
	}
	defer s.tracker.Finish(chatID)

	if _, err := s.appendUserMessage(ctx, userID, chatID, content); err != nil {
		return err
	}
	return s.streamGeneration(ctx, userID, username, chatID, opts, cb)
}

// RewindAndStream rewinds to the user message at index, replaces it with newText and streams a new reply
func (s *Service) RewindAndStream(ctx context.Context, userID, username, chatID string, index int, newText string, opts StreamOptions, cb gateway.Callbacks) error {
	if err := s.tracker.Begin(chatID); err != nil {
		return err
	}
	defer s.tracker.Finish(chatID)

	if _, err := s.rewind(ctx, userID, chatID, index, newText); err != nil {
		return err
	}
	return s.streamGeneration(ctx, userID, username, chatID, opts, cb)
}

// StreamGeneration answers the session's current history, which must end with a user message
func (s *Service) StreamGeneration(ctx context.Context, userID, username, chatID string, opts StreamOptions, cb gateway.Callbacks) error {
	if err := s.tracker.Begin(chatID); err != nil {
		return err
	}
	defer s.tracker.Finish(chatID)

	return s.streamGeneration(ctx, userID, username, chatID, opts, cb)
}

// streamGeneration runs with the session already in Sending. Only a
// complete event produces a write; errors and cancellation leave the
// history as it was.
func (s *Service) streamGeneration(ctx context.Context, userID, username, chatID string, opts StreamOptions, cb gateway.Callbacks) error {
	log := logger.FromContext(ctx).With("chat_id", chatID, "user_id", userID)

	session, err := s.Load(ctx, userID, chatID)
	if err != nil {
		s.fail(chatID, err.Error())
		return err
	}
	messages, err := session.Messages()
	if err != nil {
		s.fail(chatID, err.Error())
		return err
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != models.RoleUser {
		s.fail(chatID, ErrNothingToAnswer.Error())
		return ErrNothingToAnswer
	}

	req := gateway.ChatTurnRequest{
		Messages:       messages,
		CharacterID:    session.CharacterID,
		SessionID:      session.ID,
		CustomScenario: session.Scenario,
		TokenLimit:     prompt.TokenLimit(s.tokenLimitFor(ctx, userID, opts.TokenLimit)),
	}
	if s.memories != nil {
		req.CFMMemories = s.memories.BuildMentionMemories(ctx, userID, session.CharacterID, messages[len(messages)-1].Content)
	}

	var persistErr error
	sink := gateway.NewCallbackSink(gateway.Callbacks{
		OnStart: func() {
			s.apply(chatID, StreamStarted{})
			if cb.OnStart != nil {
				cb.OnStart()
			}
		},
		OnDelta: func(content string) {
			s.apply(chatID, DeltaReceived{Content: content})
			if cb.OnDelta != nil {
				cb.OnDelta(content)
			}
		},
		OnComplete: func(full string) {
			// The client may already be gone; the reply is still saved.
			if err := s.persistReply(context.WithoutCancel(ctx), userID, chatID, full); err != nil {
				persistErr = err
				log.LogError(err, "Failed to persist assistant message")
				s.apply(chatID, Failed{Reason: persistFailedMessage})
				if cb.OnError != nil {
					cb.OnError(persistFailedMessage)
				}
				return
			}
			s.apply(chatID, Finished{Content: full})
			if cb.OnComplete != nil {
				cb.OnComplete(full)
			}
		},
		OnError: func(message string) {
			s.apply(chatID, Failed{Reason: message})
			if cb.OnError != nil {
				cb.OnError(message)
			}
		},
	})

	err = s.generator.Generate(ctx, userID, username, req, sink)
	if err != nil {
		if !sink.Closed() {
			s.fail(chatID, err.Error())
		}
		if errors.Is(err, gateway.ErrCharacterNotFound) {
			return ErrCharacterNotFound
		}
		if errors.Is(err, context.Canceled) {
			log.Info("Generation cancelled by client")
		}
		return err
	}
	if persistErr != nil {
		return persistErr
	}
	return nil
}

// persistReply re-reads the session and appends the assistant message
func (s *Service) persistReply(ctx context.Context, userID, chatID, content string) error {
	session, err := s.Load(ctx, userID, chatID)
	if err != nil {
		return err
	}
	messages, err := session.Messages()
	if err != nil {
		return err
	}
	messages = append(messages, models.NewMessage(models.RoleAssistant, content, s.now()))
	if err := s.writeHistory(ctx, session, messages); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	s.afterTranscriptChange(ctx, session)
	return nil
}

func (s *Service) apply(chatID string, e Event) {
	if _, err := s.tracker.Apply(chatID, e); err != nil {
		s.log.Debug("Ignoring out-of-order stream event", "chat_id", chatID, "error", err.Error())
	}
}

func (s *Service) fail(chatID, reason string) {
	s.apply(chatID, Failed{Reason: reason})
}
