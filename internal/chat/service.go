// Package chat owns the lifecycle of chat sessions: creating and loading
// them, appending and rewinding messages, and running a streamed reply whose
// completed text is persisted as exactly one assistant message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra/backend/internal/gateway"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/events"
	"sentra/backend/pkg/logger"
)

var (
	ErrChatNotFound      = errors.New("chat not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrEmptyMessage      = errors.New("message content is required")
	ErrEmptyTitle        = errors.New("title is required")
	// ErrInvalidRewind is returned when the rewind index is not an existing user message
	ErrInvalidRewind = errors.New("rewind target must be an existing user message")
	// ErrNothingToAnswer is returned when the history does not end with a user message
	ErrNothingToAnswer = errors.New("history does not end with a user message")
)

// Generator runs one chat turn and reports its events to sink
type Generator interface {
	Generate(ctx context.Context, userID, username string, req gateway.ChatTurnRequest, sink gateway.EventSink) error
}

// Memories is the part of the memory subsystem the orchestrator uses
type Memories interface {
	ScheduleUpdate(userID, chatID string)
	BuildMentionMemories(ctx context.Context, requesterID, characterID, text string) []string
}

// Repos are the stores the orchestrator works on
type Repos struct {
	Chats      repository.ChatRepository
	Index      repository.ChatIndexRepository
	Characters repository.CharacterRepository
	Users      repository.UserRepository
}

// Service is the chat orchestrator
type Service struct {
	repos     Repos
	memories  Memories
	generator Generator
	publisher events.Publisher
	tracker   *Tracker
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates the orchestrator
func NewService(repos Repos, memories Memories, generator Generator, publisher events.Publisher, log *logger.Logger) *Service {
	return &Service{
		repos:     repos,
		memories:  memories,
		generator: generator,
		publisher: publisher,
		tracker:   NewTracker(),
		log:       log.With("component", "chat"),
		now:       time.Now,
	}
}

// Tracker exposes per-session turn state
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

func (s *Service) notify(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish event", "type", ev.Type, "error", err.Error())
	}
}

func (s *Service) chatListUpdated(ctx context.Context, userID, chatID string) {
	s.notify(ctx, events.Event{Type: events.TypeChatListUpdated, UserID: userID, ChatID: chatID, At: s.now().UTC()})
}

// Create starts a new chat with characterID. The session is written first and
// the index mirror second; a failed mirror write is logged and left for repair.
func (s *Service) Create(ctx context.Context, userID, username, characterID, scenario string) (*models.ChatSession, error) {
	character, err := s.repos.Characters.GetByID(ctx, characterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, err
	}

	now := s.now().UTC()
	session := &models.ChatSession{
		ID:            NewSessionID(userID, now),
		CharacterID:   character.ID,
		CharacterName: character.Name,
		UserID:        userID,
		UserUsername:  username,
		Scenario:      strings.TrimSpace(scenario),
		Title:         "Chat with " + character.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := session.SetMessages(nil); err != nil {
		return nil, err
	}
	if err := s.repos.Chats.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	entry := indexEntry(session, character.Avatar)
	if err := s.repos.Index.Upsert(ctx, entry); err != nil {
		s.log.LogError(err, "Chat index write failed", "chat_id", session.ID)
	}

	s.log.Info("Chat created", "chat_id", session.ID, "user_id", userID, "character_id", characterID)
	s.chatListUpdated(ctx, userID, session.ID)
	return session, nil
}

func indexEntry(session *models.ChatSession, avatar string) *models.ChatHistoryEntry {
	return &models.ChatHistoryEntry{
		UserID:        session.UserID,
		ChatID:        session.ID,
		Title:         session.Title,
		CharacterID:   session.CharacterID,
		CharacterName: session.CharacterName,
		Avatar:        avatar,
		CreatedAt:     session.CreatedAt,
		LastUpdated:   session.UpdatedAt,
	}
}

// Load returns a chat owned by userID
func (s *Service) Load(ctx context.Context, userID, chatID string) (*models.ChatSession, error) {
	session, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrChatNotFound
	}
	return session, nil
}

// Owner returns the id of the user the session belongs to
func (s *Service) Owner(ctx context.Context, chatID string) (string, error) {
	session, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrChatNotFound
		}
		return "", err
	}
	return session.UserID, nil
}

// List returns the user's chat index, most recently updated first
func (s *Service) List(ctx context.Context, userID string) ([]models.ChatHistoryEntry, error) {
	return s.repos.Index.List(ctx, userID)
}

// writeHistory stores messages as the session's whole history and touches the index mirror
func (s *Service) writeHistory(ctx context.Context, session *models.ChatSession, messages []models.Message) error {
	raw, err := models.EncodeHistory(messages)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.repos.Chats.UpdateHistory(ctx, session.ID, raw, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrChatNotFound
		}
		return fmt.Errorf("write history: %w", err)
	}
	session.History = raw
	session.UpdatedAt = now

	if err := s.repos.Index.Touch(ctx, session.UserID, session.ID, now); err != nil {
		s.log.Warn("Chat index touch failed", "chat_id", session.ID, "error", err.Error())
	}
	return nil
}

// AppendUserMessage adds one user message. With CFM enabled the chat's memory
// is refreshed in the background.
func (s *Service) AppendUserMessage(ctx context.Context, userID, chatID, content string) ([]models.Message, error) {
	if err := s.tracker.Begin(chatID); err != nil {
		return nil, err
	}
	defer s.tracker.Finish(chatID)
	return s.appendUserMessage(ctx, userID, chatID, content)
}

func (s *Service) appendUserMessage(ctx context.Context, userID, chatID, content string) ([]models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	session, err := s.Load(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := session.Messages()
	if err != nil {
		return nil, err
	}

	messages = append(messages, models.NewMessage(models.RoleUser, content, s.now()))
	if err := s.writeHistory(ctx, session, messages); err != nil {
		return nil, err
	}

	s.afterTranscriptChange(ctx, session)
	return messages, nil
}

func (s *Service) afterTranscriptChange(ctx context.Context, session *models.ChatSession) {
	if session.CFMEnabled && s.memories != nil {
		s.memories.ScheduleUpdate(session.UserID, session.ID)
	}
	s.chatListUpdated(ctx, session.UserID, session.ID)
}

// Rewind replaces the user message at index with newText and drops everything after it.
// The truncated history is written in a single write.
func (s *Service) Rewind(ctx context.Context, userID, chatID string, index int, newText string) ([]models.Message, error) {
	if err := s.tracker.Begin(chatID); err != nil {
		return nil, err
	}
	defer s.tracker.Finish(chatID)
	return s.rewind(ctx, userID, chatID, index, newText)
}

func (s *Service) rewind(ctx context.Context, userID, chatID string, index int, newText string) ([]models.Message, error) {
	if strings.TrimSpace(newText) == "" {
		return nil, ErrEmptyMessage
	}
	session, err := s.Load(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := session.Messages()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(messages) || messages[index].Role != models.RoleUser {
		return nil, ErrInvalidRewind
	}

	rewound := make([]models.Message, 0, index+1)
	rewound = append(rewound, messages[:index]...)
	rewound = append(rewound, models.NewMessage(models.RoleUser, newText, s.now()))

	if err := s.writeHistory(ctx, session, rewound); err != nil {
		return nil, err
	}

	s.log.Info("Chat rewound", "chat_id", chatID, "index", index, "dropped", len(messages)-index)
	s.afterTranscriptChange(ctx, session)
	return rewound, nil
}

// Delete removes the session and its index mirror. Both deletes are attempted
// and their failures reported together.
func (s *Service) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.tracker.Begin(chatID); err != nil {
		return err
	}
	defer s.tracker.Finish(chatID)

	session, err := s.repos.Chats.Get(ctx, chatID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return err
	case session.UserID != userID:
		return ErrChatNotFound
	}

	sessionErr := s.repos.Chats.Delete(ctx, chatID)
	indexErr := s.repos.Index.Delete(ctx, userID, chatID)

	if errors.Is(sessionErr, repository.ErrNotFound) && errors.Is(indexErr, repository.ErrNotFound) {
		return ErrChatNotFound
	}

	var errs []error
	if sessionErr != nil && !errors.Is(sessionErr, repository.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete chat: %w", sessionErr))
	}
	if indexErr != nil && !errors.Is(indexErr, repository.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete chat index: %w", indexErr))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.chatListUpdated(ctx, userID, chatID)
	return nil
}

// UpdateTitle sets the title on the session and its index mirror. A missing
// mirror is rebuilt from the session.
func (s *Service) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if _, err := s.Load(ctx, userID, chatID); err != nil {
		return err
	}

	now := s.now().UTC()
	var errs []error
	if err := s.repos.Chats.UpdateTitle(ctx, chatID, title, now); err != nil {
		errs = append(errs, fmt.Errorf("update chat title: %w", err))
	}
	if err := s.repos.Index.UpdateTitle(ctx, userID, chatID, title); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = s.RebuildIndex(ctx, userID, chatID)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("update chat index title: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.chatListUpdated(ctx, userID, chatID)
	return nil
}

// RebuildIndex re-derives the index mirror from the session record
func (s *Service) RebuildIndex(ctx context.Context, userID, chatID string) error {
	session, err := s.Load(ctx, userID, chatID)
	if err != nil {
		return err
	}
	return s.rebuildIndex(ctx, session)
}

func (s *Service) rebuildIndex(ctx context.Context, session *models.ChatSession) error {
	avatar := ""
	if c, err := s.repos.Characters.GetByID(ctx, session.CharacterID); err == nil {
		avatar = c.Avatar
	}
	return s.repos.Index.Upsert(ctx, indexEntry(session, avatar))
}

// RepairIndex rebuilds the mirror of every session updated since the given time
func (s *Service) RepairIndex(ctx context.Context, since time.Time, batch int) (int, error) {
	sessions, err := s.repos.Chats.ListUpdatedSince(ctx, since, batch)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for i := range sessions {
		if err := s.rebuildIndex(ctx, &sessions[i]); err != nil {
			s.log.Warn("Chat index repair failed", "chat_id", sessions[i].ID, "error", err.Error())
			continue
		}
		repaired++
	}
	return repaired, nil
}

// SetTokenLimit stores the user's preferred reply length and notifies their sessions
func (s *Service) SetTokenLimit(ctx context.Context, userID string, limit int) (int, error) {
	limit = prompt.NormalizeTokenLimit(limit)
	if err := s.repos.Users.UpdateTokenLimit(ctx, userID, limit); err != nil {
		return 0, err
	}
	s.notify(ctx, events.Event{Type: events.TypeTokenLimitChanged, UserID: userID, TokenLimit: limit, At: s.now().UTC()})
	return limit, nil
}

func (s *Service) tokenLimitFor(ctx context.Context, userID string, requested int) int {
	if requested != 0 {
		return prompt.NormalizeTokenLimit(requested)
	}
	if s.repos.Users != nil {
		if u, err := s.repos.Users.GetByID(ctx, userID); err == nil {
			return prompt.NormalizeTokenLimit(u.TokenLimit)
		}
	}
	return prompt.DefaultTokenLimit
}
