// Package memory maintains the cross-friend memory (CFM) ledger: per-user,
// per-character summaries of past chats that friends can pull into their own
// conversations by @mentioning the owner.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sentra/backend/internal/llm"
	"sentra/backend/internal/models"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/observability"
)

var (
	// ErrNotFriend is returned when memories are requested without an accepted friendship
	ErrNotFriend = errors.New("not a friend")
	// ErrChatNotFound is returned for unknown chats
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotOwner is returned when the caller does not own the chat
	ErrNotOwner = errors.New("chat belongs to another user")
)

const summaryInstruction = "You are %s. Summarize the conversation below from your own first-person perspective in under 200 words. " +
	"Focus on what happened, the emotions involved and how your relationship with %s developed. " +
	"Write it as a memory you will recall later, not as a report."

// Options configures summarization
type Options struct {
	Model         string
	MaxTokens     int
	UpdateTimeout time.Duration
}

// Repos are the stores the memory service works on
type Repos struct {
	Chats       repository.ChatRepository
	Memories    repository.MemoryRepository
	Users       repository.UserRepository
	Friendships repository.FriendshipRepository
}

// Service is the memory subsystem
type Service struct {
	repos    Repos
	provider llm.Provider
	opts     Options
	metrics  *observability.Metrics
	log      *logger.Logger
	now      func() time.Time

	wg sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*refresh
}

// refresh tracks the background update of one chat. A request arriving while
// it runs is folded into a single rerun.
type refresh struct {
	rerun bool
}

// NewService creates the memory service. metrics may be nil.
func NewService(repos Repos, provider llm.Provider, opts Options, metrics *observability.Metrics, log *logger.Logger) *Service {
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 45 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 400
	}
	return &Service{
		repos:    repos,
		provider: provider,
		opts:     opts,
		metrics:  metrics,
		log:      log.With("component", "cfm"),
		now:      time.Now,
		inflight: make(map[string]*refresh),
	}
}

func (s *Service) ownedChat(ctx context.Context, userID, chatID string) (*models.ChatSession, error) {
	session, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotOwner
	}
	return session, nil
}

// Enable turns CFM on for a chat the caller owns and runs the first summarization.
// Enabling an already enabled chat changes nothing.
func (s *Service) Enable(ctx context.Context, userID, chatID string) (*models.ChatSession, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	enabled, err := s.repos.Chats.EnableCFM(ctx, chatID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("enable cfm: %w", err)
	}

	if enabled {
		s.log.Info("CFM enabled", "user_id", userID, "chat_id", chatID)
		if err := s.UpdateMemory(ctx, userID, chatID); err != nil {
			s.log.LogError(err, "Initial memory update failed", "user_id", userID, "chat_id", chatID)
		}
	}

	return s.repos.Chats.Get(ctx, chatID)
}

// UpdateMemory summarizes the chat into its ledger slot. An empty chat is left alone.
// A failed summary stores a placeholder so the slot always exists.
func (s *Service) UpdateMemory(ctx context.Context, userID, chatID string) error {
	session, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return err
	}

	messages, err := session.Messages()
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		s.count("skipped")
		return nil
	}

	username := session.UserUsername
	if username == "" {
		username = "the user"
	}

	summary, err := s.summarize(ctx, session.CharacterName, username, messages)
	result := "summarized"
	if err != nil {
		s.log.LogError(err, "Memory summarization failed, storing placeholder", "chat_id", chatID)
		summary = Placeholder(session.CharacterName, username)
		result = "placeholder"
	}

	err = s.repos.Memories.PutEntry(ctx, userID, session.CharacterID, chatID, summary, session.UpdatedAt, s.now().UTC())
	if errors.Is(err, repository.ErrStaleMemory) {
		s.log.Info("Discarding memory of an outdated transcript", "chat_id", chatID)
		s.count("stale")
		return nil
	}
	if err != nil {
		s.count("failed")
		return fmt.Errorf("store memory: %w", err)
	}
	s.count(result)
	return nil
}

func (s *Service) summarize(ctx context.Context, characterName, username string, messages []models.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		who := username
		if m.Role == models.RoleAssistant {
			who = characterName
		}
		transcript.WriteString(who + ": " + m.Content + "\n")
	}

	system := fmt.Sprintf(summaryInstruction, characterName, username)
	out, err := s.provider.Complete(ctx, llm.Request{
		System:    system,
		User:      system + "\n\nConversation:\n" + transcript.String(),
		MaxTokens: s.opts.MaxTokens,
		Model:     s.opts.Model,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.MemoryUpdates.WithLabelValues(result).Inc()
	}
}

// Placeholder is stored when a summary cannot be produced
func Placeholder(characterName, username string) string {
	return fmt.Sprintf("%s remembers chatting with %s, but the details are hazy.", characterName, username)
}

// ScheduleUpdate refreshes the chat's memory in the background. At most one
// refresh per chat runs at a time; requests made meanwhile trigger one more
// pass over the latest transcript. Failures are logged only.
func (s *Service) ScheduleUpdate(userID, chatID string) {
	s.mu.Lock()
	if r, ok := s.inflight[chatID]; ok {
		r.rerun = true
		s.mu.Unlock()
		return
	}
	r := &refresh{}
	s.inflight[chatID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.runUpdate(userID, chatID)

			s.mu.Lock()
			if !r.rerun {
				delete(s.inflight, chatID)
				s.mu.Unlock()
				return
			}
			r.rerun = false
			s.mu.Unlock()
		}
	}()
}

func (s *Service) runUpdate(userID, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.UpdateTimeout)
	defer cancel()

	if err := s.UpdateMemory(ctx, userID, chatID); err != nil {
		s.log.LogError(err, "Background memory update failed", "user_id", userID, "chat_id", chatID)
	}
}

// Wait blocks until scheduled updates have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// GetFriendMemories returns friendID's ledger for characterID. It fails with
// ErrNotFriend unless the two users are accepted friends, and returns nil
// without error when the friend has no ledger for that character.
func (s *Service) GetFriendMemories(ctx context.Context, requesterID, friendID, characterID string) (*models.CFMMemory, error) {
	ok, err := s.AreFriends(ctx, requesterID, friendID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFriend
	}

	mem, err := s.repos.Memories.Get(ctx, friendID, characterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return mem, nil
}

// NoMemories is the text injected when there is nothing to recall about username
func NoMemories(username string) string {
	return fmt.Sprintf("You have no memories with %s.", username)
}

// FormatForPrompt renders a friend's ledger as one injected memory block
func FormatForPrompt(username string, mem *models.CFMMemory) string {
	entries := mem.Entries()
	if len(entries) == 0 {
		return NoMemories(username)
	}

	chatIDs := make([]string, 0, len(entries))
	for id := range entries {
		chatIDs = append(chatIDs, id)
	}
	sort.Strings(chatIDs)

	parts := make([]string, 0, len(chatIDs))
	for _, id := range chatIDs {
		if v := strings.TrimSpace(entries[id]); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return NoMemories(username)
	}
	return "Memories from " + username + ":\n\n" + strings.Join(parts, "\n\n")
}

// BuildMentionMemories returns one injected memory string per @mention in text.
// Unknown usernames yield the no-memories sentence; non-friends are skipped.
func (s *Service) BuildMentionMemories(ctx context.Context, requesterID, characterID, text string) []string {
	mentions := ParseMentions(text)
	out := make([]string, 0, len(mentions))

	for _, username := range mentions {
		friendID, found, err := s.ResolveUsername(ctx, username)
		if err != nil {
			s.log.LogError(err, "Mention lookup failed", "username", username)
			continue
		}
		if !found {
			out = append(out, NoMemories(username))
			continue
		}

		mem, err := s.GetFriendMemories(ctx, requesterID, friendID, characterID)
		if err != nil {
			if errors.Is(err, ErrNotFriend) {
				s.log.Info("Mention skipped, not a friend", "username", username)
			} else {
				s.log.LogError(err, "Friend memory lookup failed", "username", username)
			}
			continue
		}
		out = append(out, FormatForPrompt(username, mem))
	}
	return out
}
