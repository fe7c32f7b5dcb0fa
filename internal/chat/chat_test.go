package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sentra/backend/internal/gateway"
	"sentra/backend/internal/llm"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/events"
	"sentra/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoriesStub struct {
	mu        sync.Mutex
	scheduled []string
	inject    []string
	texts     []string
}

func (m *memoriesStub) ScheduleUpdate(_, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, chatID)
}

func (m *memoriesStub) BuildMentionMemories(_ context.Context, _, _, text string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return m.inject
}

type fixture struct {
	svc      *Service
	repos    *repository.Repositories
	provider *llm.Fake
	memories *memoriesStub
	bus      *events.Bus
}

func newFixture(t *testing.T, gen func(*gateway.Service) Generator) *fixture {
	t.Helper()
	db, err := repository.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	repos := repository.New(db)

	ctx := context.Background()
	require.NoError(t, repos.Characters.Create(ctx, &models.Character{
		ID:       "char1",
		Name:     "Mira",
		Scenario: "A quiet library",
		Avatar:   "mira.png",
	}))
	require.NoError(t, repos.Users.Upsert(ctx, &models.User{ID: "u1", Username: "Alice", TokenLimit: 1024}))

	provider := &llm.Fake{Deltas: []string{"Hello", " there"}}
	gw := gateway.NewService(repos.Characters, provider, prompt.Examples{}, gateway.Options{Timeout: 5 * time.Second}, nil, logger.Nop())

	var generator Generator = gateway.NewLocalGenerator(gw)
	if gen != nil {
		generator = gen(gw)
	}

	mem := &memoriesStub{}
	bus := events.NewBus()
	svc := NewService(Repos{
		Chats:      repos.Chats,
		Index:      repos.ChatIndex,
		Characters: repos.Characters,
		Users:      repos.Users,
	}, mem, generator, bus, logger.Nop())

	return &fixture{svc: svc, repos: repos, provider: provider, memories: mem, bus: bus}
}

func (f *fixture) seed(t *testing.T, roles ...string) *models.ChatSession {
	t.Helper()
	session, err := f.svc.Create(context.Background(), "u1", "Alice", "char1", "")
	require.NoError(t, err)

	msgs := make([]models.Message, len(roles))
	for i, r := range roles {
		msgs[i] = models.Message{Role: r, Content: r + string(rune('0'+i))}
	}
	raw, err := models.EncodeHistory(msgs)
	require.NoError(t, err)
	require.NoError(t, f.repos.Chats.UpdateHistory(context.Background(), session.ID, raw, time.Now()))
	return session
}

func (f *fixture) history(t *testing.T, chatID string) []models.Message {
	t.Helper()
	session, err := f.svc.Load(context.Background(), "u1", chatID)
	require.NoError(t, err)
	msgs, err := session.Messages()
	require.NoError(t, err)
	return msgs
}

type recorder struct {
	mu       sync.Mutex
	started  bool
	deltas   []string
	complete string
	errMsg   string
}

func (r *recorder) callbacks() gateway.Callbacks {
	return gateway.Callbacks{
		OnStart: func() { r.mu.Lock(); r.started = true; r.mu.Unlock() },
		OnDelta: func(c string) { r.mu.Lock(); r.deltas = append(r.deltas, c); r.mu.Unlock() },
		OnComplete: func(full string) {
			r.mu.Lock()
			r.complete = full
			r.mu.Unlock()
		},
		OnError: func(msg string) { r.mu.Lock(); r.errMsg = msg; r.mu.Unlock() },
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t, nil)
	var got []events.Event
	unsubscribe := f.bus.Subscribe("u1", func(ev events.Event) { got = append(got, ev) })
	defer unsubscribe()

	session, err := f.svc.Create(context.Background(), "u1", "Alice", "char1", "  On a train  ")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(session.ID, "u1_"))
	assert.Equal(t, "Chat with Mira", session.Title)
	assert.Equal(t, "On a train", session.Scenario)
	assert.Empty(t, f.history(t, session.ID))

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, session.ID, list[0].ChatID)
	assert.Equal(t, "mira.png", list[0].Avatar)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeChatListUpdated, got[0].Type)
	assert.Equal(t, session.ID, got[0].ChatID)

	_, err = f.svc.Create(context.Background(), "u1", "Alice", "missing", "")
	assert.ErrorIs(t, err, ErrCharacterNotFound)
}

func TestLoadChecksOwner(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t)

	_, err := f.svc.Load(context.Background(), "someone-else", session.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = f.svc.Load(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestAppendUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t, models.RoleUser, models.RoleAssistant)

	msgs, err := f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "again")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "again", msgs[2].Content)
	assert.NotNil(t, msgs[2].Timestamp)
	assert.Len(t, f.history(t, session.ID), 3)
	assert.Empty(t, f.memories.scheduled)

	_, err = f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestAppendSchedulesMemoryUpdateWhenEnabled(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t)
	_, err := f.repos.Chats.EnableCFM(context.Background(), session.ID, time.Now())
	require.NoError(t, err)

	_, err = f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, f.memories.scheduled)
}

func TestRewind(t *testing.T) {
	roles := []string{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant, models.RoleUser}

	t.Run("assistant index is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		session := f.seed(t, roles...)

		_, err := f.svc.Rewind(context.Background(), "u1", session.ID, 1, "X")
		assert.ErrorIs(t, err, ErrInvalidRewind)
		assert.Len(t, f.history(t, session.ID), 5)
	})

	t.Run("out of range is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		session := f.seed(t, roles...)

		for _, idx := range []int{-1, 5, 9} {
			_, err := f.svc.Rewind(context.Background(), "u1", session.ID, idx, "X")
			assert.ErrorIs(t, err, ErrInvalidRewind)
		}
	})

	t.Run("user index truncates and replaces", func(t *testing.T) {
		f := newFixture(t, nil)
		session := f.seed(t, roles...)

		msgs, err := f.svc.Rewind(context.Background(), "u1", session.ID, 2, "X")
		require.NoError(t, err)

		stored := f.history(t, session.ID)
		require.Len(t, stored, 3)
		assert.Equal(t, "user0", stored[0].Content)
		assert.Equal(t, "assistant1", stored[1].Content)
		assert.Equal(t, models.RoleUser, stored[2].Role)
		assert.Equal(t, "X", stored[2].Content)
		assert.Equal(t, len(stored), len(msgs))
	})

	t.Run("empty replacement is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		session := f.seed(t, roles...)

		_, err := f.svc.Rewind(context.Background(), "u1", session.ID, 0, "")
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})
}

func TestSendAndStreamPersistsReply(t *testing.T) {
	f := newFixture(t, nil)
	f.memories.inject = []string{"Memories from bob:\n\nWe met at the docks."}
	session, err := f.svc.Create(context.Background(), "u1", "Alice", "char1", "On a train")
	require.NoError(t, err)

	rec := &recorder{}
	err = f.svc.SendAndStream(context.Background(), "u1", "Alice", session.ID, "hi @bob", StreamOptions{}, rec.callbacks())
	require.NoError(t, err)

	assert.True(t, rec.started)
	assert.Equal(t, []string{"Hello", " there"}, rec.deltas)
	assert.Equal(t, "Hello there", rec.complete)
	assert.Empty(t, rec.errMsg)

	stored := f.history(t, session.ID)
	require.Len(t, stored, 2)
	assert.Equal(t, "hi @bob", stored[0].Content)
	assert.Equal(t, models.RoleAssistant, stored[1].Role)
	assert.Equal(t, "Hello there", stored[1].Content)

	req := f.provider.LastRequest()
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Contains(t, req.System, "On a train (custom scenario for this chat)")
	assert.Contains(t, req.System, "We met at the docks.")
	assert.Equal(t, []string{"hi @bob"}, f.memories.texts)

	assert.Equal(t, "idle", f.svc.Tracker().State(session.ID).Name())
}

func TestStreamUsesTokenLimitPreference(t *testing.T) {
	f := newFixture(t, nil)
	var got []events.Event
	unsubscribe := f.bus.Subscribe("u1", func(ev events.Event) { got = append(got, ev) })
	defer unsubscribe()

	limit, err := f.svc.SetTokenLimit(context.Background(), "u1", 512)
	require.NoError(t, err)
	assert.Equal(t, 512, limit)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeTokenLimitChanged, got[0].Type)
	assert.Equal(t, 512, got[0].TokenLimit)

	session := f.seed(t, models.RoleUser)
	require.NoError(t, f.svc.StreamGeneration(context.Background(), "u1", "Alice", session.ID, StreamOptions{}, gateway.Callbacks{}))
	assert.Equal(t, 512, f.provider.LastRequest().MaxTokens)

	require.NoError(t, f.svc.SendAndStream(context.Background(), "u1", "Alice", session.ID, "more", StreamOptions{TokenLimit: 256}, gateway.Callbacks{}))
	assert.Equal(t, 256, f.provider.LastRequest().MaxTokens)

	limit, err = f.svc.SetTokenLimit(context.Background(), "u1", 300)
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultTokenLimit, limit)
}

func TestStreamErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.Err = errors.New("model down")
	f.provider.FailAfter = 1
	session := f.seed(t, models.RoleUser)

	rec := &recorder{}
	err := f.svc.StreamGeneration(context.Background(), "u1", "Alice", session.ID, StreamOptions{}, rec.callbacks())
	require.NoError(t, err)

	assert.True(t, rec.started)
	assert.Equal(t, []string{"Hello"}, rec.deltas)
	assert.Equal(t, "Failed to generate response", rec.errMsg)
	assert.Empty(t, rec.complete)
	assert.Len(t, f.history(t, session.ID), 1)
}

type cancelledGenerator struct{}

func (cancelledGenerator) Generate(_ context.Context, _, _ string, _ gateway.ChatTurnRequest, sink gateway.EventSink) error {
	_ = sink.Start()
	_ = sink.Delta("partial")
	return context.Canceled
}

func TestCancelledStreamPersistsNothing(t *testing.T) {
	f := newFixture(t, func(*gateway.Service) Generator { return cancelledGenerator{} })
	session := f.seed(t, models.RoleUser)

	rec := &recorder{}
	err := f.svc.StreamGeneration(context.Background(), "u1", "Alice", session.ID, StreamOptions{}, rec.callbacks())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.complete)
	assert.Empty(t, rec.errMsg)
	assert.Len(t, f.history(t, session.ID), 1)
	assert.Equal(t, "idle", f.svc.Tracker().State(session.ID).Name())
}

func TestStreamRequiresTrailingUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t, models.RoleUser, models.RoleAssistant)

	err := f.svc.StreamGeneration(context.Background(), "u1", "Alice", session.ID, StreamOptions{}, gateway.Callbacks{})
	assert.ErrorIs(t, err, ErrNothingToAnswer)
	assert.Empty(t, f.provider.Requests)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) Generate(_ context.Context, _, _ string, _ gateway.ChatTurnRequest, sink gateway.EventSink) error {
	_ = sink.Start()
	close(g.started)
	<-g.release
	return sink.Complete("done")
}

func TestBusyGuard(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, func(*gateway.Service) Generator { return gen })
	session := f.seed(t)

	done := make(chan error, 1)
	go func() {
		done <- f.svc.SendAndStream(context.Background(), "u1", "Alice", session.ID, "first", StreamOptions{}, gateway.Callbacks{})
	}()
	<-gen.started

	assert.Equal(t, "streaming", f.svc.Tracker().State(session.ID).Name())

	err := f.svc.SendAndStream(context.Background(), "u1", "Alice", session.ID, "second", StreamOptions{}, gateway.Callbacks{})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.Rewind(context.Background(), "u1", session.ID, 0, "edit")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "third")
	assert.ErrorIs(t, err, ErrBusy)

	close(gen.release)
	require.NoError(t, <-done)

	stored := f.history(t, session.ID)
	require.Len(t, stored, 2)
	assert.Equal(t, "done", stored[1].Content)

	_, err = f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "after")
	assert.NoError(t, err)
}

// heldChats blocks the next Get until release is closed
type heldChats struct {
	repository.ChatRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *heldChats) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	held := false
	h.once.Do(func() { held = true })
	if held {
		close(h.entered)
		<-h.release
	}
	return h.ChatRepository.Get(ctx, id)
}

func TestWritesHoldTheSession(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t, models.RoleUser, models.RoleAssistant)
	held := &heldChats{ChatRepository: f.repos.Chats, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.repos.Chats = held

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.AppendUserMessage(context.Background(), "u1", session.ID, "queued")
		done <- err
	}()
	<-held.entered

	assert.True(t, Busy(f.svc.Tracker().State(session.ID)))
	err := f.svc.SendAndStream(context.Background(), "u1", "Alice", session.ID, "racing", StreamOptions{}, gateway.Callbacks{})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.Rewind(context.Background(), "u1", session.ID, 0, "edit")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), "u1", session.ID), ErrBusy)
	assert.Empty(t, f.provider.Requests)

	close(held.release)
	require.NoError(t, <-done)
	assert.Equal(t, "idle", f.svc.Tracker().State(session.ID).Name())

	stored := f.history(t, session.ID)
	require.Len(t, stored, 3)
	assert.Equal(t, "queued", stored[2].Content)

	_, err = f.svc.Rewind(context.Background(), "u1", session.ID, 2, "edited")
	require.NoError(t, err)
	assert.Equal(t, "idle", f.svc.Tracker().State(session.ID).Name())
	assert.Equal(t, "edited", f.history(t, session.ID)[2].Content)
}

func TestRewindAndStream(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t, models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant)

	err := f.svc.RewindAndStream(context.Background(), "u1", "Alice", session.ID, 2, "different", StreamOptions{}, gateway.Callbacks{})
	require.NoError(t, err)

	stored := f.history(t, session.ID)
	require.Len(t, stored, 4)
	assert.Equal(t, "different", stored[2].Content)
	assert.Equal(t, "Hello there", stored[3].Content)

	err = f.svc.RewindAndStream(context.Background(), "u1", "Alice", session.ID, 3, "nope", StreamOptions{}, gateway.Callbacks{})
	assert.ErrorIs(t, err, ErrInvalidRewind)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t, models.RoleUser)

	require.NoError(t, f.svc.Delete(context.Background(), "u1", session.ID))

	_, err := f.svc.Load(context.Background(), "u1", session.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), "u1", session.ID), ErrChatNotFound)
}

func TestDeleteWithMissingIndexEntry(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t)
	require.NoError(t, f.repos.ChatIndex.Delete(context.Background(), "u1", session.ID))

	assert.NoError(t, f.svc.Delete(context.Background(), "u1", session.ID))
}

func TestDeleteOtherUsersChat(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), "intruder", session.ID), ErrChatNotFound)
	f.history(t, session.ID)
}

func TestUpdateTitle(t *testing.T) {
	f := newFixture(t, nil)
	session := f.seed(t)

	require.NoError(t, f.svc.UpdateTitle(context.Background(), "u1", session.ID, " Night train "))
	loaded, err := f.svc.Load(context.Background(), "u1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Night train", loaded.Title)

	assert.ErrorIs(t, f.svc.UpdateTitle(context.Background(), "u1", session.ID, "  "), ErrEmptyTitle)

	require.NoError(t, f.repos.ChatIndex.Delete(context.Background(), "u1", session.ID))
	require.NoError(t, f.svc.UpdateTitle(context.Background(), "u1", session.ID, "Rebuilt"))

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Rebuilt", list[0].Title)
}

func TestRepairIndex(t *testing.T) {
	f := newFixture(t, nil)
	a := f.seed(t)
	b := f.seed(t)
	require.NoError(t, f.repos.ChatIndex.Delete(context.Background(), "u1", a.ID))
	require.NoError(t, f.repos.ChatIndex.Delete(context.Background(), "u1", b.ID))

	n, err := f.svc.RepairIndex(context.Background(), time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
