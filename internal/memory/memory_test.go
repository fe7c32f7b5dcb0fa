package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentra/backend/internal/llm"
	"sentra/backend/internal/models"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fixture struct {
	svc   *Service
	repos *repository.Repositories
	fake  *llm.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := &llm.Fake{Deltas: []string{"I remember the storm we watched together."}}
	f := newFixtureWith(t, fake)
	f.fake = fake
	return f
}

func newFixtureWith(t *testing.T, provider llm.Provider) *fixture {
	t.Helper()
	db, err := repository.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	repos := repository.New(db)

	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "u-alice", Username: "alice"},
		{ID: "u-bob", Username: "Bob_2"},
		{ID: "u-carol", Username: "carol"},
	} {
		u := u
		require.NoError(t, repos.Users.Upsert(ctx, &u))
	}

	svc := NewService(Repos{
		Chats:       repos.Chats,
		Memories:    repos.Memories,
		Users:       repos.Users,
		Friendships: repos.Friendships,
	}, provider, Options{UpdateTimeout: 5 * time.Second}, nil, logger.Nop())

	return &fixture{svc: svc, repos: repos}
}

func (f *fixture) chat(t *testing.T, id, userID, username string, messages ...models.Message) {
	t.Helper()
	s := &models.ChatSession{ID: id, UserID: userID, UserUsername: username, CharacterID: "char1", CharacterName: "Mira"}
	require.NoError(t, s.SetMessages(messages))
	require.NoError(t, f.repos.Chats.Create(context.Background(), s))
}

func (f *fixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	_, err := f.svc.RequestFriendship(context.Background(), a, b)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendship(context.Background(), b, a)
	require.NoError(t, err)
}

func TestParseMentions(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob_2"}, ParseMentions("Hello @alice and @bob_2!"))
	assert.Equal(t, []string{"a", "b", "a"}, ParseMentions("@a @b @a"))
	assert.Empty(t, ParseMentions("no mentions @ here"))
}

func TestEnableIsOneWayAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chat(t, "chat1", "u-alice", "alice", models.Message{Role: models.RoleUser, Content: "hi"})

	first, err := f.svc.Enable(ctx, "u-alice", "chat1")
	require.NoError(t, err)
	require.True(t, first.CFMEnabled)
	require.NotNil(t, first.CFMEnabledAt)

	f.svc.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	second, err := f.svc.Enable(ctx, "u-alice", "chat1")
	require.NoError(t, err)
	assert.True(t, second.CFMEnabled)
	assert.True(t, first.CFMEnabledAt.Equal(*second.CFMEnabledAt))
	assert.Len(t, f.fake.Requests, 1)

	mem, err := f.repos.Memories.Get(ctx, "u-alice", "char1")
	require.NoError(t, err)
	assert.Equal(t, "I remember the storm we watched together.", mem.Entries()["chat1"])
}

func TestEnableRequiresOwner(t *testing.T) {
	f := newFixture(t)
	f.chat(t, "chat1", "u-alice", "alice")

	_, err := f.svc.Enable(context.Background(), "u-bob", "chat1")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.Enable(context.Background(), "u-alice", "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestUpdateMemoryEmptyChatIsNoop(t *testing.T) {
	f := newFixture(t)
	f.chat(t, "chat1", "u-alice", "alice")

	require.NoError(t, f.svc.UpdateMemory(context.Background(), "u-alice", "chat1"))
	_, err := f.repos.Memories.Get(context.Background(), "u-alice", "char1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.fake.Requests)
}

func TestUpdateMemoryFallsBackToPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.fake.Err = errors.New("model down")
	f.chat(t, "chat1", "u-alice", "alice", models.Message{Role: models.RoleUser, Content: "hi"})

	require.NoError(t, f.svc.UpdateMemory(context.Background(), "u-alice", "chat1"))

	mem, err := f.repos.Memories.Get(context.Background(), "u-alice", "char1")
	require.NoError(t, err)
	assert.Equal(t, "Mira remembers chatting with alice, but the details are hazy.", mem.Entries()["chat1"])
}

func TestScheduleUpdate(t *testing.T) {
	f := newFixture(t)
	f.chat(t, "chat1", "u-alice", "alice", models.Message{Role: models.RoleUser, Content: "hi"})

	f.svc.ScheduleUpdate("u-alice", "chat1")
	f.svc.ScheduleUpdate("u-alice", "missing")
	f.svc.Wait()

	mem, err := f.repos.Memories.Get(context.Background(), "u-alice", "char1")
	require.NoError(t, err)
	assert.Contains(t, mem.Entries(), "chat1")
}

func TestGetFriendMemoriesGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.repos.Memories.PutEntry(ctx, "u-bob", "char1", "chatB", "Bob's memory", now, now))

	_, err := f.svc.GetFriendMemories(ctx, "u-alice", "u-bob", "char1")
	assert.ErrorIs(t, err, ErrNotFriend)

	_, err = f.svc.RequestFriendship(ctx, "u-alice", "u-bob")
	require.NoError(t, err)
	_, err = f.svc.GetFriendMemories(ctx, "u-alice", "u-bob", "char1")
	assert.ErrorIs(t, err, ErrNotFriend, "pending is not enough")

	_, err = f.svc.AcceptFriendship(ctx, "u-bob", "u-alice")
	require.NoError(t, err)

	mem, err := f.svc.GetFriendMemories(ctx, "u-alice", "u-bob", "char1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "Bob's memory", mem.Entries()["chatB"])

	mem, err = f.svc.GetFriendMemories(ctx, "u-alice", "u-bob", "other-character")
	require.NoError(t, err)
	assert.Nil(t, mem)
}

func TestFriendshipRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestFriendship(ctx, "u-alice", "u-alice")
	assert.ErrorIs(t, err, ErrSelfFriendship)
	_, err = f.svc.RequestFriendship(ctx, "u-alice", "u-nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.RequestFriendship(ctx, "u-alice", "u-carol")
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendship(ctx, "u-alice", "u-carol")
	assert.ErrorIs(t, err, ErrNoPendingRequest, "the requester cannot accept their own request")

	fr, err := f.svc.RequestFriendship(ctx, "u-carol", "u-alice")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipAccepted, fr.Status)

	ok, err := f.svc.AreFriends(ctx, "u-alice", "u-carol")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFormatForPrompt(t *testing.T) {
	assert.Equal(t, "You have no memories with bob.", FormatForPrompt("bob", nil))

	mem := &models.CFMMemory{}
	mem.Memories = datatypes.NewJSONType(map[string]string{"b": "second", "a": "first"})
	assert.Equal(t, "Memories from bob:\n\nfirst\n\nsecond", FormatForPrompt("bob", mem))
}

func TestBuildMentionMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.Memories.PutEntry(ctx, "u-bob", "char1", "chatB", "Bob's memory", time.Now().UTC(), time.Now().UTC()))
	f.befriend(t, "u-alice", "u-bob")

	got := f.svc.BuildMentionMemories(ctx, "u-alice", "char1", "Hey @BOB_2, @ghost and @carol say hi")

	require.Len(t, got, 2)
	assert.Equal(t, "Memories from BOB_2:\n\nBob's memory", got[0])
	assert.Equal(t, NoMemories("ghost"), got[1])
}

// gatedProvider holds its first Complete call until release is closed.
// Later calls answer immediately.
type gatedProvider struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
	first   string
	later   string
}

func newGatedProvider(first, later string) *gatedProvider {
	return &gatedProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		first:   first,
		later:   later,
	}
}

func (g *gatedProvider) Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) (string, error) {
	return g.Complete(ctx, req)
}

func (g *gatedProvider) Complete(ctx context.Context, _ llm.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if n > 1 {
		return g.later, nil
	}
	close(g.entered)
	select {
	case <-g.release:
		return g.first, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedProvider) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (f *fixture) replaceHistory(t *testing.T, chatID string, at time.Time, messages ...models.Message) {
	t.Helper()
	raw, err := models.EncodeHistory(messages)
	require.NoError(t, err)
	require.NoError(t, f.repos.Chats.UpdateHistory(context.Background(), chatID, raw, at))
}

func TestOutdatedRefreshKeepsNewerMemory(t *testing.T) {
	gate := newGatedProvider("summary of user turn only", "summary including the reply")
	f := newFixtureWith(t, gate)
	ctx := context.Background()
	f.chat(t, "chat1", "u-alice", "alice", models.Message{Role: models.RoleUser, Content: "u0"})

	f.svc.ScheduleUpdate("u-alice", "chat1")
	<-gate.entered

	f.replaceHistory(t, "chat1", time.Now().UTC().Add(time.Minute),
		models.Message{Role: models.RoleUser, Content: "u0"},
		models.Message{Role: models.RoleAssistant, Content: "a0"},
	)
	require.NoError(t, f.svc.UpdateMemory(ctx, "u-alice", "chat1"))

	close(gate.release)
	f.svc.Wait()

	mem, err := f.repos.Memories.Get(ctx, "u-alice", "char1")
	require.NoError(t, err)
	assert.Equal(t, "summary including the reply", mem.Entries()["chat1"])
}

func TestScheduleUpdateCoalescesPerChat(t *testing.T) {
	gate := newGatedProvider("summary of user turn only", "summary including the reply")
	f := newFixtureWith(t, gate)
	f.chat(t, "chat1", "u-alice", "alice", models.Message{Role: models.RoleUser, Content: "u0"})

	f.svc.ScheduleUpdate("u-alice", "chat1")
	<-gate.entered

	f.replaceHistory(t, "chat1", time.Now().UTC().Add(time.Minute),
		models.Message{Role: models.RoleUser, Content: "u0"},
		models.Message{Role: models.RoleAssistant, Content: "a0"},
	)
	f.svc.ScheduleUpdate("u-alice", "chat1")
	f.svc.ScheduleUpdate("u-alice", "chat1")

	close(gate.release)
	f.svc.Wait()

	assert.Equal(t, 2, gate.Calls())
	mem, err := f.repos.Memories.Get(context.Background(), "u-alice", "char1")
	require.NoError(t, err)
	assert.Equal(t, "summary including the reply", mem.Entries()["chat1"])
}
