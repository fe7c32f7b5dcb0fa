package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"sentra/backend/internal/llm"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/observability"
	"sentra/backend/pkg/sse"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, provider llm.Provider, timeout time.Duration) (*Service, *observability.Metrics) {
	t.Helper()
	db, err := repository.OpenInMemory(uuid.NewString())
	require.NoError(t, err)

	repos := repository.New(db)
	require.NoError(t, repos.Characters.Create(context.Background(), &models.Character{
		ID:       "char1",
		Name:     "Mira",
		Scenario: "A quiet library",
	}))

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	svc := NewService(repos.Characters, provider, prompt.Examples{}, Options{Timeout: timeout}, metrics, logger.Nop())
	return svc, metrics
}

func validRequest() ChatTurnRequest {
	return ChatTurnRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "tell me a story"},
		},
		CharacterID: "char1",
		SessionID:   "sess1",
		TokenLimit:  333,
		CFMMemories: []string{"Memories from bob:\n\nWe met at the docks."},
	}
}

// wireEvents runs a turn through the real event-stream writer and decodes it back
func wireEvents(t *testing.T, svc *Service, req ChatTurnRequest) []sse.Payload {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, svc.Stream(context.Background(), req, sse.NewWriter(&buf)))

	dec := sse.NewDecoder(&buf)
	var out []sse.Payload
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		p, err := ev.Decode()
		require.NoError(t, err)
		out = append(out, p)
	}
}

func payloadTypes(ps []sse.Payload) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Type
	}
	return out
}

func TestStreamSuccessOrdering(t *testing.T) {
	fake := &llm.Fake{Deltas: []string{"Once ", "upon ", "a time"}}
	svc, metrics := newTestService(t, fake, time.Minute)

	events := wireEvents(t, svc, validRequest())

	assert.Equal(t, []string{"start", "delta", "delta", "delta", "complete"}, payloadTypes(events))
	assert.Equal(t, "Once upon a time", events[4].FullContent)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayStreams.WithLabelValues(observability.OutcomeComplete)))

	req := fake.LastRequest()
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Contains(t, req.System, "We met at the docks.")
	assert.Contains(t, req.System, "A quiet library (character's default scenario)")
	assert.Contains(t, req.User, req.System)
	assert.Contains(t, req.User, "Human: hi\nAssistant: hello")
	assert.Contains(t, req.User, "Human: tell me a story")
}

func TestStreamProviderFailureAfterStart(t *testing.T) {
	fake := &llm.Fake{Deltas: []string{"a", "b", "c"}, Err: errors.New("upstream reset"), FailAfter: 2}
	svc, metrics := newTestService(t, fake, time.Minute)

	events := wireEvents(t, svc, validRequest())

	assert.Equal(t, []string{"start", "delta", "delta", "error"}, payloadTypes(events))
	assert.Equal(t, streamErrorMessage, events[3].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayStreams.WithLabelValues(observability.OutcomeError)))
}

func TestStreamProviderPanicBecomesErrorEvent(t *testing.T) {
	fake := &llm.Fake{Deltas: []string{"a", "b"}, Panic: true, FailAfter: 1}
	svc, _ := newTestService(t, fake, time.Minute)

	events := wireEvents(t, svc, validRequest())
	assert.Equal(t, []string{"start", "delta", "error"}, payloadTypes(events))
}

type blockingProvider struct{ llm.Fake }

func (b *blockingProvider) Stream(ctx context.Context, _ llm.Request, onDelta llm.DeltaFunc) (string, error) {
	_ = onDelta("partial")
	<-ctx.Done()
	return "partial", ctx.Err()
}

func TestStreamTimeout(t *testing.T) {
	svc, _ := newTestService(t, &blockingProvider{}, 20*time.Millisecond)

	events := wireEvents(t, svc, validRequest())
	assert.Equal(t, []string{"start", "delta", "error"}, payloadTypes(events))
	assert.Equal(t, streamTimeoutMessage, events[2].Message)
}

func TestStreamRejectsBeforeStart(t *testing.T) {
	fake := &llm.Fake{Deltas: []string{"x"}}
	svc, _ := newTestService(t, fake, time.Minute)

	tests := []struct {
		name   string
		mutate func(*ChatTurnRequest)
		field  string
	}{
		{"empty messages", func(r *ChatTurnRequest) { r.Messages = nil }, "messages"},
		{"missing character", func(r *ChatTurnRequest) { r.CharacterID = "" }, "characterId"},
		{"missing session", func(r *ChatTurnRequest) { r.SessionID = " " }, "sessionId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			var started bool
			err := svc.Stream(context.Background(), req, NewCallbackSink(Callbacks{OnStart: func() { started = true }}))

			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
			assert.False(t, started)
		})
	}

	req := validRequest()
	req.CharacterID = "nope"
	var started bool
	err := svc.Stream(context.Background(), req, NewCallbackSink(Callbacks{OnStart: func() { started = true }}))
	assert.ErrorIs(t, err, ErrCharacterNotFound)
	assert.False(t, started)
	assert.Empty(t, fake.Requests)
}

func TestCallbackSinkSingleTerminal(t *testing.T) {
	var completes, errs int
	sink := NewCallbackSink(Callbacks{
		OnComplete: func(string) { completes++ },
		OnError:    func(string) { errs++ },
	})

	require.NoError(t, sink.Start())
	require.NoError(t, sink.Complete("done"))
	assert.ErrorIs(t, sink.Error("late"), ErrSinkClosed)
	assert.ErrorIs(t, sink.Delta("late"), ErrSinkClosed)
	assert.Equal(t, 1, completes)
	assert.Equal(t, 0, errs)
}

func TestGenerate(t *testing.T) {
	fake := &llm.Fake{Deltas: []string{"Hello ", "there"}}
	svc, _ := newTestService(t, fake, time.Minute)

	resp, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, models.RoleAssistant, resp.AIMessage.Role)
	assert.Equal(t, "Hello there", resp.AIMessage.Content)
	assert.NotContains(t, fake.LastRequest().System, "We met at the docks.")
}

func TestGenerateProviderFailureApologizes(t *testing.T) {
	svc, _ := newTestService(t, &llm.Fake{Err: errors.New("rate limited")}, time.Minute)

	resp, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, Apology, resp.AIMessage.Content)
}

func TestStreamTokenLimitFromJSON(t *testing.T) {
	for raw, want := range map[string]int{`512`: 512, `1e9`: 1024, `300.5`: 1024, `"512"`: 1024} {
		fake := &llm.Fake{Deltas: []string{"ok"}}
		svc, _ := newTestService(t, fake, time.Minute)

		body := `{"messages":[{"role":"user","content":"hi"}],"characterId":"char1","sessionId":"s1","tokenLimit":` + raw + `}`
		var req ChatTurnRequest
		require.NoError(t, json.Unmarshal([]byte(body), &req), raw)

		payloads := wireEvents(t, svc, req)
		require.NotEmpty(t, payloads, raw)
		assert.Equal(t, sse.TypeComplete, payloads[len(payloads)-1].Type, raw)
		assert.Equal(t, want, fake.LastRequest().MaxTokens, raw)
	}
}

func TestGenerateValidation(t *testing.T) {
	svc, _ := newTestService(t, &llm.Fake{}, time.Minute)

	req := validRequest()
	req.CharacterID = "missing"
	_, err := svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrCharacterNotFound)

	req = validRequest()
	req.Messages = []models.Message{{Role: "system", Content: "x"}}
	_, err = svc.Generate(context.Background(), req)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "messages[0].role", fe.Field)
}
