package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentra/backend/pkg/events"
	"sentra/backend/pkg/jwt"
	"sentra/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *events.Bus, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	hub := NewHub(bus, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tokens := jwt.NewService("test-secret", time.Hour)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, tokens, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub, bus, tokens
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServeWsRejectsMissingToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWsRejectsInvalidToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsReachOnlyTheirUser(t *testing.T) {
	srv, hub, bus, tokens := newTestServer(t)

	aliceToken, err := tokens.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	bobToken, err := tokens.GenerateToken("bob", "Bob")
	require.NoError(t, err)

	alice := dial(t, srv, aliceToken)
	bob := dial(t, srv, bobToken)

	require.Eventually(t, func() bool {
		return bus.Subscribers("alice") == 1 && bus.Subscribers("bob") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.Clients())

	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type:   events.TypeChatListUpdated,
		UserID: "alice",
		ChatID: "chat-1",
	}))

	msg := readMessage(t, alice)
	assert.Equal(t, events.TypeChatListUpdated, msg.Type)
	content, ok := msg.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat-1", content["chatId"])

	require.NoError(t, bob.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, bob).Type)
}

func TestDisconnectUnsubscribes(t *testing.T) {
	srv, hub, bus, tokens := newTestServer(t)

	token, err := tokens.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	conn := dial(t, srv, token)

	require.Eventually(t, func() bool { return bus.Subscribers("alice") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return bus.Subscribers("alice") == 0 && hub.Clients() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
