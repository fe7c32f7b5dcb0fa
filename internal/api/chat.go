package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"

	"sentra/backend/internal/chat"
	"sentra/backend/internal/gateway"
	"sentra/backend/internal/memory"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves chat sessions and relays their generated replies
type ChatHandler struct {
	chats  *chat.Service
	memory *memory.Service
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chats *chat.Service, memory *memory.Service) *ChatHandler {
	return &ChatHandler{chats: chats, memory: memory}
}

// Owner resolves a chat's owner for middleware.RequireOwner
func (h *ChatHandler) Owner(ctx context.Context, chatID string) (string, bool, error) {
	owner, err := h.chats.Owner(ctx, chatID)
	if stderrors.Is(err, chat.ErrChatNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

type createChatRequest struct {
	CharacterID string `json:"characterId" binding:"required"`
	Scenario    string `json:"scenario"`
}

type titleRequest struct {
	Title string `json:"title" binding:"required"`
}

type sendMessageRequest struct {
	Content    string            `json:"content" binding:"required"`
	TokenLimit prompt.TokenLimit `json:"tokenLimit"`
}

type rewindRequest struct {
	Index      *int              `json:"index" binding:"required"`
	Content    string            `json:"content" binding:"required"`
	TokenLimit prompt.TokenLimit `json:"tokenLimit"`
}

// sessionResponse is a chat session with its decoded transcript
type sessionResponse struct {
	*models.ChatSession
	Messages []models.Message `json:"messages"`
}

func newSessionResponse(s *models.ChatSession) (*sessionResponse, error) {
	msgs, err := s.Messages()
	if err != nil {
		return nil, err
	}
	return &sessionResponse{ChatSession: s, Messages: msgs}, nil
}

// Create starts a new chat
func (h *ChatHandler) Create(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("characterId is required").WithCause(err))
		return
	}

	session, err := h.chats.Create(requestContext(c, userID), userID, username, req.CharacterID, req.Scenario)
	if err != nil {
		fail(c, err)
		return
	}
	resp, err := newSessionResponse(session)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// List returns the caller's chat list
func (h *ChatHandler) List(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	entries, err := h.chats.List(requestContext(c, userID), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": entries})
}

// Get loads one chat with its messages
func (h *ChatHandler) Get(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.chats.Load(requestContext(c, userID), userID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	resp, err := newSessionResponse(session)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delete removes a chat and its list entry
func (h *ChatHandler) Delete(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.chats.Delete(requestContext(c, userID), userID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateTitle renames a chat
func (h *ChatHandler) UpdateTitle(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("title is required").WithCause(err))
		return
	}

	if err := h.chats.UpdateTitle(requestContext(c, userID), userID, c.Param("id"), req.Title); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "title": req.Title})
}

// SendMessage appends a user message and streams the reply
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("content is required").WithCause(err))
		return
	}

	relay := newStreamRelay(c)
	err := h.chats.SendAndStream(requestContext(c, userID), userID, username, c.Param("id"), req.Content,
		chat.StreamOptions{TokenLimit: int(req.TokenLimit)}, relay.callbacks())
	relay.finish(err)
}

// Rewind replaces a user message, drops everything after it and streams a new reply
func (h *ChatHandler) Rewind(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req rewindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("index and content are required").WithCause(err))
		return
	}

	relay := newStreamRelay(c)
	err := h.chats.RewindAndStream(requestContext(c, userID), userID, username, c.Param("id"), *req.Index, req.Content,
		chat.StreamOptions{TokenLimit: int(req.TokenLimit)}, relay.callbacks())
	relay.finish(err)
}

// EnableCFM turns on cross-friend memory for a chat
func (h *ChatHandler) EnableCFM(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.memory.Enable(requestContext(c, userID), userID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            session.ID,
		"CFM_enabled":   session.CFMEnabled,
		"CFM_enabledAt": session.CFMEnabledAt,
	})
}

// streamRelay forwards orchestrator callbacks to the response as an event
// stream. Headers are written with the first event, so errors returned before
// the stream starts still get a JSON error response.
type streamRelay struct {
	c      *gin.Context
	mu     sync.Mutex
	writer *sse.Writer
}

func newStreamRelay(c *gin.Context) *streamRelay {
	return &streamRelay{c: c}
}

func (r *streamRelay) open() *sse.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		sse.SetHeaders(r.c.Writer.Header())
		r.c.Status(http.StatusOK)
		r.writer = sse.NewWriter(r.c.Writer)
	}
	return r.writer
}

func (r *streamRelay) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer != nil
}

func (r *streamRelay) callbacks() gateway.Callbacks {
	log := logger.FromGin(r.c)
	report := func(err error) {
		if err != nil {
			log.Warn("Event stream write failed", "error", err.Error())
		}
	}
	return gateway.Callbacks{
		OnStart:    func() { report(r.open().Start()) },
		OnDelta:    func(content string) { report(r.open().Delta(content)) },
		OnComplete: func(full string) { report(r.open().Complete(full)) },
		OnError:    func(message string) { report(r.open().Error(message)) },
	}
}

// finish reports err as JSON if nothing was streamed yet, and otherwise makes
// sure the stream carries a terminal event
func (r *streamRelay) finish(err error) {
	if err == nil {
		return
	}
	if !r.started() {
		fail(r.c, err)
		return
	}

	log := logger.FromGin(r.c)
	if stderrors.Is(err, context.Canceled) {
		log.Info("Client disconnected during stream")
		return
	}
	log.LogError(err, "Chat stream ended with error")
	if w := r.open(); !w.Closed() {
		_ = w.Error("Failed to generate response")
	}
}
