package api

import (
	"net/http"

	"sentra/backend/internal/gateway"
	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

// GatewayHandler serves the streaming gateway and its non-streaming fallback
type GatewayHandler struct {
	svc *gateway.Service
}

// NewGatewayHandler creates a new gateway handler
func NewGatewayHandler(svc *gateway.Service) *GatewayHandler {
	return &GatewayHandler{svc: svc}
}

// Stream answers one chat turn as an event stream. Every rejection happens
// before the first byte of the stream is written.
func (h *GatewayHandler) Stream(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req gateway.ChatTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("Request body must be a JSON object").WithCause(err))
		return
	}

	ctx := requestContext(c, userID)
	turn, err := h.svc.Prepare(ctx, req)
	if err != nil {
		fail(c, err)
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	if err := h.svc.Run(ctx, turn, sse.NewWriter(c.Writer)); err != nil {
		logger.FromGin(c).LogError(err, "Event stream write failed", "session_id", req.SessionID)
	}
}

// Generate answers one chat turn in a single response
func (h *GatewayHandler) Generate(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req gateway.ChatTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("Request body must be a JSON object").WithCause(err))
		return
	}

	ctx := requestContext(c, userID)
	resp, err := h.svc.Generate(ctx, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
