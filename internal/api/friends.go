package api

import (
	"net/http"

	"sentra/backend/internal/memory"

	"github.com/gin-gonic/gin"
)

// FriendHandler serves friendships and friend memory retrieval
type FriendHandler struct {
	memory *memory.Service
}

// NewFriendHandler creates a new friend handler
func NewFriendHandler(memory *memory.Service) *FriendHandler {
	return &FriendHandler{memory: memory}
}

// Request sends a friend request, or accepts a crossing one
func (h *FriendHandler) Request(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	f, err := h.memory.RequestFriendship(requestContext(c, userID), userID, c.Param("friendId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Accept accepts a pending request from friendId
func (h *FriendHandler) Accept(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	f, err := h.memory.AcceptFriendship(requestContext(c, userID), userID, c.Param("friendId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Memories returns a friend's memory ledger for one character
func (h *FriendHandler) Memories(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	friendID := c.Param("friendId")
	characterID := c.Param("characterId")
	mem, err := h.memory.GetFriendMemories(requestContext(c, userID), userID, friendID, characterID)
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{
		"friendId":    friendID,
		"characterId": characterID,
		"memories":    mem.Entries(),
	}
	if mem != nil {
		resp["lastUpdated"] = mem.LastUpdated
	}
	c.JSON(http.StatusOK, resp)
}
