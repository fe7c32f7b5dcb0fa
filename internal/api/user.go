package api

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"sentra/backend/internal/chat"
	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// UserController handles profiles, username search and reply-length preferences
type UserController struct {
	users repository.UserRepository
	chats *chat.Service
}

// NewUserController creates a new UserController
func NewUserController(users repository.UserRepository, chats *chat.Service) *UserController {
	return &UserController{users: users, chats: chats}
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
}

type settingsRequest struct {
	TokenLimit prompt.TokenLimit `json:"tokenLimit" binding:"required"`
}

// UpsertProfile registers the caller's username so friends can mention them
func (u *UserController) UpsertProfile(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}
	if username == "" {
		fail(c, errors.InvalidArgument("The token carries no username"))
		return
	}

	var req profileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errors.InvalidArgument("Invalid request").WithCause(err))
			return
		}
	}

	user := &models.User{ID: userID, Username: username, DisplayName: strings.TrimSpace(req.DisplayName)}
	if err := u.users.Upsert(requestContext(c, userID), user); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Search lists users whose username starts with the prefix query parameter
func (u *UserController) Search(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fail(c, errors.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSearchLimit)
	}

	users, err := u.users.ListByUsernamePrefix(requestContext(c, userID), c.Query("prefix"), limit)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, user := range users {
		out = append(out, gin.H{"id": user.ID, "username": user.Username, "displayName": user.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// GetSettings returns the caller's preferences
func (u *UserController) GetSettings(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	limit := prompt.DefaultTokenLimit
	user, err := u.users.GetByID(requestContext(c, userID), userID)
	switch {
	case err == nil:
		limit = prompt.NormalizeTokenLimit(user.TokenLimit)
	case !stderrors.Is(err, repository.ErrNotFound):
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenLimit": limit})
}

// SetSettings stores the caller's preferred reply length
func (u *UserController) SetSettings(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.InvalidArgument("tokenLimit is required").WithCause(err))
		return
	}

	limit, err := u.chats.SetTokenLimit(requestContext(c, userID), userID, int(req.TokenLimit))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenLimit": limit})
}
