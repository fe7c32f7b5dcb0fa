package api

import (
	"context"
	stderrors "errors"

	"sentra/backend/internal/chat"
	"sentra/backend/internal/gateway"
	"sentra/backend/internal/memory"
	"sentra/backend/internal/repository"
	"sentra/backend/internal/streamclient"
	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Error codes beyond the shared categories
const (
	CodeChatBusy      = "chat-busy"
	CodeInvalidRewind = "invalid-rewind"
	CodeNotFriends    = "not-friends"
)

// toAppError maps domain errors onto the HTTP error taxonomy
func toAppError(err error) *errors.AppError {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var fieldErr *gateway.FieldError
	var statusErr *streamclient.StatusError
	switch {
	case stderrors.As(err, &statusErr):
		code := statusErr.Code
		if code == "" {
			code = errors.CodeInternal
		}
		return errors.NewError(statusErr.StatusCode, code, statusErr.Message).WithCause(err)
	case stderrors.As(err, &fieldErr):
		return errors.InvalidArgument(fieldErr.Error()).WithDetails(gin.H{"field": fieldErr.Field})
	case stderrors.Is(err, gateway.ErrCharacterNotFound), stderrors.Is(err, chat.ErrCharacterNotFound):
		return errors.NotFound("Character not found")
	case stderrors.Is(err, chat.ErrChatNotFound), stderrors.Is(err, memory.ErrChatNotFound):
		return errors.NotFound("Chat not found")
	case stderrors.Is(err, memory.ErrNotOwner):
		return errors.NewForbiddenError(errors.CodePermissionDenied, "Chat belongs to another user")
	case stderrors.Is(err, memory.ErrUserNotFound), stderrors.Is(err, repository.ErrNotFound):
		return errors.NotFound("Not found")
	case stderrors.Is(err, chat.ErrBusy):
		return errors.NewConflictError(CodeChatBusy, "A response is still being generated for this chat")
	case stderrors.Is(err, chat.ErrInvalidRewind):
		return errors.NewBadRequestError(CodeInvalidRewind, "Only an existing user message can be edited")
	case stderrors.Is(err, chat.ErrEmptyMessage), stderrors.Is(err, chat.ErrEmptyTitle):
		return errors.InvalidArgument(err.Error())
	case stderrors.Is(err, chat.ErrNothingToAnswer):
		return errors.NewBadRequestError(errors.CodeFailedPrecond, "The chat has no user message to answer")
	case stderrors.Is(err, memory.ErrNotFriend):
		return errors.NewForbiddenError(CodeNotFriends, "You can only read memories of accepted friends")
	case stderrors.Is(err, memory.ErrSelfFriendship):
		return errors.InvalidArgument("You cannot befriend yourself")
	case stderrors.Is(err, memory.ErrNoPendingRequest):
		return errors.NewNotFoundError(errors.CodeNotFound, "No pending friend request from this user")
	default:
		return errors.Internal("An unexpected error occurred").WithCause(err)
	}
}

// fail records err for the error handler and stops the chain
func fail(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
	c.Abort()
}

// currentUser returns the authenticated caller or aborts with 401
func currentUser(c *gin.Context) (userID, username string, ok bool) {
	userID, username, ok = middleware.CurrentUser(c)
	if !ok {
		fail(c, errors.Unauthenticated("Authentication required"))
		return "", "", false
	}
	return userID, username, true
}

// requestContext carries the request-scoped logger, tagged with the caller, into the services
func requestContext(c *gin.Context, userID string) context.Context {
	return logger.IntoContext(c.Request.Context(), logger.FromGin(c).WithUserID(userID))
}
