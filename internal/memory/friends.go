package memory

import (
	"context"
	"errors"

	"sentra/backend/internal/models"
	"sentra/backend/internal/repository"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrSelfFriendship   = errors.New("cannot befriend yourself")
	ErrNoPendingRequest = errors.New("no pending friend request")
)

// AreFriends reports whether a and b have an accepted friendship
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	f, err := s.repos.Friendships.Get(ctx, a, b)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return f.Status == models.FriendshipAccepted, nil
}

// RequestFriendship records a pending request from -> to. A request crossing
// an open request in the other direction accepts it.
func (s *Service) RequestFriendship(ctx context.Context, from, to string) (*models.Friendship, error) {
	if from == to {
		return nil, ErrSelfFriendship
	}
	if _, err := s.repos.Users.GetByID(ctx, to); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	f, err := s.repos.Friendships.Get(ctx, from, to)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		f = &models.Friendship{UserA: from, UserB: to, Status: models.FriendshipPending, RequestedBy: from}
	case err != nil:
		return nil, err
	case f.Status == models.FriendshipAccepted, f.RequestedBy == from:
		return f, nil
	default:
		f.Status = models.FriendshipAccepted
	}

	if err := s.repos.Friendships.Save(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// AcceptFriendship accepts the pending request requesterID sent to userID
func (s *Service) AcceptFriendship(ctx context.Context, userID, requesterID string) (*models.Friendship, error) {
	f, err := s.repos.Friendships.Get(ctx, userID, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingRequest
		}
		return nil, err
	}
	if f.Status == models.FriendshipAccepted {
		return f, nil
	}
	if f.RequestedBy != requesterID {
		return nil, ErrNoPendingRequest
	}

	f.Status = models.FriendshipAccepted
	if err := s.repos.Friendships.Save(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}
