package memory

import (
	"context"
	"errors"
	"regexp"

	"sentra/backend/internal/repository"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ParseMentions returns every @username in text in order, duplicates included
func ParseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ResolveUsername maps a username to a user id, ignoring case
func (s *Service) ResolveUsername(ctx context.Context, username string) (string, bool, error) {
	u, err := s.repos.Users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return u.ID, true, nil
}
