package chat

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID derives a chat id from the caller, the time and a random suffix.
// No central counter is involved, so concurrent creators do not collide.
func NewSessionID(userID string, now time.Time) string {
	prefix := userID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}
