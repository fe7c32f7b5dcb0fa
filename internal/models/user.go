package models

import (
	"strings"
	"time"
)

// User is the public profile used for mention resolution and preferences.
// Accounts themselves are managed by the identity provider.
type User struct {
	ID            string    `json:"id" gorm:"primaryKey;size:128"`
	Username      string    `json:"username" gorm:"not null"`
	UsernameLower string    `json:"-" gorm:"uniqueIndex;not null"`
	DisplayName   string    `json:"displayName"`
	TokenLimit    int       `json:"tokenLimit" gorm:"default:1024"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Normalize fills UsernameLower from Username
func (u *User) Normalize() {
	u.UsernameLower = strings.ToLower(u.Username)
}

// Friendship status values
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is stored once per unordered pair with UserA < UserB
type Friendship struct {
	UserA       string    `json:"userA" gorm:"primaryKey;size:128"`
	UserB       string    `json:"userB" gorm:"primaryKey;size:128"`
	Status      string    `json:"status" gorm:"not null;default:pending"`
	RequestedBy string    `json:"requestedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FriendshipKey orders a pair of user ids
func FriendshipKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// AllModels lists every table for auto-migration
func AllModels() []any {
	return []any{
		&Character{},
		&ChatSession{},
		&ChatHistoryEntry{},
		&CFMMemory{},
		&User{},
		&Friendship{},
	}
}
