package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat transcript. It is only ever stored inside
// a ChatSession's serialized history and addressed by position.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NewMessage stamps a message with the current time
func NewMessage(role, content string, now time.Time) Message {
	ts := now.UTC()
	return Message{Role: role, Content: content, Timestamp: &ts}
}

// ValidRole reports whether role is user or assistant
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

type historyDoc struct {
	Messages []Message `json:"messages"`
}

// DecodeHistory parses the serialized {"messages": [...]} form. An empty string is an empty history.
func DecodeHistory(raw string) ([]Message, error) {
	if raw == "" {
		return []Message{}, nil
	}
	var doc historyDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	for i, m := range doc.Messages {
		if !ValidRole(m.Role) {
			return nil, fmt.Errorf("decode history: message %d has invalid role %q", i, m.Role)
		}
	}
	if doc.Messages == nil {
		doc.Messages = []Message{}
	}
	return doc.Messages, nil
}

// EncodeHistory serializes messages into the stored string form
func EncodeHistory(messages []Message) (string, error) {
	if messages == nil {
		messages = []Message{}
	}
	data, err := json.Marshal(historyDoc{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(data), nil
}
