package gateway

import (
	"errors"
	"fmt"
	"strings"

	"sentra/backend/internal/models"
	"sentra/backend/internal/prompt"
)

// ErrCharacterNotFound is returned when the requested character does not exist
var ErrCharacterNotFound = errors.New("character not found")

// ChatTurnRequest is one chat turn. The last message is the current user turn.
type ChatTurnRequest struct {
	Messages       []models.Message  `json:"messages"`
	CharacterID    string            `json:"characterId"`
	SessionID      string            `json:"sessionId"`
	CustomScenario string            `json:"customScenario,omitempty"`
	TokenLimit     prompt.TokenLimit `json:"tokenLimit,omitempty"`
	CFMMemories    []string          `json:"cfmMemories,omitempty"`
}

// FieldError reports a missing or malformed request field
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks the required fields in a fixed order
func (r *ChatTurnRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &FieldError{Field: "messages", Reason: "is required and must be a non-empty array"}
	}
	for i, m := range r.Messages {
		if !models.ValidRole(m.Role) {
			return &FieldError{Field: fmt.Sprintf("messages[%d].role", i), Reason: `must be "user" or "assistant"`}
		}
	}
	if strings.TrimSpace(r.CharacterID) == "" {
		return &FieldError{Field: "characterId", Reason: "is required"}
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return &FieldError{Field: "sessionId", Reason: "is required"}
	}
	return nil
}

// EventSink receives the events of one streamed turn.
// Implementations refuse writes after Complete or Error.
type EventSink interface {
	Start() error
	Delta(content string) error
	Complete(fullContent string) error
	Error(message string) error
}

// GenerateResponse is the non-streaming reply
type GenerateResponse struct {
	Success   bool           `json:"success"`
	AIMessage models.Message `json:"aiMessage"`
}
