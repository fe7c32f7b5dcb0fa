package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChatSession is one conversation between a user and a character.
// History holds the serialized transcript; every mutation rewrites it whole
// and the last writer wins.
type ChatSession struct {
	ID            string     `json:"id" gorm:"primaryKey;size:128"`
	CharacterID   string     `json:"characterId" gorm:"index;size:64"`
	CharacterName string     `json:"characterName"`
	UserID        string     `json:"userId" gorm:"index;size:128"`
	UserUsername  string     `json:"userUsername"`
	History       string     `json:"history" gorm:"type:text"`
	Scenario      string     `json:"scenario" gorm:"type:text"`
	Title         string     `json:"title"`
	CFMEnabled    bool       `json:"CFM_enabled" gorm:"column:cfm_enabled;default:false"`
	CFMEnabledAt  *time.Time `json:"CFM_enabledAt,omitempty" gorm:"column:cfm_enabled_at"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Messages decodes the stored history
func (s *ChatSession) Messages() ([]Message, error) {
	return DecodeHistory(s.History)
}

// SetMessages replaces the stored history
func (s *ChatSession) SetMessages(messages []Message) error {
	raw, err := EncodeHistory(messages)
	if err != nil {
		return err
	}
	s.History = raw
	return nil
}

// ChatHistoryEntry mirrors a session into its owner's chat list.
// It can always be rebuilt from the session record.
type ChatHistoryEntry struct {
	UserID        string    `json:"userId" gorm:"primaryKey;size:128"`
	ChatID        string    `json:"chatId" gorm:"primaryKey;size:128"`
	Title         string    `json:"title"`
	CharacterID   string    `json:"characterId"`
	CharacterName string    `json:"characterName"`
	Avatar        string    `json:"avatar"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdated   time.Time `json:"lastUpdated" gorm:"index"`
}

// CFMMemory is the memory ledger of one user for one character, keyed by chat id
type CFMMemory struct {
	UserID      string                                   `json:"userId" gorm:"primaryKey;size:128"`
	CharacterID string                                   `json:"characterId" gorm:"primaryKey;size:64"`
	Memories    datatypes.JSONType[map[string]string]    `json:"memories"`
	// Sources records, per chat id, the transcript version each memory was summarized from
	Sources     datatypes.JSONType[map[string]time.Time] `json:"-" gorm:"default:'{}'"`
	LastUpdated time.Time                                `json:"lastUpdated"`
}

// TableName keeps the ledger table name stable
func (CFMMemory) TableName() string { return "cfm_memories" }

// SourceOf returns the transcript version chatID's memory was built from
func (m *CFMMemory) SourceOf(chatID string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	at, ok := m.Sources.Data()[chatID]
	return at, ok
}

// Entries returns the chat id to memory map, never nil
func (m *CFMMemory) Entries() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	data := m.Memories.Data()
	if data == nil {
		return map[string]string{}
	}
	return data
}
