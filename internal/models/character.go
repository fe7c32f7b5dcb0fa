package models

import (
	"time"

	"gorm.io/datatypes"
)

// Character is a roleplay persona. Only Name is required.
type Character struct {
	ID             string                      `json:"id" gorm:"primaryKey;size:64"`
	AuthorID       string                      `json:"authorId" gorm:"index;size:128"`
	Name           string                      `json:"name" gorm:"not null"`
	Species        string                      `json:"species"`
	Age            string                      `json:"age"`
	Description    string                      `json:"description" gorm:"type:text"`
	Background     string                      `json:"background" gorm:"type:text"`
	Temperament    string                      `json:"temperament"`
	TalkingStyle   string                      `json:"talkingStyle"`
	Scenario       string                      `json:"scenario" gorm:"type:text"`
	Outfit         string                      `json:"outfit"`
	SpecialAbility string                      `json:"specialAbility"`
	Family         string                      `json:"family"`
	Job            string                      `json:"job"`
	Residence      string                      `json:"residence"`
	Relationship   string                      `json:"relationship"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	Avatar         string                      `json:"avatar"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}
