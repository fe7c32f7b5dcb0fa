package repository

import (
	"context"
	"errors"
	"time"

	"sentra/backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleMemory is returned when a newer transcript already produced the slot's memory
var ErrStaleMemory = errors.New("memory built from an older transcript")

// MemoryRepository stores the CFM ledger
type MemoryRepository interface {
	Get(ctx context.Context, userID, characterID string) (*models.CFMMemory, error)
	// PutEntry writes one chat's slot, creating the ledger record if needed.
	// source is the version of the transcript the memory was built from; a
	// slot already built from a later version is kept and ErrStaleMemory returned.
	PutEntry(ctx context.Context, userID, characterID, chatID, memory string, source, at time.Time) error
}

type GormMemoryRepository struct {
	db *gorm.DB
}

func NewGormMemoryRepository(db *gorm.DB) *GormMemoryRepository {
	return &GormMemoryRepository{db: db}
}

func (r *GormMemoryRepository) Get(ctx context.Context, userID, characterID string) (*models.CFMMemory, error) {
	var mem models.CFMMemory
	err := r.db.WithContext(ctx).First(&mem, "user_id = ? AND character_id = ?", userID, characterID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &mem, nil
}

func (r *GormMemoryRepository) PutEntry(ctx context.Context, userID, characterID, chatID, memory string, source, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mem models.CFMMemory
		err := tx.First(&mem, "user_id = ? AND character_id = ?", userID, characterID).Error
		if err != nil && translate(err) != ErrNotFound {
			return err
		}

		if prev, ok := mem.SourceOf(chatID); ok && prev.After(source) {
			return ErrStaleMemory
		}

		entries := map[string]string{}
		for k, v := range mem.Entries() {
			entries[k] = v
		}
		entries[chatID] = memory

		sources := map[string]time.Time{}
		for k, v := range mem.Sources.Data() {
			sources[k] = v
		}
		sources[chatID] = source.UTC()

		rec := models.CFMMemory{
			UserID:      userID,
			CharacterID: characterID,
			Memories:    datatypes.NewJSONType(entries),
			Sources:     datatypes.NewJSONType(sources),
			LastUpdated: at,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}
