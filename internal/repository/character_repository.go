package repository

import (
	"context"

	"sentra/backend/internal/models"
	"sentra/backend/pkg/cache"

	"gorm.io/gorm"
)

type CharacterRepository interface {
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id string) (*models.Character, error)
}

type GormCharacterRepository struct {
	db *gorm.DB
}

func NewGormCharacterRepository(db *gorm.DB) *GormCharacterRepository {
	return &GormCharacterRepository{db: db}
}

func (r *GormCharacterRepository) Create(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Create(character).Error
}

func (r *GormCharacterRepository) GetByID(ctx context.Context, id string) (*models.Character, error) {
	var character models.Character
	if err := r.db.WithContext(ctx).First(&character, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &character, nil
}

// CachedCharacterRepository keeps recently read characters in memory.
// Characters are written once and never edited, so entries only expire by TTL.
type CachedCharacterRepository struct {
	next  CharacterRepository
	cache *cache.Cache[models.Character]
}

func NewCachedCharacterRepository(next CharacterRepository, opts cache.Options) *CachedCharacterRepository {
	return &CachedCharacterRepository{next: next, cache: cache.New[models.Character](opts)}
}

func (r *CachedCharacterRepository) Create(ctx context.Context, character *models.Character) error {
	if err := r.next.Create(ctx, character); err != nil {
		return err
	}
	r.cache.Set(character.ID, *character)
	return nil
}

func (r *CachedCharacterRepository) GetByID(ctx context.Context, id string) (*models.Character, error) {
	if c, ok := r.cache.Get(id); ok {
		return &c, nil
	}
	character, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(id, *character)
	return character, nil
}
