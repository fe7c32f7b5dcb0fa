package repository

import (
	"context"
	"time"

	"sentra/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository stores chat sessions
type ChatRepository interface {
	Create(ctx context.Context, session *models.ChatSession) error
	Get(ctx context.Context, id string) (*models.ChatSession, error)
	ListByUser(ctx context.Context, userID string) ([]models.ChatSession, error)
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.ChatSession, error)
	// UpdateHistory overwrites the serialized history. Last writer wins.
	UpdateHistory(ctx context.Context, id, history string, at time.Time) error
	UpdateTitle(ctx context.Context, id, title string, at time.Time) error
	// EnableCFM sets the one-way flag. It reports false when the flag was already set.
	EnableCFM(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

type GormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db}
}

func (r *GormChatRepository) Create(ctx context.Context, session *models.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *GormChatRepository) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *GormChatRepository) ListByUser(ctx context.Context, userID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at desc").Find(&sessions).Error
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	return sessions, err
}

func (r *GormChatRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := r.db.WithContext(ctx).Where("updated_at >= ?", since).Order("updated_at asc").Limit(limit).Find(&sessions).Error
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	return sessions, err
}

func (r *GormChatRepository) update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.ChatSession{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormChatRepository) UpdateHistory(ctx context.Context, id, history string, at time.Time) error {
	return r.update(ctx, id, map[string]any{"history": history, "updated_at": at})
}

func (r *GormChatRepository) UpdateTitle(ctx context.Context, id, title string, at time.Time) error {
	return r.update(ctx, id, map[string]any{"title": title, "updated_at": at})
}

func (r *GormChatRepository) EnableCFM(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND cfm_enabled = ?", id, false).
		Updates(map[string]any{"cfm_enabled": true, "cfm_enabled_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GormChatRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.ChatSession{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ChatIndexRepository stores the per-user chat list mirror
type ChatIndexRepository interface {
	Upsert(ctx context.Context, entry *models.ChatHistoryEntry) error
	Touch(ctx context.Context, userID, chatID string, at time.Time) error
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
	Delete(ctx context.Context, userID, chatID string) error
	List(ctx context.Context, userID string) ([]models.ChatHistoryEntry, error)
}

type GormChatIndexRepository struct {
	db *gorm.DB
}

func NewGormChatIndexRepository(db *gorm.DB) *GormChatIndexRepository {
	return &GormChatIndexRepository{db: db}
}

func (r *GormChatIndexRepository) Upsert(ctx context.Context, entry *models.ChatHistoryEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(entry).Error
}

func (r *GormChatIndexRepository) update(ctx context.Context, userID, chatID string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.ChatHistoryEntry{}).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormChatIndexRepository) Touch(ctx context.Context, userID, chatID string, at time.Time) error {
	return r.update(ctx, userID, chatID, map[string]any{"last_updated": at})
}

func (r *GormChatIndexRepository) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	return r.update(ctx, userID, chatID, map[string]any{"title": title})
}

func (r *GormChatIndexRepository) Delete(ctx context.Context, userID, chatID string) error {
	res := r.db.WithContext(ctx).Delete(&models.ChatHistoryEntry{}, "user_id = ? AND chat_id = ?", userID, chatID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormChatIndexRepository) List(ctx context.Context, userID string) ([]models.ChatHistoryEntry, error) {
	var entries []models.ChatHistoryEntry
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("last_updated desc").Find(&entries).Error
	if entries == nil {
		entries = []models.ChatHistoryEntry{}
	}
	return entries, err
}
