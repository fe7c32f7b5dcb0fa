package repository

import (
	"context"
	"strings"
	"time"

	"sentra/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByUsername matches case-insensitively and exactly
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]models.User, error)
	UpdateTokenLimit(ctx context.Context, id string, limit int) error
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Upsert(ctx context.Context, user *models.User) error {
	user.Normalize()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "username_lower", "display_name", "updated_at"}),
	}).Create(user).Error
}

func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "username_lower = ?", strings.ToLower(username)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// ListByUsernamePrefix is a range query over the lowercased username
func (r *GormUserRepository) ListByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	lower := strings.ToLower(prefix)
	var users []models.User
	q := r.db.WithContext(ctx).Order("username_lower asc").Limit(limit)
	if lower != "" {
		q = q.Where("username_lower >= ? AND username_lower < ?", lower, prefixUpperBound(lower))
	}
	err := q.Find(&users).Error
	if users == nil {
		users = []models.User{}
	}
	return users, err
}

func (r *GormUserRepository) UpdateTokenLimit(ctx context.Context, id string, limit int) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"token_limit": limit, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type FriendshipRepository interface {
	Get(ctx context.Context, userA, userB string) (*models.Friendship, error)
	Save(ctx context.Context, f *models.Friendship) error
	ListAccepted(ctx context.Context, userID string) ([]models.Friendship, error)
}

type GormFriendshipRepository struct {
	db *gorm.DB
}

func NewGormFriendshipRepository(db *gorm.DB) *GormFriendshipRepository {
	return &GormFriendshipRepository{db: db}
}

func (r *GormFriendshipRepository) Get(ctx context.Context, userA, userB string) (*models.Friendship, error) {
	a, b := models.FriendshipKey(userA, userB)
	var f models.Friendship
	if err := r.db.WithContext(ctx).First(&f, "user_a = ? AND user_b = ?", a, b).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *GormFriendshipRepository) Save(ctx context.Context, f *models.Friendship) error {
	f.UserA, f.UserB = models.FriendshipKey(f.UserA, f.UserB)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(f).Error
}

func (r *GormFriendshipRepository) ListAccepted(ctx context.Context, userID string) ([]models.Friendship, error) {
	var out []models.Friendship
	err := r.db.WithContext(ctx).
		Where("(user_a = ? OR user_b = ?) AND status = ?", userID, userID, models.FriendshipAccepted).
		Find(&out).Error
	if out == nil {
		out = []models.Friendship{}
	}
	return out, err
}

// prefixUpperBound sorts after every string that starts with prefix
func prefixUpperBound(prefix string) string {
	return prefix + string(rune(0x10FFFF))
}
