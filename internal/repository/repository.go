// Package repository is the document store behind the chat backend.
// Every operation re-reads current state; there is no caching and no
// optimistic concurrency guard on chat history writes.
package repository

import (
	"errors"
	"fmt"

	"sentra/backend/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Migrate creates or updates every table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// OpenInMemory opens a private in-memory sqlite database with the schema applied.
// name must be unique per database.
func OpenInMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Repositories groups every repository over one database
type Repositories struct {
	Characters  CharacterRepository
	Chats       ChatRepository
	ChatIndex   ChatIndexRepository
	Memories    MemoryRepository
	Users       UserRepository
	Friendships FriendshipRepository
}

// New builds the gorm-backed repositories
func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Characters:  NewGormCharacterRepository(db),
		Chats:       NewGormChatRepository(db),
		ChatIndex:   NewGormChatIndexRepository(db),
		Memories:    NewGormMemoryRepository(db),
		Users:       NewGormUserRepository(db),
		Friendships: NewGormFriendshipRepository(db),
	}
}
