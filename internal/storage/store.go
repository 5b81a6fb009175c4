package storage

import (
	"context"
	"errors"
	"fmt"

	"chatkeep/internal/config"
	"chatkeep/internal/models"
)

var (
	// ErrNotFound covers both missing records and records owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("already exists")
)

// UserStore persists user credentials.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// ConversationStore persists conversations. Every call is scoped to the owner.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string) (string, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	AppendMessages(ctx context.Context, conversationID, userID string, messages ...models.Message) error
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
}

// Store is a complete persistence backend.
type Store interface {
	UserStore
	ConversationStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		s, err := OpenMongo(ctx, cfg.URI, cfg.DBName)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite, config.DriverMySQL:
		db, err := OpenSQL(cfg.Driver, cfg.URI)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, cfg.Driver); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db, cfg.Driver), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}
