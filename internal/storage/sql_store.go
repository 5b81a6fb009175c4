package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatkeep/internal/models"
)

// SQLStore implements Store on database/sql for sqlite3 and mysql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

// CreateUser inserts the user and assigns its id.
func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	created := *user
	created.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		created.ID, created.Username, created.Email, created.PasswordHash, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &created, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash FROM users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// CreateConversation inserts an empty conversation for the user.
func (s *SQLStore) CreateConversation(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, message_count, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, userID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// GetConversation returns one conversation and its ordered messages.
func (s *SQLStore) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var (
		conv      models.Conversation
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&conv.ID, &conv.UserID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, text, timestamp FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Sender, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &conv, nil
}

// AppendMessages adds messages after the current tail in a single transaction.
// The counter update locks the conversation row, so concurrent turns queue up
// instead of overwriting each other.
func (s *SQLStore) AppendMessages(ctx context.Context, conversationID, userID string, messages ...models.Message) (err error) {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		len(messages), time.Now().UTC().UnixMilli(), conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrNotFound
		return err
	}

	var count int
	if err = tx.QueryRowContext(ctx,
		`SELECT message_count FROM conversations WHERE id = ?`, conversationID,
	).Scan(&count); err != nil {
		return fmt.Errorf("read message count: %w", err)
	}

	seq := count - len(messages)
	for _, m := range messages {
		seq++
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
			conversationID, seq, m.Sender, m.Text, m.Timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListConversations returns one summary row per conversation, most recent first.
func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, COALESCE(m.text, ''), COALESCE(m.timestamp, 0)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id AND m.seq = c.message_count
		 WHERE c.user_id = ?
		 ORDER BY c.updated_at DESC, c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var sum models.ConversationSummary
		if err := rows.Scan(&sum.ConversationID, &sum.LastMessage, &sum.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeleteConversation removes a conversation and its messages for the user.
func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID, userID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}
