package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) error
	ListMessages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error)
	LatestBySender(ctx context.Context, senderID string) (models.Message, error)
	MarkRead(ctx context.Context, chatID string, readerID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `message_id, chat_id, sender_id, sender_name, sender_role, recipient_id, text, sent_at, is_read`

// CreateMessage stores a message. Storing the same fingerprint twice yields ErrMessageExists.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
        VALUES (:message_id, :chat_id, :sender_id, :sender_name, :sender_role, :recipient_id, :text, :sent_at, :is_read)`, msg)
	return conflictAs(err, ErrMessageExists)
}

// ListMessages returns one page of a chat in chronological order. Page zero
// holds the newest limit messages; skip walks back in time.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE chat_id=$1
        ORDER BY sent_at DESC, message_id DESC
        LIMIT $2 OFFSET $3`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, chatID, limit, skip); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestBySender returns the most recent message written by an identity.
func (r *MessageRepo) LatestBySender(ctx context.Context, senderID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE sender_id=$1 ORDER BY sent_at DESC LIMIT 1`, senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead flags every unread message in a chat not written by the reader.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID string, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE chat_id=$1 AND sender_id<>$2 AND is_read = FALSE`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
