package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-relay/internal/models"
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, chatID string) (models.Conversation, error)
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	UpdatePreview(ctx context.Context, chatID string, text string, at time.Time) error
	UpdateParticipant(ctx context.Context, participant models.Participant) error
	AddParticipant(ctx context.Context, participant models.Participant) error
	ListForIdentity(ctx context.Context, identityID string) ([]models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `chat_id, last_message, last_message_time, created_at, updated_at`
const participantColumns = `chat_id, identity_id, display_name, role, placeholder, position`

// GetConversation fetches a conversation and its participants.
func (r *ConversationRepo) GetConversation(ctx context.Context, chatID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE chat_id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	if err := r.db.SelectContext(ctx, &conv.Participants, `SELECT `+participantColumns+` FROM conversation_participants WHERE chat_id=$1 ORDER BY position`, chatID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// CreateConversation inserts the conversation row and its participants
// atomically. A concurrent creation of the same chat id yields ErrConversationExists.
func (r *ConversationRepo) CreateConversation(ctx context.Context, conv models.Conversation) (created models.Conversation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			err = conflictAs(err, ErrConversationExists)
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (chat_id, last_message, last_message_time) VALUES ($1, $2, $3) RETURNING `+conversationColumns,
		conv.ChatID, conv.LastMessage, conv.LastMessageTime).StructScan(&created); err != nil {
		return models.Conversation{}, err
	}

	for i, p := range conv.Participants {
		p.ChatID = conv.ChatID
		p.Position = i
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO conversation_participants (`+participantColumns+`)
            VALUES (:chat_id, :identity_id, :display_name, :role, :placeholder, :position)`, p); err != nil {
			return models.Conversation{}, err
		}
		created.Participants = append(created.Participants, p)
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return created, nil
}

// UpdatePreview stores the newest message preview.
func (r *ConversationRepo) UpdatePreview(ctx context.Context, chatID string, text string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message=$2, last_message_time=$3, updated_at=NOW() WHERE chat_id=$1`, chatID, text, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// UpdateParticipant replaces the display data of an existing participant.
func (r *ConversationRepo) UpdateParticipant(ctx context.Context, participant models.Participant) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversation_participants SET display_name=$3, role=$4, placeholder=$5 WHERE chat_id=$1 AND identity_id=$2`,
		participant.ChatID, participant.IdentityID, participant.DisplayName, participant.Role, participant.Placeholder)
	return err
}

// AddParticipant appends a participant to an existing conversation. Adding an
// identity that is already listed is a no-op.
func (r *ConversationRepo) AddParticipant(ctx context.Context, participant models.Participant) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_participants (`+participantColumns+`)
        VALUES ($1, $2, $3, $4, $5, (SELECT COALESCE(MAX(position) + 1, 0) FROM conversation_participants WHERE chat_id=$1))
        ON CONFLICT (chat_id, identity_id) DO NOTHING`,
		participant.ChatID, participant.IdentityID, participant.DisplayName, participant.Role, participant.Placeholder)
	return err
}

// ListForIdentity returns the conversations an identity takes part in, newest first.
func (r *ConversationRepo) ListForIdentity(ctx context.Context, identityID string) ([]models.Conversation, error) {
	query := `SELECT c.chat_id, c.last_message, c.last_message_time, c.created_at, c.updated_at FROM conversations c
        INNER JOIN conversation_participants p ON p.chat_id = c.chat_id
        WHERE p.identity_id=$1
        ORDER BY c.last_message_time DESC`
	var convs []models.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, identityID); err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ChatID)
	}
	var participants []models.Participant
	if err := r.db.SelectContext(ctx, &participants, `SELECT `+participantColumns+` FROM conversation_participants WHERE chat_id = ANY($1) ORDER BY chat_id, position`, pq.Array(ids)); err != nil {
		return nil, err
	}

	byChat := make(map[string][]models.Participant, len(convs))
	for _, p := range participants {
		byChat[p.ChatID] = append(byChat[p.ChatID], p)
	}
	for i := range convs {
		convs[i].Participants = byChat[convs[i].ChatID]
	}
	return convs, nil
}
