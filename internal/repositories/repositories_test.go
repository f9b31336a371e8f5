package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

var messageRowColumns = []string{"message_id", "chat_id", "sender_id", "sender_name", "sender_role", "recipient_id", "text", "sent_at", "is_read"}

func TestCreateMessageMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec("INSERT INTO messages").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateMessage(context.Background(), models.Message{MessageID: "u1_t_hi", ChatID: "u1_u2", SenderID: "u1", Text: "hi"})
	require.ErrorIs(t, err, ErrMessageExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessagePassesOtherErrors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec("INSERT INTO messages").WillReturnError(&pq.Error{Code: "23503"})

	err := repo.CreateMessage(context.Background(), models.Message{MessageID: "u1_t_hi", ChatID: "missing"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMessageExists)
}

func TestListMessagesReturnsChronologicalPage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	rows := sqlmock.NewRows(messageRowColumns).
		AddRow("u2_b", "u1_u2", "u2", "Bob", "counterparty", "u1", "second", t2, false).
		AddRow("u1_a", "u1_u2", "u1", "Ann", "customer", nil, "first", t1, true)
	mock.ExpectQuery("SELECT (.+) FROM messages").WithArgs("u1_u2", 50, 0).WillReturnRows(rows)

	msgs, err := repo.ListMessages(context.Background(), "u1_u2", 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Nil(t, msgs[0].RecipientID)
	assert.Equal(t, "second", msgs[1].Text)
	assert.Equal(t, "u1", msgs[1].Recipient())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestBySenderNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM messages WHERE sender_id").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(messageRowColumns))

	_, err := repo.LatestBySender(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkReadReturnsAffectedRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec("UPDATE messages SET is_read").WithArgs("u1_u2", "u1").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkRead(context.Background(), "u1_u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGetConversationNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE chat_id").WithArgs("u1_u2").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "last_message", "last_message_time", "created_at", "updated_at"}))

	_, err := repo.GetConversation(context.Background(), "u1_u2")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestCreateConversationConflictRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.CreateConversation(context.Background(), models.Conversation{ChatID: "u1_u2"})
	require.ErrorIs(t, err, ErrConversationExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateConversationInsertsParticipants(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "last_message", "last_message_time", "created_at", "updated_at"}).
			AddRow("u1_u2", "hi", now, now, now))
	mock.ExpectExec("INSERT INTO conversation_participants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversation_participants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	conv, err := repo.CreateConversation(context.Background(), models.Conversation{
		ChatID:      "u1_u2",
		LastMessage: "hi",
		Participants: []models.Participant{
			{IdentityID: "u1", DisplayName: "Ann", Role: models.RoleCustomer},
			{IdentityID: "u2", DisplayName: models.PlaceholderName, Role: models.RoleCounterparty, Placeholder: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, conv.Participants, 2)
	assert.Equal(t, 1, conv.Participants[1].Position)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddParticipantIgnoresExistingMember(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectExec(`(?s)INSERT INTO conversation_participants (.+) ON CONFLICT \(chat_id, identity_id\) DO NOTHING`).
		WithArgs("u1_u2", "u2", "Bob", "counterparty", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AddParticipant(context.Background(), models.Participant{ChatID: "u1_u2", IdentityID: "u2", DisplayName: "Bob", Role: models.RoleCounterparty})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
