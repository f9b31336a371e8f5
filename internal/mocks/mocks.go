package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/services"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, chatID string) (models.Conversation, error) {
	args := m.Called(ctx, chatID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	args := m.Called(ctx, conv)
	var created models.Conversation
	if val := args.Get(0); val != nil {
		created = val.(models.Conversation)
	}
	return created, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdatePreview(ctx context.Context, chatID string, text string, at time.Time) error {
	args := m.Called(ctx, chatID, text, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateParticipant(ctx context.Context, participant models.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) AddParticipant(ctx context.Context, participant models.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) ListForIdentity(ctx context.Context, identityID string) ([]models.Conversation, error) {
	args := m.Called(ctx, identityID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, limit, skip)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) LatestBySender(ctx context.Context, senderID string) (models.Message, error) {
	args := m.Called(ctx, senderID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, chatID string, readerID string) (int64, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

type ChatStoreMock struct {
	mock.Mock
}

func (m *ChatStoreMock) SaveMessage(ctx context.Context, req services.SaveRequest) (services.SaveResult, error) {
	args := m.Called(ctx, req)
	var res services.SaveResult
	if val := args.Get(0); val != nil {
		res = val.(services.SaveResult)
	}
	return res, args.Error(1)
}

type PresenceLookupMock struct {
	mock.Mock
}

func (m *PresenceLookupMock) Lookup(identityID string) (models.Participant, bool) {
	args := m.Called(identityID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Bool(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ services.PresenceLookup = (*PresenceLookupMock)(nil)
var _ interface {
	SaveMessage(context.Context, services.SaveRequest) (services.SaveResult, error)
} = (*ChatStoreMock)(nil)
