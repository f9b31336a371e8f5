package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/client"
	"chat-relay/internal/models"
	"chat-relay/internal/surface"
)

type HistorySourceMock struct {
	mock.Mock
}

func (m *HistorySourceMock) Messages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, limit, skip)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *HistorySourceMock) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

type LocalSourceMock struct {
	mock.Mock
}

func (m *LocalSourceMock) IdentityID() string {
	return m.Called().String(0)
}

func (m *LocalSourceMock) State() client.State {
	return m.Called().Get(0).(client.State)
}

func (m *LocalSourceMock) Entries(chatID string) []client.Entry {
	args := m.Called(chatID)
	if val := args.Get(0); val != nil {
		return val.([]client.Entry)
	}
	return nil
}

func (m *LocalSourceMock) SetActiveChat(chatID string) {
	m.Called(chatID)
}

var _ surface.HistorySource = (*HistorySourceMock)(nil)
var _ surface.LocalSource = (*LocalSourceMock)(nil)
var _ surface.HistorySource = (*client.HistoryClient)(nil)
var _ surface.LocalSource = (*client.Controller)(nil)
