package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/dedup"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/services"
)

type routerFixture struct {
	hub    *Hub
	store  *repositories.MemoryStore
	router *Router
	u1, u2 *Session
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	hub := NewHub()
	store := repositories.NewMemoryStore()
	cache, err := dedup.New(16)
	require.NoError(t, err)
	router := NewRouter(hub, cache, services.NewChatStore(store, store, hub, nil), nil)

	f := &routerFixture{hub: hub, store: store, router: router, u1: testSession("u1", 0), u2: testSession("u2", time.Second)}
	hub.Add(f.u1)
	hub.Add(f.u2)
	return f
}

func chatMessages(t *testing.T, s *Session) []models.ChatMessageData {
	t.Helper()
	var out []models.ChatMessageData
	for _, env := range queued(t, s) {
		if env.Type != models.EventChatMessage {
			continue
		}
		var data models.ChatMessageData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		out = append(out, data)
	}
	return out
}

func TestRouterDeliversToRecipientAndEchoesSender(t *testing.T) {
	f := newRouterFixture(t)
	u3 := testSession("u3", 2*time.Second)
	f.hub.Add(u3)

	outcome := f.router.Handle(context.Background(), f.u1, []byte(`{"text":"hi","recipientId":"u2","timestamp":"2024-03-01T09:30:00.123Z"}`))
	assert.Equal(t, OutcomeDelivered, outcome)

	for _, s := range []*Session{f.u1, f.u2} {
		got := chatMessages(t, s)
		require.Len(t, got, 1)
		assert.Equal(t, "u1_u2", got[0].ChatID)
		assert.Equal(t, "u1", got[0].SenderID)
		assert.Equal(t, "u1", got[0].ID)
		assert.Equal(t, "2024-03-01T09:30:00.123Z", got[0].Timestamp)
		assert.Equal(t, models.Fingerprint("u1_2024-03-01T09:30:00.123Z_hi"), got[0].MessageID)
		require.NotNil(t, got[0].RecipientID)
		assert.Equal(t, "u2", *got[0].RecipientID)
	}
	assert.Empty(t, chatMessages(t, u3))
	assert.Equal(t, 1, f.store.MessageCount("u1_u2"))
}

func TestRouterSuppressesRetriedFrame(t *testing.T) {
	f := newRouterFixture(t)
	frame := []byte(`{"text":"hi","recipientId":"u2","timestamp":"2024-03-01T09:30:00.123Z"}`)

	assert.Equal(t, OutcomeDelivered, f.router.Handle(context.Background(), f.u1, frame))
	assert.Equal(t, OutcomeDuplicate, f.router.Handle(context.Background(), f.u1, frame))

	assert.Len(t, chatMessages(t, f.u2), 1)
	assert.Len(t, chatMessages(t, f.u1), 1)
	assert.Equal(t, 1, f.store.MessageCount("u1_u2"))
}

func TestRouterDropsInvalidFrames(t *testing.T) {
	f := newRouterFixture(t)
	for _, raw := range []string{
		`not json`,
		`{"text":""}`,
		`{"recipientId":"u2"}`,
		`{"text":"hi","timestamp":"yesterday"}`,
	} {
		assert.Equal(t, OutcomeRejected, f.router.Handle(context.Background(), f.u1, []byte(raw)), raw)
	}
	assert.Empty(t, queued(t, f.u1))
	assert.Empty(t, queued(t, f.u2))
	assert.Equal(t, 0, f.store.ConversationCount())
}

func TestRouterOfflineRecipientIsNotAnError(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.router.Handle(context.Background(), f.u1, []byte(`{"text":"are you there","recipientId":"u9"}`))
	assert.Equal(t, OutcomeRecipientOffline, outcome)

	echo := chatMessages(t, f.u1)
	require.Len(t, echo, 1)
	assert.Equal(t, "u1_u9", echo[0].ChatID)
	assert.Empty(t, queued(t, f.u2))
	assert.Equal(t, 1, f.store.MessageCount("u1_u9"))
}

func TestRouterBroadcastsWithoutRecipient(t *testing.T) {
	f := newRouterFixture(t)
	f.router.now = func() time.Time { return epoch.Add(1500 * time.Microsecond) }

	assert.Equal(t, OutcomeBroadcast, f.router.Handle(context.Background(), f.u1, []byte(`{"text":"hello all"}`)))

	for _, s := range []*Session{f.u1, f.u2} {
		got := chatMessages(t, s)
		require.Len(t, got, 1)
		assert.Equal(t, models.BroadcastChatID, got[0].ChatID)
		assert.Nil(t, got[0].RecipientID)
		assert.Equal(t, "2024-03-01T09:00:00.001Z", got[0].Timestamp)
	}
}

func TestRouterUsesSuppliedChatID(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Handle(context.Background(), f.u2, []byte(`{"text":"yo","recipientId":"u1","chatId":"u1_u2"}`))
	got := chatMessages(t, f.u1)
	require.Len(t, got, 1)
	assert.Equal(t, "u1_u2", got[0].ChatID)
}

func TestRouterStoreFailureRepliesWithError(t *testing.T) {
	hub := NewHub()
	cache, err := dedup.New(16)
	require.NoError(t, err)
	store := new(mocks.ChatStoreMock)
	router := NewRouter(hub, cache, store, nil)
	u1, u2 := testSession("u1", 0), testSession("u2", time.Second)
	hub.Add(u1)
	hub.Add(u2)
	frame := []byte(`{"text":"hi","recipientId":"u2","timestamp":"2024-03-01T09:30:00.123Z"}`)

	store.On("SaveMessage", mock.Anything, mock.Anything).Return(services.SaveResult{}, services.ErrStorage).Once()
	store.On("SaveMessage", mock.Anything, mock.Anything).Return(services.SaveResult{}, nil).Once()

	assert.Equal(t, OutcomeStoreFailed, router.Handle(context.Background(), u1, frame))
	events := queued(t, u1)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.JSONEq(t, `{"message":"failed to store message"}`, string(events[0].Data))
	assert.Empty(t, queued(t, u2))

	// The failed fingerprint is forgotten, so a resend gets a fresh attempt.
	assert.Equal(t, OutcomeDelivered, router.Handle(context.Background(), u1, frame))
	assert.Len(t, chatMessages(t, u2), 1)
	store.AssertExpectations(t)
}

func TestRouterStoredDuplicateIsNotForwarded(t *testing.T) {
	hub := NewHub()
	cache, err := dedup.New(16)
	require.NoError(t, err)
	store := new(mocks.ChatStoreMock)
	router := NewRouter(hub, cache, store, nil)
	u1, u2 := testSession("u1", 0), testSession("u2", time.Second)
	hub.Add(u1)
	hub.Add(u2)

	store.On("SaveMessage", mock.Anything, mock.MatchedBy(func(req services.SaveRequest) bool {
		return req.Message.SenderRole == models.RoleCustomer && req.Sender.DisplayName == "name-u1"
	})).Return(services.SaveResult{Duplicate: true}, nil).Once()

	assert.Equal(t, OutcomeDuplicate, router.Handle(context.Background(), u1, []byte(`{"text":"hi","recipientId":"u2"}`)))
	assert.Empty(t, queued(t, u1))
	assert.Empty(t, queued(t, u2))
	store.AssertExpectations(t)
}

func TestRouterEncodeFailureIsNotCountedAsDelivery(t *testing.T) {
	f := newRouterFixture(t)
	f.router.encode = func(string, any) ([]byte, error) {
		return nil, errors.New("unsupported value")
	}

	outcome := f.router.Handle(context.Background(), f.u1, []byte(`{"text":"hello","recipientId":"u2"}`))
	assert.Equal(t, OutcomeEncodeFailed, outcome)
	assert.NotEqual(t, OutcomeDelivered, outcome)

	assert.Empty(t, queued(t, f.u1))
	assert.Empty(t, queued(t, f.u2))
	assert.Equal(t, 1, f.store.MessageCount("u1_u2"))
}
