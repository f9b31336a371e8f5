package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

func setupHistoryRouter(handler *HistoryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/conversations/:identity_id", handler.ListConversations)
	r.GET("/messages/:chat_id", handler.ListMessages)
	r.PUT("/messages/:chat_id/read", handler.MarkRead)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupHistoryRouter(NewHistoryHandler(convRepo, nil, nil))

	convRepo.On("ListForIdentity", mock.Anything, "u1").Return([]models.Conversation{
		{ChatID: "u1_u3", LastMessage: "newer"},
		{ChatID: "u1_u2", LastMessage: "older"},
	}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/u1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "u1_u3", resp.Conversations[0].ChatID)
	convRepo.AssertExpectations(t)
}

func TestListConversationsEmptyIsArray(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupHistoryRouter(NewHistoryHandler(convRepo, nil, nil))
	convRepo.On("ListForIdentity", mock.Anything, "u9").Return(nil, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/u9", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations":[]}`, rec.Body.String())
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupHistoryRouter(NewHistoryHandler(convRepo, nil, nil))
	convRepo.On("ListForIdentity", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/u1", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load conversations")
}

func TestListMessagesPagination(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupHistoryRouter(NewHistoryHandler(nil, msgRepo, nil))

	msgRepo.On("ListMessages", mock.Anything, "u1_u2", 50, 0).Return([]models.Message{{MessageID: "a", Text: "hi"}}, nil).Once()
	msgRepo.On("ListMessages", mock.Anything, "u1_u2", 200, 400).Return([]models.Message{}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u1_u2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"hi"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u1_u2?limit=1000&skip=400", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())

	msgRepo.AssertExpectations(t)
}

func TestListMessagesRejectsBadNumbers(t *testing.T) {
	router := setupHistoryRouter(NewHistoryHandler(nil, new(mocks.MessageRepositoryMock), nil))

	for _, query := range []string{"?limit=abc", "?limit=0", "?skip=-1", "?skip=x"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u1_u2"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

type recordingAuditPublisher struct {
	events []any
}

func (p *recordingAuditPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.events = append(p.events, event)
	return nil
}

func TestMarkRead(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	pub := &recordingAuditPublisher{}
	router := setupHistoryRouter(NewHistoryHandler(nil, msgRepo, telemetry.NewAuditEmitter(pub, "audit", "chat-relay", "test", nil)))

	msgRepo.On("MarkRead", mock.Anything, "u1_u2", "u2").Return(int64(3), nil).Once()

	body, _ := json.Marshal(map[string]string{"readerId": "u2"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/u1_u2/read", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":3}`, rec.Body.String())
	assert.Len(t, pub.events, 1)
	msgRepo.AssertExpectations(t)
}

func TestMarkReadRequiresReader(t *testing.T) {
	router := setupHistoryRouter(NewHistoryHandler(nil, new(mocks.MessageRepositoryMock), nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/u1_u2/read", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptedMessageAppearsInHistoryInOrder(t *testing.T) {
	store := repositories.NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateConversation(ctx, models.Conversation{ChatID: "u1_u2"})
	require.NoError(t, err)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, m := range []struct {
		text   string
		offset time.Duration
	}{{"third", 2 * time.Second}, {"first", 0}, {"second", time.Second}} {
		ts := base.Add(m.offset)
		require.NoError(t, store.CreateMessage(ctx, models.Message{
			MessageID: models.NewFingerprint("u1", ts, m.text), ChatID: "u1_u2", SenderID: "u1", Text: m.text, Timestamp: ts,
		}))
	}
	router := setupHistoryRouter(NewHistoryHandler(store, store, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u1_u2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	var texts []string
	for _, m := range resp.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"first", "second", "third"}, texts)
}

type staticRoster struct{ users []models.OnlineUser }

func (r staticRoster) Count() int                     { return len(r.users) }
func (r staticRoster) Snapshot() []models.OnlineUser { return r.users }

func TestStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/status", Status(staticRoster{users: []models.OnlineUser{{ID: "u1", Name: "Ann", Color: "#000000", Role: "user"}}}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","connections":1,"users":[{"id":"u1","name":"Ann","color":"#000000","role":"user"}]}`, rec.Body.String())
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, nil, false)
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	pub := &recordingAuditPublisher{}
	enabled := gin.New()
	RegisterDebugRoutes(enabled, telemetry.NewAuditEmitter(pub, "audit", "chat-relay", "test", nil), true)
	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Identity-Id", "u1")
	rec = httptest.NewRecorder()
	enabled.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.events, 1)
	envelope := pub.events[0].(telemetry.AuditEnvelope)
	require.NotNil(t, envelope.IdentityID)
	assert.Equal(t, "u1", *envelope.IdentityID)
	assert.NotEmpty(t, envelope.RequestID)
}
