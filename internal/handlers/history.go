package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// HistoryHandler serves stored conversations and messages.
type HistoryHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	audit         *telemetry.AuditEmitter
}

// NewHistoryHandler builds a HistoryHandler. audit may be nil.
func NewHistoryHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository, audit *telemetry.AuditEmitter) *HistoryHandler {
	return &HistoryHandler{conversations: conversations, messages: messages, audit: audit}
}

// ListConversations returns the conversations of an identity, newest first.
func (h *HistoryHandler) ListConversations(c *gin.Context) {
	identityID := c.Param("identity_id")
	if identityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity id is required"})
		return
	}

	convs, err := h.conversations.ListForIdentity(c.Request.Context(), identityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ListMessages returns one page of a chat in chronological order. skip=0 is
// the newest page.
func (h *HistoryHandler) ListMessages(c *gin.Context) {
	chatID := c.Param("chat_id")

	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), chatID, limit, skip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type markReadRequest struct {
	ReaderID string `json:"readerId" binding:"required"`
}

// MarkRead flags every message of the chat not sent by the reader as read.
func (h *HistoryHandler) MarkRead(c *gin.Context) {
	chatID := c.Param("chat_id")

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "readerId is required"})
		return
	}

	updated, err := h.messages.MarkRead(c.Request.Context(), chatID, req.ReaderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}
	if updated > 0 {
		h.audit.Emit(c.Request.Context(), "INFO", "messages marked read in "+chatID, requestIDFromContext(c), &req.ReaderID)
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
