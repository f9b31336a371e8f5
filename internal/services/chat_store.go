package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

// ErrStorage is returned when a message could not be made durable.
var ErrStorage = errors.New("message storage failed")

// minimalPreviewRunes bounds the preview written by the last-resort creation attempt.
const minimalPreviewRunes = 50

// PresenceLookup exposes the metadata of identities that are currently connected.
type PresenceLookup interface {
	Lookup(identityID string) (models.Participant, bool)
}

// SaveRequest describes one accepted inbound message.
type SaveRequest struct {
	Message models.Message
	Sender  models.Participant
}

// SaveResult reports what the store did with a message.
type SaveResult struct {
	Conversation models.Conversation
	// Duplicate is set when the fingerprint was already stored.
	Duplicate bool
	// Created is set when this message created the conversation.
	Created bool
}

// ChatStore makes inbound messages durable, creating their conversation on first use.
type ChatStore struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	presence      PresenceLookup
	logger        *zap.Logger
}

// NewChatStore builds a ChatStore. presence may be nil.
func NewChatStore(conversations repositories.ConversationRepository, messages repositories.MessageRepository, presence PresenceLookup, logger *zap.Logger) *ChatStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatStore{conversations: conversations, messages: messages, presence: presence, logger: logger}
}

// SaveMessage persists req.Message. A message whose fingerprint already exists
// is reported as a duplicate, not as an error.
func (s *ChatStore) SaveMessage(ctx context.Context, req SaveRequest) (SaveResult, error) {
	msg := req.Message
	conv, created, err := s.ensureConversation(ctx, req)
	if err != nil {
		return SaveResult{}, err
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, repositories.ErrMessageExists) {
			s.logger.Debug("message already stored", zap.String("message_id", msg.MessageID.String()))
			return SaveResult{Conversation: conv, Duplicate: true, Created: created}, nil
		}
		return SaveResult{}, fmt.Errorf("%w: create message: %v", ErrStorage, err)
	}

	if err := s.conversations.UpdatePreview(ctx, conv.ChatID, msg.Text, msg.Timestamp); err != nil {
		s.logger.Warn("conversation preview not updated", zap.String("chat_id", conv.ChatID), zap.Error(err))
	} else {
		conv.LastMessage, conv.LastMessageTime = msg.Text, msg.Timestamp
	}
	return SaveResult{Conversation: conv, Created: created}, nil
}

func (s *ChatStore) ensureConversation(ctx context.Context, req SaveRequest) (models.Conversation, bool, error) {
	chatID := req.Message.ChatID
	conv, err := s.conversations.GetConversation(ctx, chatID)
	if err == nil {
		conv = s.correctPlaceholders(ctx, conv, req)
		return s.addMissingParticipants(ctx, conv, req), false, nil
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, false, fmt.Errorf("%w: get conversation: %v", ErrStorage, err)
	}

	participants := s.resolveParticipants(ctx, req)
	var lastErr error
	for _, attempt := range creationAttempts {
		candidate := attempt.build(req, participants)
		conv, err := s.conversations.CreateConversation(ctx, candidate)
		switch {
		case err == nil:
			return conv, true, nil
		case errors.Is(err, repositories.ErrConversationExists):
			s.logger.Debug("conversation created concurrently, refetching", zap.String("chat_id", chatID))
			conv, err := s.conversations.GetConversation(ctx, chatID)
			if err != nil {
				return models.Conversation{}, false, fmt.Errorf("%w: refetch conversation: %v", ErrStorage, err)
			}
			return s.addMissingParticipants(ctx, conv, req), false, nil
		default:
			s.logger.Warn("conversation creation attempt failed",
				zap.String("chat_id", chatID), zap.String("attempt", attempt.name), zap.Error(err))
			lastErr = err
		}
	}
	return models.Conversation{}, false, fmt.Errorf("%w: create conversation: %v", ErrStorage, lastErr)
}

// creationAttempt is one way of building the first row of a conversation.
type creationAttempt struct {
	name  string
	build func(req SaveRequest, participants []models.Participant) models.Conversation
}

var creationAttempts = []creationAttempt{
	{name: "full", build: fullConversation},
	{name: "minimal", build: minimalConversation},
}

func fullConversation(req SaveRequest, participants []models.Participant) models.Conversation {
	return models.Conversation{
		ChatID:          req.Message.ChatID,
		Participants:    participants,
		LastMessage:     req.Message.Text,
		LastMessageTime: req.Message.Timestamp,
	}
}

func minimalConversation(req SaveRequest, _ []models.Participant) models.Conversation {
	sender := req.Sender
	sender.Placeholder = false
	return models.Conversation{
		ChatID:          req.Message.ChatID,
		Participants:    []models.Participant{sender},
		LastMessage:     models.TruncateText(req.Message.Text, minimalPreviewRunes),
		LastMessageTime: req.Message.Timestamp,
	}
}

// resolveParticipants returns the sender followed by the recipient, if any.
func (s *ChatStore) resolveParticipants(ctx context.Context, req SaveRequest) []models.Participant {
	participants := []models.Participant{req.Sender}
	recipient := req.Message.Recipient()
	if recipient == "" || recipient == req.Sender.IdentityID {
		return participants
	}
	return append(participants, s.resolveParticipant(ctx, recipient, req.Sender.Role.Opposite()))
}

type participantSource func(ctx context.Context, identityID string) (models.Participant, bool)

// resolveParticipant tries live metadata, then stored history, then a placeholder.
func (s *ChatStore) resolveParticipant(ctx context.Context, identityID string, inferred models.Role) models.Participant {
	for _, source := range []participantSource{s.fromPresence, s.fromHistory} {
		if p, ok := source(ctx, identityID); ok {
			return p
		}
	}
	return models.Participant{
		IdentityID:  identityID,
		DisplayName: models.PlaceholderName,
		Role:        inferred,
		Placeholder: true,
	}
}

func (s *ChatStore) fromPresence(_ context.Context, identityID string) (models.Participant, bool) {
	if s.presence == nil {
		return models.Participant{}, false
	}
	return s.presence.Lookup(identityID)
}

func (s *ChatStore) fromHistory(ctx context.Context, identityID string) (models.Participant, bool) {
	msg, err := s.messages.LatestBySender(ctx, identityID)
	if err != nil {
		if !errors.Is(err, repositories.ErrMessageNotFound) {
			s.logger.Warn("participant history lookup failed", zap.String("identity_id", identityID), zap.Error(err))
		}
		return models.Participant{}, false
	}
	return models.Participant{IdentityID: identityID, DisplayName: msg.SenderName, Role: msg.SenderRole}, true
}

// correctPlaceholders replaces placeholder participants once real metadata is known.
func (s *ChatStore) correctPlaceholders(ctx context.Context, conv models.Conversation, req SaveRequest) models.Conversation {
	for i, p := range conv.Participants {
		if !p.Placeholder {
			continue
		}
		var (
			found models.Participant
			ok    bool
		)
		if p.IdentityID == req.Sender.IdentityID {
			found, ok = req.Sender, true
		} else {
			for _, source := range []participantSource{s.fromPresence, s.fromHistory} {
				if found, ok = source(ctx, p.IdentityID); ok {
					break
				}
			}
		}
		if !ok {
			continue
		}
		found.ChatID = conv.ChatID
		found.IdentityID = p.IdentityID
		found.Placeholder = false
		found.Position = p.Position
		if err := s.conversations.UpdateParticipant(ctx, found); err != nil {
			s.logger.Warn("placeholder participant not corrected", zap.String("chat_id", conv.ChatID), zap.String("identity_id", p.IdentityID), zap.Error(err))
			continue
		}
		conv.Participants[i] = found
	}
	return conv
}

// addMissingParticipants lists the sender and the addressed recipient on a
// conversation that was created without them, e.g. by the minimal attempt or
// by a frame that named only a chat id.
func (s *ChatStore) addMissingParticipants(ctx context.Context, conv models.Conversation, req SaveRequest) models.Conversation {
	var missing []models.Participant
	if _, ok := conv.Participant(req.Sender.IdentityID); !ok {
		sender := req.Sender
		sender.Placeholder = false
		missing = append(missing, sender)
	}
	if recipient := req.Message.Recipient(); recipient != "" && recipient != req.Sender.IdentityID {
		if _, ok := conv.Participant(recipient); !ok {
			missing = append(missing, s.resolveParticipant(ctx, recipient, req.Sender.Role.Opposite()))
		}
	}

	for _, p := range missing {
		p.ChatID = conv.ChatID
		p.Position = len(conv.Participants)
		if err := s.conversations.AddParticipant(ctx, p); err != nil {
			s.logger.Warn("participant not added", zap.String("chat_id", conv.ChatID), zap.String("identity_id", p.IdentityID), zap.Error(err))
			continue
		}
		conv.Participants = append(conv.Participants, p)
	}
	return conv
}
