package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/models"
)

// MemoryStore keeps conversations and messages in process memory. It enforces
// the same uniqueness rules as the Postgres schema and is safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	fingerprints  map[models.Fingerprint]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		fingerprints:  make(map[models.Fingerprint]struct{}),
	}
}

func (s *MemoryStore) GetConversation(ctx context.Context, chatID string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[chatID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ChatID]; ok {
		return models.Conversation{}, ErrConversationExists
	}
	now := time.Now().UTC()
	conv = cloneConversation(conv)
	for i := range conv.Participants {
		conv.Participants[i].ChatID = conv.ChatID
		conv.Participants[i].Position = i
	}
	conv.CreatedAt, conv.UpdatedAt = now, now
	s.conversations[conv.ChatID] = conv
	return cloneConversation(conv), nil
}

func (s *MemoryStore) UpdatePreview(ctx context.Context, chatID string, text string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[chatID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.LastMessage = text
	conv.LastMessageTime = at
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[chatID] = conv
	return nil
}

func (s *MemoryStore) UpdateParticipant(ctx context.Context, participant models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[participant.ChatID]
	if !ok {
		return ErrConversationNotFound
	}
	for i, p := range conv.Participants {
		if p.IdentityID == participant.IdentityID {
			conv.Participants[i].DisplayName = participant.DisplayName
			conv.Participants[i].Role = participant.Role
			conv.Participants[i].Placeholder = participant.Placeholder
		}
	}
	s.conversations[participant.ChatID] = conv
	return nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, participant models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[participant.ChatID]
	if !ok {
		return ErrConversationNotFound
	}
	if _, ok := conv.Participant(participant.IdentityID); ok {
		return nil
	}
	participant.Position = len(conv.Participants)
	conv.Participants = append(conv.Participants, participant)
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[participant.ChatID] = conv
	return nil
}

func (s *MemoryStore) ListForIdentity(ctx context.Context, identityID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Conversation
	for _, conv := range s.conversations {
		if _, ok := conv.Participant(identityID); ok {
			result = append(result, cloneConversation(conv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessageTime.After(result[j].LastMessageTime)
	})
	return result, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ChatID]; !ok {
		return ErrConversationNotFound
	}
	if _, ok := s.fingerprints[msg.MessageID]; ok {
		return ErrMessageExists
	}
	s.fingerprints[msg.MessageID] = struct{}{}

	msgs := append(s.messages[msg.ChatID], msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	s.messages[msg.ChatID] = msgs
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	end := len(msgs) - skip
	if end <= 0 {
		return []models.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]models.Message, end-start)
	copy(page, msgs[start:end])
	return page, nil
}

func (s *MemoryStore) LatestBySender(ctx context.Context, senderID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest models.Message
		found  bool
	)
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.SenderID == senderID && (!found || m.Timestamp.After(latest.Timestamp)) {
				latest, found = m, true
			}
		}
	}
	if !found {
		return models.Message{}, ErrMessageNotFound
	}
	return latest, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, chatID string, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for i, m := range s.messages[chatID] {
		if m.SenderID != readerID && !m.Read {
			s.messages[chatID][i].Read = true
			updated++
		}
	}
	return updated, nil
}

// MessageCount reports how many messages a chat holds.
func (s *MemoryStore) MessageCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[chatID])
}

// ConversationCount reports how many conversations exist.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func cloneConversation(conv models.Conversation) models.Conversation {
	conv.Participants = append([]models.Participant(nil), conv.Participants...)
	return conv
}

var _ ConversationRepository = (*MemoryStore)(nil)
var _ MessageRepository = (*MemoryStore)(nil)
