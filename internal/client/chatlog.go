package client

import (
	"sort"
	"time"

	"chat-relay/internal/models"
)

// Entry is one message as the local user sees it.
type Entry struct {
	MessageID   models.Fingerprint
	ChatID      string
	SenderID    string
	SenderName  string
	SenderRole  models.Role
	Color       string
	Text        string
	Timestamp   time.Time
	RecipientID string
	// Pending marks a message composed while disconnected. It never reached the server.
	Pending bool
	// Confirmed is set once the server has echoed or returned the message.
	Confirmed bool
}

// EntryFromMessage converts a stored message.
func EntryFromMessage(m models.Message) Entry {
	return Entry{
		MessageID:   m.MessageID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		SenderRole:  m.SenderRole,
		Text:        m.Text,
		Timestamp:   m.Timestamp,
		RecipientID: m.Recipient(),
		Confirmed:   true,
	}
}

// ChatLog is the ordered message list of one chat together with the set of
// fingerprints already applied. It is not safe for concurrent use.
type ChatLog struct {
	chatID  string
	entries []Entry
	applied map[models.Fingerprint]struct{}
}

func NewChatLog(chatID string) *ChatLog {
	return &ChatLog{chatID: chatID, applied: make(map[models.Fingerprint]struct{})}
}

func (l *ChatLog) ChatID() string { return l.chatID }

// Apply adds e, or merges it into the entry with the same fingerprint. It
// returns the resulting entry and whether e was new.
func (l *ChatLog) Apply(e Entry) (Entry, bool) {
	if _, ok := l.applied[e.MessageID]; ok {
		for i := range l.entries {
			if l.entries[i].MessageID != e.MessageID {
				continue
			}
			cur := &l.entries[i]
			cur.Confirmed = cur.Confirmed || e.Confirmed
			cur.Pending = cur.Pending && e.Pending
			if cur.Color == "" {
				cur.Color = e.Color
			}
			return *cur, false
		}
	}

	// Insert after every entry at or before e's timestamp.
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Timestamp.After(e.Timestamp) })
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	l.applied[e.MessageID] = struct{}{}
	return e, true
}

// Has reports whether fp was applied.
func (l *ChatLog) Has(fp models.Fingerprint) bool {
	_, ok := l.applied[fp]
	return ok
}

// Entries returns a copy of the ordered entries.
func (l *ChatLog) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

func (l *ChatLog) Len() int { return len(l.entries) }
