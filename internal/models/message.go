package models

import "time"

// Message is a single accepted chat message.
type Message struct {
	MessageID   Fingerprint `db:"message_id" json:"messageId"`
	ChatID      string      `db:"chat_id" json:"chatId"`
	SenderID    string      `db:"sender_id" json:"senderId"`
	SenderName  string      `db:"sender_name" json:"senderName"`
	SenderRole  Role        `db:"sender_role" json:"senderRole"`
	RecipientID *string     `db:"recipient_id" json:"recipientId"`
	Text        string      `db:"text" json:"text"`
	Timestamp   time.Time   `db:"sent_at" json:"timestamp"`
	Read        bool        `db:"is_read" json:"read"`
}

// Recipient returns the addressed identity, or "" for broadcasts.
func (m Message) Recipient() string {
	if m.RecipientID == nil {
		return ""
	}
	return *m.RecipientID
}

// OptionalID turns an empty id into nil.
func OptionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
