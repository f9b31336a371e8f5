package models

import "time"

// PlaceholderName is stored for participants whose metadata is not known yet.
const PlaceholderName = "User"

// Participant is one side of a conversation.
type Participant struct {
	ChatID      string `db:"chat_id" json:"-"`
	IdentityID  string `db:"identity_id" json:"identityId"`
	DisplayName string `db:"display_name" json:"displayName"`
	Role        Role   `db:"role" json:"role"`
	Placeholder bool   `db:"placeholder" json:"placeholder,omitempty"`
	Position    int    `db:"position" json:"-"`
}

// Conversation is the durable summary of a two-party chat.
type Conversation struct {
	ChatID          string        `db:"chat_id" json:"chatId"`
	Participants    []Participant `db:"-" json:"participants"`
	LastMessage     string        `db:"last_message" json:"lastMessage"`
	LastMessageTime time.Time     `db:"last_message_time" json:"lastMessageTime"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// Participant returns the participant with the given identity.
func (c Conversation) Participant(identityID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.IdentityID == identityID {
			return p, true
		}
	}
	return Participant{}, false
}
