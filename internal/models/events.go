package models

import "encoding/json"

// Event types sent from server to client.
const (
	EventConnection       = "connection"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventChatMessage      = "chat-message"
	EventError            = "error"
)

// Envelope is the outer shape of every server frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent marshals data under the given event type.
func EncodeEvent(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

// InboundFrame is what a client sends to post a message.
type InboundFrame struct {
	Text        string `json:"text"`
	RecipientID string `json:"recipientId,omitempty"`
	ChatID      string `json:"chatId,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// OnlineUser is one roster entry.
type OnlineUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Role  string `json:"role"`
}

// ConnectionData is sent once to a freshly accepted connection.
type ConnectionData struct {
	Message string       `json:"message"`
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Color   string       `json:"color"`
	Role    string       `json:"role"`
	Users   []OnlineUser `json:"users"`
}

// PresenceData accompanies user-connected and user-disconnected.
type PresenceData struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Color   string       `json:"color"`
	Role    string       `json:"role"`
	Message string       `json:"message"`
	Users   []OnlineUser `json:"users"`
}

// ChatMessageData is the live form of an accepted message.
type ChatMessageData struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	SenderName  string      `json:"senderName"`
	SenderRole  Role        `json:"senderRole"`
	Color       string      `json:"color"`
	Text        string      `json:"text"`
	Timestamp   string      `json:"timestamp"`
	ChatID      string      `json:"chatId"`
	RecipientID *string     `json:"recipientId"`
	MessageID   Fingerprint `json:"messageId"`
}

// ErrorData carries an error frame's message.
type ErrorData struct {
	Message string `json:"message"`
}
