package client

import "chat-relay/internal/models"

// EventKind tags what an Event reports.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventMessage      EventKind = "message"
	EventRoster       EventKind = "roster"
	EventPresence     EventKind = "presence"
	EventSendQueued   EventKind = "send_queued"
	EventServerError  EventKind = "server_error"
)

// Event is delivered to subscribers. Only the fields relevant to Kind are set.
type Event struct {
	Kind  EventKind
	State State
	// Err is the last connection error on state changes, or the server's
	// message on EventServerError.
	Err    error
	Entry  Entry
	ChatID string
	// Text carries presence announcements and send warnings.
	Text  string
	Users []models.OnlineUser
}
