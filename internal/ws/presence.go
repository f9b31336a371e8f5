package ws

import (
	"go.uber.org/zap"

	"chat-relay/internal/models"
)

const connectedMessage = "Connected to chat server"

// Presence announces sessions joining and leaving.
type Presence struct {
	hub    *Hub
	logger *zap.Logger
}

func NewPresence(hub *Hub, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{hub: hub, logger: logger}
}

// Joined greets s with the roster and tells every other session about it.
// s must already be registered with the hub.
func (p *Presence) Joined(s *Session) {
	info := s.Info()
	users := p.hub.Snapshot()

	greeting, err := models.EncodeEvent(models.EventConnection, models.ConnectionData{
		Message: connectedMessage,
		ID:      info.IdentityID,
		Name:    info.DisplayName,
		Color:   info.Color,
		Role:    info.Role,
		Users:   users,
	})
	if err != nil {
		p.logger.Error("encode connection event", zap.Error(err))
		return
	}
	s.Enqueue(greeting)

	p.announce(models.EventUserConnected, info, info.DisplayName+" has joined the chat!", users, s)
}

// Left tells the remaining sessions that s is gone. s must already be removed
// from the hub.
func (p *Presence) Left(s *Session) {
	info := s.Info()
	p.announce(models.EventUserDisconnected, info, info.DisplayName+" has left the chat!", p.hub.Snapshot(), s)
}

func (p *Presence) announce(eventType string, info SessionInfo, message string, users []models.OnlineUser, skip *Session) {
	frame, err := models.EncodeEvent(eventType, models.PresenceData{
		ID:      info.IdentityID,
		Name:    info.DisplayName,
		Color:   info.Color,
		Role:    info.Role,
		Message: message,
		Users:   users,
	})
	if err != nil {
		p.logger.Error("encode presence event", zap.String("type", eventType), zap.Error(err))
		return
	}
	n := p.hub.Broadcast(frame, skip)
	p.logger.Debug("presence announced",
		zap.String("type", eventType), zap.String("identity_id", info.IdentityID), zap.Int("sessions", n))
}
