package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/dedup"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/services"
)

// Outcome is what the router did with one inbound frame.
type Outcome string

const (
	OutcomeRejected         Outcome = "rejected"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeStoreFailed      Outcome = "store_failed"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeRecipientOffline Outcome = "recipient_offline"
	OutcomeBroadcast        Outcome = "broadcast"
	// OutcomeEncodeFailed means the message was stored but could not be
	// framed, so no session received it.
	OutcomeEncodeFailed Outcome = "encode_failed"
)

const storeFailedMessage = "failed to store message"

// Persister makes accepted messages durable.
type Persister interface {
	SaveMessage(ctx context.Context, req services.SaveRequest) (services.SaveResult, error)
}

// Router is the single path from an inbound frame to storage and delivery.
type Router struct {
	hub    *Hub
	seen   *dedup.Cache
	store  Persister
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	encode func(eventType string, data any) ([]byte, error)
}

func NewRouter(hub *Hub, seen *dedup.Cache, store Persister, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		hub:    hub,
		seen:   seen,
		store:  store,
		logger: logger,
		tracer: otel.Tracer("chat-relay/ws"),
		now:    time.Now,
		encode: models.EncodeEvent,
	}
}

// Handle routes one frame received from s.
func (r *Router) Handle(ctx context.Context, s *Session, raw []byte) Outcome {
	ctx, span := r.tracer.Start(ctx, "ws.message")
	defer span.End()

	outcome := r.route(ctx, s, raw)
	span.SetAttributes(attribute.String("chat.outcome", string(outcome)))
	switch outcome {
	case OutcomeStoreFailed:
		span.SetStatus(codes.Error, storeFailedMessage)
	case OutcomeEncodeFailed:
		span.SetStatus(codes.Error, "chat message not encoded")
	}
	observability.IncMessageOutcome(string(outcome))
	return outcome
}

func (r *Router) route(ctx context.Context, s *Session, raw []byte) Outcome {
	info := s.Info()
	log := r.logger.With(zap.String("conn_id", info.ConnID), zap.String("sender_id", info.IdentityID))

	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Debug("dropping malformed frame", zap.Error(err))
		return OutcomeRejected
	}
	if frame.Text == "" {
		return OutcomeRejected
	}

	sentAt := models.CanonicalTime(r.now())
	if frame.Timestamp != "" {
		parsed, err := models.ParseTimestamp(frame.Timestamp)
		if err != nil {
			log.Debug("dropping frame with bad timestamp", zap.String("timestamp", frame.Timestamp))
			return OutcomeRejected
		}
		sentAt = parsed
	}

	chatID := frame.ChatID
	switch {
	case chatID != "":
	case frame.RecipientID != "":
		chatID = models.ChatIDFor(info.IdentityID, frame.RecipientID)
	default:
		chatID = models.BroadcastChatID
	}

	fp := models.NewFingerprint(info.IdentityID, sentAt, frame.Text)
	log = log.With(zap.String("chat_id", chatID), zap.String("message_id", fp.String()))
	if r.seen.Seen(fp) {
		log.Debug("duplicate frame suppressed")
		return OutcomeDuplicate
	}

	msg := models.Message{
		MessageID:   fp,
		ChatID:      chatID,
		SenderID:    info.IdentityID,
		SenderName:  info.DisplayName,
		SenderRole:  models.NormalizeRole(info.Role),
		RecipientID: models.OptionalID(frame.RecipientID),
		Text:        frame.Text,
		Timestamp:   sentAt,
	}
	started := time.Now()
	res, err := r.store.SaveMessage(ctx, services.SaveRequest{
		Message: msg,
		Sender: models.Participant{
			IdentityID:  info.IdentityID,
			DisplayName: info.DisplayName,
			Role:        msg.SenderRole,
		},
	})
	observability.ObservePersist(time.Since(started))
	if err != nil {
		r.seen.Forget(fp)
		log.Error("message not stored", zap.Error(err))
		r.replyError(s, storeFailedMessage)
		return OutcomeStoreFailed
	}
	if res.Duplicate {
		log.Debug("message already stored")
		return OutcomeDuplicate
	}

	r.publishAccepted(ctx, info, msg)
	return r.deliver(log, info, msg)
}

func (r *Router) deliver(log *zap.Logger, info SessionInfo, msg models.Message) Outcome {
	frame, err := r.encode(models.EventChatMessage, models.ChatMessageData{
		ID:          info.IdentityID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		SenderRole:  msg.SenderRole,
		Color:       info.Color,
		Text:        msg.Text,
		Timestamp:   models.FormatTimestamp(msg.Timestamp),
		ChatID:      msg.ChatID,
		RecipientID: msg.RecipientID,
		MessageID:   msg.MessageID,
	})
	if err != nil {
		log.Error("encode chat message, stored but not delivered", zap.Error(err))
		return OutcomeEncodeFailed
	}

	recipient := msg.Recipient()
	if recipient == "" {
		n := r.hub.Broadcast(frame, nil)
		observability.AddDeliveries(n)
		log.Info("message broadcast", zap.Int("sessions", n))
		return OutcomeBroadcast
	}

	delivered := r.hub.Deliver(frame, recipient, msg.SenderID)
	total := 0
	for _, n := range delivered {
		total += n
	}
	observability.AddDeliveries(total)
	if delivered[recipient] == 0 {
		log.Info("recipient offline, message kept for history", zap.String("recipient_id", recipient))
		return OutcomeRecipientOffline
	}
	log.Info("message delivered", zap.String("recipient_id", recipient), zap.Int("sessions", total))
	return OutcomeDelivered
}

func (r *Router) replyError(s *Session, message string) {
	frame, err := models.EncodeEvent(models.EventError, models.ErrorData{Message: message})
	if err != nil {
		return
	}
	s.Enqueue(frame)
}

func (r *Router) publishAccepted(ctx context.Context, info SessionInfo, msg models.Message) {
	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessages, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_accepted",
		Payload: map[string]interface{}{
			"message_id":   msg.MessageID,
			"chat_id":      msg.ChatID,
			"sender_id":    msg.SenderID,
			"recipient_id": msg.RecipientID,
			"sent_at":      models.FormatTimestamp(msg.Timestamp),
			"conn_id":      info.ConnID,
		},
	}, observability.BuildHeaders(info.RequestID, traceIDFrom(ctx)))
}
