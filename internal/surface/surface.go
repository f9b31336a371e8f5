// Package surface models one open conversation as a chat window shows it:
// history loading, live reconciliation, scroll following and the
// connection banner.
package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/client"
	"chat-relay/internal/models"
)

// ErrSuperseded is returned by a load whose chat was replaced by a later Open.
var ErrSuperseded = errors.New("load superseded by another conversation")

// BottomTolerance is how close, in pixels, the viewport must be to the end
// of the list to count as being at the bottom.
const BottomTolerance = 10

const defaultPageSize = 50

// HistorySource serves durable history. *client.HistoryClient implements it.
type HistorySource interface {
	Messages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)
}

// LocalSource is the live side of a conversation. *client.Controller implements it.
type LocalSource interface {
	IdentityID() string
	State() client.State
	Entries(chatID string) []client.Entry
	SetActiveChat(chatID string)
}

type LoadState int

const (
	LoadIdle LoadState = iota
	LoadLoading
	LoadReady
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadLoading:
		return "loading"
	case LoadReady:
		return "ready"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Viewport is the scroll geometry reported by the renderer.
type Viewport struct {
	ScrollHeight int
	ClientHeight int
	ScrollTop    int
}

// AtBottom reports whether the viewport shows the end of the list.
func (v Viewport) AtBottom() bool {
	d := v.ScrollHeight - v.ClientHeight - v.ScrollTop
	if d < 0 {
		d = -d
	}
	return d < BottomTolerance
}

type Surface struct {
	history  HistorySource
	local    LocalSource
	logger   *zap.Logger
	pageSize int

	mu       sync.Mutex
	chatID   string
	gen      uint64
	load     LoadState
	loadErr  error
	log      *client.ChatLog
	atBottom bool
}

// New builds a Surface. A nil logger is replaced by a no-op logger.
func New(history HistorySource, local LocalSource, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{
		history:  history,
		local:    local,
		logger:   logger,
		pageSize: defaultPageSize,
		load:     LoadIdle,
		atBottom: true,
	}
}

// Open switches to chatID: local state is cleared and seeded with the
// controller's entries, the newest history page is fetched and the
// conversation is marked read. A response that arrives after another Open
// is discarded with ErrSuperseded.
func (s *Surface) Open(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.chatID = chatID
	s.load = LoadLoading
	s.loadErr = nil
	s.log = client.NewChatLog(chatID)
	s.atBottom = true
	for _, e := range s.local.Entries(chatID) {
		s.log.Apply(e)
	}
	s.mu.Unlock()
	s.local.SetActiveChat(chatID)

	if err := s.fetch(ctx, gen, chatID); err != nil {
		return err
	}

	readerID := s.local.IdentityID()
	if _, err := s.history.MarkRead(ctx, chatID, readerID); err != nil {
		s.logger.Warn("mark read failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return nil
}

// Sync re-fetches the newest history page of the open chat and merges it
// with what is already shown.
func (s *Surface) Sync(ctx context.Context) error {
	s.mu.Lock()
	gen, chatID := s.gen, s.chatID
	s.mu.Unlock()
	if chatID == "" {
		return nil
	}
	return s.fetch(ctx, gen, chatID)
}

func (s *Surface) fetch(ctx context.Context, gen uint64, chatID string) error {
	msgs, err := s.history.Messages(ctx, chatID, s.pageSize, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrSuperseded
	}
	if err != nil {
		s.logger.Warn("history fetch failed", zap.String("chat_id", chatID), zap.Error(err))
		if s.load != LoadReady {
			s.load = LoadFailed
			s.loadErr = err
		}
		return err
	}
	for _, m := range msgs {
		s.log.Apply(client.EntryFromMessage(m))
	}
	s.load = LoadReady
	s.loadErr = nil
	return nil
}

// Apply merges a live entry into the open chat. It reports whether the view
// should scroll to the newest message: the viewer was at the bottom when it
// arrived, or it is the local user's own message.
func (s *Surface) Apply(e client.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil || e.ChatID != s.chatID {
		return false
	}
	if _, added := s.log.Apply(e); !added {
		return false
	}
	if e.SenderID == s.local.IdentityID() || s.atBottom {
		s.atBottom = true
		return true
	}
	return false
}

// OnScroll records the viewer's scroll position.
func (s *Surface) OnScroll(v Viewport) {
	s.mu.Lock()
	s.atBottom = v.AtBottom()
	s.mu.Unlock()
}

func (s *Surface) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *Surface) LoadState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load
}

type Delivery string

const (
	DeliveryConfirmed Delivery = "confirmed"
	DeliverySent      Delivery = "sent"
	DeliveryQueued    Delivery = "queued"
)

type Banner string

const (
	BannerNone         Banner = "none"
	BannerReconnecting Banner = "reconnecting"
	BannerUnavailable  Banner = "unavailable"
)

type Row struct {
	MessageID  models.Fingerprint
	SenderID   string
	SenderName string
	Text       string
	Timestamp  time.Time
	Own        bool
	Delivery   Delivery
}

// View is a snapshot of everything a renderer needs.
type View struct {
	ChatID   string
	Load     LoadState
	LoadErr  error
	Banner   Banner
	AtBottom bool
	Rows     []Row
}

func (s *Surface) View() View {
	state := s.local.State()
	self := s.local.IdentityID()

	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ChatID:   s.chatID,
		Load:     s.load,
		LoadErr:  s.loadErr,
		Banner:   bannerFor(state),
		AtBottom: s.atBottom,
	}
	if s.log == nil {
		return v
	}
	entries := s.log.Entries()
	v.Rows = make([]Row, 0, len(entries))
	for _, e := range entries {
		v.Rows = append(v.Rows, Row{
			MessageID:  e.MessageID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Text:       e.Text,
			Timestamp:  e.Timestamp,
			Own:        e.SenderID == self,
			Delivery:   deliveryOf(e),
		})
	}
	return v
}

func deliveryOf(e client.Entry) Delivery {
	switch {
	case e.Pending:
		return DeliveryQueued
	case e.Confirmed:
		return DeliveryConfirmed
	default:
		return DeliverySent
	}
}

func bannerFor(state client.State) Banner {
	switch state {
	case client.StateConnecting, client.StateRetryScheduled:
		return BannerReconnecting
	case client.StateGaveUp, client.StateStopped:
		return BannerUnavailable
	default:
		return BannerNone
	}
}
