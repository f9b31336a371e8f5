package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chat-relay/internal/models"
)

var (
	ErrClosed         = errors.New("client closed")
	ErrEmptyText      = errors.New("message text is empty")
	ErrConnectTimeout = errors.New("connect timed out")
	ErrSuperseded     = errors.New("connect attempt superseded")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultEventBuffer    = 64

	connectFlight = "connect"
)

// Config describes the identity a Controller connects as and how it retries.
type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8083/ws.
	URL         string
	IdentityID  string
	DisplayName string
	Role        string

	Retry          RetryPolicy
	ConnectTimeout time.Duration
	Dialer         Dialer
	Logger         *zap.Logger
	Now            func() time.Time
}

// Controller owns one connection to the relay, reconnects it within a
// bounded retry budget and keeps the message log of each chat.
type Controller struct {
	cfg    Config
	logger *zap.Logger
	flight singleflight.Group
	wg     sync.WaitGroup

	// writeMu serializes frames on the wire.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	attempts   int
	lastErr    error
	policy     backoff.BackOff
	conn       Conn
	watchdog   *time.Timer
	retry      *time.Timer
	cancelDial context.CancelFunc

	logs       map[string]*ChatLog
	unread     map[string]int
	activeChat string
	roster     []models.OnlineUser
	color      string

	subs    map[int]chan Event
	nextSub int
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if cfg.IdentityID == "" {
		return nil, errors.New("client: identity is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Retry = cfg.Retry.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.With(zap.String("identity_id", cfg.IdentityID)),
		state:  StateIdle,
		policy: cfg.Retry.backOff(),
		logs:   make(map[string]*ChatLog),
		unread: make(map[string]int),
		subs:   make(map[int]chan Event),
	}, nil
}

func (c *Controller) IdentityID() string { return c.cfg.IdentityID }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of consecutive failed connection attempts.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the connection. Concurrent calls share one attempt, and an
// open connection makes it a no-op.
func (c *Controller) Connect(ctx context.Context) error {
	_, err, _ := c.flight.Do(connectFlight, func() (interface{}, error) {
		return nil, c.connect(ctx)
	})
	return err
}

// Reconnect resets the retry budget and attempts to connect right away.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return ErrClosed
	case StateOpen:
		c.mu.Unlock()
		return nil
	}
	c.attempts = 0
	c.lastErr = nil
	c.policy.Reset()
	c.mu.Unlock()
	return c.Connect(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen, StateConnecting:
		c.mu.Unlock()
		return nil
	case StateStopped:
		c.mu.Unlock()
		return ErrClosed
	}
	gen := c.transitionLocked(StateConnecting)
	// The deadline bounds dialers that ignore cancellation during the handshake.
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	c.cancelDial = cancel
	c.watchdog = time.AfterFunc(c.cfg.ConnectTimeout, func() { c.onWatchdog(gen) })
	c.mu.Unlock()

	conn, err := c.cfg.Dialer.Dial(dialCtx, c.endpoint())
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	c.cancelDial = nil
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		c.failLocked(err)
		return err
	}

	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	c.policy.Reset()
	gen = c.transitionLocked(StateOpen)
	c.logger.Info("connected")
	c.wg.Add(1)
	go c.readLoop(conn, gen)
	return nil
}

func (c *Controller) onWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state != StateConnecting {
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.logger.Warn("connect attempt timed out", zap.Duration("timeout", c.cfg.ConnectTimeout))
	// The hung dial may still be running; later Connect calls must not join it.
	c.flight.Forget(connectFlight)
	c.failLocked(ErrConnectTimeout)
}

func (c *Controller) onRetry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateRetryScheduled {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	if err := c.Connect(context.Background()); err != nil {
		c.logger.Debug("scheduled reconnect failed", zap.Error(err))
	}
}

// failLocked records a failed or dropped connection and either schedules the
// next attempt or gives up.
func (c *Controller) failLocked(err error) {
	c.lastErr = err
	c.attempts++
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.logger.Warn("giving up on connection", zap.Int("attempts", c.attempts), zap.Error(err))
		c.transitionLocked(StateGaveUp)
		return
	}
	c.logger.Info("reconnect scheduled", zap.Int("attempts", c.attempts), zap.Duration("delay", delay), zap.Error(err))
	gen := c.transitionLocked(StateRetryScheduled)
	c.retry = time.AfterFunc(delay, func() { c.onRetry(gen) })
}

// transitionLocked moves to next, disarms every timer and starts a new
// generation. Disallowed transitions are logged and ignored.
func (c *Controller) transitionLocked(next State) uint64 {
	if !c.state.CanTransition(next) {
		c.logger.Error("invalid state transition", zap.Stringer("from", c.state), zap.Stringer("to", next))
		return c.generation
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.generation++
	c.state = next
	c.emitLocked(Event{Kind: EventStateChanged, State: next, Err: c.lastErr})
	return c.generation
}

func (c *Controller) readLoop(conn Conn, gen uint64) {
	defer c.wg.Done()
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			_ = conn.Close()
			c.mu.Lock()
			if gen == c.generation && c.state == StateOpen {
				c.conn = nil
				c.failLocked(fmt.Errorf("connection lost: %w", err))
			}
			c.mu.Unlock()
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Controller) handleFrame(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("ignoring malformed frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch env.Type {
	case models.EventConnection:
		var data models.ConnectionData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		c.color = data.Color
		c.roster = data.Users
		c.emitLocked(Event{Kind: EventRoster, Users: data.Users, Text: data.Message})
	case models.EventUserConnected, models.EventUserDisconnected:
		var data models.PresenceData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		c.roster = data.Users
		c.emitLocked(Event{Kind: EventPresence, Users: data.Users, Text: data.Message})
	case models.EventChatMessage:
		var data models.ChatMessageData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		ts, err := models.ParseTimestamp(data.Timestamp)
		if err != nil {
			return
		}
		entry := Entry{
			MessageID:  data.MessageID,
			ChatID:     data.ChatID,
			SenderID:   data.SenderID,
			SenderName: data.SenderName,
			SenderRole: data.SenderRole,
			Color:      data.Color,
			Text:       data.Text,
			Timestamp:  ts,
			Confirmed:  true,
		}
		if data.RecipientID != nil {
			entry.RecipientID = *data.RecipientID
		}
		if entry.MessageID == "" {
			entry.MessageID = models.NewFingerprint(entry.SenderID, ts, entry.Text)
		}
		applied, added := c.logLocked(entry.ChatID).Apply(entry)
		if added && entry.SenderID != c.cfg.IdentityID && entry.ChatID != c.activeChat {
			c.unread[entry.ChatID]++
		}
		c.emitLocked(Event{Kind: EventMessage, Entry: applied, ChatID: applied.ChatID})
	case models.EventError:
		var data models.ErrorData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		c.emitLocked(Event{Kind: EventServerError, Err: errors.New(data.Message), Text: data.Message})
	}
}

// Send posts text to recipientID, or to everyone when recipientID is empty.
// While disconnected the message is kept locally as pending, a send_queued
// event is emitted and a connection attempt is started if the retry budget
// allows; pending messages are never sent automatically.
func (c *Controller) Send(recipientID, text string) (Entry, error) {
	if text == "" {
		return Entry{}, ErrEmptyText
	}
	ts := models.CanonicalTime(c.cfg.Now())
	chatID := models.BroadcastChatID
	if recipientID != "" {
		chatID = models.ChatIDFor(c.cfg.IdentityID, recipientID)
	}

	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return Entry{}, ErrClosed
	}
	entry := Entry{
		MessageID:   models.NewFingerprint(c.cfg.IdentityID, ts, text),
		ChatID:      chatID,
		SenderID:    c.cfg.IdentityID,
		SenderName:  c.cfg.DisplayName,
		SenderRole:  models.NormalizeRole(c.cfg.Role),
		Color:       c.color,
		Text:        text,
		Timestamp:   ts,
		RecipientID: recipientID,
	}
	conn := c.conn
	open := c.state == StateOpen && conn != nil
	c.mu.Unlock()

	if open {
		frame, err := json.Marshal(models.InboundFrame{
			Text:        text,
			RecipientID: recipientID,
			ChatID:      chatID,
			Timestamp:   models.FormatTimestamp(ts),
		})
		if err != nil {
			return Entry{}, err
		}
		c.writeMu.Lock()
		err = conn.WriteFrame(frame)
		c.writeMu.Unlock()
		if err == nil {
			c.mu.Lock()
			applied, _ := c.logLocked(chatID).Apply(entry)
			c.emitLocked(Event{Kind: EventMessage, Entry: applied, ChatID: chatID})
			c.mu.Unlock()
			return applied, nil
		}
		c.logger.Warn("send failed, keeping message locally", zap.Error(err))
	}

	entry.Pending = true
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return Entry{}, ErrClosed
	}
	applied, _ := c.logLocked(chatID).Apply(entry)
	c.emitLocked(Event{Kind: EventMessage, Entry: applied, ChatID: chatID})
	c.emitLocked(Event{Kind: EventSendQueued, Entry: applied, ChatID: chatID, Text: "not connected: message kept locally, resend once reconnected"})
	reconnect := c.state == StateIdle || c.state == StateRetryScheduled
	if reconnect {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if reconnect {
		go func() {
			defer c.wg.Done()
			if err := c.Connect(context.Background()); err != nil {
				c.logger.Debug("opportunistic connect failed", zap.Error(err))
			}
		}()
	}
	return applied, nil
}

// Close stops reconnection, closes the connection and waits for background
// work to finish. Subscriber channels are closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.transitionLocked(StateStopped)
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.logger.Info("client closed")
	return err
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

func (c *Controller) emitLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Entries returns the ordered local entries of a chat.
func (c *Controller) Entries(chatID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if log, ok := c.logs[chatID]; ok {
		return log.Entries()
	}
	return nil
}

// Merge applies entries, typically fetched history, to a chat's log.
func (c *Controller) Merge(chatID string, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.logLocked(chatID)
	for _, e := range entries {
		log.Apply(e)
	}
}

// Roster returns the last roster received from the server.
func (c *Controller) Roster() []models.OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.OnlineUser(nil), c.roster...)
}

// SetActiveChat marks chatID as the one being viewed and clears its unread count.
func (c *Controller) SetActiveChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeChat = chatID
	delete(c.unread, chatID)
}

// Unread returns the number of messages from others received for chatID
// while it was not active.
func (c *Controller) Unread(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[chatID]
}

func (c *Controller) logLocked(chatID string) *ChatLog {
	log, ok := c.logs[chatID]
	if !ok {
		log = NewChatLog(chatID)
		c.logs[chatID] = log
	}
	return log
}

func (c *Controller) endpoint() string {
	q := url.Values{}
	q.Set("identityId", c.cfg.IdentityID)
	if c.cfg.DisplayName != "" {
		q.Set("displayName", c.cfg.DisplayName)
	}
	if c.cfg.Role != "" {
		q.Set("role", c.cfg.Role)
	}
	return c.cfg.URL + "?" + q.Encode()
}
