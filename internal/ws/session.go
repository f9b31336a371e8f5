package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10

	// DefaultSendBuffer is the number of frames queued per session before it
	// is treated as a slow consumer.
	DefaultSendBuffer = 64
)

// SessionInfo is the metadata negotiated when a connection is accepted.
type SessionInfo struct {
	ConnID      string
	IdentityID  string
	DisplayName string
	// Role is the raw connect-time role, as shown in the roster.
	Role        string
	Color       string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Session is one live websocket connection. Frames are queued with Enqueue
// and written by a single writer goroutine.
type Session struct {
	info      SessionInfo
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, info SessionInfo, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		info: info,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *Session) Info() SessionInfo {
	return s.info
}

// Enqueue queues frame without blocking. A session whose buffer is full is
// closed and the frame is dropped.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.Close()
		return false
	}
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
