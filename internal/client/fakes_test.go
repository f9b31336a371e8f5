package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) push(t *testing.T, eventType string, data any) {
	t.Helper()
	frame, err := models.EncodeEvent(eventType, data)
	require.NoError(t, err)
	c.frames <- frame
}

// dialResult scripts one Dial call. A non-nil gate blocks the dial until it
// is closed or, unless ignoreCtx is set, the dial context ends.
type dialResult struct {
	conn      *fakeConn
	err       error
	gate      chan struct{}
	ignoreCtx bool
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
}

func (d *fakeDialer) script(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	next := dialResult{err: errRefused}
	if len(d.results) > 0 {
		next, d.results = d.results[0], d.results[1:]
	}
	d.mu.Unlock()

	if next.gate != nil && next.ignoreCtx {
		<-next.gate
	} else if next.gate != nil {
		select {
		case <-next.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if next.err != nil {
		return nil, next.err
	}
	return next.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Step: time.Millisecond}

func newTestController(t *testing.T, dialer *fakeDialer, retry RetryPolicy) *Controller {
	t.Helper()
	c, err := NewController(Config{
		URL:            "ws://relay.test/ws",
		IdentityID:     "u1",
		DisplayName:    "Ann",
		Role:           "customer",
		Retry:          retry,
		ConnectTimeout: time.Second,
		Dialer:         dialer,
		Now:            func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, time.Millisecond, "want state %s", want)
}
