// Package stream implements the event-stream transport over WebSocket.
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/router"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20
	closeGrace              = time.Second
)

// Transport dials a WebSocket endpoint per subscription.
type Transport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	limit  int64
	log    *logger.PrefixLogger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h }
}

// WithBearerToken authenticates the handshake.
func WithBearerToken(token string) Option {
	return func(t *Transport) {
		if token == "" {
			return
		}
		if t.header == nil {
			t.header = http.Header{}
		}
		t.header.Set("Authorization", "Bearer "+token)
	}
}

// WithInsecureTLS skips server certificate verification.
func WithInsecureTLS(insecure bool) Option {
	return func(t *Transport) {
		if insecure {
			t.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
}

// WithReadLimit bounds the size of a single message.
func WithReadLimit(n int64) Option {
	return func(t *Transport) { t.limit = n }
}

// New creates a transport for url (ws:// or wss://).
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		limit: defaultReadLimit,
		log:   logger.WithPrefix("[stream] "),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe implements router.Transport. The connection is closed when ctx
// ends.
func (t *Transport) Subscribe(ctx context.Context) (router.Subscription, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", t.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(t.limit)
	t.log.Debug("Connected to %s", t.url)

	s := &subscription{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type subscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

// Next returns the next text or binary frame.
func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

// Close sends a close frame and releases the connection.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		err = s.conn.Close()
	})
	return err
}
