package netman

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ddanilov/podvault/internal/syncwire"
)

// wsSubscription wraps one open websocket connection and its read loop.
type wsSubscription struct {
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// SubscribeToChanges dials the realtime endpoint and forwards every frame to
// cb from a dedicated goroutine. The subscription ends on Unsubscribe, on
// context cancellation, or when the server closes the connection.
func (m *HTTPManager) SubscribeToChanges(ctx context.Context, cb func(syncwire.Change)) (Subscription, error) {
	header := http.Header{}
	if err := m.authorize(ctx, header); err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(m.baseURL)+"/v1/subscribe", header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}

	// close the connection when the caller's context ends, which also
	// unblocks the read loop
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	go func() {
		for {
			var change syncwire.Change
			if err := conn.ReadJSON(&change); err != nil {
				select {
				case <-sub.done:
					// normal shutdown
				default:
					m.logger.Warn(ctx, "realtime channel closed", "error", err)
					sub.Unsubscribe()
				}
				return
			}
			cb(change)
		}
	}()

	return sub, nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
