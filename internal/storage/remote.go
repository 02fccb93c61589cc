package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WindowFrame is what the backend pushes over the websocket on every change.
type WindowFrame struct {
	Messages []models.StoredMessage `json:"messages"`
	Error    string                 `json:"error,omitempty"`
}

// TokenSource returns a bearer credential for the current user.
type TokenSource func(ctx context.Context) (string, error)

// RemoteWatcher follows a collection through the backend's websocket stream
// (GET <BaseURL>/<collection>?limit=N). The backend derives the user from the token, so
// Query.UserID is not sent.
type RemoteWatcher struct {
	BaseURL string
	Tokens  TokenSource
	Dialer  *websocket.Dialer
}

// NewRemoteWatcher creates a RemoteWatcher with the default dialer.
func NewRemoteWatcher(baseURL string, tokens TokenSource) *RemoteWatcher {
	return &RemoteWatcher{BaseURL: baseURL, Tokens: tokens, Dialer: websocket.DefaultDialer}
}

// StreamURL builds the websocket address for a query.
func StreamURL(baseURL string, q Query) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(q.Collection) + "?limit=" + strconv.Itoa(q.Limit)
}

// Watch dials the stream and delivers every frame until closed.
func (w *RemoteWatcher) Watch(ctx context.Context, q Query, fn func(Snapshot)) (*Subscription, error) {
	token, err := w.Tokens(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := w.Dialer.DialContext(ctx, StreamURL(w.BaseURL, q), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open message stream: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to open message stream: %w", err)
	}

	return NewSubscription(ctx, func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			// Tell the server we are leaving, then unblock ReadJSON.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		}()
		readFrames(ctx, conn, fn)
	}), nil
}

// readFrames is the read pump of a stream connection.
func readFrames(ctx context.Context, conn *websocket.Conn, fn func(Snapshot)) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var frame WindowFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Error("message stream closed unexpectedly", err)
			}
			fn(Snapshot{Err: fmt.Errorf("message stream ended: %w", err)})
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if frame.Error != "" {
			fn(Snapshot{Err: errors.New(frame.Error)})
			continue
		}
		fn(Snapshot{Messages: frame.Messages})
	}
}

// WritePump sends every window from frames to conn and pings on idle. It returns when
// frames is closed or the connection fails. The backend side of the stream uses it.
func WritePump(conn *websocket.Conn, frames <-chan WindowFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Only the newest window matters; skip any that queued up behind it.
			for n := len(frames); n > 0; n-- {
				next, ok := <-frames
				if !ok {
					break
				}
				frame = next
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
