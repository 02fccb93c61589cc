package handler

import (
	"context"
	"net/http"
	"strconv"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Terminal clients send no Origin; browsers are not a target of the dev backend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxStreamLimit caps the window a stream may ask for.
const maxStreamLimit = 100

// StreamMessages upgrades GET /ws/:collection?limit=N and pushes the caller's window of the
// collection, newest first, on open and after every change.
func (h *Handler) StreamMessages(c *gin.Context) {
	uid, ok := h.authenticate(c)
	if !ok {
		return
	}

	collection := c.Param("collection")
	if _, ok := h.featureByCollection(collection); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Unknown collection: " + collection})
		return
	}

	limit := h.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxStreamLimit)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		logging.Error("failed to upgrade connection", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan storage.WindowFrame, 4)
	query := storage.Query{UserID: uid, Collection: collection, Limit: limit}
	sub, err := h.Messages.Watch(ctx, query, func(s storage.Snapshot) {
		frame := storage.WindowFrame{Messages: s.Messages}
		if s.Err != nil {
			frame = storage.WindowFrame{Error: s.Err.Error()}
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
		}
	})
	if err != nil {
		logging.Error("failed to watch collection", err)
		_ = conn.WriteJSON(storage.WindowFrame{Error: "failed to watch collection"})
		_ = conn.Close()
		return
	}
	logging.Infow("stream opened", "uid", uid, "collection", collection, "limit", limit)
	openStreams.Inc()
	defer openStreams.Dec()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		storage.WritePump(conn, frames)
	}()

	// The client never sends data frames; reading surfaces its close and answers pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = sub.Close()
	close(frames)
	<-pumpDone
	logging.Infow("stream closed", "uid", uid, "collection", collection)
}
