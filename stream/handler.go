package stream

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Authenticator resolves the local actor behind a streaming request.
type Authenticator func(r *http.Request) (uuid.UUID, error)

// ParseStreams reads the requested stream names, defaulting to the user stream.
// Unknown names are ignored.
func ParseStreams(raw string) []string {
	var streams []string
	for _, s := range strings.Split(raw, ",") {
		switch s = strings.TrimSpace(s); s {
		case StreamUser, StreamNotification, StreamPublicLocal:
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		streams = []string{StreamUser}
	}
	return streams
}

// ServeWS upgrades an authenticated request and attaches the connection to hub.
// The pumps stop when ctx, the server's lifetime, is done.
func ServeWS(ctx context.Context, hub *Hub, auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorId, err := auth(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			hub.log.Warn("Stream: accept error", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, actorId, ParseStreams(r.URL.Query().Get("stream"))...)
		select {
		case hub.register <- client:
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}

		go client.WritePump(ctx)
		go client.ReadPump(ctx)
	}
}
