package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Client is a single websocket connection of a local actor.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	actorId uuid.UUID
	streams map[string]struct{}

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, actorId uuid.UUID, streams ...string) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		actorId: actorId,
		streams: make(map[string]struct{}, len(streams)),
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}
	for _, s := range streams {
		c.streams[s] = struct{}{}
	}
	return c
}

// IsSubscribed reports whether the connection asked for the stream.
func (c *Client) IsSubscribed(name string) bool {
	_, ok := c.streams[name]
	return ok
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads client messages until the connection closes, then unregisters.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		if err := wsjson.Read(ctx, c.conn, &event); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.hub.log.Debug("Stream: read error", zap.String("actor", c.actorId.String()), zap.Error(err))
			}
			return
		}
		c.handleEvent(&event)
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.log.Debug("Stream: write error", zap.String("actor", c.actorId.String()), zap.Error(err))
				return
			}

		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypePing:
		c.enqueue(&Event{Type: EventTypePong})
	default:
		evt, err := NewEvent(EventTypeError, nil, ErrorPayload{Code: "UNKNOWN_EVENT", Message: "unknown event type: " + event.Type})
		if err != nil {
			return
		}
		c.enqueue(evt)
	}
}

func (c *Client) enqueue(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
