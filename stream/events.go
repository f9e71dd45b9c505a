// Package stream pushes timeline and notification events to connected websocket clients.
package stream

import (
	"encoding/json"
	"time"
)

// Stream names a client can subscribe to.
const (
	StreamUser         = "user"
	StreamNotification = "user:notification"
	StreamPublicLocal  = "public:local"
)

// Event types, server to client.
const (
	EventTypeUpdate       = "update"
	EventTypeNotification = "notification"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Event types, client to server.
const (
	EventTypePing = "ping"
)

// Event is the envelope of every websocket message.
type Event struct {
	Type      string          `json:"event"`
	Stream    []string        `json:"stream,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server to client event with the current timestamp.
func NewEvent(eventType string, streams []string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Stream:    streams,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
