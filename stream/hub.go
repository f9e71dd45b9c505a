package stream

import (
	"context"
	"encoding/json"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const broadcastBufSize = 256

// Hub tracks the connected clients of every actor and routes events to them.
// An actor may hold several connections at once.
type Hub struct {
	clients map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg

	log *zap.Logger
}

type broadcastMsg struct {
	stream string
	owner  uuid.UUID // uuid.Nil reaches every client subscribed to stream
	data   []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, broadcastBufSize),
		log:        log,
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					client.close()
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			return

		case client := <-h.register:
			set, ok := h.clients[client.actorId]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.actorId] = set
			}
			set[client] = struct{}{}
			h.log.Debug("Stream: client connected",
				zap.String("actor", client.actorId.String()),
				zap.Int("connections", len(set)))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *broadcastMsg) {
	if msg.owner != uuid.Nil {
		for client := range h.clients[msg.owner] {
			h.push(client, msg)
		}
		return
	}
	for _, set := range h.clients {
		for client := range set {
			h.push(client, msg)
		}
	}
}

func (h *Hub) push(client *Client, msg *broadcastMsg) {
	if !client.IsSubscribed(msg.stream) {
		return
	}
	select {
	case client.send <- msg.data:
	default:
		// slow consumer
		h.log.Warn("Stream: dropping slow client", zap.String("actor", client.actorId.String()))
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.actorId]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.actorId)
	}
	client.close()
	h.log.Debug("Stream: client disconnected", zap.String("actor", client.actorId.String()))
}

// PublishStatus forwards a newly materialized timeline entry. MAIN entries go
// to the owner's user stream and LOCAL_PUBLIC entries to every public:local
// subscriber; the other timelines have no stream of their own.
func (h *Hub) PublishStatus(timeline domain.Timeline, ownerId uuid.UUID, msg *domain.Message) {
	var name string
	switch timeline {
	case domain.TimelineMain:
		name = StreamUser
	case domain.TimelineLocalPublic:
		name = StreamPublicLocal
		ownerId = uuid.Nil
	default:
		return
	}
	h.send(name, ownerId, EventTypeUpdate, domain.NewStatusView(msg))
}

// PublishNotification forwards n to its recipient's user and notification streams.
func (h *Hub) PublishNotification(n *domain.Notification) {
	if n.ActorId == uuid.Nil {
		return
	}
	view := domain.NewNotificationView(n)
	h.send(StreamUser, n.ActorId, EventTypeNotification, view)
	h.send(StreamNotification, n.ActorId, EventTypeNotification, view)
}

// send never blocks the publisher; events are dropped when the hub is backed up.
func (h *Hub) send(name string, owner uuid.UUID, eventType string, payload any) {
	evt, err := NewEvent(eventType, []string{name}, payload)
	if err != nil {
		h.log.Error("Stream: marshal error", zap.Error(err))
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("Stream: marshal error", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{stream: name, owner: owner, data: data}:
	default:
		h.log.Warn("Stream: hub backed up, dropping event", zap.String("stream", name))
	}
}
