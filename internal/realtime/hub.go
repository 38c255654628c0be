package realtime

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Tracker is how the hub reports subscriber churn back to the core so idle
// rooms can be evicted. Implemented by room.Router.
type Tracker interface {
	Unsubscribe(roomID string)
}

// subRequest changes one client's room subscriptions inside the hub loop.
type subRequest struct {
	client *Client
	room   string
	topics []string
	add    bool
}

// Hub owns the set of connected clients and their room subscriptions, and
// fans room events out to them. All maps are confined to the Run goroutine;
// everything else talks to the hub through its channels.
type Hub struct {
	// Registered clients mapped to room -> subscribed topics (empty set
	// means every topic of that room).
	clients map[*Client]map[string]map[string]bool

	broadcast  chan Envelope
	register   chan *Client
	unregister chan *Client
	subscribe  chan subRequest

	tracker Tracker
}

func NewHub(tracker Tracker) *Hub {
	return &Hub{
		clients:    make(map[*Client]map[string]map[string]bool),
		broadcast:  make(chan Envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subRequest),
		tracker:    tracker,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = make(map[string]map[string]bool)

		case client := <-h.unregister:
			h.drop(client)

		case req := <-h.subscribe:
			h.apply(req)

		case env := <-h.broadcast:
			h.fanOut(env)
		}
	}
}

func (h *Hub) apply(req subRequest) {
	rooms, ok := h.clients[req.client]
	if !ok {
		return
	}
	if !req.add {
		if _, was := rooms[req.room]; was {
			delete(rooms, req.room)
			if h.tracker != nil {
				h.tracker.Unsubscribe(req.room)
			}
		}
		return
	}
	topics := make(map[string]bool, len(req.topics))
	for _, t := range req.topics {
		topics[t] = true
	}
	if _, resub := rooms[req.room]; resub && h.tracker != nil {
		// Re-subscribing only replaces the topic filter; give the extra
		// retain back so the count stays one per client per room.
		h.tracker.Unsubscribe(req.room)
	}
	rooms[req.room] = topics
}

func (h *Hub) drop(client *Client) {
	rooms, ok := h.clients[client]
	if !ok {
		return
	}
	for roomID := range rooms {
		if h.tracker != nil {
			h.tracker.Unsubscribe(roomID)
		}
	}
	delete(h.clients, client)
	close(client.send)
	if client.conn != nil {
		_ = client.conn.Close()
	}
}

func (h *Hub) fanOut(env Envelope) {
	msg, err := json.Marshal(map[string]any{
		"type":    env.Type,
		"room":    env.Room,
		"topic":   env.Topic,
		"payload": env.Payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("realtime: marshal outbound event")
		return
	}

	for client, rooms := range h.clients {
		topics, subscribed := rooms[env.Room]
		if !subscribed {
			continue
		}
		if len(topics) > 0 && !topics[env.Topic] {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Slow consumer: drop it rather than stall the fan-out.
			h.drop(client)
		}
	}
}
