// Package ws fans ingestion change events out to websocket subscribers.
package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/francyfox/sqstat/internal/ingest"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	ID() string
	Send([]byte) error
	Close()
}

// feedMessage is the wire payload: the change event plus per-client identity.
type feedMessage struct {
	ingest.Event
	ClientID     string `json:"clientId"`
	TotalClients int    `json:"totalClients"`
}

// Hub manages feed subscriptions and broadcasts change events.
type Hub struct {
	log       *slog.Logger
	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan ingest.Event
}

// NewHub creates an initialized Hub. Run must be started for it to serve.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		log:       logger,
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan ingest.Event),
	}
}

// Run serves hub traffic until done is closed. Dead clients are dropped on
// send failure.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("client subscribed", "clientId", client.ID(), "total", len(h.clients))
		case client := <-h.unreg:
			delete(h.clients, client)
			h.log.Debug("client unsubscribed", "clientId", client.ID(), "total", len(h.clients))
		case event := <-h.broadcast:
			for c := range h.clients {
				payload, err := json.Marshal(feedMessage{
					Event:        event,
					ClientID:     c.ID(),
					TotalClients: len(h.clients),
				})
				if err != nil {
					h.log.Warn("event marshal failed", "error", err)
					break
				}
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		}
	}
}

// Register adds a client to the feed.
func (h *Hub) Register(client Subscriber) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// Broadcast sends a change event to every subscriber.
func (h *Hub) Broadcast(event ingest.Event) {
	h.broadcast <- event
}
