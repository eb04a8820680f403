package websocket

import (
	"context"
	"sync"

	"krewup-messaging/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hub tracks connected clients per user and pushes invalidation hints to
// them. It never carries message data; clients refetch through the API.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	clientsMux sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub returns a Hub. Call Run before accepting connections.
func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("hub started")
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clientsMux.Lock()
			if _, ok := h.clients[client.userID]; !ok {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			n := len(h.clients[client.userID])
			h.clientsMux.Unlock()
			h.metrics.ConnectionOpened()
			h.logger.Debug().Str("user_id", client.userID.String()).Str("remote", client.remoteAddr()).Int("user_clients", n).Msg("client registered")

		case client := <-h.unregister:
			h.clientsMux.Lock()
			removed := h.removeLocked(client)
			h.clientsMux.Unlock()
			if removed {
				h.metrics.ConnectionClosed()
				h.logger.Debug().Str("user_id", client.userID.String()).Str("remote", client.remoteAddr()).Msg("client unregistered")
			}

		case <-ctx.Done():
			h.clientsMux.Lock()
			for _, userClients := range h.clients {
				for client := range userClients {
					if h.removeLocked(client) {
						h.metrics.ConnectionClosed()
					}
				}
			}
			h.clientsMux.Unlock()
			h.logger.Info().Msg("hub stopped")
			return
		}
	}
}

func (h *Hub) removeLocked(client *Client) bool {
	userClients, ok := h.clients[client.userID]
	if !ok || !userClients[client] {
		return false
	}
	close(client.send)
	delete(userClients, client)
	if len(userClients) == 0 {
		delete(h.clients, client.userID)
	}
	return true
}

// add registers client, or reports false once the hub has stopped.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// reply queues payload for one client if it is still registered. The check
// runs under the lock that guards close(client.send).
func (h *Hub) reply(client *Client, payload []byte) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	if h.clients[client.userID][client] {
		client.enqueue(payload)
	}
}

// NotifyInvalidate queues an invalidation hint for every connection of userID.
// Users with no open connection are skipped; their clients catch up by polling.
func (h *Hub) NotifyInvalidate(userID uuid.UUID, keys ...string) {
	if len(keys) == 0 {
		return
	}
	payload, err := encodeHint(keys)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode hint")
		return
	}

	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for client := range h.clients[userID] {
		delivered := client.enqueue(payload)
		h.metrics.HintSent(delivered)
		if !delivered {
			h.logger.Warn().Str("user_id", userID.String()).Strs("keys", keys).Msg("client send buffer full, dropping hint")
		}
	}
}

// Connections returns how many connections userID has open.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients[userID])
}
