package handlers

import (
	"sync"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
)

// Hub is the process-local connection registry, keyed by room then user.
// Entries live exactly as long as their connection; the registry is rebuilt
// from zero on restart. Cross-process visibility goes through the fan-out
// bus only, never through direct instance-to-instance calls.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[int64]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[int64]*Client),
	}
}

// Register inserts the client under (room, user). A duplicate tab simply
// overwrites the slot: last writer wins.
func (h *Hub) Register(roomID string, userID int64, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[int64]*Client)
		h.rooms[roomID] = room
	}
	room[userID] = client
}

// Unregister removes the client, but only if the slot still holds this exact
// handle. An older tab closing late must not evict a newer connection.
// Empty room buckets are pruned to bound memory.
func (h *Hub) Unregister(roomID string, userID int64, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if room[userID] != client {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// DeliverLocal writes the frame to every locally-held socket in the room.
// Enqueueing never blocks, so one slow client cannot stall the others; the
// lock is released before any network I/O happens on the client side.
func (h *Hub) DeliverLocal(roomID string, frame services.Frame) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame)
	}
}

// DeliverToUser writes the frame to every local socket held by the user,
// whichever rooms they are connected to. Used for room-list refresh events.
func (h *Hub) DeliverToUser(userID int64, frame services.Frame) {
	h.mu.RLock()
	var clients []*Client
	for _, room := range h.rooms {
		if c, ok := room[userID]; ok {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame)
	}
}

// LocalCount reports the number of sockets registered for a room.
func (h *Hub) LocalCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Shutdown closes every registered connection. Called on process exit so
// clients reconnect to a healthy instance.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var clients []*Client
	for _, room := range h.rooms {
		for _, c := range room {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[int64]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	logger.Info().Int("connections", len(clients)).Msg("Hub drained")
}
