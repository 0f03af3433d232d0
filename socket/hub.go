package socket

import (
	"sync"

	"cocode/middleware"
	"cocode/pkg/logger"
)

// Frame is one raw protocol frame received from a room member. The hub never
// parses Data; sync and awareness messages share the channel and are told
// apart only by the receiving replicas.
type Frame struct {
	Room   string
	Sender *Client
	Data   []byte
}

// Hub is the room registry and relay broadcaster. Rooms are created lazily on
// the first join and discarded as soon as the member set becomes empty; no
// document or presence state is held server-side.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Relay      chan Frame

	mu      sync.Mutex
	rooms   map[string]map[*Client]bool
	limiter *middleware.ConnLimiter
}

func NewHub(limiter *middleware.ConnLimiter) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Relay:      make(chan Frame),
		rooms:      make(map[string]map[*Client]bool),
		limiter:    limiter,
	}
}

// RoomSize returns the current member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.rooms[client.Room] == nil {
				h.rooms[client.Room] = make(map[*Client]bool)
				logger.Sugar.Infof("Created room: %s", client.Room)
			}
			h.rooms[client.Room][client] = true
			h.mu.Unlock()
			logger.Sugar.Infof("New connection to room: %s from IP: %s", client.Room, client.Addr)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.rooms[client.Room][client]; ok {
				delete(h.rooms[client.Room], client)
				close(client.Send)
				if h.limiter != nil {
					h.limiter.Release(client.Addr)
				}
				if len(h.rooms[client.Room]) == 0 {
					delete(h.rooms, client.Room)
					logger.Sugar.Infof("Closed and cleaned up empty room: %s", client.Room)
				}
			}
			h.mu.Unlock()

		case frame := <-h.Relay:
			// Collect recipients under the lock, write outside it.
			h.mu.Lock()
			recipients := make([]*Client, 0, len(h.rooms[frame.Room]))
			for client := range h.rooms[frame.Room] {
				if client != frame.Sender {
					recipients = append(recipients, client)
				}
			}
			h.mu.Unlock()

			for _, client := range recipients {
				select {
				case client.Send <- frame.Data:
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Send buffer full for client in room %s. Unregistering.", frame.Room)
					go func(c *Client) { h.Unregister <- c }(client)
				}
			}
		}
	}
}
