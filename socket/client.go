package socket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cocode/middleware"
	"cocode/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the admission gate before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one replica's connection handle within a room.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Room string
	Addr string
	Send chan []byte
}

// ServeWs upgrades an admitted request and attaches the connection to its
// room. The admission gate has already reserved a per-address slot; the hub
// releases it on unregister.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	room := RoomKeyFromRequest(r)
	addr := middleware.SourceAddr(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		if hub.limiter != nil {
			hub.limiter.Release(addr)
		}
		return
	}

	client := &Client{
		Hub:  hub,
		Conn: conn,
		Room: room,
		Addr: addr,
		Send: make(chan []byte, 256),
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		// Opaque relay: the frame is forwarded unmodified to the rest of the
		// room. The hub never interprets payloads.
		c.Hub.Relay <- Frame{Room: c.Room, Sender: c, Data: data}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
