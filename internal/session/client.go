package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one websocket attached to a session
type Client struct {
	*models.Connection
	Conn    *websocket.Conn
	Send    chan []byte // outbound JSON frames
	session *Session
	once    sync.Once
}

func newClient(s *Session, conn *websocket.Conn) *Client {
	return &Client{
		Connection: models.NewConnection(s.UserID),
		Conn:       conn,
		Send:       make(chan []byte, sendBuffer),
		session:    s,
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.Send) })
}

// ReadPump consumes frames from the browser. The stream is server to client
// only, so reads just keep the deadline fresh and detect disconnects.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.session.detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		c.LastActiveAt = time.Now()

		_, span := middleware.StartSpan(ctx, "WebSocket.ReadMessage",
			attribute.String("connection.id", c.ID),
			attribute.Int("message.size", len(message)),
		)
		span.End()
	}
}

// WritePump sends queued frames and keeps the connection alive with pings
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
