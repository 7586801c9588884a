package websocket

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Conn wraps one gorilla socket with the identity bound at handshake and
// a buffered outbound queue. A full queue means a slow client; Send then
// fails and the pumps tear the connection down through the usual
// disconnect path.
type Conn struct {
	id          string
	identity    domain.Identity
	connectedAt time.Time
	ws          *websocket.Conn
	send        chan []byte
	handler     domain.MessageHandler
}

func NewConn(id string, identity domain.Identity, ws *websocket.Conn, h domain.MessageHandler) *Conn {
	return &Conn{
		id:          id,
		identity:    identity,
		connectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, 256),
		handler:     h,
	}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Identity() domain.Identity { return c.identity }
func (c *Conn) ConnectedAt() time.Time    { return c.connectedAt }

func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) Start() {
	c.handler.Connect(c)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.handler.Disconnect(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "connId", c.id, "userId", c.identity.UserID, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
