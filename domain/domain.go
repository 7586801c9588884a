package domain

import (
	"encoding/json"
	"errors"
)

// Identity is the authenticated user bound to a connection at handshake
// time. It is trusted by every handler for the lifetime of the connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Event is the wire envelope in both directions: a name plus an opaque
// payload decoded per event by the protocol layer.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds an outbound envelope.
func Encode(name string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Event{Name: name, Data: data})
}

type Connection interface {
	ID() string
	Identity() Identity
	Send(data []byte) error
	Close() error
}

// MessageHandler owns connection semantics: the transport adapter calls
// Connect once after a successful handshake, Handle per inbound frame,
// and Disconnect exactly once when the socket dies.
type MessageHandler interface {
	Connect(conn Connection)
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}

var (
	ErrRoomFull     = errors.New("room full")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in room")
	ErrInvalidState = errors.New("invalid room state")
)
