package hub

import (
	"log/slog"
	"sync"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
)

// Chat tracks membership-only rooms: no seats, no readiness, unbounded
// size. A room exists exactly as long as it has members.
type Chat struct {
	mu    sync.Mutex
	rooms map[string]map[string]domain.Connection
}

func NewChat() *Chat {
	return &Chat{rooms: make(map[string]map[string]domain.Connection)}
}

// Join adds the connection to the room, creating it if needed, and
// returns the members that were already present.
func (c *Chat) Join(roomID string, conn domain.Connection) []domain.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		room = make(map[string]domain.Connection)
		c.rooms[roomID] = room
		slog.Info("chat room created", "roomId", roomID)
	}

	existing := make([]domain.Connection, 0, len(room))
	for _, member := range room {
		existing = append(existing, member)
	}
	room[conn.Identity().UserID] = conn
	return existing
}

// Members returns the room's members excluding the given connection,
// which must itself be a member.
func (c *Chat) Members(roomID string, except domain.Connection) ([]domain.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if except != nil {
		member, ok := room[except.Identity().UserID]
		if !ok || member.ID() != except.ID() {
			return nil, domain.ErrNotInRoom
		}
	}
	members := make([]domain.Connection, 0, len(room))
	for _, member := range room {
		if except != nil && member.ID() == except.ID() {
			continue
		}
		members = append(members, member)
	}
	return members, nil
}

// Leave removes the connection's membership and returns the remaining
// members. The room record is deleted once empty.
func (c *Chat) Leave(roomID string, conn domain.Connection) ([]domain.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	userID := conn.Identity().UserID
	if _, member := room[userID]; !member {
		return nil, domain.ErrNotInRoom
	}
	delete(room, userID)

	remaining := make([]domain.Connection, 0, len(room))
	for _, m := range room {
		remaining = append(remaining, m)
	}
	if len(room) == 0 {
		delete(c.rooms, roomID)
		slog.Info("chat room removed", "roomId", roomID)
	}
	return remaining, nil
}

// Drop performs the implicit leave for a dead connection across every
// chat room that contains it, returning roomID → remaining members.
func (c *Chat) Drop(conn domain.Connection) map[string][]domain.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID := conn.Identity().UserID
	departed := make(map[string][]domain.Connection)
	for roomID, room := range c.rooms {
		member, ok := room[userID]
		if !ok || member.ID() != conn.ID() {
			continue
		}
		delete(room, userID)
		remaining := make([]domain.Connection, 0, len(room))
		for _, m := range room {
			remaining = append(remaining, m)
		}
		departed[roomID] = remaining
		if len(room) == 0 {
			delete(c.rooms, roomID)
			slog.Info("chat room removed", "roomId", roomID)
		}
	}
	return departed
}

func (c *Chat) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}
