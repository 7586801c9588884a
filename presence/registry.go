package presence

import (
	"log/slog"
	"sync"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
)

// Registry maps each online user to their active connection. State lives
// only in process memory; a restart empties it and clients reconnect.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]domain.Connection
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]domain.Connection),
	}
}

// Register binds the connection to its identity. A prior entry for the
// same user is displaced (last register wins) and returned so the caller
// can decide what to do with the orphaned connection.
func (r *Registry) Register(conn domain.Connection) domain.Connection {
	id := conn.Identity().UserID

	r.mu.Lock()
	prev := r.conns[id]
	r.conns[id] = conn
	count := len(r.conns)
	r.mu.Unlock()

	slog.Info("user online", "userId", id, "connId", conn.ID(), "online", count)
	return prev
}

// Unregister removes the user's entry only when it still refers to this
// connection, so a stale disconnect never evicts a newer reconnection.
// It reports whether an entry was removed.
func (r *Registry) Unregister(conn domain.Connection) bool {
	id := conn.Identity().UserID

	r.mu.Lock()
	current, ok := r.conns[id]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	count := len(r.conns)
	r.mu.Unlock()

	slog.Info("user offline", "userId", id, "connId", conn.ID(), "online", count)
	return true
}

func (r *Registry) Lookup(userID string) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// BroadcastExcept delivers data to every registered connection other than
// the origin.
func (r *Registry) BroadcastExcept(origin domain.Connection, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		if conn.ID() == origin.ID() {
			continue
		}
		if err := conn.Send(data); err != nil {
			slog.Warn("broadcast send failed", "userId", conn.Identity().UserID, "error", err)
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
