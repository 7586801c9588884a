package hub

import (
	"log/slog"
	"sync"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
)

// GameState is the lifecycle of a two-player room:
//
//	waiting → lobby → playing ⇄ paused
//
// waiting holds one occupant, lobby two, playing starts when both are
// ready. A room ends by explicit end or by losing both occupants; ended
// rooms are deleted, never reused.
type GameState string

const (
	StateWaiting GameState = "waiting"
	StateLobby   GameState = "lobby"
	StatePlaying GameState = "playing"
	StatePaused  GameState = "paused"
)

type seat struct {
	conn  domain.Connection
	ready bool
}

type gameRoom struct {
	state GameState
	seats [2]*seat
}

func (g *gameRoom) occupantCount() int {
	n := 0
	for _, s := range g.seats {
		if s != nil {
			n++
		}
	}
	return n
}

func (g *gameRoom) seatOf(conn domain.Connection) *seat {
	for _, s := range g.seats {
		if s != nil && s.conn.ID() == conn.ID() {
			return s
		}
	}
	return nil
}

func (g *gameRoom) players() []domain.Identity {
	ids := make([]domain.Identity, 0, 2)
	for _, s := range g.seats {
		if s != nil {
			ids = append(ids, s.conn.Identity())
		}
	}
	return ids
}

// Games coordinates all live game rooms. Rooms are created implicitly on
// first join and deleted as soon as the last occupant is gone.
type Games struct {
	mu    sync.Mutex
	rooms map[string]*gameRoom
}

func NewGames() *Games {
	return &Games{rooms: make(map[string]*gameRoom)}
}

// Joined describes the room right after a successful join.
type Joined struct {
	State   GameState
	Players []domain.Identity
	// Opponent is the occupant already seated, nil for the first join.
	Opponent domain.Connection
}

// Join seats the connection in the room, creating the room when it does
// not exist. A third join is rejected with ErrRoomFull and leaves the
// room untouched.
func (g *Games) Join(roomID string, conn domain.Connection) (Joined, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		room = &gameRoom{state: StateWaiting}
		room.seats[0] = &seat{conn: conn}
		g.rooms[roomID] = room
		slog.Info("game room created", "roomId", roomID, "userId", conn.Identity().UserID)
		return Joined{State: room.state, Players: room.players()}, nil
	}

	if room.seats[0] != nil && room.seats[1] != nil {
		return Joined{}, domain.ErrRoomFull
	}

	// vacateLocked compacts the survivor into slot 1, so a non-full
	// room always has slot 2 free
	room.seats[1] = &seat{conn: conn}
	room.state = StateLobby
	slog.Info("game room filled", "roomId", roomID, "userId", conn.Identity().UserID)
	return Joined{
		State:    room.state,
		Players:  room.players(),
		Opponent: room.seats[0].conn,
	}, nil
}

// Ready marks the caller's ready flag. It reports whether the game just
// started (both occupants ready, room now playing) together with the
// occupants and the other seat's connection.
func (g *Games) Ready(roomID string, conn domain.Connection) (started bool, players []domain.Identity, opponent domain.Connection, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return false, nil, nil, domain.ErrRoomNotFound
	}
	s := room.seatOf(conn)
	if s == nil {
		return false, nil, nil, domain.ErrNotInRoom
	}
	s.ready = true

	opponent = g.opponentLocked(room, conn)
	if room.seats[0] != nil && room.seats[1] != nil &&
		room.seats[0].ready && room.seats[1].ready {
		room.state = StatePlaying
		return true, room.players(), opponent, nil
	}
	return false, room.players(), opponent, nil
}

// Opponent returns the other occupant of the room, for relays that must
// never echo back to the origin.
func (g *Games) Opponent(roomID string, conn domain.Connection) (domain.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if room.seatOf(conn) == nil {
		return nil, domain.ErrNotInRoom
	}
	return g.opponentLocked(room, conn), nil
}

func (g *Games) opponentLocked(room *gameRoom, conn domain.Connection) domain.Connection {
	for _, s := range room.seats {
		if s != nil && s.conn.ID() != conn.ID() {
			return s.conn
		}
	}
	return nil
}

// Occupants returns every connection seated in the room. A non-nil
// caller must itself be seated; outsiders cannot enumerate a room.
func (g *Games) Occupants(roomID string, caller domain.Connection) ([]domain.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if caller != nil && room.seatOf(caller) == nil {
		return nil, domain.ErrNotInRoom
	}
	conns := make([]domain.Connection, 0, 2)
	for _, s := range room.seats {
		if s != nil {
			conns = append(conns, s.conn)
		}
	}
	return conns, nil
}

// Pause transitions playing → paused and returns the occupants to notify.
func (g *Games) Pause(roomID string) ([]domain.Connection, error) {
	return g.transition(roomID, StatePlaying, StatePaused)
}

// Resume transitions paused → playing.
func (g *Games) Resume(roomID string) ([]domain.Connection, error) {
	return g.transition(roomID, StatePaused, StatePlaying)
}

func (g *Games) transition(roomID string, from, to GameState) ([]domain.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if room.state != from {
		return nil, domain.ErrInvalidState
	}
	room.state = to

	conns := make([]domain.Connection, 0, 2)
	for _, s := range room.seats {
		if s != nil {
			conns = append(conns, s.conn)
		}
	}
	return conns, nil
}

// End deletes the room and returns the occupants so the caller can fan
// out the final result. A subsequent join under the same id starts a
// brand-new waiting room.
func (g *Games) End(roomID string) ([]domain.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	conns := make([]domain.Connection, 0, 2)
	for _, s := range room.seats {
		if s != nil {
			conns = append(conns, s.conn)
		}
	}
	delete(g.rooms, roomID)
	slog.Info("game room ended", "roomId", roomID)
	return conns, nil
}

// Leave vacates the caller's seat and returns the remaining occupant
// (nil when the room emptied and was deleted).
func (g *Games) Leave(roomID string, conn domain.Connection) (domain.Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if room.seatOf(conn) == nil {
		return nil, domain.ErrNotInRoom
	}
	return g.vacateLocked(roomID, room, conn), nil
}

func (g *Games) vacateLocked(roomID string, room *gameRoom, conn domain.Connection) domain.Connection {
	for i, s := range room.seats {
		if s != nil && s.conn.ID() == conn.ID() {
			room.seats[i] = nil
		}
	}
	if room.occupantCount() == 0 {
		delete(g.rooms, roomID)
		slog.Info("game room removed", "roomId", roomID)
		return nil
	}

	// back to a one-occupant waiting room: compact the survivor into
	// slot 1 and clear their ready flag so the next pairing starts over
	if room.seats[0] == nil {
		room.seats[0], room.seats[1] = room.seats[1], nil
	}
	room.seats[0].ready = false
	room.state = StateWaiting
	return room.seats[0].conn
}

// Departure names a room the dropped connection was seated in and the
// occupant left behind, if any.
type Departure struct {
	RoomID    string
	Remaining domain.Connection
}

// Drop performs the implicit leave for a dead connection across every
// room that seats it. Rooms it emptied are deleted.
func (g *Games) Drop(conn domain.Connection) []Departure {
	g.mu.Lock()
	defer g.mu.Unlock()

	var departures []Departure
	for roomID, room := range g.rooms {
		if room.seatOf(conn) == nil {
			continue
		}
		remaining := g.vacateLocked(roomID, room, conn)
		departures = append(departures, Departure{RoomID: roomID, Remaining: remaining})
	}
	return departures
}

func (g *Games) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// State reports the room's lifecycle state.
func (g *Games) State(roomID string) (GameState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return "", false
	}
	return room.state, true
}
