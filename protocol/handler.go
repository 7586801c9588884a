package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
	"github.com/Nihilantropy/ft-transcendence-sub004/hub"
	"github.com/Nihilantropy/ft-transcendence-sub004/presence"
)

// Client → server events. Dispatch is a single switch over this closed
// set; unknown names are reported back to the sender.
const (
	EventPing          = "ping"
	EventFriendRequest = "friend:request"
	EventFriendAccept  = "friend:accept"
	EventFriendDecline = "friend:decline"
	EventFriendRemove  = "friend:remove"
	EventGameJoin      = "game:join"
	EventGameReady     = "game:ready"
	EventGameMove      = "game:move"
	EventGameUpdate    = "game:update"
	EventGamePause     = "game:pause"
	EventGameResume    = "game:resume"
	EventGameEnd       = "game:end"
	EventGameLeave     = "game:leave"
	EventChatJoin      = "chat:join"
	EventChatMessage   = "chat:message"
	EventChatLeave     = "chat:leave"
	EventNotifySend    = "notification:send"
	EventStatusUpdate  = "user:status_update"
)

// Server → client events.
const (
	EventPong               = "pong"
	EventError              = "error"
	EventUserOnline         = "user:online"
	EventUserOffline        = "user:offline"
	EventStatusChanged      = "user:status_changed"
	EventFriendRequestRecvd = "friend:request_received"
	EventFriendAccepted     = "friend:accepted"
	EventFriendDeclined     = "friend:declined"
	EventFriendRemoved      = "friend:removed"
	EventPlayerJoined       = "game:player_joined"
	EventPlayerReady        = "game:player_ready"
	EventGameStart          = "game:start"
	EventGameState          = "game:state"
	EventGamePaused         = "game:paused"
	EventGameResumed        = "game:resumed"
	EventGameFinished       = "game:finished"
	EventPlayerLeft         = "game:player_left"
	EventPlayerDisconnected = "game:player_disconnected"
	EventChatUserJoined     = "chat:user_joined"
	EventChatUserLeft       = "chat:user_left"
	EventNotifyReceived     = "notification:received"
)

// userRef tolerates clients that send numeric user ids.
type userRef string

func (u *userRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = userRef(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = userRef(strconv.FormatInt(n, 10))
	return nil
}

type friendPayload struct {
	ToUserID   userRef `json:"toUserId"`
	FromUserID userRef `json:"fromUserId"`
	FriendID   userRef `json:"friendId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type movePayload struct {
	RoomID    string `json:"roomId"`
	Direction string `json:"direction"`
}

type updatePayload struct {
	RoomID string          `json:"roomId"`
	State  json.RawMessage `json:"state"`
}

type endPayload struct {
	RoomID     string          `json:"roomId"`
	Winner     userRef         `json:"winner"`
	FinalScore json.RawMessage `json:"finalScore"`
}

type chatPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type notifyPayload struct {
	ToUserID userRef `json:"toUserId"`
	Type     string  `json:"type"`
	Message  string  `json:"message"`
}

type statusPayload struct {
	Status string `json:"status"`
}

// Handler routes inbound events to the presence, game and chat
// registries and emits the mirrored events to the affected connections.
// Every error stays scoped to the offending event; nothing here is fatal
// to other connections or to the process.
type Handler struct {
	presence *presence.Registry
	games    *hub.Games
	chat     *hub.Chat
}

func NewHandler(p *presence.Registry, g *hub.Games, c *hub.Chat) *Handler {
	return &Handler{presence: p, games: g, chat: c}
}

// Connect registers presence for a freshly authenticated connection and
// announces it to everyone else. The displaced connection of a
// reconnecting user is left to die on its own ping timeout.
func (h *Handler) Connect(conn domain.Connection) {
	if prev := h.presence.Register(conn); prev != nil {
		slog.Info("connection displaced", "userId", conn.Identity().UserID, "oldConnId", prev.ID())
	}
	if data := encode(EventUserOnline, conn.Identity()); data != nil {
		h.presence.BroadcastExcept(conn, data)
	}
}

// Disconnect reconciles all shared state for a dead connection: guarded
// presence removal, then implicit leaves in every game and chat room. A
// connection that holds nothing produces no events.
func (h *Handler) Disconnect(conn domain.Connection) {
	if h.presence.Unregister(conn) {
		if data := encode(EventUserOffline, conn.Identity()); data != nil {
			h.presence.BroadcastExcept(conn, data)
		}
	}

	for _, dep := range h.games.Drop(conn) {
		if dep.Remaining != nil {
			send(dep.Remaining, EventPlayerDisconnected, map[string]any{
				"roomId": dep.RoomID,
				"userId": conn.Identity().UserID,
			})
		}
	}

	for roomID, remaining := range h.chat.Drop(conn) {
		payload := map[string]any{
			"roomId": roomID,
			"userId": conn.Identity().UserID,
		}
		for _, member := range remaining {
			send(member, EventChatUserLeft, payload)
		}
	}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env domain.Event
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid envelope", "connId", conn.ID(), "error", err)
		h.reportError(conn, "bad_request", "malformed event")
		return
	}

	switch env.Name {
	case EventPing:
		send(conn, EventPong, map[string]any{"timestamp": now()})
	case EventFriendRequest:
		h.relayFriend(conn, env.Data, EventFriendRequestRecvd)
	case EventFriendAccept:
		h.relayFriend(conn, env.Data, EventFriendAccepted)
	case EventFriendDecline:
		h.relayFriend(conn, env.Data, EventFriendDeclined)
	case EventFriendRemove:
		h.relayFriend(conn, env.Data, EventFriendRemoved)
	case EventGameJoin:
		h.gameJoin(conn, env.Data)
	case EventGameReady:
		h.gameReady(conn, env.Data)
	case EventGameMove:
		h.gameMove(conn, env.Data)
	case EventGameUpdate:
		h.gameUpdate(conn, env.Data)
	case EventGamePause:
		h.gameTransition(conn, env.Data, EventGamePaused)
	case EventGameResume:
		h.gameTransition(conn, env.Data, EventGameResumed)
	case EventGameEnd:
		h.gameEnd(conn, env.Data)
	case EventGameLeave:
		h.gameLeave(conn, env.Data)
	case EventChatJoin:
		h.chatJoin(conn, env.Data)
	case EventChatMessage:
		h.chatMessage(conn, env.Data)
	case EventChatLeave:
		h.chatLeave(conn, env.Data)
	case EventNotifySend:
		h.notify(conn, env.Data)
	case EventStatusUpdate:
		h.statusUpdate(conn, env.Data)
	default:
		slog.Warn("unknown event", "event", env.Name, "connId", conn.ID())
		h.reportError(conn, "unknown_event", "unknown event: "+env.Name)
	}
}

// relayFriend forwards a friend lifecycle event to the counterpart user
// if online. Offline targets are dropped silently: there is no delivery
// guarantee, durable friend state lives in the REST backend.
func (h *Handler) relayFriend(conn domain.Connection, data json.RawMessage, outEvent string) {
	var p friendPayload
	if !h.decode(conn, data, &p) {
		return
	}
	target := string(p.ToUserID)
	if target == "" {
		target = string(p.FromUserID)
	}
	if target == "" {
		target = string(p.FriendID)
	}
	if target == "" {
		h.reportError(conn, "bad_request", "missing target user")
		return
	}

	recipient, online := h.presence.Lookup(target)
	if !online {
		return
	}
	send(recipient, outEvent, map[string]any{
		"fromUserId":   conn.Identity().UserID,
		"fromUsername": conn.Identity().Username,
	})
}

func (h *Handler) gameJoin(conn domain.Connection, data json.RawMessage) {
	var p roomPayload
	if !h.decode(conn, data, &p) {
		return
	}
	joined, err := h.games.Join(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	if joined.Opponent == nil {
		return
	}
	payload := map[string]any{
		"roomId":  p.RoomID,
		"players": joined.Players,
	}
	send(conn, EventPlayerJoined, payload)
	send(joined.Opponent, EventPlayerJoined, payload)
}

func (h *Handler) gameReady(conn domain.Connection, data json.RawMessage) {
	var p roomPayload
	if !h.decode(conn, data, &p) {
		return
	}
	started, players, opponent, err := h.games.Ready(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	if started {
		payload := map[string]any{
			"roomId":    p.RoomID,
			"players":   players,
			"timestamp": now(),
		}
		send(conn, EventGameStart, payload)
		send(opponent, EventGameStart, payload)
		return
	}
	if opponent != nil {
		send(opponent, EventPlayerReady, map[string]any{
			"roomId": p.RoomID,
			"userId": conn.Identity().UserID,
		})
	}
}

func (h *Handler) gameMove(conn domain.Connection, data json.RawMessage) {
	var p movePayload
	if !h.decode(conn, data, &p) {
		return
	}
	opponent, err := h.games.Opponent(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	if opponent == nil {
		return
	}
	send(opponent, EventGameMove, map[string]any{
		"roomId":    p.RoomID,
		"direction": p.Direction,
		"timestamp": now(),
	})
}

func (h *Handler) gameUpdate(conn domain.Connection, data json.RawMessage) {
	var p updatePayload
	if !h.decode(conn, data, &p) {
		return
	}
	occupants, err := h.games.Occupants(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	payload := map[string]any{
		"roomId": p.RoomID,
		"state":  p.State,
	}
	for _, occupant := range occupants {
		send(occupant, EventGameState, payload)
	}
}

func (h *Handler) gameTransition(conn domain.Connection, data json.RawMessage, outEvent string) {
	var p roomPayload
	if !h.decode(conn, data, &p) {
		return
	}
	var occupants []domain.Connection
	var err error
	if outEvent == EventGamePaused {
		occupants, err = h.games.Pause(p.RoomID)
	} else {
		occupants, err = h.games.Resume(p.RoomID)
	}
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	payload := map[string]any{"roomId": p.RoomID}
	for _, occupant := range occupants {
		send(occupant, outEvent, payload)
	}
}

func (h *Handler) gameEnd(conn domain.Connection, data json.RawMessage) {
	var p endPayload
	if !h.decode(conn, data, &p) {
		return
	}
	occupants, err := h.games.End(p.RoomID)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	payload := map[string]any{
		"roomId":     p.RoomID,
		"winner":     string(p.Winner),
		"finalScore": p.FinalScore,
	}
	for _, occupant := range occupants {
		send(occupant, EventGameFinished, payload)
	}
}

func (h *Handler) gameLeave(conn domain.Connection, data json.RawMessage) {
	var p roomPayload
	if !h.decode(conn, data, &p) {
		return
	}
	remaining, err := h.games.Leave(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	if remaining != nil {
		send(remaining, EventPlayerLeft, map[string]any{
			"roomId": p.RoomID,
			"userId": conn.Identity().UserID,
		})
	}
}

func (h *Handler) chatJoin(conn domain.Connection, data json.RawMessage) {
	var p chatPayload
	if !h.decode(conn, data, &p) {
		return
	}
	existing := h.chat.Join(p.RoomID, conn)
	payload := map[string]any{
		"roomId":   p.RoomID,
		"userId":   conn.Identity().UserID,
		"username": conn.Identity().Username,
	}
	for _, member := range existing {
		send(member, EventChatUserJoined, payload)
	}
}

func (h *Handler) chatMessage(conn domain.Connection, data json.RawMessage) {
	var p chatPayload
	if !h.decode(conn, data, &p) {
		return
	}
	members, err := h.chat.Members(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	payload := map[string]any{
		"roomId":       p.RoomID,
		"fromUserId":   conn.Identity().UserID,
		"fromUsername": conn.Identity().Username,
		"message":      p.Message,
		"timestamp":    now(),
	}
	for _, member := range members {
		send(member, EventChatMessage, payload)
	}
}

func (h *Handler) chatLeave(conn domain.Connection, data json.RawMessage) {
	var p chatPayload
	if !h.decode(conn, data, &p) {
		return
	}
	remaining, err := h.chat.Leave(p.RoomID, conn)
	if err != nil {
		h.reportRoomError(conn, p.RoomID, err)
		return
	}
	payload := map[string]any{
		"roomId": p.RoomID,
		"userId": conn.Identity().UserID,
	}
	for _, member := range remaining {
		send(member, EventChatUserLeft, payload)
	}
}

func (h *Handler) notify(conn domain.Connection, data json.RawMessage) {
	var p notifyPayload
	if !h.decode(conn, data, &p) {
		return
	}
	recipient, online := h.presence.Lookup(string(p.ToUserID))
	if !online {
		return
	}
	send(recipient, EventNotifyReceived, map[string]any{
		"fromUserId":   conn.Identity().UserID,
		"fromUsername": conn.Identity().Username,
		"type":         p.Type,
		"message":      p.Message,
		"timestamp":    now(),
	})
}

func (h *Handler) statusUpdate(conn domain.Connection, data json.RawMessage) {
	var p statusPayload
	if !h.decode(conn, data, &p) {
		return
	}
	msg := encode(EventStatusChanged, map[string]any{
		"userId":   conn.Identity().UserID,
		"username": conn.Identity().Username,
		"status":   p.Status,
	})
	if msg != nil {
		h.presence.BroadcastExcept(conn, msg)
	}
}

func (h *Handler) decode(conn domain.Connection, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("invalid payload", "connId", conn.ID(), "error", err)
		h.reportError(conn, "bad_request", "malformed payload")
		return false
	}
	return true
}

func (h *Handler) reportRoomError(conn domain.Connection, roomID string, err error) {
	slog.Warn("room operation rejected", "roomId", roomID, "userId", conn.Identity().UserID, "error", err)
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		h.reportError(conn, "room_full", "room is full")
	case errors.Is(err, domain.ErrRoomNotFound):
		h.reportError(conn, "room_not_found", "room not found")
	case errors.Is(err, domain.ErrNotInRoom):
		h.reportError(conn, "not_in_room", "not a member of this room")
	case errors.Is(err, domain.ErrInvalidState):
		h.reportError(conn, "invalid_state", "room is not in the required state")
	default:
		h.reportError(conn, "internal", err.Error())
	}
}

func (h *Handler) reportError(conn domain.Connection, code, message string) {
	send(conn, EventError, map[string]any{"code": code, "message": message})
}

func send(conn domain.Connection, event string, payload any) {
	data := encode(event, payload)
	if data == nil {
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "event", event, "connId", conn.ID(), "error", err)
	}
}

func encode(event string, payload any) []byte {
	data, err := domain.Encode(event, payload)
	if err != nil {
		slog.Error("encode failed", "event", event, "error", err)
		return nil
	}
	return data
}

func now() int64 {
	return time.Now().UnixMilli()
}
