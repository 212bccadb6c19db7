package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Session is a live connection as seen by the hub. Enqueue must not block;
// it reports whether the payload was accepted for delivery. Shutdown closes
// the underlying connection when the hub evicts a superseded session.
type Session interface {
	ID() string
	UserID() string
	Enqueue(Envelope) bool
	Shutdown(reason string)
}

// Hub owns the connection and room registries and provides the fan-out
// primitives used by the relay and the presence tracker. Emitting to a room
// with no members is a silent no-op; callers must not assume live delivery
// succeeded.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	rooms        map[string]map[string]struct{}
	sessionRooms map[string]map[string]struct{}
	logger       *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions:     make(map[string]Session),
		rooms:        make(map[string]map[string]struct{}),
		sessionRooms: make(map[string]map[string]struct{}),
		logger:       logger,
	}
}

// Register adds the session and joins its personal room. A user holds at most
// one live session: any older session bound to the same user is removed from
// the registry and shut down, so delivery targets only the newest handle.
func (h *Hub) Register(session Session) {
	if session == nil || session.ID() == "" {
		return
	}
	h.mu.Lock()
	var superseded []Session
	for sessionID, existing := range h.sessions {
		if sessionID == session.ID() || existing.UserID() != session.UserID() {
			continue
		}
		for room := range h.sessionRooms[sessionID] {
			h.leaveLocked(sessionID, room)
		}
		delete(h.sessionRooms, sessionID)
		delete(h.sessions, sessionID)
		superseded = append(superseded, existing)
	}
	h.sessions[session.ID()] = session
	h.joinLocked(session.ID(), PersonalRoom(session.UserID()))
	h.mu.Unlock()

	for _, stale := range superseded {
		h.logger.Info("session superseded by newer connection",
			zap.String("session_id", stale.ID()),
			zap.String("user_id", stale.UserID()))
		stale.Shutdown("superseded by newer connection")
	}
}

// Unregister removes the session from every room and from the registry.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	for room := range h.sessionRooms[sessionID] {
		h.leaveLocked(sessionID, room)
	}
	delete(h.sessionRooms, sessionID)
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// JoinRooms adds the session to each named room, skipping rooms already joined.
func (h *Hub) JoinRooms(sessionID string, roomNames []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	for _, room := range roomNames {
		if room == "" {
			continue
		}
		h.joinLocked(sessionID, room)
	}
}

// EmitToRoom delivers the payload to every session currently in the room and
// returns the number of sessions that accepted it.
func (h *Hub) EmitToRoom(roomName, eventName string, payload interface{}) int {
	if roomName == "" || eventName == "" {
		return 0
	}
	envelope := Envelope{Event: eventName, Data: payload}

	h.mu.RLock()
	members := h.rooms[roomName]
	targets := make([]Session, 0, len(members))
	for sessionID := range members {
		if session, ok := h.sessions[sessionID]; ok {
			targets = append(targets, session)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, session := range targets {
		if session.Enqueue(envelope) {
			delivered++
			continue
		}
		h.logger.Warn("session send buffer full, dropping event",
			zap.String("session_id", session.ID()),
			zap.String("user_id", session.UserID()),
			zap.String("event", eventName))
	}
	return delivered
}

// EmitToUser delivers the payload to the user's personal room.
func (h *Hub) EmitToUser(userID, eventName string, payload interface{}) int {
	return h.EmitToRoom(PersonalRoom(userID), eventName, payload)
}

// BroadcastExcept delivers the payload to every registered session except
// those belonging to the excluded user.
func (h *Hub) BroadcastExcept(excludedUserID, eventName string, payload interface{}) int {
	envelope := Envelope{Event: eventName, Data: payload}

	h.mu.RLock()
	targets := make([]Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		if session.UserID() == excludedUserID {
			continue
		}
		targets = append(targets, session)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, session := range targets {
		if session.Enqueue(envelope) {
			delivered++
		}
	}
	return delivered
}

// RoomsOf returns the rooms the session has joined.
func (h *Hub) RoomsOf(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.sessionRooms[sessionID]))
	for room := range h.sessionRooms[sessionID] {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) joinLocked(sessionID, roomName string) {
	if _, ok := h.rooms[roomName]; !ok {
		h.rooms[roomName] = make(map[string]struct{})
	}
	h.rooms[roomName][sessionID] = struct{}{}
	if _, ok := h.sessionRooms[sessionID]; !ok {
		h.sessionRooms[sessionID] = make(map[string]struct{})
	}
	h.sessionRooms[sessionID][roomName] = struct{}{}
}

func (h *Hub) leaveLocked(sessionID, roomName string) {
	members := h.rooms[roomName]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, roomName)
	}
}
