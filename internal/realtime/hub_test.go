package realtime

import (
	"testing"
)

type recordingSession struct {
	id        string
	userID    string
	envelopes []Envelope
	full      bool
	shutdowns []string
}

func (s *recordingSession) ID() string {
	return s.id
}

func (s *recordingSession) UserID() string {
	return s.userID
}

func (s *recordingSession) Enqueue(envelope Envelope) bool {
	if s.full {
		return false
	}
	s.envelopes = append(s.envelopes, envelope)
	return true
}

func (s *recordingSession) Shutdown(reason string) {
	s.shutdowns = append(s.shutdowns, reason)
}

func TestHubRegisterJoinsPersonalRoom(t *testing.T) {
	hub := NewHub(nil)
	session := &recordingSession{id: "conn-1", userID: "user-a"}
	hub.Register(session)

	delivered := hub.EmitToUser("user-a", EventNewMemo, "payload")
	if delivered != 1 {
		t.Fatalf("expected 1 delivery to personal room, got %d", delivered)
	}
	if len(session.envelopes) != 1 || session.envelopes[0].Event != EventNewMemo {
		t.Fatalf("unexpected envelopes %#v", session.envelopes)
	}
}

func TestHubEmitToEmptyRoomIsNoOp(t *testing.T) {
	hub := NewHub(nil)

	delivered := hub.EmitToRoom("conversation_c1", EventReceiveMessage, "payload")
	if delivered != 0 {
		t.Fatalf("expected zero deliveries for empty room, got %d", delivered)
	}
	delivered = hub.EmitToUser("nobody", EventNewMemo, "payload")
	if delivered != 0 {
		t.Fatalf("expected zero deliveries for absent user, got %d", delivered)
	}
}

func TestHubJoinRoomsIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	session := &recordingSession{id: "conn-1", userID: "user-a"}
	hub.Register(session)

	room := ConversationRoom("c1")
	hub.JoinRooms("conn-1", []string{room, room, ""})
	hub.JoinRooms("conn-1", []string{room})

	delivered := hub.EmitToRoom(room, EventReceiveMessage, "hello")
	if delivered != 1 {
		t.Fatalf("expected exactly one delivery after repeated joins, got %d", delivered)
	}
	if len(session.envelopes) != 1 {
		t.Fatalf("expected exactly one envelope, got %d", len(session.envelopes))
	}
}

func TestHubJoinRoomsIgnoresUnknownSession(t *testing.T) {
	hub := NewHub(nil)
	hub.JoinRooms("ghost", []string{ConversationRoom("c1")})

	if delivered := hub.EmitToRoom(ConversationRoom("c1"), EventReceiveMessage, "x"); delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}
}

func TestHubPreservesEmitOrderWithinRoom(t *testing.T) {
	hub := NewHub(nil)
	session := &recordingSession{id: "conn-1", userID: "user-a"}
	hub.Register(session)
	room := ConversationRoom("c1")
	hub.JoinRooms("conn-1", []string{room})

	hub.EmitToRoom(room, EventReceiveMessage, "first")
	hub.EmitToRoom(room, EventReceiveMessage, "second")
	hub.EmitToRoom(room, EventReceiveMessage, "third")

	if len(session.envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(session.envelopes))
	}
	for index, expected := range []string{"first", "second", "third"} {
		if session.envelopes[index].Data != expected {
			t.Fatalf("expected %q at position %d, got %v", expected, index, session.envelopes[index].Data)
		}
	}
}

func TestHubUnregisterRemovesFromAllRooms(t *testing.T) {
	hub := NewHub(nil)
	session := &recordingSession{id: "conn-1", userID: "user-a"}
	hub.Register(session)
	hub.JoinRooms("conn-1", []string{ConversationRoom("c1"), ConversationRoom("c2")})

	hub.Unregister("conn-1")

	if delivered := hub.EmitToUser("user-a", EventNewMemo, "x"); delivered != 0 {
		t.Fatalf("expected no personal-room delivery after unregister, got %d", delivered)
	}
	if delivered := hub.EmitToRoom(ConversationRoom("c1"), EventReceiveMessage, "x"); delivered != 0 {
		t.Fatalf("expected no conversation delivery after unregister, got %d", delivered)
	}
	if rooms := hub.RoomsOf("conn-1"); len(rooms) != 0 {
		t.Fatalf("expected no rooms after unregister, got %v", rooms)
	}
}

func TestHubBroadcastExceptSkipsExcludedUser(t *testing.T) {
	hub := NewHub(nil)
	alice := &recordingSession{id: "conn-a", userID: "user-a"}
	bob := &recordingSession{id: "conn-b", userID: "user-b"}
	carol := &recordingSession{id: "conn-c", userID: "user-c"}
	hub.Register(alice)
	hub.Register(bob)
	hub.Register(carol)

	delivered := hub.BroadcastExcept("user-a", EventUserOnline, "user-a is online")
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	if len(alice.envelopes) != 0 {
		t.Fatalf("excluded user received %d envelopes", len(alice.envelopes))
	}
	if len(bob.envelopes) != 1 || len(carol.envelopes) != 1 {
		t.Fatalf("expected one envelope each for other users")
	}
}

func TestHubCountsOnlyAcceptedDeliveries(t *testing.T) {
	hub := NewHub(nil)
	healthy := &recordingSession{id: "conn-1", userID: "user-a"}
	saturated := &recordingSession{id: "conn-2", userID: "user-b", full: true}
	hub.Register(healthy)
	hub.Register(saturated)
	room := ConversationRoom("c1")
	hub.JoinRooms("conn-1", []string{room})
	hub.JoinRooms("conn-2", []string{room})

	if delivered := hub.EmitToRoom(room, EventReceiveMessage, "x"); delivered != 1 {
		t.Fatalf("expected 1 accepted delivery, got %d", delivered)
	}
}

func TestHubSecondSessionForUserEvictsOlder(t *testing.T) {
	hub := NewHub(nil)
	first := &recordingSession{id: "conn-1", userID: "user-a"}
	second := &recordingSession{id: "conn-2", userID: "user-a"}
	hub.Register(first)
	hub.Register(second)

	if delivered := hub.EmitToUser("user-a", EventNewMessageNotification, "hello"); delivered != 1 {
		t.Fatalf("expected delivery to only the newest handle, got %d", delivered)
	}
	if len(first.envelopes) != 0 {
		t.Fatalf("superseded session received %d envelopes", len(first.envelopes))
	}
	if len(second.envelopes) != 1 {
		t.Fatalf("expected newest session to receive the envelope, got %d", len(second.envelopes))
	}
	if len(first.shutdowns) != 1 {
		t.Fatalf("expected superseded session to be shut down, got %v", first.shutdowns)
	}
	if rooms := hub.RoomsOf("conn-1"); len(rooms) != 0 {
		t.Fatalf("expected superseded session out of all rooms, got %v", rooms)
	}
	if rooms := hub.RoomsOf("conn-2"); len(rooms) != 1 {
		t.Fatalf("expected newest session in its personal room, got %v", rooms)
	}
}

func TestHubRegisterKeepsSessionsOfOtherUsers(t *testing.T) {
	hub := NewHub(nil)
	alice := &recordingSession{id: "conn-a", userID: "user-a"}
	bob := &recordingSession{id: "conn-b", userID: "user-b"}
	hub.Register(alice)
	hub.Register(bob)

	if len(alice.shutdowns) != 0 {
		t.Fatalf("unrelated session was shut down: %v", alice.shutdowns)
	}
	if delivered := hub.EmitToUser("user-a", EventUserOnline, "x"); delivered != 1 {
		t.Fatalf("expected unrelated session still reachable, got %d", delivered)
	}
}
