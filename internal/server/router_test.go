package server

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Tyrowin/roomchat/internal/session"
)

func TestConnectionBindsAndWelcomes(t *testing.T) {
	env := newTestEnv(t)
	c := env.open()

	env.send(c, map[string]any{"type": EventConnection, "data": map[string]string{"token": "token-alice"}})

	welcome := nextEvent[TextEvent](t, c)
	want := TextEvent{Type: EventSystem, Name: "alice", Text: "Welcome to Chat App!", Time: "3:04:05 PM"}
	if welcome != want {
		t.Errorf("Expected welcome %+v, got %+v", want, welcome)
	}

	if userID, ok := env.registry.UserFor(c.ID()); !ok || userID != "u-alice" {
		t.Errorf("Expected connection bound to u-alice, got %q (bound=%v)", userID, ok)
	}
	s, ok := env.registry.Get("u-alice")
	if !ok {
		t.Fatal("Expected a session after connection")
	}
	if s.Name != "Alice Liddell" || s.InRoom() {
		t.Errorf("Expected lobby session named Alice Liddell, got %+v", s)
	}
	if got := testutil.ToFloat64(env.metrics.sessions); got != 1 {
		t.Errorf("Expected sessions gauge 1, got %v", got)
	}
}

func TestConnectionWithBadTokenIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	c := env.open()

	env.send(c, map[string]any{"type": EventConnection, "data": map[string]string{"token": "forged"}})
	env.send(c, map[string]any{"type": EventConnection, "data": map[string]string{}})

	expectNoEvent(t, c)
	if _, ok := env.registry.UserFor(c.ID()); ok {
		t.Error("Connection should stay unauthenticated")
	}
	if env.registry.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", env.registry.Len())
	}
	if got := testutil.ToFloat64(env.metrics.droppedInbound.WithLabelValues(dropBadToken)); got != 1 {
		t.Errorf("Expected 1 bad token drop, got %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.droppedInbound.WithLabelValues(dropInvalidData)); got != 1 {
		t.Errorf("Expected 1 invalid data drop, got %v", got)
	}
}

func TestSecondConnectionEventIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("token-alice")

	env.send(c, map[string]any{"type": EventConnection, "data": map[string]string{"token": "token-bob"}})

	expectNoEvent(t, c)
	if userID, _ := env.registry.UserFor(c.ID()); userID != "u-alice" {
		t.Errorf("Binding should not change, got %q", userID)
	}
	if _, ok := env.registry.Get("u-bob"); ok {
		t.Error("No session should be created for the second token")
	}
}

func TestEnterRoomSendsOneJoinConfirmation(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")

	env.send(a, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": "Alice", "room": "general"}})

	joined := nextEvent[TextEvent](t, a)
	if joined.Type != EventMessage || joined.Name != "Admin" || joined.Text != "You have joined the general chat room" {
		t.Errorf("Unexpected join confirmation %+v", joined)
	}

	users := nextEvent[UserListEvent](t, a)
	wantUsers := []session.Session{{UserID: "u-alice", Name: "Alice", Room: "general"}}
	if users.Type != EventUserList || !reflect.DeepEqual(users.Users, wantUsers) {
		t.Errorf("Expected user list %+v, got %+v", wantUsers, users)
	}

	rooms := nextEvent[RoomListEvent](t, a)
	if rooms.Type != EventRoomList || !reflect.DeepEqual(rooms.Rooms, []string{"general"}) {
		t.Errorf("Expected room list [general], got %+v", rooms)
	}

	expectNoEvent(t, a)
}

func TestEnterRoomAnnouncesToOthers(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	lobby := env.connect("token-carol")
	env.enter(b, "Bob", "general")
	drain(lobby)

	env.send(a, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": "Alice", "room": "general"}})

	joined := nextEvent[TextEvent](t, b)
	if joined.Text != "Alice has joined the room" || joined.Name != "Admin" {
		t.Errorf("Unexpected join announcement %+v", joined)
	}
	users := nextEvent[UserListEvent](t, b)
	if len(users.Users) != 2 {
		t.Errorf("Expected 2 users in general, got %+v", users.Users)
	}
	rooms := nextEvent[RoomListEvent](t, b)
	if !reflect.DeepEqual(rooms.Rooms, []string{"general"}) {
		t.Errorf("Expected room list [general], got %v", rooms.Rooms)
	}
	expectNoEvent(t, b)

	// The lobby connection only sees the global room list.
	lobbyRooms := nextEvent[RoomListEvent](t, lobby)
	if lobbyRooms.Type != EventRoomList {
		t.Errorf("Expected roomList in lobby, got %+v", lobbyRooms)
	}
	expectNoEvent(t, lobby)
}

func TestEnterRoomSwitchNotifiesPreviousRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	drain(a)

	env.send(a, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": "Alice", "room": "random"}})

	left := nextEvent[TextEvent](t, b)
	if left.Text != "Alice has left the room" {
		t.Errorf("Expected left message, got %+v", left)
	}
	users := nextEvent[UserListEvent](t, b)
	want := []session.Session{{UserID: "u-bob", Name: "Bob", Room: "general"}}
	if !reflect.DeepEqual(users.Users, want) {
		t.Errorf("Expected %+v, got %+v", want, users.Users)
	}
	rooms := nextEvent[RoomListEvent](t, b)
	if !reflect.DeepEqual(rooms.Rooms, []string{"general", "random"}) {
		t.Errorf("Expected [general random], got %v", rooms.Rooms)
	}
	expectNoEvent(t, b)

	joined := nextEvent[TextEvent](t, a)
	if joined.Text != "You have joined the random chat room" {
		t.Errorf("Unexpected confirmation %+v", joined)
	}
	if s, _ := env.registry.Get("u-alice"); s.Room != "random" {
		t.Errorf("Expected Alice in random, got %q", s.Room)
	}
}

func TestEnterRoomRejectsInvalidData(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")

	env.send(a, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": "Alice", "room": "  "}})
	env.send(a, map[string]any{"type": EventEnterRoom, "data": "general"})

	expectNoEvent(t, a)
	if s, _ := env.registry.Get("u-alice"); s.InRoom() {
		t.Errorf("Session should stay in the lobby, got %+v", s)
	}
}

func TestMessageSendBroadcastsToRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	c := env.connect("token-carol")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	env.enter(c, "Carol", "random")
	drain(a)
	drain(b)
	drain(c)

	env.send(a, map[string]any{"type": EventMessageSend, "content": "hi"})
	env.send(a, map[string]any{"type": EventMessageSend, "content": "hi"})

	for _, recipient := range []*Client{a, b} {
		first := nextEvent[ChatMessageEvent](t, recipient)
		second := nextEvent[ChatMessageEvent](t, recipient)

		want := ChatMessageEvent{
			Type:       EventMessageReceive,
			ID:         "msg-1",
			SenderID:   "u-alice",
			SenderName: "Alice",
			Content:    "hi",
			CreatedAt:  "2024-03-09T15:04:05.000Z",
		}
		if first != want {
			t.Errorf("Expected %+v, got %+v", want, first)
		}
		if first.ID == second.ID {
			t.Errorf("Two sends share id %q", first.ID)
		}
	}
	expectNoEvent(t, c)
}

func TestMessageSendRequiresRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	env.enter(b, "Bob", "general")
	drain(a)

	env.send(a, map[string]any{"type": EventMessageSend, "content": "hello?"})
	unbound := env.open()
	env.send(unbound, map[string]any{"type": EventMessageSend, "content": "hello?"})

	expectNoEvent(t, a)
	expectNoEvent(t, b)
	expectNoEvent(t, unbound)
	if got := testutil.ToFloat64(env.metrics.droppedInbound.WithLabelValues(dropPrecondition)); got != 2 {
		t.Errorf("Expected 2 precondition drops, got %v", got)
	}
}

func TestMessageSendWithoutContentIsDropped(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	env.enter(a, "Alice", "general")

	env.send(a, map[string]any{"type": EventMessageSend, "data": map[string]string{"content": "nested"}})

	expectNoEvent(t, a)
}

func TestActivityExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	c := env.connect("token-carol")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	env.enter(c, "Carol", "random")
	drain(a)
	drain(b)
	drain(c)

	env.send(a, map[string]any{"type": EventActivity, "data": "Alice"})

	got := nextEvent[ActivityEvent](t, b)
	if got != (ActivityEvent{Type: EventActivity, Name: "Alice"}) {
		t.Errorf("Unexpected activity event %+v", got)
	}
	expectNoEvent(t, a)
	expectNoEvent(t, c)
}

func TestActivityWithoutNameIsDropped(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	drain(a)

	for _, data := range []any{nil, "", "   "} {
		env.send(a, map[string]any{"type": EventActivity, "data": data})
	}
	env.send(a, map[string]any{"type": EventActivity})

	expectNoEvent(t, b)
	if got := testutil.ToFloat64(env.metrics.droppedInbound.WithLabelValues(dropInvalidData)); got != 4 {
		t.Errorf("Expected 4 invalid data drops, got %v", got)
	}
}

func TestCloseNotifiesRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	drain(a)

	env.disconnect(a)

	left := nextEvent[TextEvent](t, b)
	if left.Name != "Admin" || left.Text != "Alice has left the room" {
		t.Errorf("Unexpected left message %+v", left)
	}
	users := nextEvent[UserListEvent](t, b)
	want := []session.Session{{UserID: "u-bob", Name: "Bob", Room: "general"}}
	if !reflect.DeepEqual(users.Users, want) {
		t.Errorf("Expected only Bob, got %+v", users.Users)
	}
	rooms := nextEvent[RoomListEvent](t, b)
	if !reflect.DeepEqual(rooms.Rooms, []string{"general"}) {
		t.Errorf("Expected [general], got %v", rooms.Rooms)
	}

	if _, ok := env.registry.Get("u-alice"); ok {
		t.Error("Session should be removed on close")
	}
	for _, s := range env.registry.SessionsInRoom("general") {
		if s.UserID == "u-alice" {
			t.Error("Closed user still listed in general")
		}
	}
	if env.hub.Count() != 1 {
		t.Errorf("Expected 1 open connection, got %d", env.hub.Count())
	}
}

func TestCloseOfLastOccupantDropsRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	lobby := env.connect("token-bob")
	env.enter(a, "Alice", "general")
	drain(lobby)

	env.disconnect(a)

	rooms := nextEvent[RoomListEvent](t, lobby)
	if len(rooms.Rooms) != 0 {
		t.Errorf("Expected no active rooms, got %v", rooms.Rooms)
	}
	expectNoEvent(t, lobby)
}

func TestCloseFromLobbyIsSilent(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	unbound := env.open()

	env.disconnect(a)
	env.disconnect(unbound)

	expectNoEvent(t, b)
	if _, ok := env.registry.Get("u-alice"); ok {
		t.Error("Lobby session should be removed on close")
	}
}

func TestEnterRoomRecreatesSessionAfterSiblingClose(t *testing.T) {
	env := newTestEnv(t)
	first := env.connect("token-alice")
	second := env.connect("token-alice")

	env.disconnect(first)
	if _, ok := env.registry.Get("u-alice"); ok {
		t.Fatal("Closing either connection removes the user's session")
	}

	env.enter(second, "Alice", "general")

	s, ok := env.registry.Get("u-alice")
	if !ok || s.Room != "general" {
		t.Errorf("Expected session in general, got %+v (ok=%v)", s, ok)
	}
}

func TestMalformedFrameChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")
	b := env.connect("token-bob")
	env.enter(a, "Alice", "general")
	env.enter(b, "Bob", "general")
	drain(a)
	before := env.registry.Snapshot()

	env.router.HandleFrame(a, []byte(`{"type":"message:send","content":`))
	env.router.HandleFrame(a, []byte(`not json at all`))

	expectNoEvent(t, a)
	expectNoEvent(t, b)
	after := env.registry.Snapshot()
	if !reflect.DeepEqual(before.SessionsInRoom("general"), after.SessionsInRoom("general")) {
		t.Error("Registry changed after malformed frames")
	}
	if got := testutil.ToFloat64(env.metrics.droppedInbound.WithLabelValues(dropMalformed)); got != 2 {
		t.Errorf("Expected 2 malformed drops, got %v", got)
	}

	// Other connections are still served.
	env.send(b, map[string]any{"type": EventMessageSend, "content": "still here"})
	if msg := nextEvent[ChatMessageEvent](t, a); msg.Content != "still here" {
		t.Errorf("Expected relayed message, got %+v", msg)
	}
}

func TestUnknownEventTypeIsDropped(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("token-alice")

	env.send(a, map[string]any{"type": "typing", "data": "Alice"})

	expectNoEvent(t, a)
	if got := testutil.ToFloat64(env.metrics.inboundEvents.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected unknown event counted once, got %v", got)
	}
}

type recordingMirror struct {
	online  []session.Session
	offline []string
}

func (m *recordingMirror) Online(_ context.Context, s session.Session) error {
	m.online = append(m.online, s)
	return nil
}

func (m *recordingMirror) Offline(_ context.Context, userID string) error {
	m.offline = append(m.offline, userID)
	return nil
}

func TestRouterReportsPresence(t *testing.T) {
	mirror := &recordingMirror{}
	env := newTestEnv(t, WithPresenceMirror(mirror, time.Second))

	a := env.connect("token-alice")
	env.enter(a, "Alice", "general")
	env.disconnect(a)

	wantOnline := []session.Session{
		{UserID: "u-alice", Name: "Alice Liddell"},
		{UserID: "u-alice", Name: "Alice", Room: "general"},
	}
	if !reflect.DeepEqual(mirror.online, wantOnline) {
		t.Errorf("Expected online updates %+v, got %+v", wantOnline, mirror.online)
	}
	if !reflect.DeepEqual(mirror.offline, []string{"u-alice"}) {
		t.Errorf("Expected offline [u-alice], got %v", mirror.offline)
	}
}

type failingMirror struct{}

func (failingMirror) Online(context.Context, session.Session) error {
	return errors.New("redis unavailable")
}

func (failingMirror) Offline(context.Context, string) error {
	return errors.New("redis unavailable")
}

func TestPresenceFailureDoesNotBlockRouting(t *testing.T) {
	env := newTestEnv(t, WithPresenceMirror(failingMirror{}, time.Second))
	a := env.connect("token-alice")

	env.send(a, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": "Alice", "room": "general"}})

	if joined := nextEvent[TextEvent](t, a); joined.Text != "You have joined the general chat room" {
		t.Errorf("Unexpected confirmation %+v", joined)
	}
}
