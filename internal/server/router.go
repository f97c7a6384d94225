package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/history"
	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Drop reasons reported to metrics.
const (
	dropMalformed    = "malformed"
	dropInvalidData  = "invalid_data"
	dropBadToken     = "bad_token"
	dropPrecondition = "precondition"
	dropUnknownType  = "unknown_type"
)

// Router drives the per-connection session state machine:
// Unauthenticated -> Authenticated (lobby) -> InRoom, and Closed from any
// state. It validates each inbound event, applies the registry mutation and
// then issues the resulting broadcasts in order.
type Router struct {
	registry      *session.Registry
	out           *Broadcaster
	decoder       identity.Decoder
	mirror        presence.Mirror
	mirrorTimeout time.Duration
	log           *zap.Logger
	metrics       *Metrics
	now           func() time.Time
	newID         func() string
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithIDGenerator overrides how chat message ids are generated.
func WithIDGenerator(newID func() string) RouterOption {
	return func(r *Router) { r.newID = newID }
}

// WithPresenceMirror reports session changes to m, bounding each call by timeout.
func WithPresenceMirror(m presence.Mirror, timeout time.Duration) RouterOption {
	return func(r *Router) {
		r.mirror = m
		r.mirrorTimeout = timeout
	}
}

// NewRouter creates a Router over registry that sends through out.
func NewRouter(registry *session.Registry, out *Broadcaster, decoder identity.Decoder, log *zap.Logger, metrics *Metrics, opts ...RouterOption) *Router {
	r := &Router{
		registry:      registry,
		out:           out,
		decoder:       decoder,
		mirror:        presence.Nop{},
		mirrorTimeout: 500 * time.Millisecond,
		log:           log,
		metrics:       metrics,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleFrame decodes one inbound frame and dispatches it. Frames that fail to
// decode, or whose preconditions do not hold, are dropped without a reply.
func (r *Router) HandleFrame(c *Client, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.drop(c, dropMalformed, zap.Error(err))
		return
	}
	r.metrics.inbound(frame.Type)

	switch frame.Type {
	case EventConnection:
		r.handleConnection(c, frame)
	case EventEnterRoom:
		r.handleEnterRoom(c, frame)
	case EventMessageSend:
		r.handleMessageSend(c, frame)
	case EventActivity:
		r.handleActivity(c, frame)
	default:
		r.drop(c, dropUnknownType, zap.String("type", frame.Type))
	}
}

func (r *Router) handleConnection(c *Client, frame InboundFrame) {
	if userID, bound := r.registry.UserFor(c.ID()); bound {
		r.drop(c, dropPrecondition, zap.String("type", frame.Type), zap.String("user_id", userID))
		return
	}

	var data connectionData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.Token == "" {
		r.drop(c, dropInvalidData, zap.String("type", frame.Type))
		return
	}

	who, err := r.decoder.Decode(data.Token)
	if err != nil {
		r.drop(c, dropBadToken, zap.Error(err))
		return
	}

	r.registry.Bind(c.ID(), who.ID)
	s := r.registry.Upsert(who.ID, who.DisplayName(), "")
	r.sessionsChanged()
	r.mirrorOnline(s)

	c.log.Info("user connected", zap.String("user_id", who.ID))
	r.out.SendTo(c, r.textEvent(EventSystem, who.Username, welcomeText))
}

func (r *Router) handleEnterRoom(c *Client, frame InboundFrame) {
	userID, bound := r.registry.UserFor(c.ID())
	if !bound {
		r.drop(c, dropPrecondition, zap.String("type", frame.Type))
		return
	}

	var data enterRoomData
	if err := json.Unmarshal(frame.Data, &data); err != nil || !data.valid() {
		r.drop(c, dropInvalidData, zap.String("type", frame.Type))
		return
	}

	next, prev, replaced := r.registry.Replace(userID, data.Name, data.Room)
	r.sessionsChanged()
	r.mirrorOnline(next)

	if replaced && prev.InRoom() {
		r.out.BroadcastRoom(prev.Room, r.adminText(fmt.Sprintf("%s has left the room", data.Name)), "")
		r.broadcastUserList(prev.Room)
	}

	r.out.SendTo(c, r.adminText(fmt.Sprintf("You have joined the %s chat room", next.Room)))
	r.out.BroadcastRoom(next.Room, r.adminText(fmt.Sprintf("%s has joined the room", next.Name)), userID)
	r.broadcastUserList(next.Room)
	r.broadcastRoomList()

	c.log.Debug("user entered room", zap.String("user_id", userID), zap.String("room", next.Room), zap.String("prev_room", prev.Room))
}

func (r *Router) handleMessageSend(c *Client, frame InboundFrame) {
	sender, ok := r.sessionInRoom(c)
	if !ok {
		r.drop(c, dropPrecondition, zap.String("type", frame.Type))
		return
	}
	if frame.Content == nil {
		r.drop(c, dropInvalidData, zap.String("type", frame.Type))
		return
	}

	r.out.BroadcastRoom(sender.Room, ChatMessageEvent{
		Type:       EventMessageReceive,
		ID:         r.newID(),
		SenderID:   sender.UserID,
		SenderName: sender.Name,
		Content:    *frame.Content,
		CreatedAt:  history.FormatTimestamp(r.now()),
	}, "")
}

func (r *Router) handleActivity(c *Client, frame InboundFrame) {
	sender, ok := r.sessionInRoom(c)
	if !ok {
		r.drop(c, dropPrecondition, zap.String("type", frame.Type))
		return
	}

	var name string
	if err := json.Unmarshal(frame.Data, &name); err != nil || strings.TrimSpace(name) == "" {
		r.drop(c, dropInvalidData, zap.String("type", frame.Type))
		return
	}

	r.out.BroadcastRoom(sender.Room, ActivityEvent{Type: EventActivity, Name: name}, sender.UserID)
}

// HandleClose runs the close transition: the connection's binding and its
// user's session are removed, and if that session was in a room the room and
// the global room list are told.
func (r *Router) HandleClose(c *Client) {
	userID, s, bound, removed := r.registry.Release(c.ID())
	if !bound {
		c.log.Info("unauthenticated connection closed")
		return
	}
	r.sessionsChanged()
	r.mirrorOffline(userID)

	if removed && s.InRoom() {
		r.out.BroadcastRoom(s.Room, r.adminText(fmt.Sprintf("%s has left the room", s.Name)), "")
		r.broadcastUserList(s.Room)
		r.broadcastRoomList()
	}
	c.log.Info("user disconnected", zap.String("user_id", userID))
}

// sessionInRoom resolves the sender's session and requires it to be in a room.
func (r *Router) sessionInRoom(c *Client) (session.Session, bool) {
	userID, bound := r.registry.UserFor(c.ID())
	if !bound {
		return session.Session{}, false
	}
	s, ok := r.registry.Get(userID)
	if !ok || !s.InRoom() {
		return session.Session{}, false
	}
	return s, true
}

func (r *Router) broadcastUserList(room string) {
	r.out.BroadcastRoom(room, UserListEvent{
		Type:  EventUserList,
		Users: r.registry.SessionsInRoom(room),
	}, "")
}

func (r *Router) broadcastRoomList() {
	r.out.BroadcastGlobal(RoomListEvent{
		Type:  EventRoomList,
		Rooms: r.registry.ActiveRooms(),
	})
}

func (r *Router) adminText(text string) TextEvent {
	return r.textEvent(EventMessage, adminName, text)
}

func (r *Router) textEvent(eventType, name, text string) TextEvent {
	return TextEvent{
		Type: eventType,
		Name: name,
		Text: text,
		Time: r.now().Format(clockLayout),
	}
}

func (r *Router) drop(c *Client, reason string, fields ...zap.Field) {
	r.metrics.dropInbound(reason)
	c.log.Debug("inbound frame dropped", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
}

func (r *Router) sessionsChanged() {
	r.metrics.setSessions(r.registry.Len())
}

func (r *Router) mirrorOnline(s session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.Online(ctx, s); err != nil {
		r.log.Warn("presence update failed", zap.String("user_id", s.UserID), zap.Error(err))
	}
}

func (r *Router) mirrorOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.Offline(ctx, userID); err != nil {
		r.log.Warn("presence removal failed", zap.String("user_id", userID), zap.Error(err))
	}
}
