package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Inbound event types.
const (
	EventConnection  = "connection"
	EventEnterRoom   = "enterRoom"
	EventMessageSend = "message:send"
	EventActivity    = "activity"
)

// Outbound event types.
const (
	EventSystem         = "system"
	EventMessage        = "message"
	EventUserList       = "userList"
	EventRoomList       = "roomList"
	EventMessageReceive = "message:receive"
)

const (
	adminName   = "Admin"
	welcomeText = "Welcome to Chat App!"
	// clockLayout renders the wall-clock time shown next to system text.
	clockLayout = "3:04:05 PM"
)

// InboundFrame is the envelope every client frame is decoded into. Data's
// shape depends on Type; message:send carries Content next to Type instead.
type InboundFrame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Content *string         `json:"content,omitempty"`
}

type connectionData struct {
	Token string `json:"token"`
}

type enterRoomData struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

func (d enterRoomData) valid() bool {
	return strings.TrimSpace(d.Name) != "" && strings.TrimSpace(d.Room) != ""
}

// TextEvent is a system or admin line of text.
type TextEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// UserListEvent lists the sessions currently in a room.
type UserListEvent struct {
	Type  string            `json:"type"`
	Users []session.Session `json:"users"`
}

// RoomListEvent lists every room with at least one session.
type RoomListEvent struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

// ActivityEvent signals that a user in the room is typing.
type ActivityEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ChatMessageEvent is a relayed chat message.
type ChatMessageEvent struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}
