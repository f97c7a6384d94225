// Package history serves past chat messages for a user. It is a plain read
// with no relation to live session state.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout matches the millisecond ISO-8601 form clients expect,
// e.g. 2025-11-04T00:01:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Message is one entry of a user's history.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}

// Store lists past messages for a user.
type Store interface {
	ListForUser(ctx context.Context, userID string) ([]Message, error)
}

type entry struct {
	senderID   string
	senderName string
	content    string
	createdAt  time.Time
}

// StaticStore returns the same seeded conversation for every user. Each call
// assigns fresh message ids.
type StaticStore struct {
	entries []entry
	newID   func() string
}

// NewStaticStore creates a store seeded with the demo conversation.
func NewStaticStore() *StaticStore {
	day := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	return &StaticStore{
		entries: []entry{
			{senderID: "2", senderName: "Michael Williams", content: "Hello", createdAt: day},
			{senderID: "2", senderName: "Michael Williams", content: "How you doing?", createdAt: day.Add(time.Minute)},
			{senderID: "1", senderName: "Emily Johnson", content: "Hi! I'm good. What about you?", createdAt: day.Add(time.Hour)},
		},
		newID: uuid.NewString,
	}
}

// ListForUser implements Store.
func (s *StaticStore) ListForUser(ctx context.Context, _ string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Message{
			ID:         s.newID(),
			SenderID:   e.senderID,
			SenderName: e.senderName,
			Content:    e.content,
			CreatedAt:  FormatTimestamp(e.createdAt),
		})
	}
	return out, nil
}
