// Package presence mirrors live session state into an external store so that
// other tools can see who is online and where. The chat server only writes
// it; the in-memory registry stays the source of truth.
package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Mirror receives session changes after they are applied to the registry.
type Mirror interface {
	Online(ctx context.Context, s session.Session) error
	Offline(ctx context.Context, userID string) error
}

// Nop discards every update.
type Nop struct{}

// Online implements Mirror.
func (Nop) Online(context.Context, session.Session) error { return nil }

// Offline implements Mirror.
func (Nop) Offline(context.Context, string) error { return nil }

// Record is the value stored per online user.
type Record struct {
	Name      string `json:"name"`
	Room      string `json:"room"`
	UpdatedAt int64  `json:"updated_at"`
}

// RedisMirror stores one key per online user: <prefix>:presence:<userID>.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisMirror creates a mirror writing through client. A non-positive ttl
// keeps keys until the user goes offline.
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "roomchat"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Dial connects to Redis and verifies the connection with a PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return client, nil
}

func (m *RedisMirror) key(userID string) string {
	return m.prefix + ":presence:" + userID
}

// Online implements Mirror.
func (m *RedisMirror) Online(ctx context.Context, s session.Session) error {
	payload, err := encodeRecord(s, m.now())
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.key(s.UserID), payload, m.ttl).Err(); err != nil {
		return errors.Wrapf(err, "presence online %s", s.UserID)
	}
	return nil
}

// Offline implements Mirror.
func (m *RedisMirror) Offline(ctx context.Context, userID string) error {
	if err := m.client.Del(ctx, m.key(userID)).Err(); err != nil {
		return errors.Wrapf(err, "presence offline %s", userID)
	}
	return nil
}

func encodeRecord(s session.Session, at time.Time) ([]byte, error) {
	b, err := json.Marshal(Record{Name: s.Name, Room: s.Room, UpdatedAt: at.Unix()})
	if err != nil {
		return nil, errors.Wrap(err, "encode presence")
	}
	return b, nil
}
