package server

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Broadcaster fans events out to open connections. It does not interpret the
// events it sends: each one is encoded once and pushed to every recipient's
// queue. Audiences are computed from a registry snapshot and a hub snapshot;
// no lock is held while pushing.
type Broadcaster struct {
	hub      *Hub
	registry *session.Registry
	log      *zap.Logger
	metrics  *Metrics
}

// NewBroadcaster creates a Broadcaster over the hub's connections and the
// registry's sessions.
func NewBroadcaster(hub *Hub, registry *session.Registry, log *zap.Logger, metrics *Metrics) *Broadcaster {
	return &Broadcaster{hub: hub, registry: registry, log: log, metrics: metrics}
}

// SendTo delivers event to a single connection if it is still open. It
// reports whether the frame was queued.
func (b *Broadcaster) SendTo(c *Client, event any) bool {
	payload, ok := b.encode(event)
	if !ok {
		return false
	}
	return b.deliver(c, payload)
}

// BroadcastRoom delivers event to every open connection whose user is in
// room, skipping connections bound to excludeUserID when it is non-empty.
// It returns the number of connections the frame was queued for.
func (b *Broadcaster) BroadcastRoom(room string, event any, excludeUserID string) int {
	payload, ok := b.encode(event)
	if !ok {
		return 0
	}

	snap := b.registry.Snapshot()
	delivered := 0
	for _, c := range b.hub.Clients() {
		s, ok := snap.SessionForConn(c.ID())
		if !ok || s.Room != room {
			continue
		}
		if excludeUserID != "" && s.UserID == excludeUserID {
			continue
		}
		if b.deliver(c, payload) {
			delivered++
		}
	}
	return delivered
}

// BroadcastGlobal delivers event to every open connection.
func (b *Broadcaster) BroadcastGlobal(event any) int {
	payload, ok := b.encode(event)
	if !ok {
		return 0
	}

	delivered := 0
	for _, c := range b.hub.Clients() {
		if b.deliver(c, payload) {
			delivered++
		}
	}
	return delivered
}

func (b *Broadcaster) encode(event any) ([]byte, bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error("failed to encode outbound event", zap.Error(err))
		return nil, false
	}
	return payload, true
}

// deliver queues payload for c. A closed connection is skipped silently; a
// full queue drops the frame for this recipient only.
func (b *Broadcaster) deliver(c *Client, payload []byte) bool {
	err := c.enqueue(payload)
	switch {
	case err == nil:
		b.metrics.queued()
		return true
	case errors.Is(err, errSendBufferFull):
		b.metrics.dropOutbound()
		c.log.Warn("send buffer full; dropping frame")
		return false
	default:
		return false
	}
}
